package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/bubblenav/internal/balloon"
	"github.com/MeKo-Tech/bubblenav/internal/book"
	"github.com/MeKo-Tech/bubblenav/internal/detector"
	"github.com/MeKo-Tech/bubblenav/internal/indexer"
	"github.com/MeKo-Tech/bubblenav/internal/render"
	"github.com/disintegration/imaging"
	"github.com/spf13/cobra"
)

// detectCmd runs the detector on selected pages without touching the index.
var detectCmd = &cobra.Command{
	Use:   "detect <book>",
	Short: "Detect speech balloons on book pages",
	Long: `Run balloon detection on the pages of a book and print the balloons in
reading order. Results are not written to the index.

Pages are zero-based. A book is an image directory, a CBZ archive or a PDF.

Examples:
  bubblenav detect issue-1.cbz
  bubblenav detect issue-1.cbz --pages 0-2,5 --format json
  bubblenav detect ./scans --direction rtl --overlay-dir out/`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		format := cfg.Output.Format
		if cmd.Flags().Changed("format") {
			format, _ = cmd.Flags().GetString("format")
		}
		if err := validateFormat(format); err != nil {
			return err
		}
		overlayDir := cfg.Output.OverlayDir
		if cmd.Flags().Changed("overlay-dir") {
			overlayDir, _ = cmd.Flags().GetString("overlay-dir")
		}
		pageSpec, _ := cmd.Flags().GetString("pages")

		style, err := cfg.OverlayStyle()
		if err != nil {
			return err
		}

		det, err := loadDetector(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = det.Close() }()

		src, closeBook, err := openBook(args[0])
		if err != nil {
			return err
		}
		defer closeBook()

		pages, err := book.ParsePageRange(pageSpec, len(src.Pages()))
		if err != nil {
			return err
		}

		reports, err := runDetect(commandContext(cmd), det, src, pages, cfg.Direction(), overlayDir, style)
		if err != nil {
			return err
		}
		return writeDetectReports(cmd.OutOrStdout(), format, src.ID(), reports, cfg.Output.ConfidencePrecision)
	},
}

// detectReport is the result for one page.
type detectReport struct {
	Page         balloon.PageBalloons `json:"page"`
	Candidates   int                  `json:"candidates"`
	ChannelOrder string               `json:"channel_order"`
	Attempts     int                  `json:"attempts"`
	DurationMs   int64                `json:"duration_ms"`
	Overlay      string               `json:"overlay,omitempty"`
}

// runDetect detects balloons on pages in order. A non-empty overlayDir
// receives one annotated PNG per page.
func runDetect(ctx context.Context, det detector.Result, src book.Source, pages []int, dir balloon.Direction,
	overlayDir string, style render.Style,
) ([]detectReport, error) {
	if err := det.Err(); err != nil {
		return nil, err
	}
	if overlayDir != "" {
		if err := os.MkdirAll(overlayDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create overlay directory: %w", err)
		}
	}

	reports := make([]detectReport, 0, len(pages))
	for _, n := range pages {
		img, err := src.Load(ctx, n)
		if err != nil {
			return nil, err
		}
		d, err := det.Detect(ctx, img)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", n, err)
		}
		b := img.Bounds()
		pb := indexer.PageFromDetection(n, d, b.Dx(), b.Dy(), dir)
		r := detectReport{
			Page:         pb,
			Candidates:   d.Candidates,
			ChannelOrder: string(d.ChannelOrder),
			Attempts:     d.Attempts,
			DurationMs:   d.Duration.Milliseconds(),
		}
		if overlayDir != "" {
			r.Overlay = filepath.Join(overlayDir, fmt.Sprintf("%s_page_%03d.png", src.ID(), n))
			if err := imaging.Save(render.Overlay(img, pb, -1, style), r.Overlay); err != nil {
				return nil, fmt.Errorf("failed to write overlay: %w", err)
			}
		}
		slog.Debug("Detected page", "book", src.ID(), "page", n, "balloons", pb.Len(),
			"candidates", d.Candidates, "attempts", d.Attempts)
		reports = append(reports, r)
	}
	return reports, nil
}

func writeDetectReports(w io.Writer, format, bookID string, reports []detectReport, precision int) error {
	if format == outputFormatJSON {
		return writeJSON(w, struct {
			Book  string         `json:"book"`
			Pages []detectReport `json:"pages"`
		}{bookID, reports})
	}
	_, _ = fmt.Fprintf(w, "Book %s\n", bookID)
	for _, r := range reports {
		writePageText(w, r.Page, precision)
		if r.Overlay != "" {
			_, _ = fmt.Fprintf(w, "  overlay: %s\n", r.Overlay)
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(detectCmd)
	detectCmd.Flags().String("pages", "", "zero-based pages to detect, e.g. 0-2,5 (default all)")
	detectCmd.Flags().StringP("format", "f", outputFormatText, "output format (text, json)")
	detectCmd.Flags().String("overlay-dir", "", "write annotated page images to this directory")
}
