package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/MeKo-Tech/bubblenav/internal/balloon"
	"github.com/MeKo-Tech/bubblenav/internal/book"
	"github.com/MeKo-Tech/bubblenav/internal/config"
	"github.com/MeKo-Tech/bubblenav/internal/detector"
	"github.com/MeKo-Tech/bubblenav/internal/index"
)

const (
	outputFormatJSON = "json"
	outputFormatText = "text"
)

// errDetectionDisabled marks the detector unavailable when reading.detection_enabled is off.
var errDetectionDisabled = errors.New("balloon detection is disabled")

// loadDetector loads the configured detector. Load failures leave the result
// unavailable rather than failing the command.
func loadDetector(cfg *config.Config) (detector.Result, error) {
	dCfg, err := cfg.ToDetectorConfig()
	if err != nil {
		return detector.Result{}, err
	}
	if !cfg.Reading.DetectionEnabled {
		return detector.Unavailable(dCfg.ModelPath, errDetectionDisabled), nil
	}
	return detector.Load(dCfg), nil
}

// openStore opens the configured index store and prunes stale indexes. The
// returned func closes the store.
func openStore(ctx context.Context, cfg *config.Config) (index.Store, func(), error) {
	store, err := cfg.OpenStore()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open index store: %w", err)
	}
	closeStore := func() {
		if c, ok := store.(io.Closer); ok {
			if err := c.Close(); err != nil {
				slog.Warn("Failed to close index store", "error", err)
			}
		}
	}
	if p, ok := store.(index.Pruner); ok {
		if _, err := cfg.Retention().Apply(ctx, p); err != nil {
			slog.Warn("Failed to prune index store", "error", err)
		}
	}
	return store, closeStore, nil
}

// openBook opens a book and returns a func that closes it.
func openBook(path string) (book.Source, func(), error) {
	src, err := book.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return src, func() { _ = src.Close() }, nil
}

func validateFormat(format string) error {
	if format != outputFormatText && format != outputFormatJSON {
		return fmt.Errorf("invalid output format: %s (must be one of: %s, %s)", format, outputFormatText, outputFormatJSON)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writePageText prints one page's balloons in reading order.
func writePageText(w io.Writer, pb balloon.PageBalloons, precision int) {
	_, _ = fmt.Fprintf(w, "Page %d (%dx%d): %d balloon(s)\n", pb.PageIndex, pb.PageWidth, pb.PageHeight, pb.Len())
	for _, b := range pb.Balloons {
		_, _ = fmt.Fprintf(w, "  #%d  [%.0f,%.0f %.0f,%.0f]  conf=%s\n",
			b.Index+1, b.Rect.Left, b.Rect.Top, b.Rect.Right, b.Rect.Bottom,
			strconv.FormatFloat(b.Confidence, 'f', precision, 64))
	}
}
