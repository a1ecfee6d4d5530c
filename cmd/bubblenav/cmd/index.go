package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MeKo-Tech/bubblenav/internal/balloon"
	"github.com/MeKo-Tech/bubblenav/internal/book"
	"github.com/MeKo-Tech/bubblenav/internal/config"
	"github.com/MeKo-Tech/bubblenav/internal/detector"
	"github.com/MeKo-Tech/bubblenav/internal/index"
	"github.com/MeKo-Tech/bubblenav/internal/indexer"
	"github.com/spf13/cobra"
)

// indexCmd groups the commands that manage persisted balloon indexes.
var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build and manage persisted balloon indexes",
	Long: `Build, refresh, inspect and remove the balloon index of a book.

The index is stored per book ID (the file or directory name without extension)
in the configured backend.

Examples:
  bubblenav index build issue-1.cbz
  bubblenav index refresh issue-1.cbz --page 4
  bubblenav index show issue-1 --format json
  bubblenav index clear issue-1
  bubblenav index prune --days 30`,
}

var indexBuildCmd = &cobra.Command{
	Use:          "build <book>",
	Short:        "Detect every page and persist the index",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		ctx := commandContext(cmd)
		quiet, _ := cmd.Flags().GetBool("quiet")

		det, err := loadDetector(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = det.Close() }()
		store, closeStore, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeStore()
		src, closeBook, err := openBook(args[0])
		if err != nil {
			return err
		}
		defer closeBook()

		var progress indexer.ProgressCallback = indexer.NewLogProgressCallback(nil, slog.LevelInfo)
		if !quiet {
			progress = indexer.NewConsoleProgressCallback(cmd.ErrOrStderr(), src.ID()+" ")
		}
		idx, err := buildIndex(ctx, det, store, src, cfg.Direction(), progress)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Indexed %s: %d page(s), %d balloon(s)\n",
			src.ID(), idx.Len(), idx.BalloonCount())
		return nil
	},
}

// buildIndex runs a full indexing pass and waits for it to finish.
func buildIndex(ctx context.Context, det detector.Result, store index.Store, src book.Source,
	dir balloon.Direction, progress indexer.ProgressCallback,
) (*balloon.Index, error) {
	orch, err := indexer.New(det, store, src, indexer.Config{Direction: dir}, indexer.WithProgress(progress))
	if err != nil {
		return nil, err
	}
	defer func() { _ = orch.Close() }()
	return orch.IndexAll(ctx)
}

var indexRefreshCmd = &cobra.Command{
	Use:   "refresh <book>",
	Short: "Re-detect a page and the page after it",
	Long: `Re-run detection for one page and the page that follows it, merge the
results into the stored index and save it. Books without a stored index are
detected but not saved.`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		ctx := commandContext(cmd)
		page, _ := cmd.Flags().GetInt("page")

		det, err := loadDetector(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = det.Close() }()
		store, closeStore, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeStore()
		src, closeBook, err := openBook(args[0])
		if err != nil {
			return err
		}
		defer closeBook()

		pages, err := refreshPages(ctx, det, store, src, cfg.Direction(), page)
		if err != nil {
			return err
		}
		for _, pb := range pages {
			writePageText(cmd.OutOrStdout(), pb, cfg.Output.ConfidencePrecision)
		}
		return nil
	},
}

// refreshPages refreshes page and page+1 against the stored index and returns
// the resulting page entries.
func refreshPages(ctx context.Context, det detector.Result, store index.Store, src book.Source,
	dir balloon.Direction, page int,
) ([]balloon.PageBalloons, error) {
	if page < 0 || page >= len(src.Pages()) {
		return nil, fmt.Errorf("%w: %d", book.ErrPageNotFound, page)
	}
	orch, err := indexer.New(det, store, src, indexer.Config{Direction: dir})
	if err != nil {
		return nil, err
	}
	defer func() { _ = orch.Close() }()

	if _, err := orch.Open(ctx); err != nil {
		return nil, err
	}
	if err := det.Err(); err != nil {
		return nil, err
	}
	if err := orch.Refresh(ctx, page); err != nil {
		return nil, err
	}
	var out []balloon.PageBalloons
	for _, n := range []int{page, page + 1} {
		if pb, ok := orch.Page(n); ok {
			out = append(out, pb)
		}
	}
	return out, nil
}

var indexShowCmd = &cobra.Command{
	Use:          "show <book>",
	Short:        "Print the stored index of a book",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		ctx := commandContext(cmd)
		format := cfg.Output.Format
		if cmd.Flags().Changed("format") {
			format, _ = cmd.Flags().GetString("format")
		}
		if err := validateFormat(format); err != nil {
			return err
		}

		store, closeStore, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		bookID := book.IDFromPath(args[0])
		idx, ok, err := store.Load(ctx, bookID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no index stored for book %s", bookID)
		}
		return writeIndex(cmd.OutOrStdout(), format, idx, cfg.Output.ConfidencePrecision)
	},
}

func writeIndex(w io.Writer, format string, idx *balloon.Index, precision int) error {
	if format == outputFormatJSON {
		data, err := index.Encode(idx)
		if err != nil {
			return err
		}
		_, err = w.Write(append(data, '\n'))
		return err
	}
	_, _ = fmt.Fprintf(w, "Book %s: %d page(s), %d balloon(s)\n", idx.BookID, idx.Len(), idx.BalloonCount())
	for _, n := range idx.PageNumbers() {
		pb, _ := idx.Page(n)
		writePageText(w, pb, precision)
	}
	return nil
}

var indexClearCmd = &cobra.Command{
	Use:          "clear <book>",
	Short:        "Remove the stored index of a book",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		ctx := commandContext(cmd)
		store, closeStore, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		bookID := book.IDFromPath(args[0])
		if err := store.Clear(ctx, bookID); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Cleared index for %s\n", bookID)
		return nil
	},
}

var indexPruneCmd = &cobra.Command{
	Use:          "prune",
	Short:        "Remove indexes of books not opened recently",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if cmd.Flags().Changed("days") {
			cfg.Index.RetentionDays, _ = cmd.Flags().GetInt("days")
		}
		ctx := commandContext(cmd)
		removed, err := pruneIndexes(ctx, cfg)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d index(es)\n", len(removed))
		for _, id := range removed {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", id)
		}
		return nil
	},
}

var errPruneUnsupported = errors.New("index backend does not support pruning")

func pruneIndexes(ctx context.Context, cfg *config.Config) ([]string, error) {
	store, err := cfg.OpenStore()
	if err != nil {
		return nil, fmt.Errorf("failed to open index store: %w", err)
	}
	if c, ok := store.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}
	p, ok := store.(index.Pruner)
	if !ok {
		return nil, errPruneUnsupported
	}
	return cfg.Retention().Apply(ctx, p)
}

// commandContext returns the command's context, or a background context when
// the command runs outside ExecuteContext.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexBuildCmd, indexRefreshCmd, indexShowCmd, indexClearCmd, indexPruneCmd)

	indexBuildCmd.Flags().BoolP("quiet", "q", false, "log progress instead of drawing a progress bar")
	indexRefreshCmd.Flags().Int("page", 0, "zero-based page to refresh")
	indexShowCmd.Flags().StringP("format", "f", outputFormatText, "output format (text, json)")
	indexPruneCmd.Flags().Int("days", 0, "remove indexes not opened for this many days (default from config)")
}
