package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/bubblenav/internal/balloon"
	"github.com/MeKo-Tech/bubblenav/internal/testutil"
	"github.com/disintegration/imaging"
)

// layout is one synthetic book: every page shares the same balloon placement.
type layout struct {
	Name        string
	Description string
	Direction   balloon.Direction
	Pages       int
	Config      testutil.ComicPageConfig
}

// Fixture is the expected reading order for a generated book.
type Fixture struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Direction   string                 `json:"direction"`
	BookDir     string                 `json:"book_dir"`
	Pages       []balloon.PageBalloons `json:"pages"`
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var (
		generateBooks    = flag.Bool("books", true, "Generate synthetic comic books")
		generateFixtures = flag.Bool("fixtures", true, "Generate expected reading-order fixtures")
		outDir           = flag.String("out", "testdata", "Output directory (relative to the project root)")
		verbose          = flag.Bool("v", false, "Verbose output")
		help             = flag.Bool("h", false, "Show help")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Generate synthetic comic books and balloon fixtures for bubblenav testing.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEXAMPLES:\n")
		fmt.Fprintf(os.Stderr, "  %s                   # Generate books and fixtures\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -fixtures=false   # Generate only page images\n", os.Args[0])
	}

	flag.Parse()

	if *help {
		flag.Usage()
		return
	}

	root, err := testutil.GetProjectRoot()
	if err != nil {
		slog.Error("Failed to find project root", "error", err)
		os.Exit(1)
	}
	if err := os.Chdir(root); err != nil {
		slog.Error("Failed to change to project root", "error", err)
		os.Exit(1)
	}
	if *verbose {
		slog.Info("Options", "root", root, "out", *outDir, "books", *generateBooks, "fixtures", *generateFixtures)
	}

	for _, l := range layouts() {
		if *generateBooks {
			if err := writeBook(*outDir, l); err != nil {
				slog.Error("Failed to generate book", "layout", l.Name, "error", err)
				os.Exit(1)
			}
		}
		if *generateFixtures {
			if err := writeFixture(*outDir, l); err != nil {
				slog.Error("Failed to generate fixture", "layout", l.Name, "error", err)
				os.Exit(1)
			}
		}
		slog.Info("Generated test data", "layout", l.Name, "pages", l.Pages, "balloons", len(l.Config.Balloons))
	}
}

func layouts() []layout {
	twoUp := testutil.DefaultComicPageConfig()

	stacked := testutil.DefaultComicPageConfig()
	stacked.Balloons = []image.Rectangle{
		image.Rect(40, 30, 280, 90),
		image.Rect(40, 200, 280, 260),
		image.Rect(40, 380, 280, 440),
	}

	grid := testutil.DefaultComicPageConfig()
	grid.Size = testutil.PageSize
	grid.Balloons = []image.Rectangle{
		image.Rect(40, 40, 300, 160),
		image.Rect(500, 60, 760, 180),
		image.Rect(60, 640, 320, 760),
		image.Rect(480, 620, 740, 740),
	}

	scanned := testutil.DefaultComicPageConfig()
	scanned.Blur = 1.5

	return []layout{
		{"two_up", "Two balloons side by side on one row", balloon.LeftToRight, 3, twoUp},
		{"stacked", "Three balloons in separate tiers", balloon.LeftToRight, 2, stacked},
		{"grid", "Four balloons in two tiers on a full-size page", balloon.LeftToRight, 2, grid},
		{"manga", "Two balloons on one row read right to left", balloon.RightToLeft, 3, twoUp},
		{"scanned", "Blurred two-up page simulating a scan", balloon.LeftToRight, 1, scanned},
	}
}

func bookDir(out string, l layout) string {
	return filepath.Join(out, "books", l.Name)
}

func writeBook(out string, l layout) error {
	dir := bookDir(out, l)
	if err := testutil.EnsureDir(dir); err != nil {
		return fmt.Errorf("failed to create book directory: %w", err)
	}
	page := testutil.GenerateComicPage(l.Config)
	for i := range l.Pages {
		path := filepath.Join(dir, fmt.Sprintf("page_%03d.png", i+1))
		if err := imaging.Save(page, path); err != nil {
			return fmt.Errorf("failed to save page %d: %w", i+1, err)
		}
	}
	return nil
}

// expectedPages orders the drawn balloons the same way the indexer orders detections.
func expectedPages(l layout) []balloon.PageBalloons {
	boxes := testutil.BalloonBoxes(l.Config)
	candidates := make([]balloon.Candidate, len(boxes))
	for i, b := range boxes {
		candidates[i] = balloon.Candidate{Box: b, Confidence: 1}
	}
	pages := make([]balloon.PageBalloons, l.Pages)
	for i := range pages {
		pages[i] = balloon.SortPage(i, candidates, l.Config.Size.Width, l.Config.Size.Height, l.Direction)
	}
	return pages
}

func writeFixture(out string, l layout) error {
	dir := filepath.Join(out, "fixtures")
	if err := testutil.EnsureDir(dir); err != nil {
		return fmt.Errorf("failed to create fixtures directory: %w", err)
	}
	fixture := Fixture{
		Name:        l.Name,
		Description: l.Description,
		Direction:   l.Direction.String(),
		BookDir:     filepath.ToSlash(filepath.Join("books", l.Name)),
		Pages:       expectedPages(l),
	}
	data, err := json.MarshalIndent(fixture, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, l.Name+".json"), data, 0o600)
}
