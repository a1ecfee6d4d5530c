package support

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/bubblenav/internal/balloon"
	"github.com/MeKo-Tech/bubblenav/internal/index"
	"github.com/MeKo-Tech/bubblenav/internal/testutil"
	"github.com/cucumber/godog"
	"github.com/disintegration/imaging"
)

// aComicBookWithPages writes a directory book into the library.
func (testCtx *TestContext) aComicBookWithPages(name string, pages int) error {
	dir := filepath.Join(testCtx.LibraryDir, name)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	page := testutil.GenerateComicPage(testutil.DefaultComicPageConfig())
	for i := range pages {
		if err := imaging.Save(page, filepath.Join(dir, fmt.Sprintf("page_%03d.png", i+1))); err != nil {
			return fmt.Errorf("failed to write page %d: %w", i, err)
		}
	}
	testCtx.Books[name] = dir
	return nil
}

func (testCtx *TestContext) store() (*index.FileStore, error) {
	return index.NewFileStore(testCtx.IndexDir)
}

// aStoredIndexWithBalloons stores an index whose page carries count balloons
// laid out left to right.
func (testCtx *TestContext) aStoredIndexWithBalloons(bookID string, count, page int) error {
	store, err := testCtx.store()
	if err != nil {
		return err
	}
	const w, h = 320, 480
	pb := balloon.PageBalloons{PageIndex: page, PageWidth: w, PageHeight: h, Balloons: []balloon.Balloon{}}
	for i := range count {
		left := float64(10 + i*40)
		r := balloon.Rect{Left: left, Top: 20, Right: left + 30, Bottom: 60}
		pb.Balloons = append(pb.Balloons, balloon.Balloon{
			Index:          i,
			Rect:           r,
			NormalizedRect: r.Scale(1.0/w, 1.0/h),
			Confidence:     0.9,
		})
	}
	return store.Save(context.Background(), bookID, balloon.NewIndex(bookID).WithPage(pb))
}

func (testCtx *TestContext) theStoredIndexShouldHavePages(bookID string, pages int) error {
	store, err := testCtx.store()
	if err != nil {
		return err
	}
	idx, ok, err := store.Load(context.Background(), bookID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no index stored for %s", bookID)
	}
	if idx.Len() != pages {
		return fmt.Errorf("stored index for %s has %d pages, expected %d", bookID, idx.Len(), pages)
	}
	return nil
}

func (testCtx *TestContext) noIndexShouldBeStoredFor(bookID string) error {
	store, err := testCtx.store()
	if err != nil {
		return err
	}
	_, ok, err := store.Load(context.Background(), bookID)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("an index is still stored for %s", bookID)
	}
	return nil
}

// RegisterBookSteps registers fixture and index steps.
func (testCtx *TestContext) RegisterBookSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a comic book "([^"]*)" with (\d+) pages?$`, testCtx.aComicBookWithPages)
	sc.Step(`^a stored index for "([^"]*)" with (\d+) balloons? on page (\d+)$`, testCtx.aStoredIndexWithBalloons)
	sc.Step(`^the stored index for "([^"]*)" should have (\d+) pages?$`, testCtx.theStoredIndexShouldHavePages)
	sc.Step(`^no index should be stored for "([^"]*)"$`, testCtx.noIndexShouldBeStoredFor)
}
