package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/bubblenav/internal/balloon"
	"github.com/MeKo-Tech/bubblenav/internal/benchmark"
	"github.com/MeKo-Tech/bubblenav/internal/book"
	"github.com/MeKo-Tech/bubblenav/internal/config"
	"github.com/MeKo-Tech/bubblenav/internal/detector"
	"github.com/MeKo-Tech/bubblenav/internal/index"
	"github.com/MeKo-Tech/bubblenav/internal/indexer"
	"github.com/MeKo-Tech/bubblenav/internal/navigation"
	"github.com/MeKo-Tech/bubblenav/internal/render"
	"github.com/MeKo-Tech/bubblenav/internal/session"
	"github.com/MeKo-Tech/bubblenav/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cliFixture struct {
	det   *testutil.StubDetector
	store *index.MemoryStore
	src   book.Source
}

func newCLIFixture(t *testing.T, pages int) *cliFixture {
	t.Helper()
	page := testutil.DefaultComicPageConfig()
	src, err := book.Open(testutil.WriteBookDir(t, "issue-1", pages, page))
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })
	return &cliFixture{
		det:   testutil.NewStubDetector(testutil.BalloonBoxes(page)...),
		store: index.NewMemoryStore(),
		src:   src,
	}
}

func TestParseNavStep(t *testing.T) {
	tests := []struct {
		token   string
		want    session.Input
		gotoN   int
		wantErr bool
	}{
		{token: "next", want: session.Input{Kind: session.InputNext}, gotoN: -1},
		{token: "prev", want: session.Input{Kind: session.InputPrevious}, gotoN: -1},
		{token: "hide", want: session.Input{Kind: session.InputHide}, gotoN: -1},
		{token: "tap:900", want: session.Input{Kind: session.InputTap, X: 900, ScreenWidth: 1080}, gotoN: -1},
		{
			token: "press:10,20",
			want:  session.Input{Kind: session.InputLongPress, X: 10, Y: 20, ScreenWidth: 1080, ScreenHeight: 1920},
			gotoN: -1,
		},
		{token: "goto:3", gotoN: 3},
		{token: "tap", wantErr: true},
		{token: "press:10", wantErr: true},
		{token: "goto:x", wantErr: true},
		{token: "jump", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			step, err := parseNavStep(tt.token, 1080, 1920)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, step.Input)
			assert.Equal(t, tt.gotoN, step.Goto)
		})
	}
}

func TestRunDetectWritesOverlays(t *testing.T) {
	f := newCLIFixture(t, 3)
	out := t.TempDir()

	reports, err := runDetect(context.Background(), detector.Ready(f.det), f.src, []int{0, 2},
		balloon.LeftToRight, out, render.DefaultStyle())
	require.NoError(t, err)
	require.Len(t, reports, 2)

	assert.Equal(t, 2, reports[1].Page.PageIndex)
	require.Equal(t, 2, reports[0].Page.Len())
	first, _ := reports[0].Page.At(0)
	second, _ := reports[0].Page.At(1)
	assert.Less(t, first.Rect.Left, second.Rect.Left, "left-to-right order")
	for _, r := range reports {
		assert.FileExists(t, r.Overlay)
	}
	assert.Equal(t, 2, f.det.Calls())
}

func TestRunDetectRightToLeft(t *testing.T) {
	f := newCLIFixture(t, 1)
	reports, err := runDetect(context.Background(), detector.Ready(f.det), f.src, []int{0},
		balloon.RightToLeft, "", render.DefaultStyle())
	require.NoError(t, err)

	first, _ := reports[0].Page.At(0)
	second, _ := reports[0].Page.At(1)
	assert.Greater(t, first.Rect.Left, second.Rect.Left)
	assert.Empty(t, reports[0].Overlay)
}

func TestRunDetectUnavailable(t *testing.T) {
	f := newCLIFixture(t, 1)
	_, err := runDetect(context.Background(), detector.Unavailable("missing.onnx", errDetectionDisabled),
		f.src, []int{0}, balloon.LeftToRight, "", render.DefaultStyle())
	require.ErrorIs(t, err, detector.ErrUnavailable)
}

func TestBuildIndexAndRefresh(t *testing.T) {
	f := newCLIFixture(t, 3)
	ctx := context.Background()

	idx, err := buildIndex(ctx, detector.Ready(f.det), f.store, f.src, balloon.LeftToRight, indexer.NoOpProgressCallback{})
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Len())
	assert.Equal(t, 6, idx.BalloonCount())

	stored, ok, err := f.store.Load(ctx, "issue-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, stored.Len())

	f.det.SetBalloons(testutil.BalloonBoxes(testutil.DefaultComicPageConfig())[0])
	pages, err := refreshPages(ctx, detector.Ready(f.det), f.store, f.src, balloon.LeftToRight, 2)
	require.NoError(t, err)
	require.Len(t, pages, 1, "the last page has no successor")
	assert.Equal(t, 1, pages[0].Len())

	stored, _, err = f.store.Load(ctx, "issue-1")
	require.NoError(t, err)
	assert.Equal(t, 5, stored.BalloonCount())
}

func TestRefreshPagesRejectsBadPage(t *testing.T) {
	f := newCLIFixture(t, 1)
	_, err := refreshPages(context.Background(), detector.Ready(f.det), f.store, f.src, balloon.LeftToRight, 4)
	require.ErrorIs(t, err, book.ErrPageNotFound)
}

func TestReplay(t *testing.T) {
	f := newCLIFixture(t, 2)
	cfg := session.Config{Navigation: navigation.Config{Direction: balloon.LeftToRight}}

	steps := make([]navStep, 0, 5)
	for _, token := range []string{"next", "next", "next", "prev", "goto:0"} {
		step, err := parseNavStep(token, 320, 480)
		require.NoError(t, err)
		steps = append(steps, step)
	}

	results, err := replay(context.Background(), detector.Ready(f.det), f.store, f.src, cfg, steps)
	require.NoError(t, err)
	require.Len(t, results, 5)

	assert.Equal(t, "show", results[0].Action)
	assert.Equal(t, 0, results[0].State.BalloonIndex)
	assert.Equal(t, 1, results[1].State.BalloonIndex)
	assert.Equal(t, "advance_page", results[2].Action)
	assert.True(t, results[2].Turned)
	assert.Equal(t, 1, results[2].Page)
	assert.Equal(t, "retreat_page", results[3].Action)
	assert.Equal(t, 0, results[3].Page)
	assert.Equal(t, "goto", results[4].Action)

	var buf bytes.Buffer
	require.NoError(t, writeNavResults(&buf, outputFormatJSON, results))
	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "next", decoded[0]["input"])
	assert.Equal(t, "show", decoded[0]["action"])
}

func TestIndexShowAndClearCommands(t *testing.T) {
	dir := t.TempDir()
	store, err := index.NewFileStore(dir)
	require.NoError(t, err)
	idx := balloon.NewIndex("issue-7").WithPage(balloon.PageBalloons{
		PageIndex: 0, PageWidth: 100, PageHeight: 100,
		Balloons: []balloon.Balloon{{
			Index:          0,
			Rect:           balloon.Rect{Left: 10, Top: 10, Right: 50, Bottom: 30},
			NormalizedRect: balloon.Rect{Left: 0.1, Top: 0.1, Right: 0.5, Bottom: 0.3},
			Confidence:     0.9,
		}},
	})
	require.NoError(t, store.Save(context.Background(), "issue-7", idx))

	output, err := executeCommandAndCaptureOutput(t, rootCmd,
		[]string{"index", "show", "issue-7.cbz", "--index-backend", "file", "--index-dir", dir, "--format", "text"})
	require.NoError(t, err)
	assert.Contains(t, output, "Book issue-7: 1 page(s), 1 balloon(s)")
	assert.Contains(t, output, "#1")

	output, err = executeCommandAndCaptureOutput(t, rootCmd,
		[]string{"index", "clear", "issue-7", "--index-backend", "file", "--index-dir", dir})
	require.NoError(t, err)
	assert.Contains(t, output, "Cleared index for issue-7")

	_, err = executeCommandAndCaptureOutput(t, rootCmd,
		[]string{"index", "show", "issue-7", "--index-backend", "file", "--index-dir", dir})
	require.Error(t, err)
}

func TestConfigInitCommand(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bubblenav.yaml")

	output, err := executeCommandAndCaptureOutput(t, rootCmd, []string{"config", "init", file})
	require.NoError(t, err)
	assert.Contains(t, output, "Wrote")

	data, err := os.ReadFile(file) //nolint:gosec // G304: test path
	require.NoError(t, err)
	assert.Contains(t, string(data), "BUBBLENAV_")

	_, err = executeCommandAndCaptureOutput(t, rootCmd, []string{"config", "init", file})
	require.Error(t, err, "existing files are kept")

	_, err = executeCommandAndCaptureOutput(t, rootCmd, []string{"config", "init", file, "--force"})
	require.NoError(t, err)
}

func TestPruneIndexesFileStore(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Index.Dir = t.TempDir()
	removed, err := pruneIndexes(context.Background(), &cfg)
	require.NoError(t, err, "the file store prunes")
	assert.Empty(t, removed)
}

func TestWriteIndexJSON(t *testing.T) {
	idx := balloon.NewIndex("issue-1")
	var buf bytes.Buffer
	require.NoError(t, writeIndex(&buf, outputFormatJSON, idx, 2))
	decoded, err := index.Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 0, decoded.Len())
}

func TestBenchWritesResults(t *testing.T) {
	f := newCLIFixture(t, 2)
	ctx := context.Background()

	pages, err := loadBenchPages(ctx, f.src, []int{0, 1})
	require.NoError(t, err)

	suite := benchmark.NewSuite()
	require.NoError(t, suite.AddDetection(ctx, "", f.det, pages, balloon.LeftToRight))
	require.NoError(t, suite.AddDetection(ctx, gpuPrefix, f.det, pages, balloon.LeftToRight))
	results := suite.RunAll(ctx, 2)

	var buf bytes.Buffer
	require.NoError(t, writeBenchResults(&buf, outputFormatJSON, suite, results, true))
	var report benchReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &report))
	assert.Len(t, report.Results, 6)
	require.Len(t, report.Comparisons, 3)
	assert.Equal(t, "detect", report.Comparisons[0].Name)

	buf.Reset()
	require.NoError(t, writeBenchResults(&buf, outputFormatText, suite, results, false))
	assert.Contains(t, buf.String(), "pipeline: 2 iterations")
	assert.NotContains(t, buf.String(), "faster")
}
