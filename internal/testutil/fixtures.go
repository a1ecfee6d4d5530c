package testutil

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/MeKo-Tech/bubblenav/internal/detector"
	"github.com/MeKo-Tech/bubblenav/internal/utils"
	"github.com/stretchr/testify/require"
)

// WriteBookDir writes pages synthetic comic pages as page_001.png, page_002.png,
// ... into a new directory named name and returns its path.
func WriteBookDir(t *testing.T, name string, pages int, config ComicPageConfig) string {
	t.Helper()

	dir := filepath.Join(t.TempDir(), name)
	require.NoError(t, EnsureDir(dir))
	for i := range pages {
		SaveImage(t, GenerateComicPage(config), filepath.Join(dir, fmt.Sprintf("page_%03d.png", i+1)))
	}
	return dir
}

// WriteCBZ writes pages synthetic comic pages into a CBZ archive and returns its path.
func WriteCBZ(t *testing.T, name string, pages int, config ComicPageConfig) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name+".cbz")
	f, err := os.Create(path) //nolint:gosec // G304: Test file creation with controlled path
	require.NoError(t, err)
	defer func() { require.NoError(t, f.Close()) }()

	zw := zip.NewWriter(f)
	for i := range pages {
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, GenerateComicPage(config)))
		w, err := zw.Create(fmt.Sprintf("%03d.png", i+1))
		require.NoError(t, err)
		_, err = w.Write(buf.Bytes())
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return path
}

// StubDetector is a BalloonDetector that reports fixed balloons for every page.
type StubDetector struct {
	mu       sync.Mutex
	Balloons []utils.Box
	Err      error
	calls    int
}

// NewStubDetector reports the given normalized boxes as speech balloons.
func NewStubDetector(boxes ...utils.Box) *StubDetector {
	return &StubDetector{Balloons: boxes}
}

// BalloonBoxes returns normalized boxes matching the balloons of config.
func BalloonBoxes(config ComicPageConfig) []utils.Box {
	w, h := float64(config.Size.Width), float64(config.Size.Height)
	out := make([]utils.Box, 0, len(config.Balloons))
	for _, r := range config.Balloons {
		out = append(out, utils.NewBox(float64(r.Min.X)/w, float64(r.Min.Y)/h, float64(r.Max.X)/w, float64(r.Max.Y)/h))
	}
	return out
}

// Detect implements detector.BalloonDetector.
func (d *StubDetector) Detect(ctx context.Context, _ image.Image) (detector.PageDetection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if err := ctx.Err(); err != nil {
		return detector.PageDetection{}, err
	}
	if d.Err != nil {
		return detector.PageDetection{}, d.Err
	}
	out := detector.PageDetection{Attempts: 1, ChannelOrder: utils.ChannelRGB}
	for _, b := range d.Balloons {
		out.Balloons = append(out.Balloons, detector.DetectedObject{
			Class:      detector.SpeechBalloon,
			Confidence: 0.9,
			Box:        b,
		})
	}
	out.Candidates = len(out.Balloons)
	return out, nil
}

// SetBalloons replaces the reported boxes.
func (d *StubDetector) SetBalloons(boxes ...utils.Box) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Balloons = boxes
}

// Calls returns the number of Detect calls.
func (d *StubDetector) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// Close implements detector.BalloonDetector.
func (d *StubDetector) Close() error { return nil }
