package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/bubblenav/internal/balloon"
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

const testBook = "issue-1"

type testEnv struct {
	server *Server
	http   *httptest.Server
	store  *index.MemoryStore
	det    *testutil.StubDetector
}

// writeLibrary creates a library with a two-page image folder book.
func writeLibrary(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	page := testutil.GenerateComicPage(testutil.DefaultComicPageConfig())
	for i := range 2 {
		testutil.SaveImage(t, page, filepath.Join(root, testBook, fmt.Sprintf("page_%03d.png", i+1)))
	}
	return root
}

func newTestEnv(t *testing.T, det detector.Result, opts ...func(*Config)) *testEnv {
	t.Helper()
	lib, err := NewDirLibrary(writeLibrary(t))
	require.NoError(t, err)

	nav := navigation.DefaultConfig()
	nav.Timing = navigation.Timing{}
	store := index.NewMemoryStore()
	config := Config{
		CORSOrigin: "*",
		TimeoutSec: 5,
		Detector:   det,
		Store:      store,
		Library:    lib,
		Indexer:    indexer.Config{Direction: balloon.LeftToRight},
		Navigation: nav,
		Popup:      render.DefaultPopupOptions(),
	}
	for _, opt := range opts {
		opt(&config)
	}
	srv, err := NewServer(config)
	require.NoError(t, err)

	mux := http.NewServeMux()
	srv.SetupRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close()
	})
	return &testEnv{server: srv, http: ts, store: store}
}

func newReadyEnv(t *testing.T, opts ...func(*Config)) *testEnv {
	t.Helper()
	det := testutil.NewStubDetector(testutil.BalloonBoxes(testutil.DefaultComicPageConfig())...)
	env := newTestEnv(t, detector.Ready(det), opts...)
	env.det = det
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, e.http.URL+path, r)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestServer_NewServerRequiresDependencies(t *testing.T) {
	_, err := NewServer(Config{Library: &DirLibrary{root: t.TempDir()}})
	require.Error(t, err)
	_, err = NewServer(Config{Store: index.NewMemoryStore()})
	require.Error(t, err)
}

func TestServer_HealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		det        detector.Result
		wantStatus string
		available  bool
	}{
		{"detector ready", detector.Ready(testutil.NewStubDetector()), "healthy", true},
		{"detector unavailable", detector.Unavailable("missing.onnx", errors.New("no such file")), "degraded", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.det)
			resp := env.do(t, http.MethodGet, "/health", nil)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

			health := decode[HealthResponse](t, resp)
			assert.Equal(t, tt.wantStatus, health.Status)
			assert.Equal(t, tt.available, health.DetectorAvailable)
			assert.NotEmpty(t, health.Time)
		})
	}
}

func TestServer_HealthRejectsPost(t *testing.T) {
	env := newReadyEnv(t)
	resp := env.do(t, http.MethodPost, "/health", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_BooksHandler(t *testing.T) {
	env := newReadyEnv(t)
	resp := env.do(t, http.MethodGet, "/books", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	books := decode[BooksResponse](t, resp)
	require.Equal(t, 1, books.Count)
	assert.Equal(t, BookInfo{ID: testBook, Name: testBook, Format: "dir"}, books.Books[0])
}

func TestServer_StatusHandler(t *testing.T) {
	env := newReadyEnv(t)

	resp := env.do(t, http.MethodGet, "/books/nope/status", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/books/"+testBook+"/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decode[StatusResponse](t, resp)
	assert.Equal(t, testBook, status.Index.BookID)
	assert.Equal(t, 0, status.Page)
	assert.Equal(t, 2, status.PageCount)
	assert.Equal(t, "ltr", status.Direction)
	assert.Equal(t, 2, status.State.Count)
}

func TestServer_PageHandlerJSON(t *testing.T) {
	env := newReadyEnv(t)

	resp := env.do(t, http.MethodGet, "/books/"+testBook+"/pages/1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[PageResponse](t, resp)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 320, page.Width)
	assert.Equal(t, 480, page.Height)
	assert.False(t, page.Indexed)
	require.Len(t, page.Balloons, 2)
	assert.Less(t, page.Balloons[0].Rect.Left, page.Balloons[1].Rect.Left)

	_, ok, err := env.store.Load(context.Background(), testBook)
	require.NoError(t, err)
	assert.False(t, ok, "live page requests are not persisted")
}

func TestServer_PageHandlerErrors(t *testing.T) {
	env := newReadyEnv(t)
	tests := []struct {
		path string
		want int
	}{
		{"/books/" + testBook + "/pages/2", http.StatusNotFound},
		{"/books/" + testBook + "/pages/-1", http.StatusNotFound},
		{"/books/" + testBook + "/pages/first", http.StatusNotFound},
		{"/books/" + testBook + "/pages/0?format=svg", http.StatusBadRequest},
		{"/books/" + testBook + "/pages/0?format=popup", http.StatusBadRequest},
		{"/books/" + testBook + "/pages/0?format=popup&balloon=9", http.StatusNotFound},
		{"/books/missing/pages/0", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp := env.do(t, http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.want, resp.StatusCode)
			body := decode[ErrorResponse](t, resp)
			assert.False(t, body.Success)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestServer_PageHandlerOverlay(t *testing.T) {
	env := newReadyEnv(t)
	resp := env.do(t, http.MethodGet, "/books/"+testBook+"/pages/0?format=overlay", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 320, img.Bounds().Dx())
	assert.Equal(t, 480, img.Bounds().Dy())
}

func TestServer_PageHandlerPopup(t *testing.T) {
	env := newReadyEnv(t)
	resp := env.do(t, http.MethodGet, "/books/"+testBook+"/pages/0?format=popup&balloon=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	pad := render.DefaultPopupOptions().Padding
	assert.InDelta(t, 120+2*pad, img.Bounds().Dx(), 1)
	assert.InDelta(t, 60+2*pad, img.Bounds().Dy(), 1)
}

func TestServer_NavigateHandler(t *testing.T) {
	env := newReadyEnv(t)
	path := "/books/" + testBook + "/navigate"

	resp := env.do(t, http.MethodPost, path, NavigateRequest{Input: session.Input{Kind: session.InputNext}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[session.Result](t, resp)
	assert.Equal(t, "show", res.Action)
	assert.Equal(t, 0, res.State.BalloonIndex)

	resp = env.do(t, http.MethodPost, path, NavigateRequest{Input: session.Input{Kind: actionGoto}, Page: 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res = decode[session.Result](t, resp)
	assert.Equal(t, actionGoto, res.Action)
	assert.True(t, res.Turned)
	assert.Equal(t, 1, res.State.PageIndex)

	resp = env.do(t, http.MethodPost, path, NavigateRequest{Input: session.Input{Kind: session.InputPrevious}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res = decode[session.Result](t, resp)
	assert.Equal(t, "retreat_page", res.Action)
	assert.Equal(t, 0, res.Page)
}

func TestServer_NavigateHandlerErrors(t *testing.T) {
	env := newReadyEnv(t)
	path := "/books/" + testBook + "/navigate"

	resp := env.do(t, http.MethodPost, path, NavigateRequest{Input: session.Input{Kind: "swipe"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, path, NavigateRequest{Input: session.Input{Kind: actionGoto}, Page: 7})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, env.http.URL+path, strings.NewReader("{"))
	require.NoError(t, err)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = raw.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestServer_DirectionHandler(t *testing.T) {
	env := newReadyEnv(t)
	path := "/books/" + testBook + "/direction"

	resp := env.do(t, http.MethodPut, path, map[string]string{"direction": "rtl"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "rtl", decode[StatusResponse](t, resp).Direction)

	resp = env.do(t, http.MethodPut, path, map[string]string{"direction": "up"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_IndexHandler(t *testing.T) {
	env := newReadyEnv(t)

	resp := env.do(t, http.MethodPost, "/books/"+testBook+"/index", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	assert.Eventually(t, func() bool {
		idx, ok, err := env.store.Load(context.Background(), testBook)
		return err == nil && ok && idx.Len() == 2
	}, 5*time.Second, 10*time.Millisecond)

	resp = env.do(t, http.MethodGet, "/books/"+testBook+"/pages/1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[PageResponse](t, resp).Indexed)
}

func TestServer_IndexHandlerUnavailable(t *testing.T) {
	env := newTestEnv(t, detector.Unavailable("missing.onnx", errors.New("no such file")))
	resp := env.do(t, http.MethodPost, "/books/"+testBook+"/index", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_RefreshHandler(t *testing.T) {
	env := newReadyEnv(t)
	before := env.det.Calls()

	resp := env.do(t, http.MethodPost, "/books/"+testBook+"/refresh?page=0", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.GreaterOrEqual(t, env.det.Calls(), before+3, "book open plus pages 0 and 1")

	resp = env.do(t, http.MethodPost, "/books/"+testBook+"/refresh?page=9", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_DisableHandler(t *testing.T) {
	env := newReadyEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.Save(ctx, testBook, balloon.NewIndex(testBook)))

	resp := env.do(t, http.MethodDelete, "/books/"+testBook+"/index", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, ok, err := env.store.Load(ctx, testBook)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestServer_DisabledBookStaysDisabledUntilIndexed(t *testing.T) {
	env := newReadyEnv(t, func(c *Config) {
		c.Indexer.AutoIndex = true
		c.RefreshOnTurn = true
	})
	ctx := context.Background()
	path := "/books/" + testBook

	resp := env.do(t, http.MethodDelete, path+"/index", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	calls := env.det.Calls()

	resp = env.do(t, http.MethodGet, path+"/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[StatusResponse](t, resp).Index.Indexing)
	resp = env.do(t, http.MethodGet, path+"/pages/1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[PageResponse](t, resp).Balloons)
	resp = env.do(t, http.MethodPost, path+"/navigate", NavigateRequest{Input: session.Input{Kind: session.InputNext}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, env.det.Calls(), "no detection while disabled")
	_, ok, err := env.store.Load(ctx, testBook)
	require.NoError(t, err)
	assert.False(t, ok)

	resp = env.do(t, http.MethodPost, path+"/index", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Eventually(t, func() bool {
		idx, ok, err := env.store.Load(ctx, testBook)
		return err == nil && ok && idx.Len() == 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestServer_DisableUnknownBook(t *testing.T) {
	env := newReadyEnv(t)
	resp := env.do(t, http.MethodDelete, "/books/missing/index", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Empty(t, env.server.disabled)
}

func TestServer_CloseBookHandler(t *testing.T) {
	env := newReadyEnv(t)

	resp := env.do(t, http.MethodGet, "/books/"+testBook+"/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, "/books/"+testBook, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, "/books/"+testBook, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	env := newReadyEnv(t)
	env.do(t, http.MethodGet, "/health", nil)

	resp := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "bubblenav_http_requests_total")
}

func TestServer_Preflight(t *testing.T) {
	env := newReadyEnv(t)
	resp := env.do(t, http.MethodOptions, "/books/"+testBook+"/navigate", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestServer_WriteErrorStatus(t *testing.T) {
	server := &Server{}
	tests := []struct {
		err  error
		want int
	}{
		{ErrUnknownBook, http.StatusNotFound},
		{session.ErrUnknownInput, http.StatusBadRequest},
		{&detector.InitError{ModelPath: "m", Err: errors.New("x")}, http.StatusServiceUnavailable},
		{indexer.ErrIndexingInProgress, http.StatusConflict},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		server.writeError(w, fmt.Errorf("wrapped: %w", tt.err))
		assert.Equal(t, tt.want, w.Code, tt.err.Error())
	}
}
