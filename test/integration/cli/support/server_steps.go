package support

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/MeKo-Tech/bubblenav/internal/balloon"
	"github.com/MeKo-Tech/bubblenav/internal/detector"
	"github.com/MeKo-Tech/bubblenav/internal/indexer"
	"github.com/MeKo-Tech/bubblenav/internal/navigation"
	"github.com/MeKo-Tech/bubblenav/internal/server"
	"github.com/MeKo-Tech/bubblenav/internal/testutil"
	"github.com/cucumber/godog"
)

// theReaderServerIsRunning starts the reader backend over the scenario's
// library with a stub detector that finds the fixture balloons.
func (testCtx *TestContext) theReaderServerIsRunning() error {
	if testCtx.HTTPServer != nil {
		return nil
	}
	store, err := testCtx.store()
	if err != nil {
		return err
	}
	library, err := server.NewDirLibrary(testCtx.LibraryDir)
	if err != nil {
		return err
	}
	testCtx.Detector = testutil.NewStubDetector(testutil.BalloonBoxes(testutil.DefaultComicPageConfig())...)

	srv, err := server.NewServer(server.Config{
		CORSOrigin: "*",
		TimeoutSec: 10,
		Detector:   detector.Ready(testCtx.Detector),
		Store:      store,
		Library:    library,
		Indexer:    indexer.Config{Direction: balloon.LeftToRight},
		Navigation: navigation.Config{Direction: balloon.LeftToRight},
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	mux := http.NewServeMux()
	srv.SetupRoutes(mux)

	testCtx.Server = srv
	testCtx.HTTPServer = httptest.NewServer(mux)
	return nil
}

func (testCtx *TestContext) stopServer() error {
	if testCtx.HTTPServer == nil {
		return nil
	}
	testCtx.HTTPServer.Close()
	testCtx.HTTPServer = nil
	err := testCtx.Server.Close()
	testCtx.Server = nil
	return err
}

// request sends a request to the running server and records the response.
func (testCtx *TestContext) request(method, path, body string) error {
	if testCtx.HTTPServer == nil {
		return fmt.Errorf("server is not running")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, testCtx.HTTPServer.URL+path, strings.NewReader(body))
	if err != nil {
		return err
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := testCtx.HTTPServer.Client().Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = string(data)
	testCtx.LastHTTPHeaders = make(map[string]string)
	for k := range resp.Header {
		testCtx.LastHTTPHeaders[k] = resp.Header.Get(k)
	}
	return nil
}

func (testCtx *TestContext) theResponseStatusShouldBe(status int) error {
	if testCtx.LastHTTPStatusCode != status {
		return fmt.Errorf("expected status %d, got %d\nBody: %s", status, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseFieldShouldBe(path, expected string) error {
	var v any
	if err := json.Unmarshal([]byte(testCtx.LastHTTPResponse), &v); err != nil {
		return fmt.Errorf("response is not valid JSON: %w\nBody: %s", err, testCtx.LastHTTPResponse)
	}
	return expectField(v, path, expected)
}

func (testCtx *TestContext) theResponseHeaderShouldBe(name, expected string) error {
	if got := testCtx.LastHTTPHeaders[name]; got != expected {
		return fmt.Errorf("header %s is %q, expected %q", name, got, expected)
	}
	return nil
}

// theBookShouldEventuallyReportPagesReady polls the status endpoint.
func (testCtx *TestContext) theBookShouldEventuallyReportPagesReady(bookID string, pages int) error {
	deadline := time.Now().Add(5 * time.Second)
	for {
		if err := testCtx.request(http.MethodGet, "/books/"+bookID+"/status", ""); err != nil {
			return err
		}
		err := testCtx.theResponseFieldShouldBe("index.indexing", "false")
		if err == nil {
			err = testCtx.theResponseFieldShouldBe("index.pages_ready", fmt.Sprint(pages))
		}
		if err == nil || time.Now().After(deadline) {
			return err
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// RegisterServerSteps registers reader server steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the reader server is running$`, testCtx.theReaderServerIsRunning)
	sc.Step(`^I (GET|DELETE|POST) "([^"]*)"$`, func(method, path string) error {
		return testCtx.request(method, path, "")
	})
	sc.Step(`^I (POST|PUT) "([^"]*)" with body '([^']*)'$`, testCtx.request)
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseFieldShouldBe)
	sc.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseHeaderShouldBe)
	sc.Step(`^the book "([^"]*)" should eventually report (\d+) pages? ready$`,
		testCtx.theBookShouldEventuallyReportPagesReady)
}
