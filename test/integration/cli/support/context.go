package support

import (
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	"github.com/MeKo-Tech/bubblenav/internal/server"
	"github.com/MeKo-Tech/bubblenav/internal/testutil"
)

// TestContext holds the state for integration tests.
type TestContext struct {
	// Command execution state
	LastCommand   string
	LastOutput    string // stdout followed by stderr
	LastStdout    string
	LastError     error
	LastExitCode  int
	LastStartTime time.Time
	LastDuration  time.Duration

	// Test environment
	WorkingDir string
	TempDir    string
	LibraryDir string
	IndexDir   string
	EnvVars    []string

	// Books created by the scenario, by ID
	Books map[string]string

	// In-process reader server
	HTTPServer *httptest.Server
	Server     *server.Server
	Detector   *testutil.StubDetector

	// HTTP response state
	LastHTTPStatusCode int
	LastHTTPResponse   string
	LastHTTPHeaders    map[string]string
}

// NewTestContext creates a new test context rooted in a fresh temp directory.
// Commands run with an isolated index directory and without a detection model.
func NewTestContext() (*TestContext, error) {
	workingDir, err := testutil.GetProjectRoot()
	if err != nil {
		return nil, fmt.Errorf("failed to find project root: %w", err)
	}

	tempDir, err := os.MkdirTemp("", "bubblenav-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	ctx := &TestContext{
		WorkingDir: workingDir,
		TempDir:    tempDir,
		LibraryDir: filepath.Join(tempDir, "library"),
		IndexDir:   filepath.Join(tempDir, "indexes"),
		Books:      make(map[string]string),
	}
	if err := os.MkdirAll(ctx.LibraryDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create library directory: %w", err)
	}
	ctx.AddEnvVar("BUBBLENAV_INDEX_BACKEND", "file")
	ctx.AddEnvVar("BUBBLENAV_INDEX_DIR", ctx.IndexDir)
	ctx.AddEnvVar("BUBBLENAV_MODELS_DIR", filepath.Join(tempDir, "models"))
	return ctx, nil
}

// Cleanup stops the server and removes the temp directory.
func (testCtx *TestContext) Cleanup() error {
	var errs []error
	if err := testCtx.stopServer(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop server: %w", err))
	}
	if err := os.RemoveAll(testCtx.TempDir); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("failed to remove temp directory %s: %w", testCtx.TempDir, err))
	}
	return errors.Join(errs...)
}

// AddEnvVar adds an environment variable for command execution.
func (testCtx *TestContext) AddEnvVar(name, value string) {
	testCtx.EnvVars = append(testCtx.EnvVars, fmt.Sprintf("%s=%s", name, value))
}
