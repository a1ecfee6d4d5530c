package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func isolatedLoader(t *testing.T) *Loader {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	return newLoaderWith(viper.New())
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bubblenav.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestNewLoader(t *testing.T) {
	loader := NewLoader()
	if loader == nil || loader.GetViper() == nil {
		t.Fatal("NewLoader() returned no viper instance")
	}
}

func TestLoadWithNoConfigFile(t *testing.T) {
	cfg, err := isolatedLoader(t).Load()
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.LogLevel != infoLevel {
		t.Errorf("Expected default log level '%s', got %s", infoLevel, cfg.LogLevel)
	}
	if cfg.Index.Backend != BackendFile {
		t.Errorf("Expected default backend, got %s", cfg.Index.Backend)
	}
}

func TestLoadFromSearchPath(t *testing.T) {
	loader := isolatedLoader(t)
	if err := os.WriteFile("bubblenav.yaml", []byte("reading:\n  direction: rtl\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Reading.Direction != "rtl" {
		t.Errorf("Expected rtl from ./bubblenav.yaml, got %s", cfg.Reading.Direction)
	}
	if !strings.HasSuffix(loader.GetConfigFileUsed(), "bubblenav.yaml") {
		t.Errorf("Unexpected config file %q", loader.GetConfigFileUsed())
	}
}

func TestLoadWithValidYAMLFile(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
models_dir: /custom/models
detector:
  confidence_threshold: 0.4
  channel_order: bgr
reading:
  direction: rtl
  show_ms: 250
index:
  backend: sqlite
  sqlite_path: /var/lib/bubblenav/index.db
  retention_days: 30
server:
  port: 9090
`)
	cfg, err := isolatedLoader(t).LoadWithFile(path)
	if err != nil {
		t.Fatalf("LoadWithFile() error: %v", err)
	}
	if cfg.LogLevel != debugLevel {
		t.Errorf("Expected debug, got %s", cfg.LogLevel)
	}
	if cfg.Detector.ConfidenceThreshold != 0.4 || cfg.Detector.ChannelOrder != "bgr" {
		t.Errorf("Unexpected detector config %+v", cfg.Detector)
	}
	if cfg.Detector.NMSThreshold != 0.45 {
		t.Errorf("Expected default NMS threshold to survive, got %f", cfg.Detector.NMSThreshold)
	}
	if cfg.Reading.Direction != "rtl" || cfg.Reading.ShowMillis != 250 || cfg.Reading.HideMillis != 150 {
		t.Errorf("Unexpected reading config %+v", cfg.Reading)
	}
	if cfg.Index.Backend != BackendSQLite || cfg.Index.RetentionDays != 30 {
		t.Errorf("Unexpected index config %+v", cfg.Index)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
	}
}

func TestLoadWithInvalidYAMLFile(t *testing.T) {
	path := writeConfig(t, "reading: [direction\n")
	if _, err := isolatedLoader(t).LoadWithFile(path); err == nil {
		t.Error("Expected error for malformed YAML")
	}
}

func TestLoadWithNonExistentFile(t *testing.T) {
	_, err := isolatedLoader(t).LoadWithFile("/nonexistent/bubblenav.yaml")
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("Expected missing file error, got %v", err)
	}
}

func TestLoadWithValidationFailure(t *testing.T) {
	path := writeConfig(t, "index:\n  backend: redis\n")
	if _, err := isolatedLoader(t).LoadWithFile(path); err == nil {
		t.Error("Expected validation error")
	}
	cfg, err := isolatedLoader(t).LoadWithFileWithoutValidation(path)
	if err != nil {
		t.Fatalf("LoadWithFileWithoutValidation() error: %v", err)
	}
	if cfg.Index.Backend != "redis" {
		t.Errorf("Expected raw value, got %s", cfg.Index.Backend)
	}
}

func TestLoadWithoutValidationUsesDefaults(t *testing.T) {
	cfg, err := isolatedLoader(t).LoadWithoutValidation()
	if err != nil {
		t.Fatalf("LoadWithoutValidation() error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default port, got %d", cfg.Server.Port)
	}
}

func TestEnvironmentVariableOverride(t *testing.T) {
	loader := isolatedLoader(t)
	t.Setenv("BUBBLENAV_LOG_LEVEL", "warn")
	t.Setenv("BUBBLENAV_READING_DIRECTION", "rtl")
	t.Setenv("BUBBLENAV_INDEX_BACKEND", "sqlite")
	t.Setenv("BUBBLENAV_DETECTOR_NMS_THRESHOLD", "0.6")

	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("Expected warn, got %s", cfg.LogLevel)
	}
	if cfg.Reading.Direction != "rtl" {
		t.Errorf("Expected rtl, got %s", cfg.Reading.Direction)
	}
	if cfg.Index.Backend != BackendSQLite {
		t.Errorf("Expected sqlite, got %s", cfg.Index.Backend)
	}
	if cfg.Detector.NMSThreshold != 0.6 {
		t.Errorf("Expected 0.6, got %f", cfg.Detector.NMSThreshold)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n")
	loader := isolatedLoader(t)
	t.Setenv("BUBBLENAV_SERVER_PORT", "9100")
	cfg, err := loader.LoadWithFile(path)
	if err != nil {
		t.Fatalf("LoadWithFile() error: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Expected env to win, got %d", cfg.Server.Port)
	}
}

func TestGetResolvedConfig(t *testing.T) {
	loader := isolatedLoader(t)
	if _, err := loader.Load(); err != nil {
		t.Fatal(err)
	}
	settings := loader.GetResolvedConfig()
	if _, ok := settings["reading"]; !ok {
		t.Error("Expected reading section in resolved settings")
	}
}

func TestGenerateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "bubblenav.yaml")
	if err := GenerateDefaultConfigFile(path, false); err != nil {
		t.Fatalf("GenerateDefaultConfigFile() error: %v", err)
	}
	if err := GenerateDefaultConfigFile(path, false); err == nil {
		t.Error("Expected refusal to overwrite")
	}
	if err := GenerateDefaultConfigFile(path, true); err != nil {
		t.Errorf("Forced overwrite failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "# bubblenav configuration") {
		t.Error("Expected header comment")
	}
	var back Config
	if err := yaml.Unmarshal(data, &back); err != nil {
		t.Fatalf("Generated YAML does not parse: %v", err)
	}
	if back.Index.Backend != BackendFile || back.Reading.HideMillis != 150 {
		t.Errorf("Unexpected round-tripped config %+v", back)
	}

	cfg, err := isolatedLoader(t).LoadWithFile(path)
	if err != nil {
		t.Fatalf("Generated file does not load: %v", err)
	}
	if cfg.Detector.FallbackOrder != "bgr" {
		t.Errorf("Expected bgr fallback, got %s", cfg.Detector.FallbackOrder)
	}
}

func TestGenerateDefaultConfigFileWithEmptyFilename(t *testing.T) {
	t.Chdir(t.TempDir())
	if err := GenerateDefaultConfigFile("", false); err != nil {
		t.Fatalf("GenerateDefaultConfigFile() error: %v", err)
	}
	if _, err := os.Stat("bubblenav.yaml"); err != nil {
		t.Errorf("Expected bubblenav.yaml: %v", err)
	}
}

func TestGetConfigSearchPaths(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	paths := GetConfigSearchPaths()
	if paths[0] != "." {
		t.Errorf("Expected current directory first, got %s", paths[0])
	}
	want := map[string]bool{"/xdg/bubblenav": false, "/etc/bubblenav": false}
	for _, p := range paths {
		if _, ok := want[p]; ok {
			want[p] = true
		}
	}
	for p, found := range want {
		if !found {
			t.Errorf("Expected %s in search paths %v", p, paths)
		}
	}
}
