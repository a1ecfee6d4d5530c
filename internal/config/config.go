package config

import (
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/bubblenav/internal/balloon"
	"github.com/MeKo-Tech/bubblenav/internal/detector"
	"github.com/MeKo-Tech/bubblenav/internal/index"
	"github.com/MeKo-Tech/bubblenav/internal/indexer"
	"github.com/MeKo-Tech/bubblenav/internal/models"
	"github.com/MeKo-Tech/bubblenav/internal/navigation"
	"github.com/MeKo-Tech/bubblenav/internal/onnx"
	"github.com/MeKo-Tech/bubblenav/internal/render"
	"github.com/MeKo-Tech/bubblenav/internal/utils"
)

// Index store backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	nav := navigation.DefaultTiming()
	return Config{
		ModelsDir: models.DefaultModelsDir,
		LogLevel:  "info",
		Verbose:   false,
		Detector:  defaultDetectorConfig(),
		Reading: ReadingConfig{
			Direction:        balloon.LeftToRight.String(),
			DetectionEnabled: true,
			AutoIndex:        true,
			ShowMillis:       int(nav.Show / time.Millisecond),
			HideMillis:       int(nav.Hide / time.Millisecond),
		},
		Index: IndexConfig{
			Backend:       BackendFile,
			Dir:           filepath.Join(".bubblenav", "indexes"),
			SQLitePath:    filepath.Join(".bubblenav", "index.db"),
			RetentionDays: 90,
		},
		Output: OutputConfig{
			Format:              "text",
			ConfidencePrecision: 2,
			OverlayBoxColor:     "#E53935",
			OverlayCurrentColor: "#FDD835",
			PopupPadding:        render.DefaultPopupOptions().Padding,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			TimeoutSec:      30,
			ShutdownTimeout: 10,
			LibraryDir:      ".",
		},
		GPU: GPUConfig{
			Enabled:     false,
			Device:      0,
			MemoryLimit: "auto",
		},
	}
}

// defaultDetectorConfig returns default detector configuration.
func defaultDetectorConfig() DetectorConfig {
	cfg := detector.DefaultConfig()
	return DetectorConfig{
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		NMSThreshold:        cfg.NMSThreshold,
		NumClasses:          cfg.NumClasses,
		MinBalloonSize:      cfg.MinBalloonSize,
		MaxBalloonSize:      cfg.MaxBalloonSize,
		MinAspectRatio:      cfg.MinAspectRatio,
		MaxAspectRatio:      cfg.MaxAspectRatio,
		InputWidth:          cfg.InputWidth,
		InputHeight:         cfg.InputHeight,
		ChannelOrder:        string(cfg.Channels.Primary),
		FallbackOrder:       string(cfg.Channels.Fallback),
		NumThreads:          cfg.NumThreads,
		WarmupIterations:    cfg.WarmupIterations,
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	validFormats := []string{"text", "json"}
	if c.Output.Format != "" && !slices.Contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}

	if err := validateThreshold(c.Detector.ConfidenceThreshold, "detector.confidence_threshold"); err != nil {
		return err
	}
	if err := validateThreshold(c.Detector.NMSThreshold, "detector.nms_threshold"); err != nil {
		return err
	}
	if _, err := c.ToDetectorConfig(); err != nil {
		return err
	}

	if _, err := balloon.ParseDirection(c.Reading.Direction); err != nil {
		return fmt.Errorf("invalid reading.direction: %w", err)
	}
	if c.Reading.ShowMillis < 0 || c.Reading.HideMillis < 0 {
		return fmt.Errorf("invalid overlay timing: show %dms, hide %dms (must not be negative)",
			c.Reading.ShowMillis, c.Reading.HideMillis)
	}

	validBackends := []string{BackendFile, BackendSQLite}
	if !slices.Contains(validBackends, c.Index.Backend) {
		return fmt.Errorf("invalid index backend: %s (must be one of: %s)", c.Index.Backend, strings.Join(validBackends, ", "))
	}
	if c.Index.Backend == BackendFile && c.Index.Dir == "" {
		return fmt.Errorf("index.dir is required for the %s backend", BackendFile)
	}
	if c.Index.Backend == BackendSQLite && c.Index.SQLitePath == "" {
		return fmt.Errorf("index.sqlite_path is required for the %s backend", BackendSQLite)
	}
	if c.Index.RetentionDays < 0 {
		return fmt.Errorf("invalid index.retention_days: %d (0 disables pruning)", c.Index.RetentionDays)
	}

	if _, err := render.ParseStyle(c.Output.OverlayBoxColor, c.Output.OverlayCurrentColor); err != nil {
		return err
	}
	if c.Output.PopupPadding < 0 {
		return fmt.Errorf("invalid output.popup_padding: %d (must not be negative)", c.Output.PopupPadding)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}

	if c.GPU.MemoryLimit != "auto" && c.GPU.MemoryLimit != "" {
		if _, err := parseMemoryLimit(c.GPU.MemoryLimit); err != nil {
			return fmt.Errorf("invalid GPU memory limit: %w", err)
		}
	}
	return nil
}

// ToDetectorConfig converts to detector.Config.
func (c *Config) ToDetectorConfig() (detector.Config, error) {
	cfg := detector.DefaultConfig()
	cfg.UpdateModelPath(c.ModelsDir, c.Detector.Lite)
	if c.Detector.ModelPath != "" {
		cfg.ModelPath = c.Detector.ModelPath
	}
	cfg.ConfidenceThreshold = c.Detector.ConfidenceThreshold
	cfg.NMSThreshold = c.Detector.NMSThreshold
	cfg.NumClasses = c.Detector.NumClasses
	cfg.MinBalloonSize = c.Detector.MinBalloonSize
	cfg.MaxBalloonSize = c.Detector.MaxBalloonSize
	cfg.MinAspectRatio = c.Detector.MinAspectRatio
	cfg.MaxAspectRatio = c.Detector.MaxAspectRatio
	cfg.InputWidth = c.Detector.InputWidth
	cfg.InputHeight = c.Detector.InputHeight
	cfg.NumThreads = c.Detector.NumThreads
	cfg.WarmupIterations = c.Detector.WarmupIterations

	primary, err := utils.ParseChannelOrder(c.Detector.ChannelOrder)
	if err != nil {
		return cfg, fmt.Errorf("invalid detector.channel_order: %w", err)
	}
	cfg.Channels.Primary = primary
	cfg.Channels.Fallback = ""
	if c.Detector.FallbackOrder != "" && c.Detector.FallbackOrder != "none" {
		fallback, err := utils.ParseChannelOrder(c.Detector.FallbackOrder)
		if err != nil {
			return cfg, fmt.Errorf("invalid detector.fallback_channel_order: %w", err)
		}
		cfg.Channels.Fallback = fallback
	}

	cfg.GPU = c.toGPUConfig()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid detector configuration: %w", err)
	}
	return cfg, nil
}

// toGPUConfig converts to onnx.GPUConfig. Invalid memory limits are rejected by Validate.
func (c *Config) toGPUConfig() onnx.GPUConfig {
	cfg := onnx.DefaultGPUConfig()
	cfg.UseGPU = c.GPU.Enabled
	cfg.DeviceID = c.GPU.Device
	if limit, err := parseMemoryLimit(c.GPU.MemoryLimit); err == nil {
		cfg.GPUMemLimit = limit
	}
	return cfg
}

// Direction returns the configured reading direction, LTR when invalid.
func (c *Config) Direction() balloon.Direction {
	dir, err := balloon.ParseDirection(c.Reading.Direction)
	if err != nil {
		return balloon.LeftToRight
	}
	return dir
}

// ToIndexerConfig converts to indexer.Config.
func (c *Config) ToIndexerConfig() indexer.Config {
	return indexer.Config{
		Direction: c.Direction(),
		AutoIndex: c.Reading.AutoIndex && c.Reading.DetectionEnabled,
		Disabled:  !c.Reading.DetectionEnabled,
	}
}

// ToNavigationConfig converts to navigation.Config on the system clock.
func (c *Config) ToNavigationConfig() navigation.Config {
	cfg := navigation.DefaultConfig()
	cfg.Direction = c.Direction()
	cfg.Timing = navigation.Timing{
		Show: time.Duration(c.Reading.ShowMillis) * time.Millisecond,
		Hide: time.Duration(c.Reading.HideMillis) * time.Millisecond,
	}
	return cfg
}

// OverlayStyle returns the debug overlay colours.
func (c *Config) OverlayStyle() (render.Style, error) {
	return render.ParseStyle(c.Output.OverlayBoxColor, c.Output.OverlayCurrentColor)
}

// Retention returns the index pruning policy.
func (c *Config) Retention() index.Retention {
	return index.Retention{MaxAge: time.Duration(c.Index.RetentionDays) * 24 * time.Hour}
}

// OpenStore opens the configured index store. SQLite stores must be closed by the caller.
func (c *Config) OpenStore() (index.Store, error) {
	switch c.Index.Backend {
	case BackendSQLite:
		return index.OpenSQLite(c.Index.SQLitePath)
	case BackendFile, "":
		return index.NewFileStore(c.Index.Dir)
	default:
		return nil, fmt.Errorf("unknown index backend: %s", c.Index.Backend)
	}
}

// validateThreshold validates that a value is between 0.0 and 1.0.
func validateThreshold(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}

// parseMemoryLimit parses GPU memory limits such as "1GB" or "512MB" into bytes.
// "auto" and the empty string mean no limit.
func parseMemoryLimit(limit string) (uint64, error) {
	if limit == "" || limit == "auto" {
		return 0, nil
	}
	upper := strings.ToUpper(limit)
	units := []struct {
		suffix string
		factor float64
	}{
		{"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10}, {"B", 1},
	}
	for _, u := range units {
		if !strings.HasSuffix(upper, u.suffix) {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSuffix(upper, u.suffix), 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid number in memory limit: %s", limit)
		}
		return uint64(n * u.factor), nil
	}
	return 0, fmt.Errorf("memory limit must end with one of: B, KB, MB, GB")
}
