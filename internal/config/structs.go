//nolint:lll
package config

// Config represents the complete configuration for bubblenav. It covers every
// command (detect, index, refresh, navigate, serve) and is loaded from
// configuration files, environment variables and command-line flags.
type Config struct {
	// Global settings
	ModelsDir string `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Balloon detection
	Detector DetectorConfig `mapstructure:"detector" yaml:"detector" json:"detector"`

	// Reading direction, overlay timing and indexing behaviour
	Reading ReadingConfig `mapstructure:"reading" yaml:"reading" json:"reading"`

	// Persisted balloon indexes
	Index IndexConfig `mapstructure:"index" yaml:"index" json:"index"`

	// Output configuration
	Output OutputConfig `mapstructure:"output" yaml:"output" json:"output"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	// GPU configuration
	GPU GPUConfig `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
}

// DetectorConfig contains balloon detector settings.
type DetectorConfig struct {
	ModelPath           string  `mapstructure:"model_path" yaml:"model_path" json:"model_path"`
	Lite                bool    `mapstructure:"lite" yaml:"lite" json:"lite"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" yaml:"confidence_threshold" json:"confidence_threshold"`
	NMSThreshold        float64 `mapstructure:"nms_threshold" yaml:"nms_threshold" json:"nms_threshold"`
	NumClasses          int     `mapstructure:"num_classes" yaml:"num_classes" json:"num_classes"`
	MinBalloonSize      float64 `mapstructure:"min_balloon_size" yaml:"min_balloon_size" json:"min_balloon_size"`
	MaxBalloonSize      float64 `mapstructure:"max_balloon_size" yaml:"max_balloon_size" json:"max_balloon_size"`
	MinAspectRatio      float64 `mapstructure:"min_aspect_ratio" yaml:"min_aspect_ratio" json:"min_aspect_ratio"`
	MaxAspectRatio      float64 `mapstructure:"max_aspect_ratio" yaml:"max_aspect_ratio" json:"max_aspect_ratio"`
	InputWidth          int     `mapstructure:"input_width" yaml:"input_width" json:"input_width"`
	InputHeight         int     `mapstructure:"input_height" yaml:"input_height" json:"input_height"`
	ChannelOrder        string  `mapstructure:"channel_order" yaml:"channel_order" json:"channel_order"`
	FallbackOrder       string  `mapstructure:"fallback_channel_order" yaml:"fallback_channel_order" json:"fallback_channel_order"`
	NumThreads          int     `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
	WarmupIterations    int     `mapstructure:"warmup_iterations" yaml:"warmup_iterations" json:"warmup_iterations"`
}

// ReadingConfig contains navigation and indexing settings.
type ReadingConfig struct {
	Direction        string `mapstructure:"direction" yaml:"direction" json:"direction"`
	DetectionEnabled bool   `mapstructure:"detection_enabled" yaml:"detection_enabled" json:"detection_enabled"`
	AutoIndex        bool   `mapstructure:"auto_index" yaml:"auto_index" json:"auto_index"`
	ShowMillis       int    `mapstructure:"show_ms" yaml:"show_ms" json:"show_ms"`
	HideMillis       int    `mapstructure:"hide_ms" yaml:"hide_ms" json:"hide_ms"`
}

// IndexConfig selects and configures the index store.
type IndexConfig struct {
	Backend       string `mapstructure:"backend" yaml:"backend" json:"backend"`
	Dir           string `mapstructure:"dir" yaml:"dir" json:"dir"`
	SQLitePath    string `mapstructure:"sqlite_path" yaml:"sqlite_path" json:"sqlite_path"`
	RetentionDays int    `mapstructure:"retention_days" yaml:"retention_days" json:"retention_days"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	Format              string `mapstructure:"format" yaml:"format" json:"format"`
	ConfidencePrecision int    `mapstructure:"confidence_precision" yaml:"confidence_precision" json:"confidence_precision"`
	OverlayDir          string `mapstructure:"overlay_dir" yaml:"overlay_dir" json:"overlay_dir"`
	OverlayBoxColor     string `mapstructure:"overlay_box_color" yaml:"overlay_box_color" json:"overlay_box_color"`
	OverlayCurrentColor string `mapstructure:"overlay_current_color" yaml:"overlay_current_color" json:"overlay_current_color"`
	PopupPadding        int    `mapstructure:"popup_padding" yaml:"popup_padding" json:"popup_padding"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	LibraryDir      string `mapstructure:"library_dir" yaml:"library_dir" json:"library_dir"`
}

// GPUConfig contains GPU acceleration settings.
type GPUConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Device      int    `mapstructure:"device" yaml:"device" json:"device"`
	MemoryLimit string `mapstructure:"memory_limit" yaml:"memory_limit" json:"memory_limit"`
}
