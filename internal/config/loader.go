package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "bubblenav"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "BUBBLENAV"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	// Use the global viper instance so flag bindings made by the CLI apply
	return &Loader{v: viper.GetViper()}
}

// newLoaderWith uses an isolated viper instance.
func newLoaderWith(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// Load reads configuration from the search paths, environment variables and
// defaults, then validates it.
func (l *Loader) Load() (*Config, error) {
	return l.load("", true)
}

// LoadWithoutValidation is Load without the validation step.
func (l *Loader) LoadWithoutValidation() (*Config, error) {
	return l.load("", false)
}

// LoadWithFile loads configuration from a specific file path. An empty path
// falls back to the search paths.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	return l.load(configFile, true)
}

// LoadWithFileWithoutValidation is LoadWithFile without the validation step.
func (l *Loader) LoadWithFileWithoutValidation(configFile string) (*Config, error) {
	return l.load(configFile, false)
}

func (l *Loader) load(configFile string, validate bool) (*Config, error) {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
	}
	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// no config file: defaults and env vars only
	}

	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if validate {
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}
	return &config, nil
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance for advanced usage.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

// addConfigPaths adds the standard configuration search paths.
func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

// setupEnvironmentVariables maps BUBBLENAV_INDEX_BACKEND to index.backend and so on.
func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults sets default values for all configuration options. Every key
// needs a default for AutomaticEnv to reach it through Unmarshal.
func (l *Loader) setDefaults() {
	d := DefaultConfig()

	l.v.SetDefault("models_dir", d.ModelsDir)
	l.v.SetDefault("log_level", d.LogLevel)
	l.v.SetDefault("verbose", d.Verbose)

	l.v.SetDefault("detector.model_path", d.Detector.ModelPath)
	l.v.SetDefault("detector.lite", d.Detector.Lite)
	l.v.SetDefault("detector.confidence_threshold", d.Detector.ConfidenceThreshold)
	l.v.SetDefault("detector.nms_threshold", d.Detector.NMSThreshold)
	l.v.SetDefault("detector.num_classes", d.Detector.NumClasses)
	l.v.SetDefault("detector.min_balloon_size", d.Detector.MinBalloonSize)
	l.v.SetDefault("detector.max_balloon_size", d.Detector.MaxBalloonSize)
	l.v.SetDefault("detector.min_aspect_ratio", d.Detector.MinAspectRatio)
	l.v.SetDefault("detector.max_aspect_ratio", d.Detector.MaxAspectRatio)
	l.v.SetDefault("detector.input_width", d.Detector.InputWidth)
	l.v.SetDefault("detector.input_height", d.Detector.InputHeight)
	l.v.SetDefault("detector.channel_order", d.Detector.ChannelOrder)
	l.v.SetDefault("detector.fallback_channel_order", d.Detector.FallbackOrder)
	l.v.SetDefault("detector.num_threads", d.Detector.NumThreads)
	l.v.SetDefault("detector.warmup_iterations", d.Detector.WarmupIterations)

	l.v.SetDefault("reading.direction", d.Reading.Direction)
	l.v.SetDefault("reading.detection_enabled", d.Reading.DetectionEnabled)
	l.v.SetDefault("reading.auto_index", d.Reading.AutoIndex)
	l.v.SetDefault("reading.show_ms", d.Reading.ShowMillis)
	l.v.SetDefault("reading.hide_ms", d.Reading.HideMillis)

	l.v.SetDefault("index.backend", d.Index.Backend)
	l.v.SetDefault("index.dir", d.Index.Dir)
	l.v.SetDefault("index.sqlite_path", d.Index.SQLitePath)
	l.v.SetDefault("index.retention_days", d.Index.RetentionDays)

	l.v.SetDefault("output.format", d.Output.Format)
	l.v.SetDefault("output.confidence_precision", d.Output.ConfidencePrecision)
	l.v.SetDefault("output.overlay_dir", d.Output.OverlayDir)
	l.v.SetDefault("output.overlay_box_color", d.Output.OverlayBoxColor)
	l.v.SetDefault("output.overlay_current_color", d.Output.OverlayCurrentColor)
	l.v.SetDefault("output.popup_padding", d.Output.PopupPadding)

	l.v.SetDefault("server.host", d.Server.Host)
	l.v.SetDefault("server.port", d.Server.Port)
	l.v.SetDefault("server.cors_origin", d.Server.CORSOrigin)
	l.v.SetDefault("server.timeout_sec", d.Server.TimeoutSec)
	l.v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	l.v.SetDefault("server.library_dir", d.Server.LibraryDir)

	l.v.SetDefault("gpu.enabled", d.GPU.Enabled)
	l.v.SetDefault("gpu.device", d.GPU.Device)
	l.v.SetDefault("gpu.memory_limit", d.GPU.MemoryLimit)
}

// GetResolvedConfig returns the current resolved configuration for debugging.
func (l *Loader) GetResolvedConfig() map[string]any {
	return l.v.AllSettings()
}

// GenerateDefaultConfigFile writes the default configuration as YAML. It
// refuses to overwrite an existing file unless force is set.
func GenerateDefaultConfigFile(filename string, force bool) error {
	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	if _, err := os.Stat(filename); err == nil && !force {
		return fmt.Errorf("config file already exists: %s", filename)
	}
	data, err := MarshalYAML(DefaultConfig())
	if err != nil {
		return err
	}
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// MarshalYAML renders a configuration with a short header.
func MarshalYAML(c Config) ([]byte, error) {
	body, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	header := "# bubblenav configuration\n# Environment variables use the " + EnvPrefix + "_ prefix, e.g. " +
		EnvPrefix + "_INDEX_BACKEND=sqlite\n"
	return append([]byte(header), body...), nil
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home)
	}

	if configDir, exists := os.LookupEnv("XDG_CONFIG_HOME"); exists {
		paths = append(paths, filepath.Join(configDir, ConfigFileName))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", ConfigFileName))
	}

	paths = append(paths, "/etc/"+ConfigFileName)
	return paths
}

// PrintConfigInfo prints information about configuration loading for debugging.
func (l *Loader) PrintConfigInfo() {
	fmt.Printf("Configuration file used: %s\n", l.GetConfigFileUsed())
	fmt.Printf("Configuration search paths: %v\n", GetConfigSearchPaths())
	fmt.Printf("Environment prefix: %s\n", EnvPrefix)
}
