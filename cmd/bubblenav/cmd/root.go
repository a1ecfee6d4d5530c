package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/MeKo-Tech/bubblenav/internal/config"
	"github.com/MeKo-Tech/bubblenav/internal/models"
	"github.com/MeKo-Tech/bubblenav/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Global configuration loader.
	configLoader *config.Loader
	// Global configuration.
	globalConfig *config.Config
	// Configuration file path.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "bubblenav",
	Short: "Speech balloon detection and guided reading for comics",
	Long: `bubblenav finds the speech balloons on comic pages, orders them in reading
order and lets a reader step through them one balloon at a time.

This tool provides:
- Balloon detection with a YOLO-style ONNX model
- Reading order for left-to-right and right-to-left books
- A persistent per-book balloon index (JSON files or SQLite)
- Scripted navigation and an HTTP/WebSocket reader backend

Books are image directories, CBZ archives or PDFs.

Examples:
  bubblenav detect issue-1.cbz --pages 1-3
  bubblenav index build issue-1.cbz
  bubblenav navigate issue-1.cbz next next tap:900
  bubblenav serve --library ~/comics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, _ := cmd.PersistentFlags().GetBool("version")
		if v {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
			return nil
		}
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetRootCommand returns the root command for testing purposes.
func GetRootCommand() *cobra.Command {
	return rootCmd
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is search in ., $HOME, $HOME/.config/bubblenav, /etc/bubblenav)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	defaultModelsDir := models.DefaultModelsDir
	if envDir := os.Getenv(models.EnvModelsDir); envDir != "" {
		defaultModelsDir = envDir
	}
	rootCmd.PersistentFlags().String("models-dir", defaultModelsDir,
		"directory containing ONNX models (can also be set via "+models.EnvModelsDir+")")
	rootCmd.PersistentFlags().String("index-backend", config.BackendFile, "index store backend (file, sqlite)")
	rootCmd.PersistentFlags().String("index-dir", "", "directory of the file index store")
	rootCmd.PersistentFlags().String("index-db", "", "database path of the sqlite index store")
	rootCmd.PersistentFlags().String("direction", "ltr", "reading direction (ltr, rtl)")
	rootCmd.PersistentFlags().Bool("version", false, "print version information and exit")

	// Unchanged flags rank below config files and environment variables.
	bind := func(key, flag string) {
		_ = viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag))
	}
	bind("verbose", "verbose")
	bind("log_level", "log-level")
	bind("models_dir", "models-dir")
	bind("index.backend", "index-backend")
	bind("index.dir", "index-dir")
	bind("index.sqlite_path", "index-db")
	bind("reading.direction", "direction")

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if globalConfig == nil {
			initConfig()
		}
		setupLogging(cmd, globalConfig)
	}
}

// setupLogging installs the default JSON logger on stderr so command output
// on stdout stays machine readable.
func setupLogging(cmd *cobra.Command, cfg *config.Config) {
	verbose := cfg.Verbose
	if cmd.Flags().Changed("verbose") {
		verbose, _ = cmd.Flags().GetBool("verbose")
	}
	level := cfg.LogLevel
	if cmd.Flags().Changed("log-level") {
		level, _ = cmd.Flags().GetString("log-level")
	}
	logger := slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: parseLogLevel(level, verbose),
	}))
	slog.SetDefault(logger)
}

func parseLogLevel(level string, verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	loader := GetConfigLoader()

	var err error
	if cfgFile != "" {
		globalConfig, err = loader.LoadWithFile(cfgFile)
	} else {
		globalConfig, err = loader.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
}

// GetConfig returns the global configuration with the bound CLI flags applied.
func GetConfig() *config.Config {
	if globalConfig == nil {
		initConfig()
	}

	// Flag binding happens after the first load, so re-read from viper.
	var cfg config.Config
	if err := GetConfigLoader().GetViper().Unmarshal(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error unmarshaling updated configuration: %v\n", err)
		return globalConfig
	}
	return &cfg
}

// GetConfigLoader returns the global configuration loader.
func GetConfigLoader() *config.Loader {
	if configLoader == nil {
		configLoader = config.NewLoader()
	}
	return configLoader
}
