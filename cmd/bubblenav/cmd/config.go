package cmd

import (
	"fmt"

	"github.com/MeKo-Tech/bubblenav/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create and inspect configuration files",
}

var configInitCmd = &cobra.Command{
	Use:   "init [file]",
	Short: "Write the default configuration",
	Long: `Write the default configuration as YAML, to bubblenav.yaml unless a file is
given. Existing files are kept unless --force is set.`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		file := config.ConfigFileName + ".yaml"
		if len(args) == 1 {
			file = args[0]
		}
		if err := config.GenerateDefaultConfigFile(file, force); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", file)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:          "show",
	Short:        "Print the effective configuration",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		format, _ := cmd.Flags().GetString("format")
		out := cmd.OutOrStdout()
		switch format {
		case "yaml":
			data, err := config.MarshalYAML(*cfg)
			if err != nil {
				return err
			}
			_, err = out.Write(data)
			return err
		case outputFormatJSON:
			return writeJSON(out, cfg)
		default:
			return fmt.Errorf("invalid format: %s (must be one of: yaml, json)", format)
		}
	},
}

var configPathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Print the configuration search paths",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if used := GetConfigLoader().GetConfigFileUsed(); used != "" {
			_, _ = fmt.Fprintf(out, "Using: %s\n", used)
		}
		for _, p := range config.GetConfigSearchPaths() {
			_, _ = fmt.Fprintln(out, p)
		}
		_, _ = fmt.Fprintf(out, "Environment prefix: %s_\n", config.EnvPrefix)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd, configPathsCmd)
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	configShowCmd.Flags().StringP("format", "f", "yaml", "output format (yaml, json)")
}
