package cmd

import (
	"errors"
	"fmt"

	"github.com/MeKo-Tech/bubblenav/internal/models"
	"github.com/MeKo-Tech/bubblenav/internal/onnx"
	"github.com/spf13/cobra"
)

var errSetupCheck = errors.New("setup check failed")

// checkCmd verifies the runtime and model setup.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check ONNX Runtime and the balloon model",
	Long: `Check that the ONNX Runtime shared library can be loaded and that the
configured balloon model exists and loads.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintln(out, cmd.Short)

		failed := false
		report := func(name string, err error) {
			if err != nil {
				failed = true
				_, _ = fmt.Fprintf(out, "  FAIL %-16s %v\n", name, err)
				return
			}
			_, _ = fmt.Fprintf(out, "  ok   %s\n", name)
		}

		report("onnxruntime", onnx.InitializeRuntime(cfg.GPU.Enabled))

		dCfg, err := cfg.ToDetectorConfig()
		if err != nil {
			report("configuration", err)
			return errSetupCheck
		}
		report("model file", models.ValidateModelExists(dCfg.ModelPath))

		det, err := loadDetector(cfg)
		if err == nil {
			err = det.Err()
			_ = det.Close()
		}
		report("detector", err)

		if failed {
			_, _ = fmt.Fprintln(out)
			_, _ = fmt.Fprintln(out, "Models are searched in", cfg.ModelsDir, "(set --models-dir or "+models.EnvModelsDir+")")
			return errSetupCheck
		}
		_, _ = fmt.Fprintln(out, "All checks passed.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
