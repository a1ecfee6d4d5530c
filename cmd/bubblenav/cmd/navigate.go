package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/bubblenav/internal/book"
	"github.com/MeKo-Tech/bubblenav/internal/detector"
	"github.com/MeKo-Tech/bubblenav/internal/index"
	"github.com/MeKo-Tech/bubblenav/internal/session"
	"github.com/spf13/cobra"
)

// navigateCmd replays reader gestures against a book.
var navigateCmd = &cobra.Command{
	Use:   "navigate <book> <input>...",
	Short: "Replay reader gestures and print the navigation state",
	Long: `Open a book the way a reader does and apply a sequence of inputs. After
each input the command prints the action taken, the displayed page and the
selected balloon.

Inputs:
  next, previous, hide   step forward, step back, hide the overlay
  tap:X                  tap at screen x (thirds of --screen-width)
  press:X,Y              long press at a screen point
  goto:N                 display zero-based page N

Pages without a stored index are detected live.

Examples:
  bubblenav navigate issue-1.cbz next next next
  bubblenav navigate issue-1.cbz goto:3 tap:900 press:400,300 --format json`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		ctx := commandContext(cmd)
		format := cfg.Output.Format
		if cmd.Flags().Changed("format") {
			format, _ = cmd.Flags().GetString("format")
		}
		if err := validateFormat(format); err != nil {
			return err
		}
		screenW, _ := cmd.Flags().GetFloat64("screen-width")
		screenH, _ := cmd.Flags().GetFloat64("screen-height")

		steps := make([]navStep, 0, len(args)-1)
		for _, token := range args[1:] {
			step, err := parseNavStep(token, screenW, screenH)
			if err != nil {
				return err
			}
			steps = append(steps, step)
		}

		det, err := loadDetector(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = det.Close() }()
		store, closeStore, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeStore()
		src, closeBook, err := openBook(args[0])
		if err != nil {
			return err
		}
		defer closeBook()

		sCfg := session.Config{Indexer: cfg.ToIndexerConfig(), Navigation: cfg.ToNavigationConfig()}
		sCfg.Indexer.AutoIndex = false
		results, err := replay(ctx, det, store, src, sCfg, steps)
		if err != nil {
			return err
		}
		return writeNavResults(cmd.OutOrStdout(), format, results)
	},
}

// navStep is one parsed input. Goto is -1 for gestures.
type navStep struct {
	Token string
	Input session.Input
	Goto  int
}

func parseNavStep(token string, screenW, screenH float64) (navStep, error) {
	step := navStep{Token: token, Goto: -1}
	kind, arg, hasArg := strings.Cut(token, ":")
	switch strings.ToLower(kind) {
	case "next", "n":
		step.Input.Kind = session.InputNext
	case "previous", "prev", "p":
		step.Input.Kind = session.InputPrevious
	case "hide":
		step.Input.Kind = session.InputHide
	case "tap":
		x, err := strconv.ParseFloat(arg, 64)
		if !hasArg || err != nil {
			return step, fmt.Errorf("invalid tap %q (want tap:X)", token)
		}
		step.Input = session.Input{Kind: session.InputTap, X: x, ScreenWidth: screenW}
	case "press", "long_press":
		xs, ys, ok := strings.Cut(arg, ",")
		x, errX := strconv.ParseFloat(xs, 64)
		y, errY := strconv.ParseFloat(ys, 64)
		if !hasArg || !ok || errX != nil || errY != nil {
			return step, fmt.Errorf("invalid press %q (want press:X,Y)", token)
		}
		step.Input = session.Input{Kind: session.InputLongPress, X: x, Y: y, ScreenWidth: screenW, ScreenHeight: screenH}
	case "goto":
		n, err := strconv.Atoi(arg)
		if !hasArg || err != nil {
			return step, fmt.Errorf("invalid goto %q (want goto:N)", token)
		}
		step.Goto = n
	default:
		return step, fmt.Errorf("%w: %q", session.ErrUnknownInput, token)
	}
	return step, nil
}

type navResult struct {
	Input string `json:"input"`
	session.Result
}

// replay opens a session and applies steps in order.
func replay(ctx context.Context, det detector.Result, store index.Store, src book.Source, cfg session.Config,
	steps []navStep,
) ([]navResult, error) {
	sess, err := session.Open(ctx, det, store, src, cfg)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	results := make([]navResult, 0, len(steps))
	for _, step := range steps {
		var res session.Result
		if step.Goto >= 0 {
			snap, err := sess.GoTo(ctx, step.Goto)
			if err != nil {
				return results, err
			}
			res = session.Result{Action: "goto", Page: step.Goto, Turned: true, State: snap}
		} else {
			res, err = sess.Apply(ctx, step.Input)
			if err != nil {
				return results, err
			}
		}
		results = append(results, navResult{Input: step.Token, Result: res})
	}
	return results, nil
}

func writeNavResults(w io.Writer, format string, results []navResult) error {
	if format == outputFormatJSON {
		return writeJSON(w, results)
	}
	for _, r := range results {
		selected := "none"
		if r.State.BalloonIndex >= 0 {
			selected = fmt.Sprintf("%d/%d", r.State.BalloonIndex+1, r.State.Count)
		}
		_, _ = fmt.Fprintf(w, "%-12s %-13s page=%d balloon=%s overlay=%s\n",
			r.Input, r.Action, r.Page, selected, r.State.Overlay)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(navigateCmd)
	navigateCmd.Flags().StringP("format", "f", outputFormatText, "output format (text, json)")
	navigateCmd.Flags().Float64("screen-width", 1080, "screen width in pixels for tap and press inputs")
	navigateCmd.Flags().Float64("screen-height", 1920, "screen height in pixels for press inputs")
}
