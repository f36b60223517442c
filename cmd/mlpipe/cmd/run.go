package cmd

import (
	"fmt"
	"strings"

	"mlpipe/internal/config"
	"mlpipe/pkg/api"

	"github.com/spf13/cobra"
)

var (
	runParams []string
	runNoWait bool
)

var runCmd = &cobra.Command{
	Use:   "run <entry-point>",
	Short: "Run a single entry point as a tracked run",
	Long: `Launches one entry point of the MLproject with the given parameters and waits
for it to finish. Parameters without a value in the MLproject must be passed
with -P.

Examples:
  mlpipe run train -P data_path=data/churn.csv
  mlpipe run evaluate -P model_run_uri=./mlruns/0/abc/artifacts/classifier.keras
  mlpipe run train -b docker --no-wait -P data_path=/data/churn.csv`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := parseParams(runParams)
		if err != nil {
			return err
		}

		s, err := newSession(cmd, true)
		if err != nil {
			return err
		}
		defer s.Close()

		if runNoWait && s.cfg.Backend == config.BackendLocal {
			return fmt.Errorf("--no-wait is not supported by the %s backend", config.BackendLocal)
		}

		l, err := s.newLauncher(cmd)
		if err != nil {
			return err
		}

		run, err := l.Launch(cmd.Context(), args[0], params)
		if err != nil {
			return err
		}

		if runNoWait {
			cmd.Printf("%s Run %s%s%s started\n", statusIcon(api.RunStatusRunning), colorBold, run.RunID(), colorReset)
			return nil
		}

		if err := run.Wait(cmd.Context()); err != nil {
			return err
		}

		root, err := l.ArtifactRoot(cmd.Context(), run.RunID())
		if err != nil {
			return err
		}
		cmd.Printf("%s Run %s%s%s finished\n", statusIcon(api.RunStatusFinished), colorBold, run.RunID(), colorReset)
		cmd.Printf("%sArtifacts:%s %s\n", colorDim, colorReset, root)
		return nil
	},
}

// parseParams turns key=value pairs into a map. Later pairs win.
func parseParams(pairs []string) (map[string]string, error) {
	params := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q: expected key=value", pair)
		}
		params[key] = value
	}
	return params, nil
}

func init() {
	runCmd.Flags().StringArrayVarP(&runParams, "param", "P", nil, "Entry point parameter as key=value (repeatable)")
	runCmd.Flags().BoolVar(&runNoWait, "no-wait", false, "Return once the run has started (docker and kubernetes only)")
	rootCmd.AddCommand(runCmd)
}
