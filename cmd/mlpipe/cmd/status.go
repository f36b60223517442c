package cmd

import (
	"sort"

	"mlpipe/pkg/api"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Get status of a run",
	Long:  `Retrieve detailed information for a tracked run, including its status (RUNNING, FINISHED, FAILED, KILLED), entry point, parameters, artifact location and timestamps.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd, false)
		if err != nil {
			return err
		}
		defer s.Close()

		run, err := s.store.GetRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		printRun(cmd, run)
		return nil
	},
}

func printRun(cmd *cobra.Command, run *api.Run) {
	info := run.Info

	// Header with status icon
	cmd.Printf("%s %sRun Details%s\n", statusIcon(info.Status), colorBold, colorReset)
	cmd.Println("──────────────────────────────")

	cmd.Printf("%sID:%s          %s\n", colorDim, colorReset, info.RunID)
	if info.RunName != "" {
		cmd.Printf("%sName:%s        %s\n", colorDim, colorReset, info.RunName)
	}
	cmd.Printf("%sExperiment:%s  %s\n", colorDim, colorReset, info.ExperimentID)
	cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, colorizeStatus(info.Status))

	if ep := run.Tag(api.TagProjectEntryPoint); ep != "" {
		cmd.Printf("%sEntry Point:%s %s\n", colorDim, colorReset, ep)
	}
	if backend := run.Tag(api.TagProjectBackend); backend != "" {
		cmd.Printf("%sBackend:%s     %s\n", colorDim, colorReset, backend)
	}
	cmd.Printf("%sArtifacts:%s   %s\n", colorDim, colorReset, info.ArtifactURI)

	started := api.FromMillis(info.StartTime)
	ended := api.FromMillis(info.EndTime)
	cmd.Printf("%sStarted:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(started))

	// Duration if both times available
	if started != nil && ended != nil {
		cmd.Printf("%sFinished:%s    %s %s(%s)%s\n", colorDim, colorReset,
			formatTimeWithRelative(ended),
			colorCyan, formatDuration(ended.Sub(*started)), colorReset)
	} else {
		cmd.Printf("%sFinished:%s    %s\n", colorDim, colorReset, formatTimeWithRelative(ended))
	}

	params := run.ParamMap()
	if len(params) == 0 {
		return
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cmd.Printf("%sParameters:%s\n", colorDim, colorReset)
	for _, k := range keys {
		cmd.Printf("  %s = %s\n", k, params[k])
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
