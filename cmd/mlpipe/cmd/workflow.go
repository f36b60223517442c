package cmd

import (
	"mlpipe/internal/pipeline"

	"github.com/spf13/cobra"
)

var dataURL string

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Download a dataset, split it and train on the split",
	Long: `Runs the download_data, prepare_train_test and train entry points in order.

download_data receives --data-url. prepare_train_test reads dataset.csv from
the artifacts of download_data, and train reads train.csv and test.csv from
the artifacts of prepare_train_test. The first failing step stops the
workflow.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd, pipeline.DataPipeline(dataURL))
	},
}

func init() {
	workflowCmd.Flags().StringVar(&dataURL, "data-url", "tt", "URL of the dataset passed to download_data")
	rootCmd.AddCommand(workflowCmd)
}
