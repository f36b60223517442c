package cmd

import (
	"mlpipe/internal/pipeline"

	"github.com/spf13/cobra"
)

var dataPath string

var trainEvalCmd = &cobra.Command{
	Use:   "train-eval",
	Short: "Train a model and evaluate the trained classifier",
	Long: `Runs the train and evaluate entry points in order.

train receives --data-path. evaluate receives the classifier.keras file from
the artifacts of train as model_run_uri.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd, pipeline.TrainEvaluatePipeline(dataPath))
	},
}

func init() {
	trainEvalCmd.Flags().StringVar(&dataPath, "data-path", "tt", "Dataset path passed to train")
	rootCmd.AddCommand(trainEvalCmd)
}
