package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"mlpipe/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "mlpipe",
	Short: "mlpipe runs MLproject entry points as a pipeline of tracked runs",
	Long: `mlpipe sequences the entry points of an MLproject as tracked runs.

Each step is launched, waited on, and its artifact root is handed to the next
step as input paths. A step starts only after the previous one has finished;
the first failure stops the pipeline.

Common workflows:

  Download, split and train on a dataset:
    mlpipe workflow --data-url https://example.com/churn.csv

  Train a model and evaluate the trained classifier:
    mlpipe train-eval --data-path data/churn.csv

  Run a single entry point:
    mlpipe run train -P data_path=data/churn.csv

  Inspect a run:
    mlpipe status <run-id>

Configuration:
  Settings come from flags, environment variables or a config file:
    MLFLOW_TRACKING_URI      http(s) server, postgres DSN or directory (default: ./mlruns)
    MLFLOW_TRACKING_TOKEN    Bearer token for an http(s) tracking server
    MLFLOW_EXPERIMENT_NAME   Experiment runs are recorded under (default: Default)
    MLPIPE_BACKEND           local, docker or kubernetes (default: local)
    MLPIPE_PROJECT_DIR       Directory holding the MLproject file (default: .)`,
	SilenceUsage: true,
}

// Execute runs the root command. Interrupts cancel the running command,
// which stops the active run and marks it KILLED.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return rootCmd.ExecuteContext(ctx)
}

func initConfig() {
	config.SetDefaults(viper.GetViper())
	config.BindEnv(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			// Search config in home directory with name ".mlpipe"
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".mlpipe")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// bindFlags binds the persistent flags to their config keys.
func bindFlags() {
	flags := rootCmd.PersistentFlags()
	viper.BindPFlag("tracking_uri", flags.Lookup("tracking-uri"))
	viper.BindPFlag("tracking_token", flags.Lookup("token"))
	viper.BindPFlag("experiment_name", flags.Lookup("experiment"))
	viper.BindPFlag("project_dir", flags.Lookup("project-dir"))
	viper.BindPFlag("backend", flags.Lookup("backend"))
	viper.BindPFlag("run_timeout", flags.Lookup("timeout"))
	viper.BindPFlag("metrics_addr", flags.Lookup("metrics-addr"))
	viper.BindPFlag("log_level", flags.Lookup("log-level"))
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mlpipe.yaml)")
	flags.String("tracking-uri", "./mlruns", "Tracking server URL, postgres DSN or directory")
	flags.StringP("token", "t", "", "Bearer token for an http(s) tracking server")
	flags.StringP("experiment", "e", "Default", "Experiment to record runs under")
	flags.String("project-dir", ".", "Directory holding the MLproject file")
	flags.StringP("backend", "b", config.BackendLocal, "Execution backend: local, docker or kubernetes")
	flags.Duration("timeout", 0, "Maximum duration of each run (0 = no limit)")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address while running")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")

	bindFlags()
}
