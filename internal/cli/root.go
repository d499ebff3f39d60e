package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"odds-oracle/internal/app"
	"odds-oracle/internal/config"
	"odds-oracle/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	appHandle *app.App
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:           "oddsoracle",
	Short:         "Collect model predictions for upcoming games alongside sportsbook odds",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil || cmd == versionCmd {
			return nil
		}

		load := config.LoadWithoutCredentials
		if needsCredentials(cmd) {
			load = config.Load
		}
		cfg, err := load(cfgFile)
		if err != nil {
			return err
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}

		logger, closer, err := logging.NewLogger(cfg.Logging)
		if err != nil {
			return err
		}
		logCloser = closer

		appHandle, err = app.NewApp(cfg, logger)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")

	rootCmd.AddCommand(requireCredentials(runCmd))
	rootCmd.AddCommand(requireCredentials(onceCmd))
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(requireCredentials(simulateCmd))
}

// annotationCredentials marks commands that call the upstream services.
const annotationCredentials = "oddsoracle/credentials"

func requireCredentials(cmd *cobra.Command) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations[annotationCredentials] = "true"
	return cmd
}

func needsCredentials(cmd *cobra.Command) bool {
	return cmd.Annotations[annotationCredentials] == "true"
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}
