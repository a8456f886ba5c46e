package main

import (
	"context"
	"io"

	"github.com/go-go-golems/kickoff/cmd/kickoff/cmds"
	"github.com/go-go-golems/kickoff/pkg/config"
	"github.com/go-go-golems/kickoff/pkg/logging"
	"github.com/spf13/cobra"
)

var (
	configFile string
	logConfig  = logging.DefaultConfig()
	logCloser  io.Closer
)

var rootCmd = &cobra.Command{
	Use:           "kickoff",
	Short:         "kickoff simulates a Waterfall project kickoff meeting with LLM agents",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// reinitialize the logger because we can now parse --log-level and co
		// from the command line flags
		closer, err := logging.Init(logConfig)
		if err != nil {
			return err
		}
		logCloser = closer
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func main() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Config file (default kickoff.yaml in . or $HOME/.kickoff)")
	pf.StringVar(&logConfig.Level, "log-level", logConfig.Level, "Log level (trace, debug, info, warn, error)")
	pf.StringVar(&logConfig.Format, "log-format", logConfig.Format, "Log format (text or json)")
	pf.StringVar(&logConfig.File, "log-file", "", "Write logs to this file instead of stderr")
	pf.BoolVar(&logConfig.WithCaller, "with-caller", false, "Log caller file and line")

	app := &cmds.App{Viper: config.NewViper(), ConfigFile: &configFile}
	rootCmd.AddCommand(
		cmds.NewRunCommand(app),
		cmds.NewResumeCommand(app),
		cmds.NewCheckpointsCommand(app),
		cmds.NewExportCommand(app),
		cmds.NewConfigCommand(app),
	)

	err := rootCmd.ExecuteContext(context.Background())
	cobra.CheckErr(err)
}
