package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/go-go-golems/streamchat/cmd/streamchat/cmds"
	"github.com/go-go-golems/streamchat/pkg/config"
)

var version = "dev"

var logCloser io.Closer

var rootCmd = &cobra.Command{
	Use:     "streamchat",
	Short:   "streamchat is a terminal client for streaming assistant conversations",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// logging flags are only known after cobra parsed the command line
		s, err := cmds.LoadSettings(cmd)
		if err != nil {
			return err
		}
		logCloser, err = config.InitLogger(s.Logging)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
	SilenceUsage: true,
}

func main() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Config file (default $HOME/.streamchat/config.yaml)")
	config.AddLoggingFlags(pf)
	config.AddClientFlags(pf)
	config.AddEventFlags(pf)

	rootCmd.AddCommand(
		cmds.NewChatCommand(),
		cmds.NewHistoryCommand(),
		cmds.NewWatchCommand(),
		cmds.NewEventsCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
