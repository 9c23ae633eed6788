// Command campusconnect runs and talks to the multilingual conversation backend.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"

	"github.com/xiaot623/campusconnect/internal/config"
	"github.com/xiaot623/campusconnect/internal/logging"
)

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	ConfigFile string
	LogLevel   string
	LogPretty  bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "campusconnect",
		Short: "Multilingual conversational backend",
		Long: `campusconnect answers chat messages in the user's language.

Available subcommands:
  serve       Run the HTTP, websocket and RPC servers
  chat        Chat interactively over the websocket endpoint
  ask         Send one message over the RPC endpoint
  sessions    Inspect stored conversation sessions

Examples:
  campusconnect serve --port 5000
  campusconnect chat --addr ws://localhost:5000/ws
  campusconnect sessions list --config campusconnect.yaml`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "Path to a YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "Log level override (trace, debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&opts.LogPretty, "log-pretty", false, "Human readable log output")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newSessionsCmd(opts))

	return cmd
}

// load reads the configuration and configures the global logger from it.
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.LoadFile(o.ConfigFile)
	if err != nil {
		return nil, err
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.LogPretty {
		cfg.LogPretty = true
	}
	logging.Setup(cfg.LogLevel, cfg.LogPretty, os.Stderr)
	return cfg, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
