package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/xiaot623/campusconnect/internal/app"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var port, rpcPort int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the conversation servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.HTTPPort = port
			}
			if cmd.Flags().Changed("rpc-port") {
				cfg.RPCPort = rpcPort
			}

			a, err := app.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					log.Error().Err(err).Msg("shutdown incomplete")
				}
			}()

			if err := a.Run(cmd.Context()); err != nil {
				return err
			}
			log.Info().Msg("server stopped")
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 5000, "HTTP port (overrides HTTP_PORT)")
	cmd.Flags().IntVar(&rpcPort, "rpc-port", 0, "JSON-RPC port, 0 disables it (overrides RPC_PORT)")
	return cmd
}
