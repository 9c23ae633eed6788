package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xiaot623/campusconnect/internal/domain"
	"github.com/xiaot623/campusconnect/internal/transport/rpc"
)

func newAskCmd() *cobra.Command {
	var addr string
	req := domain.ChatRequest{}

	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Send one message over the RPC endpoint",
		Example: `  campusconnect ask --addr localhost:5050 "hello there"
  campusconnect ask --session 6f1c... --language hi "namaste"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Message = strings.Join(args, " ")
			resp, err := rpc.NewClient(addr).Chat(cmd.Context(), req)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(resp); err != nil {
				return fmt.Errorf("encode response: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:5050", "JSON-RPC server address")
	cmd.Flags().StringVar(&req.SessionID, "session", "", "Session to continue")
	cmd.Flags().StringVar(&req.Language, "language", domain.LanguageAuto, "Declared language code or auto")
	cmd.Flags().StringVar(&req.UserID, "user", "", "User identifier")
	return cmd
}
