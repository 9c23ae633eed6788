package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/xiaot623/campusconnect/internal/config"
	"github.com/xiaot623/campusconnect/internal/domain"
	"github.com/xiaot623/campusconnect/internal/repository"
)

func newSessionsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored conversation sessions",
		Long: `Reads the configured session store directly. Run it against a stopped server
or a sqlite store; the file store is only rewritten by the server on change.`,
	}
	cmd.AddCommand(newSessionsListCmd(root))
	cmd.AddCommand(newSessionsShowCmd(root))
	return cmd
}

func newSessionsListCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions ordered by creation time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd, root)
			if err != nil {
				return err
			}
			defer store.Close()
			return printSessions(cmd.OutOrStdout(), store.ListSessions(cmd.Context()))
		},
	}
}

func newSessionsShowCmd(root *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print one session with its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd, root)
			if err != nil {
				return err
			}
			defer store.Close()

			sess, ok := store.GetSession(cmd.Context(), args[0])
			if !ok {
				return errors.Wrap(domain.ErrSessionNotFound, args[0])
			}
			return printSession(cmd.OutOrStdout(), sess, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "Output format (yaml, json)")
	return cmd
}

func openStore(cmd *cobra.Command, root *rootOptions) (*repository.Store, error) {
	cfg, err := root.load()
	if err != nil {
		return nil, err
	}
	return loadStore(cmd.Context(), cfg)
}

func loadStore(ctx context.Context, cfg *config.Config) (*repository.Store, error) {
	persister, err := repository.NewPersister(cfg)
	if err != nil {
		return nil, err
	}
	store := repository.NewStore(persister)
	if err := store.Open(ctx); err != nil {
		persister.Close()
		return nil, err
	}
	return store, nil
}

func printSessions(out io.Writer, sessions []domain.SessionSummary) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tUSER\tCREATED\tLAST ACTIVITY\tMESSAGES")
	for _, s := range sessions {
		last := "-"
		if s.LastActivity != nil {
			last = s.LastActivity.Format(time.RFC3339)
		}
		user := s.UserID
		if user == "" {
			user = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", s.SessionID, user, s.CreatedAt.Format(time.RFC3339), last, s.MessageCount)
	}
	return w.Flush()
}

func printSession(out io.Writer, sess *domain.Session, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(sess)
	case "yaml", "":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(sess); err != nil {
			return err
		}
		return enc.Close()
	default:
		return errors.Errorf("unknown output format %q", format)
	}
}
