package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/xiaot623/campusconnect/internal/transport/ws"
)

var (
	botColor    = color.New(color.FgGreen, color.Bold)
	eventColor  = color.New(color.FgHiBlack)
	errorColor  = color.New(color.FgRed)
	statusColor = color.New(color.FgCyan)
)

func newChatCmd() *cobra.Command {
	var addr, language string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat interactively over the websocket endpoint",
		Long: `Opens a websocket connection and sends each input line as a chat message.

Commands: /session prints the current session, /quit exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ws.Dial(cmd.Context(), addr, language)
			if err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			defer client.Close()

			out := cmd.OutOrStdout()
			statusColor.Fprintf(out, "Connected to %s\n", addr)
			fmt.Fprintln(out, "Type a message and press Enter to send. /quit to exit.")

			go printFrames(out, client)
			return readInput(cmd.Context().Done(), cmd.InOrStdin(), out, client)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "ws://localhost:5000/ws", "WebSocket server address")
	cmd.Flags().StringVar(&language, "language", "", "Declared language code; empty detects it per message")
	return cmd
}

func readInput(done <-chan struct{}, in io.Reader, out io.Writer, client *ws.Client) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-done:
			fmt.Fprintln(out, "\nInterrupted")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			input := strings.TrimSpace(line)
			switch input {
			case "":
				continue
			case "/quit":
				fmt.Fprintln(out, "Bye!")
				return nil
			case "/session":
				fmt.Fprintf(out, "session: %s\n", client.SessionID())
				continue
			}
			if _, err := client.Send(input); err != nil {
				return err
			}
		}
	}
}

func printFrames(out io.Writer, client *ws.Client) {
	for {
		frame, err := client.Read()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				errorColor.Fprintf(os.Stderr, "read error: %v\n", err)
			}
			return
		}
		printFrame(out, frame)
	}
}

func printFrame(out io.Writer, frame *ws.Frame) {
	switch frame.Type {
	case ws.TypeStatus:
		statusColor.Fprintf(out, "* %s\n", frame.Status.Msg)
	case ws.TypeChatResponse:
		r := frame.Response
		botColor.Fprintf(out, "bot [%s] ", r.Language)
		fmt.Fprintf(out, "%s (%.2fs)\n", r.Reply, r.ResponseTime)
		if r.Error != "" {
			errorColor.Fprintf(out, "  degraded: %s\n", r.Error)
		}
	case ws.TypeSessionEvent:
		eventColor.Fprintf(out, "  %s on %s\n", frame.Event.Event.Type, frame.Event.Event.SessionID)
	case ws.TypeError:
		errorColor.Fprintf(out, "error %s: %s\n", frame.Error.Code, frame.Error.Message)
	}
}
