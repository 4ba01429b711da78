package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"fleetintel/internal/assistant"
)

var chatCmd = &cobra.Command{
	Use:   "chat <question>",
	Short: "Ask the assistant a question and stream the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		return runOperation(cmd.Context(), func(ctx context.Context, sessionID string, out any) error {
			return call(ctx, http.MethodPost, "/api/sessions/"+sessionID+"/chat", map[string]string{"text": text}, out)
		})
	},
}

var quickCmd = &cobra.Command{
	Use:       "quick <dispatch|pricing|report|briefing>",
	Short:     "Generate one of the canned reports, uncached",
	Args:      cobra.ExactArgs(1),
	ValidArgs: quickActionIDs(),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, ok := assistant.LookupQuickAction(args[0]); !ok {
			return fmt.Errorf("unknown quick action %q (choose from %s)", args[0], strings.Join(quickActionIDs(), ", "))
		}
		return runOperation(cmd.Context(), func(ctx context.Context, sessionID string, out any) error {
			return call(ctx, http.MethodPost, "/api/sessions/"+sessionID+"/quick/"+args[0], nil, out)
		})
	},
}

var briefingCmd = &cobra.Command{
	Use:   "briefing",
	Short: "Print today's briefing, generating it if needed",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBriefing(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(quickCmd)
	rootCmd.AddCommand(briefingCmd)
}

func quickActionIDs() []string {
	ids := make([]string, len(assistant.QuickActions))
	for i, q := range assistant.QuickActions {
		ids[i] = q.ID
	}
	return ids
}

type operationStarted struct {
	OperationID string `json:"operationId"`
	MessageID   string `json:"messageId"`
}

// runOperation opens a session, follows its events and starts one operation.
// Interrupting the command cancels the operation on the server.
func runOperation(parent context.Context, start func(ctx context.Context, sessionID string, out any) error) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	view, err := newSession(ctx)
	if err != nil {
		return err
	}
	defer call(context.Background(), http.MethodDelete, "/api/sessions/"+view.ID+"/", nil, nil)

	events, err := follow(ctx, view.ID)
	if err != nil {
		return err
	}
	var op operationStarted
	if err := start(ctx, view.ID, &op); err != nil {
		return err
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	streamed := false
	for {
		select {
		case <-interrupt:
			var res map[string]bool
			if err := call(context.Background(), http.MethodPost, "/api/sessions/"+view.ID+"/cancel", nil, &res); err != nil {
				return err
			}
			fmt.Println()
			return errors.New("cancelled")
		case evt, ok := <-events:
			if !ok {
				return errors.New("event stream closed before the answer finished")
			}
			switch {
			case evt.Type == assistant.EventChunk && evt.OperationID == op.OperationID:
				streamed = true
				fmt.Print(evt.Chunk)
			case evt.Type == assistant.EventMessage && evt.MessageID == op.MessageID && evt.Message != nil:
				if evt.Message.State == assistant.MessageDone && !streamed {
					fmt.Print(evt.Message.Text)
				}
				if evt.Message.State == assistant.MessageError {
					fmt.Fprintln(os.Stderr, evt.Message.Text)
				}
			case evt.Type == assistant.EventOperation && evt.OperationID == op.OperationID && evt.State.Terminal():
				fmt.Println()
				if evt.State == assistant.OpFailed {
					return fmt.Errorf("%s failed: %s", evt.Kind, evt.Error)
				}
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func runBriefing(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	view, err := newSession(ctx)
	if err != nil {
		return err
	}
	defer call(context.Background(), http.MethodDelete, "/api/sessions/"+view.ID+"/", nil, nil)

	var out assistant.BriefingOutcome
	if err := call(ctx, http.MethodPost, "/api/sessions/"+view.ID+"/briefing", nil, &out); err != nil {
		return err
	}
	fmt.Println(out.Message.Text)
	return nil
}
