package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/raphaelgruber/switchboard/internal/models"
)

var askAction string

var askCmd = &cobra.Command{
	Use:   "ask <prompt>",
	Short: "Send a single message and print the answer",
	Long: `Send a single message and stream the answer to stdout.

Without --conversation a new conversation is started. Use --action to skip
routing and force an action.

Examples:
  switchboard ask "What is a monad?"
  switchboard ask --action search "Latest Go release"
  switchboard ask -c 3f1c2a9e-... "And how does that compare to Rust?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "conversation to continue")
	askCmd.Flags().StringVarP(&askAction, "action", "a", "", "force an action ("+actionNames()+")")
}

func runAsk(cmd *cobra.Command, args []string) error {
	var action models.ActionKind
	if askAction != "" {
		var err error
		if action, err = models.ParseActionKind(askAction); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	b, err := openBackend(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("close backend", "error", err)
		}
	}()

	convID := conversationID
	if convID == "" {
		convID = uuid.NewString()
	}

	out := newRenderer(os.Stdout)
	msg, err := b.Send(ctx, convID, strings.Join(args, " "), action, out)
	if err != nil {
		return err
	}
	out.done(msg)
	if conversationID == "" {
		fmt.Fprintln(os.Stderr, out.style(mutedStyle, "conversation "+convID))
	}
	return nil
}

func actionNames() string {
	names := make([]string, len(models.AllActions))
	for i, a := range models.AllActions {
		names[i] = string(a)
	}
	return strings.Join(names, ", ")
}
