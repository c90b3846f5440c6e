package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history [conversation]",
	Short: "List conversations or show one conversation",
	Long: `Without arguments, list the conversations of the current user, most
recently updated first. With a conversation id, print its messages.

Examples:
  switchboard history
  switchboard history -u alice
  switchboard history 3f1c2a9e-...`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	b, err := openBackend(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("close backend", "error", err)
		}
	}()

	if len(args) == 1 {
		msgs, err := b.Messages(ctx, args[0])
		if err != nil {
			return fmt.Errorf("get messages: %w", err)
		}
		if len(msgs) == 0 {
			fmt.Println("No messages in this conversation.")
			return nil
		}
		out := newRenderer(os.Stdout)
		for _, m := range msgs {
			out.message(m)
		}
		return nil
	}

	convs, err := b.Conversations(ctx, userID)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}
	if len(convs) == 0 {
		fmt.Println("No conversations yet.")
		return nil
	}

	fmt.Printf("Conversations (%d):\n\n", len(convs))
	for _, c := range convs {
		title := c.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("- %s [%s]\n", title, c.UpdatedAt.Local().Format("2006-01-02 15:04"))
		fmt.Printf("  %s\n", c.ID)
	}
	return nil
}
