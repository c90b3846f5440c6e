package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/raphaelgruber/switchboard/internal/models"
)

var conversationID string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Start an interactive conversation. Each line is sent as one turn and the
answer is streamed as it is generated.

Prefix a line with /<action> to force an action for that turn, for example
"/think why is the sky blue". Press Ctrl+C to stop the current answer and
type /quit (or Ctrl+D) to leave.

Examples:
  switchboard chat
  switchboard chat -c 3f1c2a9e-...
  switchboard chat --server http://localhost:8585`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "continue an existing conversation")
}

// syncer is implemented by backends that keep a local view of the
// conversation which should follow writes from other clients.
type syncer interface {
	startSync(ctx context.Context, conversationID string) <-chan struct{}
}

func (b *localBackend) startSync(ctx context.Context, conversationID string) <-chan struct{} {
	return b.app.Chat.StartSync(ctx, conversationID, b.app.Config.SyncInterval)
}

func runChat(cmd *cobra.Command, args []string) error {
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

	out := newRenderer(os.Stdout)
	convID := conversationID
	if convID == "" {
		convID = uuid.NewString()
	} else {
		history, err := b.Messages(ctx, convID)
		if err != nil {
			return fmt.Errorf("load conversation: %w", err)
		}
		for _, m := range history {
			out.message(m)
		}
	}
	fmt.Fprintln(os.Stderr, out.style(mutedStyle, "conversation "+convID))

	if s, ok := b.(syncer); ok {
		syncCtx, stopSync := context.WithCancel(ctx)
		done := s.startSync(syncCtx, convID)
		defer func() {
			stopSync()
			<-done
		}()
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		out.prompt()
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		action, prompt, err := parseChatLine(line)
		if err != nil {
			out.warning(err.Error())
			continue
		}
		if err := chatTurn(ctx, b, out, convID, prompt, action); err != nil {
			out.warning(err.Error())
		}
	}
}

// chatTurn runs one turn. An interrupt stops only this turn.
func chatTurn(ctx context.Context, b backend, out *renderer, convID, prompt string, action models.ActionKind) error {
	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	msg, err := b.Send(turnCtx, convID, prompt, action, out)
	if err != nil {
		return err
	}
	out.done(msg)
	if turnCtx.Err() != nil && ctx.Err() == nil {
		out.statusLine(mutedStyle, "(stopped)")
	}
	return nil
}

// parseChatLine splits an optional leading /action off a chat line.
func parseChatLine(line string) (models.ActionKind, string, error) {
	if !strings.HasPrefix(line, "/") {
		return "", line, nil
	}
	name, rest, _ := strings.Cut(line[1:], " ")
	action, err := models.ParseActionKind(name)
	if err != nil {
		return "", "", fmt.Errorf("unknown command /%s", name)
	}
	return action, strings.TrimSpace(rest), nil
}
