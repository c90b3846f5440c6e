package turn

import (
	"context"
	"strings"

	"github.com/raphaelgruber/switchboard/internal/llm"
	"github.com/raphaelgruber/switchboard/internal/models"
)

// CanvasExecutor writes a single self-contained code file.
type CanvasExecutor struct {
	deps Deps
}

func (e *CanvasExecutor) Kind() models.ActionKind { return models.ActionCanvas }

func (e *CanvasExecutor) Execute(ctx context.Context, t *Turn) (Outcome, error) {
	t.separate()
	t.Emit("Writing the code...\n\n")
	t.beginStep()

	err := streamInto(ctx, t, e.deps.Generator, e.deps.Prompts.Canvas,
		conversationContents(t, t.CurrentPrompt), llm.StreamOptions{})
	if err != nil {
		return Terminal, err
	}
	if strings.TrimSpace(t.StepText()) == "" {
		return Terminal, ErrEmptyResponse
	}
	return Terminal, nil
}
