package turn

import (
	"context"
	"strings"

	"github.com/raphaelgruber/switchboard/internal/llm"
	"github.com/raphaelgruber/switchboard/internal/metrics"
	"github.com/raphaelgruber/switchboard/internal/models"
)

// ThinkExecutor streams an answer with extended reasoning enabled.
type ThinkExecutor struct {
	deps Deps
}

func (e *ThinkExecutor) Kind() models.ActionKind { return models.ActionThink }

func (e *ThinkExecutor) Execute(ctx context.Context, t *Turn) (Outcome, error) {
	if e.deps.Usage != nil {
		userID := t.Request().UserID
		if err := e.deps.Usage.RecordUsage(ctx, userID, metrics.FeatureThink); err != nil {
			e.deps.logger().Warn("failed to record think usage", "user_id", userID, "error", err)
		}
	}

	t.separate()
	t.Emit("Let me think this through carefully...\n\n")
	t.beginStep()

	err := streamInto(ctx, t, e.deps.Generator, e.deps.Prompts.Think,
		conversationContents(t, t.CurrentPrompt), llm.StreamOptions{Thinking: true})
	if err != nil {
		return Terminal, err
	}
	if strings.TrimSpace(t.StepText()) == "" {
		return Terminal, ErrEmptyResponse
	}
	return Terminal, nil
}
