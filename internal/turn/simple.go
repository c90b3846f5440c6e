package turn

import (
	"context"
	"strings"

	"github.com/raphaelgruber/switchboard/internal/llm"
	"github.com/raphaelgruber/switchboard/internal/memory"
	"github.com/raphaelgruber/switchboard/internal/models"
	"github.com/raphaelgruber/switchboard/internal/tags"
)

// memoryDirectiveThreshold is the response length above which a plain chat
// answer proposes memory extraction.
const memoryDirectiveThreshold = 50

// SimpleExecutor streams a plain chat answer with history and memory
// context. It is the only executor that can hand the turn to another action:
// when its finished output contains an action marker the turn continues
// with that action.
type SimpleExecutor struct {
	deps Deps
}

func (e *SimpleExecutor) Kind() models.ActionKind { return models.ActionSimple }

func (e *SimpleExecutor) Execute(ctx context.Context, t *Turn) (Outcome, error) {
	system := e.deps.Prompts.Simple
	if mc := e.memoryContext(ctx, t); mc != "" {
		system += "\n\n" + mc
	}

	err := streamInto(ctx, t, e.deps.Generator, system, conversationContents(t, t.CurrentPrompt), llm.StreamOptions{})
	if err != nil {
		return Terminal, err
	}

	text := t.StepText()
	if strings.TrimSpace(text) == "" {
		return Terminal, ErrEmptyResponse
	}

	// Markers are only acted on once the step's stream has completed.
	if tag, ok := tags.Extract(text, t.InitialPrompt); ok {
		t.Switch(tag.Kind, tag.Payload)
		return Continue, nil
	}

	if len(text) > memoryDirectiveThreshold {
		t.SetMetadata(MetaMemoryDirective, &models.MemoryDirective{
			UserID:   t.Request().UserID,
			Prompt:   t.InitialPrompt,
			Response: text,
		})
	}
	return Terminal, nil
}

func (e *SimpleExecutor) memoryContext(ctx context.Context, t *Turn) string {
	if e.deps.Memory == nil {
		return ""
	}
	mc, err := e.deps.Memory.GetContext(ctx, t.Request().UserID, memory.DefaultLayers)
	if err != nil {
		e.deps.logger().Warn("memory context unavailable", "user_id", t.Request().UserID, "error", err)
		return ""
	}
	return memory.FormatContext(mc, memory.DefaultLayers)
}
