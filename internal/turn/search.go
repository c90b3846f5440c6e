package turn

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/switchboard/internal/llm"
	"github.com/raphaelgruber/switchboard/internal/models"
	"github.com/raphaelgruber/switchboard/internal/research"
)

// SearchExecutor answers with search grounding enabled.
type SearchExecutor struct {
	deps Deps
}

func (e *SearchExecutor) Kind() models.ActionKind { return models.ActionSearch }

func (e *SearchExecutor) Execute(ctx context.Context, t *Turn) (Outcome, error) {
	t.separate()
	t.Emit(fmt.Sprintf("Searching the web for %q...\n\n", t.CurrentPrompt))
	t.beginStep()

	err := streamInto(ctx, t, e.deps.Generator, e.deps.Prompts.Search,
		conversationContents(t, t.CurrentPrompt), llm.StreamOptions{GoogleSearch: true})
	if err != nil {
		return Terminal, err
	}
	if strings.TrimSpace(t.StepText()) == "" {
		return Terminal, ErrEmptyResponse
	}
	return Terminal, nil
}

// DeepSearchExecutor delegates to the research service and reports its
// progress as control events.
type DeepSearchExecutor struct {
	deps Deps
}

func (e *DeepSearchExecutor) Kind() models.ActionKind { return models.ActionDeepSearch }

func (e *DeepSearchExecutor) Execute(ctx context.Context, t *Turn) (Outcome, error) {
	if e.deps.Research == nil {
		return Terminal, fmt.Errorf("deep research is not configured")
	}

	t.separate()
	t.Emit(fmt.Sprintf("Researching %q in depth. This can take a minute...\n\n", t.CurrentPrompt))

	res, err := e.deps.Research.Research(ctx, t.CurrentPrompt, func(p research.Progress) {
		t.Control(ControlEvent{
			Type:      EventResearchProgress,
			Stage:     p.Stage,
			Message:   p.Message,
			Completed: p.Completed,
			Total:     p.Total,
		})
	})
	if err != nil {
		return Terminal, fmt.Errorf("deep research: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Terminal, err
	}

	t.Emit(res.Answer)
	t.AddGrounding(res.Sources)
	return Terminal, nil
}
