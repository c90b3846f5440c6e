package turn

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/switchboard/internal/llm"
	"github.com/raphaelgruber/switchboard/internal/models"
)

// StudyExecutor builds a structured study plan.
type StudyExecutor struct {
	deps Deps
}

func (e *StudyExecutor) Kind() models.ActionKind { return models.ActionStudy }

func (e *StudyExecutor) Execute(ctx context.Context, t *Turn) (Outcome, error) {
	t.separate()
	t.Emit(fmt.Sprintf("Building a study plan for %q...\n\n", t.CurrentPrompt))

	text, err := e.deps.Generator.Generate(ctx, conversationContents(t, t.CurrentPrompt), llm.GenerateOptions{
		SystemInstruction: e.deps.Prompts.Study,
		ResponseFormat:    llm.FormatJSON,
	})
	if err != nil {
		return Terminal, fmt.Errorf("study plan: %w", err)
	}

	var plan models.StudyPlan
	if err := llm.DecodeJSON(text, &plan); err != nil {
		return Terminal, fmt.Errorf("study plan: %w", err)
	}
	if len(plan.Steps) == 0 {
		return Terminal, fmt.Errorf("study plan: no steps")
	}
	if plan.Title == "" {
		plan.Title = t.CurrentPrompt
	}

	t.Emit(renderPlan(plan))
	t.SetMetadata(MetaPlan, &plan)
	return Terminal, nil
}

func renderPlan(p models.StudyPlan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n", p.Title)
	if p.Goal != "" {
		fmt.Fprintf(&b, "\n%s\n", p.Goal)
	}
	for i, s := range p.Steps {
		fmt.Fprintf(&b, "\n### %d. %s", i+1, s.Title)
		if s.Duration != "" {
			fmt.Fprintf(&b, " (%s)", s.Duration)
		}
		b.WriteString("\n")
		for _, o := range s.Objectives {
			fmt.Fprintf(&b, "- %s\n", o)
		}
		if len(s.Resources) > 0 {
			fmt.Fprintf(&b, "\nResources: %s\n", strings.Join(s.Resources, ", "))
		}
	}
	return b.String()
}
