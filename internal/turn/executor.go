package turn

import (
	"context"
	"log/slog"

	"github.com/raphaelgruber/switchboard/internal/config"
	"github.com/raphaelgruber/switchboard/internal/llm"
	"github.com/raphaelgruber/switchboard/internal/models"
	"github.com/raphaelgruber/switchboard/internal/research"
)

// Outcome tells the controller what to do after an executor returns.
type Outcome int

const (
	// Terminal ends the turn.
	Terminal Outcome = iota
	// Continue asks the controller to run the executor for the turn's new
	// CurrentAction.
	Continue
)

func (o Outcome) String() string {
	if o == Continue {
		return "continue"
	}
	return "terminal"
}

// Executor runs one action kind. Executors stream output through the Turn
// as it is produced and must check ctx between chunks.
type Executor interface {
	Kind() models.ActionKind
	Execute(ctx context.Context, t *Turn) (Outcome, error)
}

// Researcher runs deep research.
type Researcher interface {
	Research(ctx context.Context, query string, onProgress func(research.Progress)) (research.Result, error)
}

// ContextProvider supplies read-only memory context for prompts.
type ContextProvider interface {
	GetContext(ctx context.Context, userID string, layers []string) (models.MemoryContext, error)
}

// UsageRecorder counts feature usage.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, userID, feature string) error
}

// Deps are the collaborators shared by the built-in executors. Images,
// Research, Memory and Usage may be nil.
type Deps struct {
	Generator  llm.Generator
	Images     llm.ImageGenerator
	Research   Researcher
	Memory     ContextProvider
	Usage      UsageRecorder
	Prompts    config.Prompts
	ImageModel string
	Logger     *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// DefaultExecutors returns one executor per action kind.
func DefaultExecutors(d Deps) []Executor {
	return []Executor{
		&SimpleExecutor{deps: d},
		&SearchExecutor{deps: d},
		&DeepSearchExecutor{deps: d},
		&ThinkExecutor{deps: d},
		&ImageExecutor{deps: d},
		&ProjectExecutor{deps: d},
		&CanvasExecutor{deps: d},
		&StudyExecutor{deps: d},
	}
}

// streamInto copies a stream into the turn, collecting grounding references.
// It stops at the first error or when ctx is done.
func streamInto(ctx context.Context, t *Turn, gen llm.Generator, system string, contents []llm.Content, opts llm.StreamOptions) error {
	for chunk, err := range gen.StreamGenerate(ctx, system, contents, opts) {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		t.Emit(chunk.Text)
		t.AddGrounding(chunk.Grounding)
	}
	return ctx.Err()
}

// conversationContents is the history followed by the given user prompt and
// the request's attachments.
func conversationContents(t *Turn, prompt string) []llm.Content {
	req := t.Request()
	contents := llm.HistoryContents(req.History)
	parts := append([]llm.Part{{Text: prompt}}, req.Attachments...)
	return append(contents, llm.Content{Role: llm.RoleUser, Parts: parts})
}
