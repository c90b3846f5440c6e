package turn

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/switchboard/internal/config"
	"github.com/raphaelgruber/switchboard/internal/llm"
	"github.com/raphaelgruber/switchboard/internal/llm/llmtest"
	"github.com/raphaelgruber/switchboard/internal/metrics"
	"github.com/raphaelgruber/switchboard/internal/models"
	"github.com/raphaelgruber/switchboard/internal/research"
	"github.com/raphaelgruber/switchboard/internal/router"
)

type recordingSink struct {
	mu     sync.Mutex
	text   []string
	events []ControlEvent
}

func (s *recordingSink) sink(chunk string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev, ok := ParseControlEvent(chunk); ok {
		s.events = append(s.events, ev)
		return
	}
	s.text = append(s.text, chunk)
}

func (s *recordingSink) joined() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.text, "")
}

func (s *recordingSink) eventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}

func route(kind models.ActionKind) router.Classifier {
	return router.Static{Result: router.Route{Action: kind}}
}

func testDeps(gen llm.Generator) Deps {
	return Deps{Generator: gen, Prompts: config.DefaultPrompts()}
}

func TestScenarioSearch(t *testing.T) {
	gen := llmtest.NewGenerator(llmtest.Stream{Chunks: []llm.Chunk{
		{Text: "The capital of France "},
		{Text: "is Paris.", Grounding: []models.GroundingReference{{Title: "Wiki", URI: "https://en.wikipedia.org/wiki/Paris"}}},
	}})
	c := NewController(route(models.ActionSearch), testDeps(gen))
	sink := &recordingSink{}

	res := c.Run(context.Background(), Request{ConversationID: "c1", Prompt: "What's the capital of France?"}, sink.sink)

	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.LoopCount)
	assert.Equal(t, models.ActionSearch, res.Action)
	assert.True(t, strings.HasPrefix(res.Text, `Searching the web for "What's the capital of France?"...`))
	assert.True(t, strings.HasSuffix(res.Text, "The capital of France is Paris."))
	assert.Equal(t, res.Text, sink.joined())
	require.Len(t, res.Grounding, 1)
	assert.Equal(t, "https://en.wikipedia.org/wiki/Paris", res.Grounding[0].URI)

	calls := gen.StreamCalls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].Opts.GoogleSearch)
}

func TestScenarioImageViaTag(t *testing.T) {
	gen := llmtest.NewGenerator(llmtest.TextStream("I'll generate that image! ", "<IMAGE>a cute cat</IMAGE>"))
	images := &llmtest.ImageGenerator{Image: llm.Image{MIMEType: "image/png", Data: []byte("png")}}
	deps := testDeps(gen)
	deps.Images = images
	c := NewController(route(models.ActionSimple), deps)
	sink := &recordingSink{}

	res := c.Run(context.Background(), Request{Prompt: "draw a cute cat"}, sink.sink)

	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.LoopCount)
	assert.Equal(t, models.ActionImage, res.Action)
	assert.Equal(t, llm.Image{MIMEType: "image/png", Data: []byte("png")}.DataURL(), res.ImageData)
	assert.Equal(t, []string{"a cute cat"}, images.Prompts())
	assert.Equal(t, []string{EventActionSwitch, EventImageGenerationStart}, sink.eventTypes())
	assert.True(t, strings.HasPrefix(res.Text, "I'll generate that image! <IMAGE>a cute cat</IMAGE>"))
	assert.Nil(t, res.MemoryDirective)
}

func TestScenarioBareThinkUsesOriginalPrompt(t *testing.T) {
	gen := llmtest.NewGenerator(
		llmtest.TextStream("This needs careful reasoning. <THINK>"),
		llmtest.TextStream("Step 1... therefore 42."),
	)
	usage := metrics.NewCollector()
	deps := testDeps(gen)
	deps.Usage = usage
	c := NewController(route(models.ActionSimple), deps)

	res := c.Run(context.Background(), Request{UserID: "u1", Prompt: "what is six times seven"}, nil)

	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.LoopCount)
	assert.Equal(t, models.ActionThink, res.Action)
	assert.Equal(t, int64(1), usage.Usage("u1", metrics.FeatureThink))

	calls := gen.StreamCalls()
	require.Len(t, calls, 2)
	assert.True(t, calls[1].Opts.Thinking)
	last := calls[1].Contents[len(calls[1].Contents)-1]
	assert.Equal(t, "what is six times seven", last.Parts[0].Text)
	assert.True(t, strings.HasSuffix(res.Text, "Step 1... therefore 42."))
}

// pingPong always hands the turn to its partner.
type pingPong struct {
	kind, next models.ActionKind
	calls      *int
	seen       *[]string
}

func (p pingPong) Kind() models.ActionKind { return p.kind }

func (p pingPong) Execute(_ context.Context, t *Turn) (Outcome, error) {
	*p.calls++
	*p.seen = append(*p.seen, t.Text())
	t.Emit(string(p.kind) + " output. ")
	t.Switch(p.next, "again")
	return Continue, nil
}

func TestLoopBound(t *testing.T) {
	var calls int
	var seen []string
	c := NewController(route(models.ActionSimple), testDeps(llmtest.NewGenerator()), WithExecutors(
		pingPong{kind: models.ActionSimple, next: models.ActionThink, calls: &calls, seen: &seen},
		pingPong{kind: models.ActionThink, next: models.ActionSimple, calls: &calls, seen: &seen},
	))

	res := c.Run(context.Background(), Request{Prompt: "loop forever"}, nil)

	require.NoError(t, res.Err)
	assert.Equal(t, MaxLoops, calls)
	assert.Equal(t, MaxLoops, res.LoopCount)
	assert.Equal(t, "simple output. think output. ", res.Text)

	// Each step starts from a strict prefix of the final transcript.
	for _, s := range seen {
		assert.True(t, strings.HasPrefix(res.Text, s))
		assert.Less(t, len(s), len(res.Text))
	}
}

func TestClassifierFailureDefaultsToSimple(t *testing.T) {
	gen := llmtest.NewGenerator(llmtest.TextStream("Hello there!"))
	c := NewController(router.Static{Err: errors.New("classifier down")}, testDeps(gen))

	res := c.Run(context.Background(), Request{Prompt: "hi"}, nil)

	require.NoError(t, res.Err)
	assert.Equal(t, models.ActionSimple, res.Action)
	assert.Equal(t, "Hello there!", res.Text)
}

type panicClassifier struct{}

func (panicClassifier) Route(context.Context, string, string, []models.Message) (router.Route, error) {
	panic("boom")
}

func TestClassifierPanicDefaultsToSimple(t *testing.T) {
	gen := llmtest.NewGenerator(llmtest.TextStream("fine"))
	c := NewController(panicClassifier{}, testDeps(gen))

	res := c.Run(context.Background(), Request{Prompt: "hi"}, nil)
	assert.Equal(t, models.ActionSimple, res.Action)
	assert.Equal(t, "fine", res.Text)
}

func TestClassifierQueryBecomesPrompt(t *testing.T) {
	gen := llmtest.NewGenerator(llmtest.TextStream("sunny"))
	c := NewController(router.Static{Result: router.Route{
		Action:     models.ActionSearch,
		Parameters: map[string]any{"query": "weather Vienna today"},
	}}, testDeps(gen))

	res := c.Run(context.Background(), Request{Prompt: "how's the weather where I live (Vienna)?"}, nil)
	assert.Contains(t, res.Text, `"weather Vienna today"`)
}

func TestExplicitActionSkipsClassifier(t *testing.T) {
	gen := llmtest.NewGenerator(llmtest.TextStream("package main"))
	c := NewController(panicClassifier{}, testDeps(gen))

	res := c.Run(context.Background(), Request{Prompt: "hello world in go", Action: models.ActionCanvas}, nil)
	assert.Equal(t, models.ActionCanvas, res.Action)
	assert.True(t, strings.HasSuffix(res.Text, "package main"))
}

func TestExecutorFailureBecomesInlineMessage(t *testing.T) {
	gen := llmtest.NewGenerator(llmtest.Stream{
		Chunks: []llm.Chunk{{Text: "Partial answer"}},
		Err:    errors.New("backend unreachable"),
	})
	c := NewController(route(models.ActionSimple), testDeps(gen))

	res := c.Run(context.Background(), Request{Prompt: "hi"}, nil)

	require.Error(t, res.Err)
	assert.Equal(t, 1, res.LoopCount)
	assert.True(t, strings.HasPrefix(res.Text, "Partial answer\n\n"))
	assert.Contains(t, res.Text, "backend unreachable")
}

func TestFatalAPIErrorMessage(t *testing.T) {
	gen := llmtest.NewGenerator(llmtest.Stream{Err: llm.ErrFatalAPI})
	c := NewController(route(models.ActionThink), testDeps(gen))

	res := c.Run(context.Background(), Request{Prompt: "hi"}, nil)
	assert.ErrorIs(t, res.Err, llm.ErrFatalAPI)
	assert.Contains(t, res.Text, "API key and quota")
}

type panicExecutor struct{}

func (panicExecutor) Kind() models.ActionKind { return models.ActionCanvas }

func (panicExecutor) Execute(context.Context, *Turn) (Outcome, error) {
	panic("nil map")
}

func TestExecutorPanicIsContained(t *testing.T) {
	c := NewController(route(models.ActionCanvas), testDeps(llmtest.NewGenerator()), WithExecutors(panicExecutor{}))

	var res Result
	require.NotPanics(t, func() {
		res = c.Run(context.Background(), Request{Prompt: "x"}, nil)
	})
	require.Error(t, res.Err)
	assert.Contains(t, res.Text, "executor panic: nil map")
}

func TestEmptyResponse(t *testing.T) {
	c := NewController(route(models.ActionSimple), testDeps(llmtest.NewGenerator(llmtest.TextStream())))

	res := c.Run(context.Background(), Request{Prompt: "hi"}, nil)
	assert.ErrorIs(t, res.Err, ErrEmptyResponse)
	assert.NotEmpty(t, res.Text)
}

func TestImageFailureIsTerminalAnnotation(t *testing.T) {
	deps := testDeps(llmtest.NewGenerator())
	deps.Images = &llmtest.ImageGenerator{Err: errors.New("content policy violation")}
	c := NewController(route(models.ActionImage), deps)

	res := c.Run(context.Background(), Request{Prompt: "something"}, nil)

	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.LoopCount)
	assert.Empty(t, res.ImageData)
	assert.Contains(t, res.Text, "Image generation failed: content policy violation")
}

func TestImageWithoutBackend(t *testing.T) {
	c := NewController(route(models.ActionImage), testDeps(llmtest.NewGenerator()))

	res := c.Run(context.Background(), Request{Prompt: "a fox"}, nil)
	require.NoError(t, res.Err)
	assert.Contains(t, res.Text, llm.ErrImageUnavailable.Error())
}

func TestMemoryDirective(t *testing.T) {
	long := "Go is a statically typed, compiled language designed at Google."
	gen := llmtest.NewGenerator(llmtest.TextStream(long), llmtest.TextStream("Hi!"))
	c := NewController(route(models.ActionSimple), testDeps(gen))

	res := c.Run(context.Background(), Request{UserID: "u1", Prompt: "what is go"}, nil)
	require.NotNil(t, res.MemoryDirective)
	assert.Equal(t, models.MemoryDirective{UserID: "u1", Prompt: "what is go", Response: long}, *res.MemoryDirective)

	res = c.Run(context.Background(), Request{Prompt: "hello"}, nil)
	assert.Nil(t, res.MemoryDirective)
}

type fakeMemory struct {
	ctx models.MemoryContext
	err error
}

func (f fakeMemory) GetContext(context.Context, string, []string) (models.MemoryContext, error) {
	return f.ctx, f.err
}

func TestSimpleUsesMemoryAndHistory(t *testing.T) {
	gen := llmtest.NewGenerator(llmtest.TextStream("ok"))
	deps := testDeps(gen)
	deps.Memory = fakeMemory{ctx: models.MemoryContext{models.LayerFacts: {"likes tea"}}}
	c := NewController(route(models.ActionSimple), deps)

	history := []models.Message{
		{Sender: models.SenderUser, Text: "earlier question"},
		{Sender: models.SenderAI, Text: "earlier answer"},
	}
	attachment := llm.Part{MIMEType: "text/plain", Data: []byte("notes")}
	c.Run(context.Background(), Request{Prompt: "now", History: history, Attachments: []llm.Part{attachment}}, nil)

	call := gen.StreamCalls()[0]
	assert.Contains(t, call.System, "likes tea")
	require.Len(t, call.Contents, 3)
	assert.Equal(t, llm.RoleModel, call.Contents[1].Role)
	assert.Equal(t, []llm.Part{{Text: "now"}, attachment}, call.Contents[2].Parts)
}

func TestMemoryFailureIsIgnored(t *testing.T) {
	gen := llmtest.NewGenerator(llmtest.TextStream("still answers"))
	deps := testDeps(gen)
	deps.Memory = fakeMemory{err: errors.New("memory store down")}
	c := NewController(route(models.ActionSimple), deps)

	res := c.Run(context.Background(), Request{Prompt: "hi"}, nil)
	require.NoError(t, res.Err)
	assert.Equal(t, "still answers", res.Text)
}

func TestCancellationAtChunkBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gen := llmtest.NewGenerator(llmtest.TextStream("one ", "two ", "three"))
	c := NewController(route(models.ActionSimple), testDeps(gen))

	var chunks int
	res := c.Run(ctx, Request{Prompt: "count"}, func(chunk string) {
		chunks++
		if chunks == 1 {
			cancel()
		}
	})

	require.ErrorIs(t, res.Err, context.Canceled)
	assert.NotContains(t, res.Text, "three")
	assert.Contains(t, res.Text, "Response cancelled")
}

type fakeResearcher struct {
	result research.Result
	err    error
}

func (f fakeResearcher) Research(_ context.Context, _ string, onProgress func(research.Progress)) (research.Result, error) {
	onProgress(research.Progress{Stage: research.StagePlanning})
	onProgress(research.Progress{Stage: research.StageSearching, Completed: 1, Total: 1})
	return f.result, f.err
}

func TestDeepSearchViaCue(t *testing.T) {
	gen := llmtest.NewGenerator(llmtest.TextStream("On it. <SEARCH>deep: history of Unix</SEARCH>"))
	deps := testDeps(gen)
	deps.Research = fakeResearcher{result: research.Result{
		Answer:  "## Unix\nBell Labs, 1969.",
		Sources: []models.GroundingReference{{URI: "https://unix.example"}},
	}}
	c := NewController(route(models.ActionSimple), deps)
	sink := &recordingSink{}

	res := c.Run(context.Background(), Request{Prompt: "tell me about unix"}, sink.sink)

	require.NoError(t, res.Err)
	assert.Equal(t, models.ActionDeepSearch, res.Action)
	assert.True(t, strings.HasSuffix(res.Text, "Bell Labs, 1969."))
	assert.Contains(t, res.Text, `Researching "history of Unix"`)
	assert.Len(t, res.Grounding, 1)
	assert.Equal(t, []string{EventActionSwitch, EventResearchProgress, EventResearchProgress}, sink.eventTypes())
}

func TestStudyPlan(t *testing.T) {
	gen := llmtest.NewGenerator().QueueResponse(llmtest.Response{Text: `{
		"title": "Go in two weeks",
		"steps": [
			{"title": "Basics", "duration": "3 days", "objectives": ["syntax", "types"]},
			{"title": "Concurrency", "objectives": ["goroutines"], "resources": ["Go Tour"]}
		]}`})
	c := NewController(route(models.ActionStudy), testDeps(gen))

	res := c.Run(context.Background(), Request{Prompt: "learn go"}, nil)

	require.NoError(t, res.Err)
	require.NotNil(t, res.Plan)
	assert.Len(t, res.Plan.Steps, 2)
	assert.Contains(t, res.Text, "### 1. Basics (3 days)")
	assert.Contains(t, res.Text, "Resources: Go Tour")
	assert.Equal(t, llm.FormatJSON, gen.GenerateCalls()[0].Opts.ResponseFormat)
}

func TestStudyPlanMalformed(t *testing.T) {
	gen := llmtest.NewGenerator().QueueResponse(llmtest.Response{Text: "Sure, here is a plan"})
	c := NewController(route(models.ActionStudy), testDeps(gen))

	res := c.Run(context.Background(), Request{Prompt: "learn go"}, nil)
	require.Error(t, res.Err)
	assert.Nil(t, res.Plan)
	assert.Contains(t, res.Text, "something went wrong")
}

func TestProjectScaffold(t *testing.T) {
	gen := llmtest.NewGenerator(
		llmtest.TextStream("package main\n\nfunc main() {}\n"),
		llmtest.TextStream("module todo"),
	).QueueResponse(llmtest.Response{Text: `{
		"name": "Todo API",
		"description": "A tiny REST service.",
		"files": [
			{"path": "main.go", "purpose": "entry point", "language": "go"},
			{"path": "../etc/passwd", "purpose": "nope"},
			{"path": "go.mod", "purpose": "module file"}
		]}`})
	c := NewController(route(models.ActionProject), testDeps(gen))

	res := c.Run(context.Background(), Request{Prompt: "todo api in go"}, nil)

	require.NoError(t, res.Err)
	require.NotNil(t, res.Project)
	require.Len(t, res.Project.Files, 2)
	assert.Equal(t, "package main\n\nfunc main() {}\n", res.Project.Files[0].Content)
	assert.Equal(t, "module todo", res.Project.Files[1].Content)
	assert.Contains(t, res.Text, "**Todo API** (`todo-api/`)")
	assert.Contains(t, res.Text, "### todo-api/main.go\n```go\npackage main")
	assert.True(t, strings.HasSuffix(res.Text, "module todo\n```\n"))
}

func TestParseControlEvent(t *testing.T) {
	ev := ControlEvent{Type: EventImageGenerationStart, Prompt: "a cat"}
	got, ok := ParseControlEvent(ev.Encode())
	require.True(t, ok)
	assert.Equal(t, ev, got)

	for _, chunk := range []string{
		"plain text",
		`{"type":"unknown"}`,
		`{"kind":"image_generation_start"}`,
		`{"type":`,
		`["image_generation_start"]`,
	} {
		_, ok := ParseControlEvent(chunk)
		assert.False(t, ok, chunk)
	}
}

func TestMetadataMerge(t *testing.T) {
	tr := newTurn(Request{}, models.ActionSimple, "", nil)
	tr.SetMetadata(MetaImageData, "first")
	tr.SetMetadata(MetaImageData, "second")
	tr.SetMetadata(MetaGrounding, []models.GroundingReference{{URI: "a"}})
	tr.AddGrounding([]models.GroundingReference{{URI: "a"}, {URI: "b"}})

	v, _ := tr.Metadata(MetaImageData)
	assert.Equal(t, "first", v)
	res := tr.result(nil)
	assert.Equal(t, []models.GroundingReference{{URI: "a"}, {URI: "b"}}, res.Grounding)
}
