// Package turn runs one user submission through the action routing loop:
// classify, execute, inspect the output for action markers, and re-dispatch
// at most MaxLoops times.
package turn

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/raphaelgruber/switchboard/internal/llm"
	"github.com/raphaelgruber/switchboard/internal/models"
)

// MaxLoops bounds executor invocations per turn, allowing one re-route.
const MaxLoops = 2

// Metadata keys written by executors.
const (
	MetaGrounding       = "groundingReferences"
	MetaImageData       = "imageData"
	MetaPlan            = "plan"
	MetaProject         = "project"
	MetaMemoryDirective = "memoryDirective"
)

// Sink receives output as it is produced: plain text chunks, or control
// events encoded by ControlEvent.Encode.
type Sink func(chunk string)

// Request is one user submission.
type Request struct {
	ConversationID string
	UserID         string
	Prompt         string
	History        []models.Message
	Attachments    []llm.Part
	// Action, when set, skips classification.
	Action models.ActionKind
}

// Turn is the state of one submission. It is owned by the Controller for the
// duration of Run and handed to executors one at a time.
type Turn struct {
	InitialPrompt string
	CurrentAction models.ActionKind
	CurrentPrompt string
	LoopCount     int

	req       Request
	executed  models.ActionKind
	text      strings.Builder
	stepStart int
	metadata  map[string]any

	sinkMu sync.Mutex
	sink   Sink
}

func newTurn(req Request, action models.ActionKind, prompt string, sink Sink) *Turn {
	if sink == nil {
		sink = func(string) {}
	}
	return &Turn{
		InitialPrompt: req.Prompt,
		CurrentAction: action,
		CurrentPrompt: prompt,
		req:           req,
		metadata:      make(map[string]any),
		sink:          sink,
	}
}

// Request returns the submission being processed.
func (t *Turn) Request() Request {
	return t.req
}

// Text returns everything emitted so far.
func (t *Turn) Text() string {
	return t.text.String()
}

// StepText returns the text emitted by the current executor invocation.
func (t *Turn) StepText() string {
	return t.text.String()[t.stepStart:]
}

func (t *Turn) beginStep() {
	t.stepStart = t.text.Len()
}

// Emit appends text to the turn transcript and forwards it to the sink.
func (t *Turn) Emit(text string) {
	if text == "" {
		return
	}
	t.text.WriteString(text)
	t.send(text)
}

// Control forwards a control event to the sink. Control events are not part
// of the transcript.
func (t *Turn) Control(ev ControlEvent) {
	t.send(ev.Encode())
}

func (t *Turn) send(chunk string) {
	t.sinkMu.Lock()
	defer t.sinkMu.Unlock()
	t.sink(chunk)
}

// Switch re-targets the turn at another action.
func (t *Turn) Switch(kind models.ActionKind, prompt string) {
	t.Control(ControlEvent{Type: EventActionSwitch, Action: kind, Prompt: prompt})
	t.CurrentAction = kind
	t.CurrentPrompt = prompt
}

// SetMetadata records side-channel data. Grounding references accumulate
// across calls; for every other key the first value written is kept.
func (t *Turn) SetMetadata(key string, value any) {
	if key == MetaGrounding {
		refs, _ := value.([]models.GroundingReference)
		t.AddGrounding(refs)
		return
	}
	if _, exists := t.metadata[key]; exists {
		return
	}
	t.metadata[key] = value
}

// Metadata returns the value stored under key.
func (t *Turn) Metadata(key string) (any, bool) {
	v, ok := t.metadata[key]
	return v, ok
}

// AddGrounding merges references, dropping duplicate URIs.
func (t *Turn) AddGrounding(refs []models.GroundingReference) {
	if len(refs) == 0 {
		return
	}
	existing, _ := t.metadata[MetaGrounding].([]models.GroundingReference)
	seen := make(map[string]bool, len(existing))
	for _, r := range existing {
		seen[r.URI] = true
	}
	for _, r := range refs {
		if r.URI == "" || seen[r.URI] {
			continue
		}
		seen[r.URI] = true
		existing = append(existing, r)
	}
	t.metadata[MetaGrounding] = existing
}

// separate starts a new paragraph if the transcript already has text.
func (t *Turn) separate() {
	s := t.text.String()
	if s == "" || strings.HasSuffix(s, "\n\n") {
		return
	}
	if strings.HasSuffix(s, "\n") {
		t.Emit("\n")
		return
	}
	t.Emit("\n\n")
}

// Result is the outcome of a turn.
type Result struct {
	Text            string
	Action          models.ActionKind
	LoopCount       int
	Metadata        map[string]any
	ImageData       string
	Grounding       []models.GroundingReference
	Plan            *models.StudyPlan
	Project         *models.Project
	MemoryDirective *models.MemoryDirective
	// Err is the executor failure that ended the turn, if any. The
	// user-facing description is already part of Text.
	Err error
}

func (t *Turn) result(err error) Result {
	action := t.executed
	if action == "" {
		action = t.CurrentAction
	}
	r := Result{
		Text:      t.Text(),
		Action:    action,
		LoopCount: t.LoopCount,
		Metadata:  t.metadata,
		Err:       err,
	}
	r.ImageData, _ = t.metadata[MetaImageData].(string)
	r.Grounding, _ = t.metadata[MetaGrounding].([]models.GroundingReference)
	r.Plan, _ = t.metadata[MetaPlan].(*models.StudyPlan)
	r.Project, _ = t.metadata[MetaProject].(*models.Project)
	r.MemoryDirective, _ = t.metadata[MetaMemoryDirective].(*models.MemoryDirective)
	return r
}

// Message converts the result into an assistant message.
func (r Result) Message(id, conversationID string) models.Message {
	return models.Message{
		ID:                  id,
		ConversationID:      conversationID,
		Sender:              models.SenderAI,
		Text:                r.Text,
		Action:              r.Action,
		ImageData:           r.ImageData,
		GroundingReferences: r.Grounding,
		Plan:                r.Plan,
		Project:             r.Project,
	}
}

// Control event types.
const (
	EventImageGenerationStart = "image_generation_start"
	EventResearchProgress     = "research_progress"
	EventActionSwitch         = "action_switch"
)

// ControlEvent is structured sink output that is not part of the transcript.
type ControlEvent struct {
	Type      string            `json:"type"`
	Action    models.ActionKind `json:"action,omitempty"`
	Prompt    string            `json:"prompt,omitempty"`
	Stage     string            `json:"stage,omitempty"`
	Message   string            `json:"message,omitempty"`
	Completed int               `json:"completed,omitempty"`
	Total     int               `json:"total,omitempty"`
}

// Encode renders the event as a JSON object.
func (e ControlEvent) Encode() string {
	b, err := json.Marshal(e)
	if err != nil {
		return `{"type":"` + e.Type + `"}`
	}
	return string(b)
}

// ParseControlEvent reports whether chunk is a control event: a JSON object
// whose type is one of the known event types. Anything else is freeform text.
func ParseControlEvent(chunk string) (ControlEvent, bool) {
	s := strings.TrimSpace(chunk)
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return ControlEvent{}, false
	}
	var ev ControlEvent
	if err := json.Unmarshal([]byte(s), &ev); err != nil {
		return ControlEvent{}, false
	}
	switch ev.Type {
	case EventImageGenerationStart, EventResearchProgress, EventActionSwitch:
		return ev, true
	default:
		return ControlEvent{}, false
	}
}
