package turn

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/switchboard/internal/models"
	"github.com/raphaelgruber/switchboard/internal/router"
)

// Controller owns the routing loop of a turn. A Controller holds no
// per-turn state and may run turns for different conversations concurrently.
type Controller struct {
	classifier router.Classifier
	executors  map[models.ActionKind]Executor
	logger     *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithExecutors registers executors, replacing the built-in ones for the
// same kinds.
func WithExecutors(execs ...Executor) Option {
	return func(c *Controller) {
		for _, e := range execs {
			c.executors[e.Kind()] = e
		}
	}
}

// NewController creates a controller with the built-in executors.
func NewController(classifier router.Classifier, deps Deps, opts ...Option) *Controller {
	c := &Controller{
		classifier: classifier,
		executors:  make(map[models.ActionKind]Executor),
		logger:     deps.logger(),
	}
	for _, e := range DefaultExecutors(deps) {
		c.executors[e.Kind()] = e
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run processes one submission. Output is streamed to sink as it is
// produced. Run never fails: executor errors end the turn with an inline
// message appended to the transcript, and Result.Err records the cause.
func (c *Controller) Run(ctx context.Context, req Request, sink Sink) Result {
	action, prompt := c.initialAction(ctx, req)
	t := newTurn(req, action, prompt, sink)
	log := c.logger.With("conversation_id", req.ConversationID)

	var turnErr error
	for {
		t.LoopCount++
		t.beginStep()

		step := t.CurrentAction
		start := time.Now()
		outcome, err := c.execute(ctx, t)
		t.executed = step
		log.Debug("turn step finished",
			"action", step,
			"loop", t.LoopCount,
			"outcome", outcome,
			"duration_ms", time.Since(start).Milliseconds(),
		)

		if err != nil {
			log.Warn("turn step failed", "action", step, "loop", t.LoopCount, "error", err)
			t.separate()
			t.Emit(UserFacingError(err))
			turnErr = err
			break
		}
		if outcome == Terminal {
			break
		}
		if t.LoopCount >= MaxLoops {
			log.Info("turn loop bound reached", "action", t.CurrentAction, "loop", t.LoopCount)
			break
		}
	}

	return t.result(turnErr)
}

// initialAction asks the classifier for the first action. Any failure falls
// back to a plain chat answer.
func (c *Controller) initialAction(ctx context.Context, req Request) (kind models.ActionKind, prompt string) {
	if req.Action != "" {
		return req.Action, req.Prompt
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("classifier panic", "panic", r)
			kind, prompt = models.ActionSimple, req.Prompt
		}
	}()

	route, err := c.classifier.Route(ctx, req.Prompt, req.UserID, req.History)
	if err != nil || !route.Action.Valid() {
		c.logger.Warn("classification failed, defaulting to simple",
			"conversation_id", req.ConversationID, "error", err)
		return models.ActionSimple, req.Prompt
	}

	prompt = req.Prompt
	if q := route.Query(); q != "" && route.Action != models.ActionSimple {
		prompt = q
	}
	return route.Action, prompt
}

// execute runs the executor for the current action, converting panics into
// errors.
func (c *Controller) execute(ctx context.Context, t *Turn) (outcome Outcome, err error) {
	exec, ok := c.executors[t.CurrentAction]
	if !ok {
		return Terminal, fmt.Errorf("%w %q", ErrNoExecutor, t.CurrentAction)
	}
	if err := ctx.Err(); err != nil {
		return Terminal, err
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("executor panic", "action", t.CurrentAction, "panic", r)
			outcome, err = Terminal, panicError{value: r}
		}
	}()

	return exec.Execute(ctx, t)
}
