// Package router classifies a user prompt into the initial action of a turn.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/raphaelgruber/switchboard/internal/llm"
	"github.com/raphaelgruber/switchboard/internal/metrics"
	"github.com/raphaelgruber/switchboard/internal/models"
)

// ErrUnknownAction is returned when the classifier names an action outside
// the known set.
var ErrUnknownAction = errors.New("unknown action")

// historyWindow is the number of trailing messages given to the classifier.
const historyWindow = 6

// Route is a classification result.
type Route struct {
	Action     models.ActionKind `json:"action"`
	Parameters map[string]any    `json:"parameters,omitempty"`
}

// Query returns the "query" parameter when the classifier supplied one.
func (r Route) Query() string {
	if q, ok := r.Parameters["query"].(string); ok {
		return strings.TrimSpace(q)
	}
	return ""
}

// Classifier picks the initial action for a prompt.
type Classifier interface {
	Route(ctx context.Context, prompt, userID string, history []models.Message) (Route, error)
}

// LLMClassifier asks a generation backend for a JSON classification.
type LLMClassifier struct {
	gen     llm.Generator
	system  string
	logger  *slog.Logger
	metrics *metrics.Collector
}

// NewLLMClassifier creates a classifier. logger and collector may be nil.
func NewLLMClassifier(gen llm.Generator, systemInstruction string, logger *slog.Logger, collector *metrics.Collector) *LLMClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMClassifier{gen: gen, system: systemInstruction, logger: logger, metrics: collector}
}

type routeResponse struct {
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters"`
}

// Route implements Classifier.
func (c *LLMClassifier) Route(ctx context.Context, prompt, userID string, history []models.Message) (Route, error) {
	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.RecordTiming(metrics.OpClassify, time.Since(start))
		}
	}()

	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}

	var b strings.Builder
	if len(history) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, m := range history {
			fmt.Fprintf(&b, "%s: %s\n", m.Sender, truncate(m.Text, 300))
		}
		b.WriteString("\n")
	}
	b.WriteString("Request to classify:\n")
	b.WriteString(prompt)

	text, err := c.gen.Generate(ctx, []llm.Content{llm.TextContent(llm.RoleUser, b.String())}, llm.GenerateOptions{
		SystemInstruction: c.system,
		ResponseFormat:    llm.FormatJSON,
	})
	if err != nil {
		return Route{}, fmt.Errorf("classify: %w", err)
	}

	var resp routeResponse
	if err := llm.DecodeJSON(text, &resp); err != nil {
		return Route{}, fmt.Errorf("classify: %w", err)
	}

	kind, err := models.ParseActionKind(resp.Action)
	if err != nil {
		return Route{}, fmt.Errorf("%w: %q", ErrUnknownAction, resp.Action)
	}

	c.logger.Debug("prompt classified", "user_id", userID, "action", kind)
	return Route{Action: kind, Parameters: resp.Parameters}, nil
}

// Static always returns the same route. It is used when classification is
// disabled and in tests.
type Static struct {
	Result Route
	Err    error
}

// Route implements Classifier.
func (s Static) Route(context.Context, string, string, []models.Message) (Route, error) {
	return s.Result, s.Err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
