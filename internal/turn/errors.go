package turn

import (
	"context"
	"errors"
	"fmt"

	"github.com/raphaelgruber/switchboard/internal/llm"
)

// ErrEmptyResponse is returned by executors whose backend produced no text.
var ErrEmptyResponse = errors.New("empty response from model")

// ErrNoExecutor is returned when no executor is registered for an action.
var ErrNoExecutor = errors.New("no executor for action")

// UserFacingError renders an executor failure as an inline message.
func UserFacingError(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "_Response cancelled._"
	case errors.Is(err, llm.ErrFatalAPI):
		return "_The AI service rejected the request. Check the API key and quota, then try again._"
	case errors.Is(err, ErrEmptyResponse):
		return "_The model returned an empty response. Please try rephrasing._"
	default:
		return fmt.Sprintf("_Sorry, something went wrong while generating a response (%v)._", err)
	}
}

// panicError wraps a recovered executor panic.
type panicError struct {
	value any
}

func (p panicError) Error() string {
	return fmt.Sprintf("executor panic: %v", p.value)
}
