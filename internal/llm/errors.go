package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrFatalAPI marks provider errors that retrying will not fix: exhausted
// quota, billing problems or bad credentials.
var ErrFatalAPI = errors.New("fatal LLM API error")

// ErrImageUnavailable is returned when no image backend is configured or the
// backend returned no image.
var ErrImageUnavailable = errors.New("image generation unavailable")

var fatalMarkers = []string{
	"credit balance",
	"rate limit",
	"quota",
	"billing",
	"invalid api key",
	"api key not valid",
	"authentication",
	"unauthorized",
	"permission_denied",
	"resource_exhausted",
	"401",
	"403",
}

func isFatalAPIError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range fatalMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// wrapFatalError tags fatal provider errors with ErrFatalAPI and returns all
// other errors unchanged.
func wrapFatalError(err error) error {
	if !isFatalAPIError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrFatalAPI, err)
}
