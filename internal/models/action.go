// Package models defines the data structures shared by the turn controller,
// the reconciler and the persistence backends.
package models

import (
	"fmt"
	"strings"
)

// ActionKind identifies the generation strategy used for a turn step.
type ActionKind string

// The closed set of actions a turn can run.
const (
	ActionSimple     ActionKind = "simple"
	ActionSearch     ActionKind = "search"
	ActionDeepSearch ActionKind = "deep_search"
	ActionThink      ActionKind = "think"
	ActionImage      ActionKind = "image"
	ActionProject    ActionKind = "project"
	ActionCanvas     ActionKind = "canvas"
	ActionStudy      ActionKind = "study"
)

// AllActions lists every ActionKind in declaration order.
var AllActions = []ActionKind{
	ActionSimple,
	ActionSearch,
	ActionDeepSearch,
	ActionThink,
	ActionImage,
	ActionProject,
	ActionCanvas,
	ActionStudy,
}

// Valid reports whether k is one of the known actions.
func (k ActionKind) Valid() bool {
	for _, a := range AllActions {
		if a == k {
			return true
		}
	}
	return false
}

func (k ActionKind) String() string {
	return string(k)
}

// ParseActionKind accepts the canonical names plus the upper-case marker
// spelling ("DEEP_SEARCH") and a hyphenated form ("deep-search").
func ParseActionKind(s string) (ActionKind, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "-", "_")
	k := ActionKind(norm)
	if !k.Valid() {
		return "", fmt.Errorf("unknown action %q", s)
	}
	return k, nil
}
