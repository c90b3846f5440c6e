// Package tags extracts action markers that a model embeds in its output to
// request a different generation strategy.
//
// The grammar is a fixed set of delimited markers:
//
//	<DEEP_SEARCH>query</DEEP_SEARCH>
//	<SEARCH>query</SEARCH>         (a "deep:" cue promotes it to DEEP_SEARCH)
//	<THINK>problem</THINK>         (may also appear bare: <THINK>)
//	<IMAGE>prompt</IMAGE>
//	<PROJECT>description</PROJECT>
//	<CANVAS>description</CANVAS>
//	<STUDY>topic</STUDY>
//
// When several markers are present the first kind in that list wins.
package tags

import (
	"regexp"
	"strings"

	"github.com/raphaelgruber/switchboard/internal/models"
)

// Tag is a single extracted marker.
type Tag struct {
	Kind    models.ActionKind
	Payload string
}

var (
	deepSearchRe = marker("DEEP_SEARCH")
	searchRe     = marker("SEARCH")
	imageRe      = marker("IMAGE")
	projectRe    = marker("PROJECT")
	canvasRe     = marker("CANVAS")
	studyRe      = marker("STUDY")

	thinkClosedRe = marker("THINK")
	thinkOpenRe   = regexp.MustCompile(`<THINK>`)

	deepCueRe = regexp.MustCompile(`(?i)^deep:\s*`)
)

func marker(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?s)<` + name + `>(.*?)</` + name + `>`)
}

type rule struct {
	kind  models.ActionKind
	match func(text, fallback string) (string, bool)
}

// rules is evaluated in order; the first hit wins.
var rules = []rule{
	{models.ActionDeepSearch, matchDeepSearch},
	{models.ActionSearch, firstPayload(searchRe)},
	{models.ActionThink, matchThink},
	{models.ActionImage, firstPayload(imageRe)},
	{models.ActionProject, firstPayload(projectRe)},
	{models.ActionCanvas, firstPayload(canvasRe)},
	{models.ActionStudy, firstPayload(studyRe)},
}

// Extract returns the highest-priority marker in text. fallbackPrompt is the
// payload used for a bare or empty THINK marker, normally the turn's original
// user prompt. Payloads are returned untouched except for the THINK payload,
// which is trimmed.
func Extract(text, fallbackPrompt string) (Tag, bool) {
	if !strings.Contains(text, "<") {
		return Tag{}, false
	}
	for _, r := range rules {
		if payload, ok := r.match(text, fallbackPrompt); ok {
			return Tag{Kind: r.kind, Payload: payload}, true
		}
	}
	return Tag{}, false
}

func firstPayload(re *regexp.Regexp) func(string, string) (string, bool) {
	return func(text, _ string) (string, bool) {
		m := re.FindStringSubmatch(text)
		if m == nil {
			return "", false
		}
		return m[1], true
	}
}

// matchDeepSearch checks for an explicit DEEP_SEARCH marker and then for any
// SEARCH marker whose payload opens with the deep cue.
func matchDeepSearch(text, _ string) (string, bool) {
	if m := deepSearchRe.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	for _, m := range searchRe.FindAllStringSubmatch(text, -1) {
		if loc := deepCueRe.FindStringIndex(m[1]); loc != nil {
			return m[1][loc[1]:], true
		}
	}
	return "", false
}

func matchThink(text, fallback string) (string, bool) {
	if m := thinkClosedRe.FindStringSubmatch(text); m != nil {
		if p := strings.TrimSpace(m[1]); p != "" {
			return p, true
		}
		return fallback, true
	}
	if thinkOpenRe.MatchString(text) {
		return fallback, true
	}
	return "", false
}
