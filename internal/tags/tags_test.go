package tags

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/switchboard/internal/models"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		fallback string
		want     Tag
		wantOK   bool
	}{
		{
			name: "no markers",
			text: "Paris is the capital of France.",
		},
		{
			name: "angle bracket without marker",
			text: "x < y and y > z",
		},
		{
			name:   "image",
			text:   "I'll generate that image! <IMAGE>a cute cat</IMAGE>",
			want:   Tag{Kind: models.ActionImage, Payload: "a cute cat"},
			wantOK: true,
		},
		{
			name:   "search",
			text:   "Let me check. <SEARCH>weather in Oslo</SEARCH>",
			want:   Tag{Kind: models.ActionSearch, Payload: "weather in Oslo"},
			wantOK: true,
		},
		{
			name:   "explicit deep search",
			text:   "<DEEP_SEARCH>history of the transistor</DEEP_SEARCH>",
			want:   Tag{Kind: models.ActionDeepSearch, Payload: "history of the transistor"},
			wantOK: true,
		},
		{
			name:   "deep cue promotes search",
			text:   "<SEARCH>deep: battery chemistry trends</SEARCH>",
			want:   Tag{Kind: models.ActionDeepSearch, Payload: "battery chemistry trends"},
			wantOK: true,
		},
		{
			name:   "deep cue case insensitive",
			text:   "<SEARCH>DEEP:solid state</SEARCH>",
			want:   Tag{Kind: models.ActionDeepSearch, Payload: "solid state"},
			wantOK: true,
		},
		{
			name:   "deep cue beats earlier plain search",
			text:   "<SEARCH>plain query</SEARCH> and also <SEARCH>deep: thorough query</SEARCH>",
			want:   Tag{Kind: models.ActionDeepSearch, Payload: "thorough query"},
			wantOK: true,
		},
		{
			name:   "cue must lead the payload",
			text:   "<SEARCH>go deep: not a cue</SEARCH>",
			want:   Tag{Kind: models.ActionSearch, Payload: "go deep: not a cue"},
			wantOK: true,
		},
		{
			name:     "bare think falls back to original prompt",
			text:     "Hmm, this needs care. <THINK>",
			fallback: "prove sqrt(2) is irrational",
			want:     Tag{Kind: models.ActionThink, Payload: "prove sqrt(2) is irrational"},
			wantOK:   true,
		},
		{
			name:     "empty think falls back to original prompt",
			text:     "<THINK>   </THINK>",
			fallback: "original",
			want:     Tag{Kind: models.ActionThink, Payload: "original"},
			wantOK:   true,
		},
		{
			name:     "think payload is trimmed",
			text:     "<THINK>\n  compare the two proofs \n</THINK>",
			fallback: "original",
			want:     Tag{Kind: models.ActionThink, Payload: "compare the two proofs"},
			wantOK:   true,
		},
		{
			name:   "other payloads are not trimmed",
			text:   "<CANVAS>  a todo app  </CANVAS>",
			want:   Tag{Kind: models.ActionCanvas, Payload: "  a todo app  "},
			wantOK: true,
		},
		{
			name:   "multiline payload",
			text:   "<PROJECT>a REST API\nwith auth</PROJECT>",
			want:   Tag{Kind: models.ActionProject, Payload: "a REST API\nwith auth"},
			wantOK: true,
		},
		{
			name: "unterminated image is ignored",
			text: "<IMAGE>a dog",
		},
		{
			name:   "search outranks think",
			text:   "<THINK> <SEARCH>latest go release</SEARCH>",
			want:   Tag{Kind: models.ActionSearch, Payload: "latest go release"},
			wantOK: true,
		},
		{
			name:     "think outranks image",
			text:     "<IMAGE>sunset</IMAGE><THINK>",
			fallback: "p",
			want:     Tag{Kind: models.ActionThink, Payload: "p"},
			wantOK:   true,
		},
		{
			name:   "canvas outranks study",
			text:   "<STUDY>calculus</STUDY><CANVAS>plotter</CANVAS>",
			want:   Tag{Kind: models.ActionCanvas, Payload: "plotter"},
			wantOK: true,
		},
		{
			name:   "first occurrence of winning kind",
			text:   "<IMAGE>first</IMAGE><IMAGE>second</IMAGE>",
			want:   Tag{Kind: models.ActionImage, Payload: "first"},
			wantOK: true,
		},
		{
			name:   "study",
			text:   "<STUDY>linear algebra in 4 weeks</STUDY>",
			want:   Tag{Kind: models.ActionStudy, Payload: "linear algebra in 4 weeks"},
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Extract(tt.text, tt.fallback)
			require.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractDoesNotMutateInput(t *testing.T) {
	text := "<SEARCH>deep: x</SEARCH>"
	orig := text
	_, _ = Extract(text, "")
	assert.Equal(t, orig, text)
}
