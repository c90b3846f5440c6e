package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/switchboard/internal/llm"
	"github.com/raphaelgruber/switchboard/internal/llm/llmtest"
	"github.com/raphaelgruber/switchboard/internal/metrics"
	"github.com/raphaelgruber/switchboard/internal/models"
)

func TestLLMClassifierRoute(t *testing.T) {
	tests := []struct {
		name      string
		response  llmtest.Response
		want      models.ActionKind
		wantQuery string
		wantErr   error
	}{
		{
			name:      "search with query",
			response:  llmtest.Response{Text: `{"action":"search","parameters":{"query":"capital of France"}}`},
			want:      models.ActionSearch,
			wantQuery: "capital of France",
		},
		{
			name:     "upper case deep search",
			response: llmtest.Response{Text: `{"action":"DEEP_SEARCH"}`},
			want:     models.ActionDeepSearch,
		},
		{
			name:     "unknown action",
			response: llmtest.Response{Text: `{"action":"dance"}`},
			wantErr:  ErrUnknownAction,
		},
		{
			name:     "backend failure",
			response: llmtest.Response{Err: errors.New("HTTP 500")},
		},
		{
			name:     "not json",
			response: llmtest.Response{Text: "simple"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := llmtest.NewGenerator().QueueResponse(tt.response)
			c := NewLLMClassifier(gen, "classify", nil, metrics.NewCollector())

			got, err := c.Route(context.Background(), "What's the capital of France?", "u1", nil)
			if tt.want == "" {
				require.Error(t, err)
				if tt.wantErr != nil {
					assert.ErrorIs(t, err, tt.wantErr)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Action)
			assert.Equal(t, tt.wantQuery, got.Query())

			calls := gen.GenerateCalls()
			require.Len(t, calls, 1)
			assert.Equal(t, llm.FormatJSON, calls[0].Opts.ResponseFormat)
			assert.Equal(t, "classify", calls[0].Opts.SystemInstruction)
		})
	}
}

func TestLLMClassifierHistoryWindow(t *testing.T) {
	gen := llmtest.NewGenerator().QueueResponse(llmtest.Response{Text: `{"action":"simple"}`})
	c := NewLLMClassifier(gen, "", nil, nil)

	var history []models.Message
	for i := range 10 {
		history = append(history, models.Message{Sender: models.SenderUser, Text: fmt.Sprintf("msg-%d", i)})
	}

	_, err := c.Route(context.Background(), "next", "u1", history)
	require.NoError(t, err)

	prompt := gen.GenerateCalls()[0].Contents[0].Parts[0].Text
	assert.NotContains(t, prompt, "msg-3")
	assert.Contains(t, prompt, "msg-4")
	assert.Contains(t, prompt, "msg-9")
	assert.True(t, strings.HasSuffix(prompt, "next"))
}
