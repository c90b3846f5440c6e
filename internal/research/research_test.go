package research

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/switchboard/internal/llm"
	"github.com/raphaelgruber/switchboard/internal/llm/llmtest"
	"github.com/raphaelgruber/switchboard/internal/models"
)

func TestResearch(t *testing.T) {
	gen := llmtest.NewGenerator().QueueResponse(
		llmtest.Response{Text: `{"queries":["solid state batteries","lithium supply", "solid state batteries"]}`},
		llmtest.Response{Text: "# Report\nBatteries are improving [1][2]."},
	)
	gen.StreamFunc = func(call llmtest.StreamCall) llmtest.Stream {
		q := call.Contents[0].Parts[0].Text
		return llmtest.Stream{Chunks: []llm.Chunk{
			{Text: "about " + q},
			{Grounding: []models.GroundingReference{{Title: "shared", URI: "https://shared.example"}}},
			{Grounding: []models.GroundingReference{{URI: "https://" + q[:5] + ".example"}}},
		}}
	}

	s := NewService(gen, Options{Concurrency: 2})

	var progress []Progress
	res, err := s.Research(context.Background(), "future of batteries", func(p Progress) {
		progress = append(progress, p)
	})
	require.NoError(t, err)

	assert.Equal(t, "# Report\nBatteries are improving [1][2].", res.Answer)
	assert.Len(t, res.Sources, 3)
	assert.Equal(t, "https://shared.example", res.Sources[0].URI)

	calls := gen.StreamCalls()
	require.Len(t, calls, 2)
	for _, c := range calls {
		assert.True(t, c.Opts.GoogleSearch)
	}

	require.NotEmpty(t, progress)
	assert.Equal(t, StagePlanning, progress[0].Stage)
	assert.Equal(t, StageSynthesizing, progress[len(progress)-1].Stage)

	synth := gen.GenerateCalls()[1].Contents[0].Parts[0].Text
	assert.Contains(t, synth, "about solid state batteries")
	assert.Contains(t, synth, "about lithium supply")
}

func TestResearchPlanFallback(t *testing.T) {
	gen := llmtest.NewGenerator(llmtest.TextStream("direct finding")).QueueResponse(
		llmtest.Response{Err: errors.New("planner down")},
		llmtest.Response{Text: "report"},
	)
	s := NewService(gen, Options{})

	res, err := s.Research(context.Background(), "what is go", nil)
	require.NoError(t, err)
	assert.Equal(t, "report", res.Answer)

	calls := gen.StreamCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "what is go", calls[0].Contents[0].Parts[0].Text)
}

func TestResearchAllSearchesFail(t *testing.T) {
	gen := llmtest.NewGenerator().QueueResponse(llmtest.Response{Text: `{"queries":["a","b"]}`})
	gen.StreamFunc = func(llmtest.StreamCall) llmtest.Stream {
		return llmtest.Stream{Err: errors.New("search backend unavailable")}
	}
	s := NewService(gen, Options{})

	_, err := s.Research(context.Background(), "q", nil)
	require.ErrorIs(t, err, ErrNoFindings)
}

func TestResearchCancelled(t *testing.T) {
	gen := llmtest.NewGenerator().QueueResponse(llmtest.Response{Text: `{"queries":["a"]}`})
	gen.StreamFunc = func(llmtest.StreamCall) llmtest.Stream { return llmtest.TextStream("x") }
	s := NewService(gen, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Research(ctx, "q", nil)
	require.Error(t, err)
}
