package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/switchboard/internal/llm/llmtest"
	"github.com/raphaelgruber/switchboard/internal/models"
)

type fakeStore struct {
	mu      sync.Mutex
	mems    []models.Memory
	listErr error
}

func (f *fakeStore) AddMemory(_ context.Context, m models.Memory) (models.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mems = append(f.mems, m)
	return m, nil
}

func (f *fakeStore) ListMemories(_ context.Context, userID, layer string, limit int) ([]models.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.Memory
	for _, m := range f.mems {
		if m.UserID == userID && m.Layer == layer {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func TestGetContext(t *testing.T) {
	store := &fakeStore{mems: []models.Memory{
		{UserID: "u1", Layer: models.LayerProfile, Content: "software engineer"},
		{UserID: "u1", Layer: models.LayerFacts, Content: "lives in Vienna"},
		{UserID: "u2", Layer: models.LayerFacts, Content: "other user"},
	}}
	s := NewService(store, nil, "", nil)

	mc, err := s.GetContext(context.Background(), "u1", DefaultLayers)
	require.NoError(t, err)
	assert.Equal(t, models.MemoryContext{
		models.LayerProfile: {"software engineer"},
		models.LayerFacts:   {"lives in Vienna"},
	}, mc)

	text := FormatContext(mc, DefaultLayers)
	assert.Contains(t, text, "profile:\n- software engineer")
	assert.NotContains(t, text, "preferences")
	assert.Empty(t, FormatContext(models.MemoryContext{}, DefaultLayers))
}

func TestGetContextError(t *testing.T) {
	s := NewService(&fakeStore{listErr: errors.New("db down")}, nil, "", nil)
	_, err := s.GetContext(context.Background(), "u1", DefaultLayers)
	require.Error(t, err)
}

func TestExtract(t *testing.T) {
	store := &fakeStore{}
	gen := llmtest.NewGenerator().QueueResponse(llmtest.Response{
		Text: `[{"layer":"Preferences","content":"prefers Go"},{"layer":"mood","content":"happy"},{"layer":"facts","content":"  "}]`,
	})
	s := NewService(store, gen, "extract", nil)

	n, err := s.Extract(context.Background(), models.MemoryDirective{UserID: "u1", Prompt: "I love Go", Response: "Great choice"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, store.mems, 1)
	assert.Equal(t, models.LayerPreferences, store.mems[0].Layer)
	assert.Equal(t, "prefers Go", store.mems[0].Content)
	assert.Equal(t, "u1", store.mems[0].UserID)
}

func TestExtractFailures(t *testing.T) {
	t.Run("backend error", func(t *testing.T) {
		gen := llmtest.NewGenerator().QueueResponse(llmtest.Response{Err: errors.New("boom")})
		_, err := NewService(&fakeStore{}, gen, "", nil).Extract(context.Background(), models.MemoryDirective{})
		require.Error(t, err)
	})

	t.Run("malformed json", func(t *testing.T) {
		gen := llmtest.NewGenerator().QueueResponse(llmtest.Response{Text: "nothing to remember"})
		_, err := NewService(&fakeStore{}, gen, "", nil).Extract(context.Background(), models.MemoryDirective{})
		require.Error(t, err)
	})

	t.Run("no generator", func(t *testing.T) {
		n, err := NewService(&fakeStore{}, nil, "", nil).Extract(context.Background(), models.MemoryDirective{})
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
