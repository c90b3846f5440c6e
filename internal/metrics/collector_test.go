package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTiming(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpPersist, 10*time.Millisecond)
	c.RecordTiming(OpPersist, 30*time.Millisecond)

	snap := c.Snapshot()
	require.NotNil(t, snap.Persist)
	assert.Equal(t, int64(2), snap.Persist.Count)
	assert.Equal(t, int64(40), snap.Persist.TotalTimeMs)
	assert.Equal(t, int64(10), snap.Persist.MinTimeMs)
	assert.Equal(t, int64(30), snap.Persist.MaxTimeMs)
	assert.InDelta(t, 20.0, snap.Persist.AvgTimeMs, 0.001)
	assert.Nil(t, snap.Persist.TotalInputTokens)
	assert.Nil(t, snap.Image)
}

func TestRecordLLMUsage(t *testing.T) {
	c := NewCollector()
	c.RecordLLMUsage(OpLLMStream, 100*time.Millisecond, 50, 200)
	c.RecordLLMUsage(OpLLMStream, 300*time.Millisecond, 150, 100)

	snap := c.Snapshot()
	require.NotNil(t, snap.LLMStream)
	require.NotNil(t, snap.LLMStream.TotalInputTokens)
	assert.Equal(t, int64(200), *snap.LLMStream.TotalInputTokens)
	assert.Equal(t, int64(300), *snap.LLMStream.TotalOutputTokens)
	assert.Equal(t, int64(50), *snap.LLMStream.MinInputTokens)
	assert.Equal(t, int64(150), *snap.LLMStream.MaxInputTokens)
	assert.Equal(t, int64(100), *snap.LLMStream.MinOutputTokens)
}

func TestRecordUsage(t *testing.T) {
	c := NewCollector()
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.RecordUsage(ctx, "u1", FeatureThink))
		}()
	}
	wg.Wait()
	require.NoError(t, c.RecordUsage(ctx, "u2", FeatureImage))

	assert.Equal(t, int64(20), c.Usage("u1", FeatureThink))
	assert.Equal(t, int64(0), c.Usage("u1", FeatureImage))

	snap := c.Snapshot()
	assert.Equal(t, []FeatureUsage{
		{UserID: "u1", Feature: FeatureThink, Count: 20},
		{UserID: "u2", Feature: FeatureImage, Count: 1},
	}, snap.Usage)
}
