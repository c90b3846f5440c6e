package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/raphaelgruber/switchboard/internal/metrics"
)

// fakeModel is a scripted llms.Model that streams its chunks through the
// configured streaming func.
type fakeModel struct {
	chunks   []string
	err      error
	info     map[string]any
	messages []llms.MessageContent
	opts     llms.CallOptions
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	f.opts = llms.CallOptions{}
	for _, o := range options {
		o(&f.opts)
	}

	full := ""
	for _, c := range f.chunks {
		if f.opts.StreamingFunc != nil {
			if err := f.opts.StreamingFunc(ctx, []byte(c)); err != nil {
				return nil, err
			}
		}
		full += c
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: full, GenerationInfo: f.info}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestLangChainStreamGenerate(t *testing.T) {
	fm := &fakeModel{
		chunks: []string{"Hel", "lo"},
		info:   map[string]any{"PromptTokens": 12, "CompletionTokens": 3},
	}
	collector := metrics.NewCollector()
	m := NewLangChainFromModel(fm, "fake", collector)

	var got string
	for chunk, err := range m.StreamGenerate(context.Background(), "be brief", []Content{TextContent(RoleUser, "hi")}, StreamOptions{}) {
		require.NoError(t, err)
		got += chunk.Text
	}

	assert.Equal(t, "Hello", got)
	require.Len(t, fm.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, fm.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, fm.messages[1].Role)

	snap := collector.Snapshot()
	require.NotNil(t, snap.LLMStream)
	assert.Equal(t, int64(12), *snap.LLMStream.TotalInputTokens)
}

func TestLangChainStreamStopsEarly(t *testing.T) {
	fm := &fakeModel{chunks: []string{"a", "b", "c"}}
	m := NewLangChainFromModel(fm, "fake", nil)

	var got []string
	for chunk, err := range m.StreamGenerate(context.Background(), "", nil, StreamOptions{}) {
		require.NoError(t, err)
		got = append(got, chunk.Text)
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestLangChainStreamError(t *testing.T) {
	fm := &fakeModel{chunks: []string{"partial"}, err: errors.New("HTTP 401: bad key")}
	m := NewLangChainFromModel(fm, "fake", nil)

	var texts []string
	var lastErr error
	for chunk, err := range m.StreamGenerate(context.Background(), "", nil, StreamOptions{}) {
		if err != nil {
			lastErr = err
			continue
		}
		texts = append(texts, chunk.Text)
	}
	assert.Equal(t, []string{"partial"}, texts)
	require.Error(t, lastErr)
	assert.ErrorIs(t, lastErr, ErrFatalAPI)
}

func TestLangChainGenerateJSONMode(t *testing.T) {
	fm := &fakeModel{chunks: []string{`{"action":"search"}`}}
	m := NewLangChainFromModel(fm, "fake", nil)

	out, err := m.Generate(context.Background(),
		[]Content{{Role: RoleUser, Parts: []Part{{Text: "look"}, {MIMEType: "image/png", Data: []byte{1, 2}}}}},
		GenerateOptions{ResponseFormat: FormatJSON, SystemInstruction: "classify"},
	)
	require.NoError(t, err)
	assert.Equal(t, `{"action":"search"}`, out)
	assert.True(t, fm.opts.JSONMode)
	require.Len(t, fm.messages, 2)
	require.Len(t, fm.messages[1].Parts, 2)
	_, isBinary := fm.messages[1].Parts[1].(llms.BinaryContent)
	assert.True(t, isBinary)
}

func TestTokenCounts(t *testing.T) {
	in, out := tokenCounts(map[string]any{"InputTokens": int64(7), "OutputTokens": 9.0})
	assert.Equal(t, int64(7), in)
	assert.Equal(t, int64(9), out)

	in, out = tokenCounts(nil)
	assert.Zero(t, in)
	assert.Zero(t, out)
}
