// Package llmtest provides scripted fakes for the llm backend interfaces.
package llmtest

import (
	"context"
	"errors"
	"iter"
	"sync"

	"github.com/raphaelgruber/switchboard/internal/llm"
)

// ErrNotScripted is returned when a fake runs out of scripted responses.
var ErrNotScripted = errors.New("llmtest: no scripted response")

// Stream is one scripted streaming response. Err, when set, is yielded
// after all chunks.
type Stream struct {
	Chunks []llm.Chunk
	Err    error
}

// TextStream builds a Stream from plain text chunks.
func TextStream(chunks ...string) Stream {
	s := Stream{Chunks: make([]llm.Chunk, len(chunks))}
	for i, c := range chunks {
		s.Chunks[i] = llm.Chunk{Text: c}
	}
	return s
}

// Response is one scripted Generate result.
type Response struct {
	Text string
	Err  error
}

// StreamCall records a StreamGenerate invocation.
type StreamCall struct {
	System   string
	Contents []llm.Content
	Opts     llm.StreamOptions
}

// GenerateCall records a Generate invocation.
type GenerateCall struct {
	Contents []llm.Content
	Opts     llm.GenerateOptions
}

// Generator replays scripted streams and responses in order. When a queue
// is empty the matching func field is consulted, then ErrNotScripted.
type Generator struct {
	mu        sync.Mutex
	streams   []Stream
	responses []Response

	// StreamFunc, when set, answers streams once the queue is empty.
	StreamFunc func(StreamCall) Stream
	// GenerateFunc, when set, answers Generate once the queue is empty.
	GenerateFunc func(GenerateCall) (string, error)

	streamCalls   []StreamCall
	generateCalls []GenerateCall
}

// NewGenerator returns a Generator that replays streams in order.
func NewGenerator(streams ...Stream) *Generator {
	return &Generator{streams: streams}
}

// QueueStream appends scripted streams.
func (g *Generator) QueueStream(s ...Stream) *Generator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.streams = append(g.streams, s...)
	return g
}

// QueueResponse appends scripted Generate results.
func (g *Generator) QueueResponse(r ...Response) *Generator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.responses = append(g.responses, r...)
	return g
}

// StreamGenerate implements llm.Generator.
func (g *Generator) StreamGenerate(ctx context.Context, system string, contents []llm.Content, opts llm.StreamOptions) iter.Seq2[llm.Chunk, error] {
	call := StreamCall{System: system, Contents: contents, Opts: opts}

	g.mu.Lock()
	g.streamCalls = append(g.streamCalls, call)
	var s Stream
	switch {
	case len(g.streams) > 0:
		s = g.streams[0]
		g.streams = g.streams[1:]
	case g.StreamFunc != nil:
		s = g.StreamFunc(call)
	default:
		s = Stream{Err: ErrNotScripted}
	}
	g.mu.Unlock()

	return func(yield func(llm.Chunk, error) bool) {
		for _, c := range s.Chunks {
			if err := ctx.Err(); err != nil {
				yield(llm.Chunk{}, err)
				return
			}
			if !yield(c, nil) {
				return
			}
		}
		if s.Err != nil {
			yield(llm.Chunk{}, s.Err)
		}
	}
}

// Generate implements llm.Generator.
func (g *Generator) Generate(ctx context.Context, contents []llm.Content, opts llm.GenerateOptions) (string, error) {
	call := GenerateCall{Contents: contents, Opts: opts}

	g.mu.Lock()
	g.generateCalls = append(g.generateCalls, call)
	var r Response
	var fn func(GenerateCall) (string, error)
	switch {
	case len(g.responses) > 0:
		r = g.responses[0]
		g.responses = g.responses[1:]
	case g.GenerateFunc != nil:
		fn = g.GenerateFunc
	default:
		r = Response{Err: ErrNotScripted}
	}
	g.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if fn != nil {
		return fn(call)
	}
	return r.Text, r.Err
}

// StreamCalls returns a copy of the recorded StreamGenerate calls.
func (g *Generator) StreamCalls() []StreamCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]StreamCall(nil), g.streamCalls...)
}

// GenerateCalls returns a copy of the recorded Generate calls.
func (g *Generator) GenerateCalls() []GenerateCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]GenerateCall(nil), g.generateCalls...)
}

// ImageGenerator returns a fixed image or error.
type ImageGenerator struct {
	Image llm.Image
	Err   error

	mu      sync.Mutex
	prompts []string
}

// GenerateImage implements llm.ImageGenerator.
func (g *ImageGenerator) GenerateImage(ctx context.Context, prompt, _ string) (llm.Image, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return llm.Image{}, err
	}
	if g.Err != nil {
		return llm.Image{}, g.Err
	}
	return g.Image, nil
}

// Prompts returns the prompts received so far.
func (g *ImageGenerator) Prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}
