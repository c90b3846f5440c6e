package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/raphaelgruber/switchboard/internal/config"
	"github.com/raphaelgruber/switchboard/internal/metrics"
)

// errStreamStopped aborts a langchaingo stream when the consumer stops early.
var errStreamStopped = errors.New("stream stopped by consumer")

// LangChain implements Generator on top of a langchaingo model. Search
// grounding and extended thinking are not available through it; those
// options are ignored.
type LangChain struct {
	llm       llms.Model
	modelName string
	metrics   *metrics.Collector
}

// NewLangChain creates a langchaingo-backed Generator based on configuration.
func NewLangChain(ctx context.Context, cfg config.Config, collector *metrics.Collector) (*LangChain, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	case config.ProviderBedrock:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		model, err = bedrock.New(
			bedrock.WithClient(bedrockruntime.NewFromConfig(awsCfg)),
			bedrock.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create bedrock model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return NewLangChainFromModel(model, cfg.LLMModel, collector), nil
}

// NewLangChainFromModel wraps an existing langchaingo model.
func NewLangChainFromModel(model llms.Model, name string, collector *metrics.Collector) *LangChain {
	return &LangChain{llm: model, modelName: name, metrics: collector}
}

// Model returns the LLM model name.
func (m *LangChain) Model() string {
	return m.modelName
}

// StreamGenerate implements Generator.
func (m *LangChain) StreamGenerate(ctx context.Context, systemInstruction string, contents []Content, opts StreamOptions) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		stopped := false
		stream := llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			if !yield(Chunk{Text: string(chunk)}, nil) {
				stopped = true
				return errStreamStopped
			}
			return ctx.Err()
		})

		callOpts := []llms.CallOption{stream}
		if opts.Model != "" {
			callOpts = append(callOpts, llms.WithModel(opts.Model))
		}

		start := time.Now()
		resp, err := m.llm.GenerateContent(ctx, toMessages(systemInstruction, contents), callOpts...)
		m.record(metrics.OpLLMStream, start, resp)
		if stopped {
			return
		}
		if err != nil {
			yield(Chunk{}, wrapFatalError(fmt.Errorf("stream: %w", err)))
		}
	}
}

// Generate implements Generator.
func (m *LangChain) Generate(ctx context.Context, contents []Content, opts GenerateOptions) (string, error) {
	var callOpts []llms.CallOption
	if opts.ResponseFormat == FormatJSON {
		callOpts = append(callOpts, llms.WithJSONMode())
	}
	if opts.Model != "" {
		callOpts = append(callOpts, llms.WithModel(opts.Model))
	}

	start := time.Now()
	resp, err := m.llm.GenerateContent(ctx, toMessages(opts.SystemInstruction, contents), callOpts...)
	m.record(metrics.OpLLMGenerate, start, resp)
	if err != nil {
		return "", wrapFatalError(fmt.Errorf("generate: %w", err))
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}

	return resp.Choices[0].Content, nil
}

func (m *LangChain) record(op string, start time.Time, resp *llms.ContentResponse) {
	if m.metrics == nil {
		return
	}
	var in, out int64
	if resp != nil && len(resp.Choices) > 0 {
		in, out = tokenCounts(resp.Choices[0].GenerationInfo)
	}
	m.metrics.RecordLLMUsage(op, time.Since(start), in, out)
}

func toMessages(systemInstruction string, contents []Content) []llms.MessageContent {
	msgs := make([]llms.MessageContent, 0, len(contents)+1)
	if systemInstruction != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, systemInstruction))
	}
	for _, c := range contents {
		role := llms.ChatMessageTypeHuman
		if c.Role == RoleModel {
			role = llms.ChatMessageTypeAI
		}
		parts := make([]llms.ContentPart, 0, len(c.Parts))
		for _, p := range c.Parts {
			if p.IsText() {
				parts = append(parts, llms.TextPart(p.Text))
			} else {
				parts = append(parts, llms.BinaryPart(p.MIMEType, p.Data))
			}
		}
		msgs = append(msgs, llms.MessageContent{Role: role, Parts: parts})
	}
	return msgs
}

// tokenCounts reads token usage from provider-specific generation info keys.
func tokenCounts(info map[string]any) (in, out int64) {
	in = firstInt(info, "PromptTokens", "InputTokens", "prompt_eval_count")
	out = firstInt(info, "CompletionTokens", "OutputTokens", "eval_count")
	return in, out
}

func firstInt(info map[string]any, keys ...string) int64 {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return int64(v)
		case int32:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		}
	}
	return 0
}
