package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/raphaelgruber/switchboard/internal/metrics"
	"github.com/raphaelgruber/switchboard/internal/models"
)

// GeminiConfig configures the Gemini backend. When Project is set the Vertex
// AI backend is used, otherwise the Gemini API with APIKey.
type GeminiConfig struct {
	APIKey     string
	Project    string
	Location   string
	Model      string
	ThinkModel string
	ImageModel string
}

// Gemini implements Generator and ImageGenerator on google.golang.org/genai.
type Gemini struct {
	client     *genai.Client
	model      string
	thinkModel string
	imageModel string
	metrics    *metrics.Collector
}

// NewGemini creates a Gemini backend. collector may be nil.
func NewGemini(ctx context.Context, cfg GeminiConfig, collector *metrics.Collector) (*Gemini, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Project != "" {
		cc = &genai.ClientConfig{
			Project:  cfg.Project,
			Location: cfg.Location,
			Backend:  genai.BackendVertexAI,
		}
	} else if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key or Google Cloud project required")
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	thinkModel := cfg.ThinkModel
	if thinkModel == "" {
		thinkModel = model
	}

	return &Gemini{
		client:     client,
		model:      model,
		thinkModel: thinkModel,
		imageModel: cfg.ImageModel,
		metrics:    collector,
	}, nil
}

// Model returns the default model name.
func (g *Gemini) Model() string {
	return g.model
}

// StreamGenerate implements Generator.
func (g *Gemini) StreamGenerate(ctx context.Context, systemInstruction string, contents []Content, opts StreamOptions) iter.Seq2[Chunk, error] {
	model := g.model
	if opts.Thinking {
		model = g.thinkModel
	}
	if opts.Model != "" {
		model = opts.Model
	}

	cfg := &genai.GenerateContentConfig{}
	if systemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemInstruction, genai.RoleUser)
	}
	if opts.GoogleSearch {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	if opts.Thinking {
		budget := int32(-1) // dynamic
		cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: &budget}
	}

	return func(yield func(Chunk, error) bool) {
		start := time.Now()
		var inTokens, outTokens int64
		defer func() {
			g.record(metrics.OpLLMStream, start, inTokens, outTokens)
		}()

		for resp, err := range g.client.Models.GenerateContentStream(ctx, model, toGenaiContents(contents), cfg) {
			if err != nil {
				yield(Chunk{}, wrapFatalError(fmt.Errorf("gemini stream: %w", err)))
				return
			}
			if u := resp.UsageMetadata; u != nil {
				inTokens = int64(u.PromptTokenCount)
				outTokens = int64(u.CandidatesTokenCount)
			}

			chunk := Chunk{Text: resp.Text(), Grounding: groundingRefs(resp)}
			if chunk.Text == "" && len(chunk.Grounding) == 0 {
				continue
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// Generate implements Generator.
func (g *Gemini) Generate(ctx context.Context, contents []Content, opts GenerateOptions) (string, error) {
	model := g.model
	if opts.Model != "" {
		model = opts.Model
	}

	cfg := &genai.GenerateContentConfig{}
	if opts.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(opts.SystemInstruction, genai.RoleUser)
	}
	if opts.ResponseFormat != "" {
		cfg.ResponseMIMEType = opts.ResponseFormat
	}
	if opts.GoogleSearch {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, model, toGenaiContents(contents), cfg)
	if err != nil {
		g.record(metrics.OpLLMGenerate, start, 0, 0)
		return "", wrapFatalError(fmt.Errorf("gemini generate: %w", err))
	}

	var inTokens, outTokens int64
	if u := resp.UsageMetadata; u != nil {
		inTokens = int64(u.PromptTokenCount)
		outTokens = int64(u.CandidatesTokenCount)
	}
	g.record(metrics.OpLLMGenerate, start, inTokens, outTokens)

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("gemini returned empty text")
	}
	return text, nil
}

// GenerateImage implements ImageGenerator. Imagen models use the dedicated
// image endpoint; other models are asked for an image response modality.
func (g *Gemini) GenerateImage(ctx context.Context, prompt, modelHint string) (Image, error) {
	model := modelHint
	if model == "" {
		model = g.imageModel
	}
	if model == "" {
		return Image{}, ErrImageUnavailable
	}

	start := time.Now()
	defer func() {
		if g.metrics != nil {
			g.metrics.RecordTiming(metrics.OpImage, time.Since(start))
		}
	}()

	if strings.HasPrefix(model, "imagen") {
		resp, err := g.client.Models.GenerateImages(ctx, model, prompt, &genai.GenerateImagesConfig{
			NumberOfImages: 1,
		})
		if err != nil {
			return Image{}, wrapFatalError(fmt.Errorf("generate image: %w", err))
		}
		for _, gi := range resp.GeneratedImages {
			if gi.Image != nil && len(gi.Image.ImageBytes) > 0 {
				return Image{MIMEType: gi.Image.MIMEType, Data: gi.Image.ImageBytes}, nil
			}
			if gi.RAIFilteredReason != "" {
				return Image{}, fmt.Errorf("image blocked: %s", gi.RAIFilteredReason)
			}
		}
		return Image{}, fmt.Errorf("%w: empty response", ErrImageUnavailable)
	}

	resp, err := g.client.Models.GenerateContent(ctx, model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		&genai.GenerateContentConfig{ResponseModalities: []string{"TEXT", "IMAGE"}},
	)
	if err != nil {
		return Image{}, wrapFatalError(fmt.Errorf("generate image: %w", err))
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if p.InlineData != nil && len(p.InlineData.Data) > 0 {
				return Image{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data}, nil
			}
		}
	}
	if text := resp.Text(); text != "" {
		return Image{}, errors.New("image not generated: " + text)
	}
	return Image{}, fmt.Errorf("%w: empty response", ErrImageUnavailable)
}

func (g *Gemini) record(op string, start time.Time, inTokens, outTokens int64) {
	if g.metrics == nil {
		return
	}
	g.metrics.RecordLLMUsage(op, time.Since(start), inTokens, outTokens)
}

func toGenaiContents(contents []Content) []*genai.Content {
	out := make([]*genai.Content, 0, len(contents))
	for _, c := range contents {
		parts := make([]*genai.Part, 0, len(c.Parts))
		for _, p := range c.Parts {
			if p.IsText() {
				parts = append(parts, genai.NewPartFromText(p.Text))
			} else {
				parts = append(parts, genai.NewPartFromBytes(p.Data, p.MIMEType))
			}
		}
		var role genai.Role = genai.RoleUser
		if c.Role == RoleModel {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromParts(parts, role))
	}
	return out
}

func groundingRefs(resp *genai.GenerateContentResponse) []models.GroundingReference {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].GroundingMetadata == nil {
		return nil
	}
	var refs []models.GroundingReference
	for _, gc := range resp.Candidates[0].GroundingMetadata.GroundingChunks {
		if gc == nil || gc.Web == nil || gc.Web.URI == "" {
			continue
		}
		refs = append(refs, models.GroundingReference{Title: gc.Web.Title, URI: gc.Web.URI})
	}
	return refs
}
