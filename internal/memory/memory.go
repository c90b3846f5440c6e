// Package memory provides the per-user memory context consumed by chat
// prompts and extracts new memories from finished exchanges.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/raphaelgruber/switchboard/internal/llm"
	"github.com/raphaelgruber/switchboard/internal/models"
)

// DefaultLayers are the layers read for plain chat turns.
var DefaultLayers = []string{models.LayerProfile, models.LayerPreferences, models.LayerFacts}

// perLayerLimit caps how many entries of each layer reach a prompt.
const perLayerLimit = 10

// Store persists memories.
type Store interface {
	AddMemory(ctx context.Context, m models.Memory) (models.Memory, error)
	ListMemories(ctx context.Context, userID, layer string, limit int) ([]models.Memory, error)
}

// Service reads and writes user memories.
type Service struct {
	store  Store
	gen    llm.Generator
	system string
	logger *slog.Logger
}

// NewService creates a memory service. gen may be nil, in which case Extract
// is a no-op.
func NewService(store Store, gen llm.Generator, systemInstruction string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, gen: gen, system: systemInstruction, logger: logger}
}

// GetContext returns the most recent entries of each requested layer.
// Layers without entries are omitted.
func (s *Service) GetContext(ctx context.Context, userID string, layers []string) (models.MemoryContext, error) {
	out := make(models.MemoryContext, len(layers))
	for _, layer := range layers {
		mems, err := s.store.ListMemories(ctx, userID, layer, perLayerLimit)
		if err != nil {
			return nil, fmt.Errorf("list %s memories: %w", layer, err)
		}
		for _, m := range mems {
			out[layer] = append(out[layer], m.Content)
		}
	}
	return out, nil
}

type extracted struct {
	Layer   string `json:"layer"`
	Content string `json:"content"`
}

// Extract derives memories from an exchange and stores them. It returns the
// number of memories written.
func (s *Service) Extract(ctx context.Context, d models.MemoryDirective) (int, error) {
	if s.gen == nil {
		return 0, nil
	}

	prompt := fmt.Sprintf("User said:\n%s\n\nAssistant replied:\n%s", d.Prompt, d.Response)
	text, err := s.gen.Generate(ctx, []llm.Content{llm.TextContent(llm.RoleUser, prompt)}, llm.GenerateOptions{
		SystemInstruction: s.system,
		ResponseFormat:    llm.FormatJSON,
	})
	if err != nil {
		return 0, fmt.Errorf("extract memories: %w", err)
	}

	var items []extracted
	if err := llm.DecodeJSON(text, &items); err != nil {
		return 0, fmt.Errorf("extract memories: %w", err)
	}

	written := 0
	for _, it := range items {
		layer := strings.ToLower(strings.TrimSpace(it.Layer))
		content := strings.TrimSpace(it.Content)
		if content == "" || !knownLayer(layer) {
			s.logger.Debug("skipping extracted memory", "layer", it.Layer)
			continue
		}
		_, err := s.store.AddMemory(ctx, models.Memory{
			UserID:    d.UserID,
			Layer:     layer,
			Content:   content,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			return written, fmt.Errorf("add memory: %w", err)
		}
		written++
	}
	return written, nil
}

// FormatContext renders a memory context for inclusion in a system
// instruction. It returns "" for an empty context.
func FormatContext(mc models.MemoryContext, layers []string) string {
	if mc.Empty() {
		return ""
	}
	var b strings.Builder
	b.WriteString("What you know about the user:\n")
	for _, layer := range layers {
		entries := mc[layer]
		if len(entries) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s:\n", layer)
		for _, e := range entries {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}
	return b.String()
}

func knownLayer(layer string) bool {
	for _, l := range DefaultLayers {
		if l == layer {
			return true
		}
	}
	return false
}
