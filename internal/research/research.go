// Package research implements multi-query deep research on top of a
// search-grounded generation backend.
package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/switchboard/internal/llm"
	"github.com/raphaelgruber/switchboard/internal/metrics"
	"github.com/raphaelgruber/switchboard/internal/models"
)

// Defaults for Options.
const (
	DefaultMaxQueries  = 4
	DefaultConcurrency = 3
)

// Research stages reported through Progress.
const (
	StagePlanning     = "planning"
	StageSearching    = "searching"
	StageSynthesizing = "synthesizing"
)

// ErrNoFindings is returned when every sub-query failed.
var ErrNoFindings = errors.New("research produced no findings")

// Progress describes how far a research run has got.
type Progress struct {
	Stage     string `json:"stage"`
	Message   string `json:"message"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

// Result is the outcome of a research run.
type Result struct {
	Answer  string
	Sources []models.GroundingReference
}

// Options configure a Service.
type Options struct {
	SystemInstruction string
	MaxQueries        int
	Concurrency       int
	Logger            *slog.Logger
	Metrics           *metrics.Collector
}

// Service runs deep research. It holds no per-conversation state and is
// safe for concurrent use.
type Service struct {
	gen         llm.Generator
	system      string
	maxQueries  int
	concurrency int
	logger      *slog.Logger
	metrics     *metrics.Collector
}

// NewService creates a research service.
func NewService(gen llm.Generator, opts Options) *Service {
	if opts.MaxQueries <= 0 {
		opts.MaxQueries = DefaultMaxQueries
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		gen:         gen,
		system:      opts.SystemInstruction,
		maxQueries:  opts.MaxQueries,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}
}

type finding struct {
	query   string
	text    string
	sources []models.GroundingReference
}

// Research plans sub-queries for query, searches them concurrently and
// synthesises a report. onProgress may be nil; calls to it are serialised.
func (s *Service) Research(ctx context.Context, query string, onProgress func(Progress)) (Result, error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordTiming(metrics.OpResearch, time.Since(start))
		}
	}()

	var progressMu sync.Mutex
	report := func(p Progress) {
		if onProgress == nil {
			return
		}
		progressMu.Lock()
		defer progressMu.Unlock()
		onProgress(p)
	}

	report(Progress{Stage: StagePlanning, Message: "Planning research"})
	queries := s.plan(ctx, query)
	total := len(queries)
	report(Progress{Stage: StageSearching, Message: fmt.Sprintf("Searching %d sources", total), Total: total})

	findings := make([]*finding, total)
	var done int
	var doneMu sync.Mutex

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.concurrency)
	for i, q := range queries {
		eg.Go(func() error {
			f, err := s.search(egCtx, q)
			if err != nil {
				if egCtx.Err() != nil {
					return egCtx.Err()
				}
				s.logger.Warn("research sub-query failed", "query", q, "error", err)
			} else {
				findings[i] = f
			}

			doneMu.Lock()
			done++
			n := done
			doneMu.Unlock()
			report(Progress{Stage: StageSearching, Message: q, Completed: n, Total: total})
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Result{}, fmt.Errorf("research: %w", err)
	}

	var kept []*finding
	for _, f := range findings {
		if f != nil {
			kept = append(kept, f)
		}
	}
	if len(kept) == 0 {
		return Result{}, ErrNoFindings
	}

	report(Progress{Stage: StageSynthesizing, Message: "Writing report", Completed: total, Total: total})
	answer, err := s.synthesize(ctx, query, kept)
	if err != nil {
		return Result{}, fmt.Errorf("synthesize: %w", err)
	}

	return Result{Answer: answer, Sources: mergeSources(kept)}, nil
}

// plan asks the model for sub-queries. On any failure the original query is
// searched on its own.
func (s *Service) plan(ctx context.Context, query string) []string {
	prompt := fmt.Sprintf(`Break this research question into at most %d focused web search queries.
Reply with JSON only: {"queries": [string]}

Question: %s`, s.maxQueries, query)

	text, err := s.gen.Generate(ctx, []llm.Content{llm.TextContent(llm.RoleUser, prompt)}, llm.GenerateOptions{
		SystemInstruction: s.system,
		ResponseFormat:    llm.FormatJSON,
	})
	if err != nil {
		s.logger.Warn("research planning failed", "error", err)
		return []string{query}
	}

	var resp struct {
		Queries []string `json:"queries"`
	}
	if err := llm.DecodeJSON(text, &resp); err != nil {
		s.logger.Warn("research plan not parseable", "error", err)
		return []string{query}
	}

	var out []string
	seen := make(map[string]bool)
	for _, q := range resp.Queries {
		q = strings.TrimSpace(q)
		if q == "" || seen[q] {
			continue
		}
		seen[q] = true
		out = append(out, q)
		if len(out) == s.maxQueries {
			break
		}
	}
	if len(out) == 0 {
		return []string{query}
	}
	return out
}

func (s *Service) search(ctx context.Context, query string) (*finding, error) {
	f := &finding{query: query}
	var b strings.Builder
	stream := s.gen.StreamGenerate(ctx, s.system, []llm.Content{llm.TextContent(llm.RoleUser, query)}, llm.StreamOptions{GoogleSearch: true})
	for chunk, err := range stream {
		if err != nil {
			return nil, err
		}
		b.WriteString(chunk.Text)
		f.sources = append(f.sources, chunk.Grounding...)
	}
	f.text = strings.TrimSpace(b.String())
	if f.text == "" {
		return nil, fmt.Errorf("empty search result")
	}
	return f, nil
}

func (s *Service) synthesize(ctx context.Context, query string, findings []*finding) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\n\nFindings:\n", query)
	for i, f := range findings {
		fmt.Fprintf(&b, "\n[%d] %s\n%s\n", i+1, f.query, f.text)
	}
	b.WriteString("\nWrite a well-structured report answering the question. Use markdown headings and cite findings by number.")

	return s.gen.Generate(ctx, []llm.Content{llm.TextContent(llm.RoleUser, b.String())}, llm.GenerateOptions{
		SystemInstruction: s.system,
	})
}

func mergeSources(findings []*finding) []models.GroundingReference {
	var out []models.GroundingReference
	seen := make(map[string]bool)
	for _, f := range findings {
		for _, src := range f.sources {
			if seen[src.URI] {
				continue
			}
			seen[src.URI] = true
			out = append(out, src)
		}
	}
	return out
}
