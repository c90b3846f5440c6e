package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/switchboard/internal/metrics"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show usage statistics",
	Long: `Show runtime statistics, token usage and per-user feature usage.

In-process statistics only cover the current invocation, so this is mostly
useful together with --server.

Examples:
  switchboard usage --server http://localhost:8585`,
	Args: cobra.NoArgs,
	RunE: runUsage,
}

func runUsage(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	b, err := openBackend(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("close backend", "error", err)
		}
	}()

	stats, err := b.Stats(ctx)
	if err != nil {
		return fmt.Errorf("get server stats: %w", err)
	}
	printServerStats(stats)
	fmt.Println()
	printFeatureUsage(stats.Usage)
	return nil
}

// printServerStats displays server runtime statistics.
func printServerStats(stats *metrics.Snapshot) {
	fmt.Printf("Server Statistics (in-memory, since restart)\n")
	fmt.Printf("═══════════════════════════════════════════════\n")
	fmt.Printf("Uptime: %.1f seconds\n", stats.UptimeSeconds)

	sections := []struct {
		name   string
		op     *metrics.OperationSnapshot
		tokens bool
	}{
		{"Classify", stats.Classify, true},
		{"LLM Generate", stats.LLMGenerate, true},
		{"LLM Stream", stats.LLMStream, true},
		{"Image", stats.Image, false},
		{"Research", stats.Research, false},
		{"Persist", stats.Persist, false},
	}
	for _, s := range sections {
		if s.op == nil {
			continue
		}
		fmt.Printf("\n%s:\n", s.name)
		printOpStats(s.op)
		if s.tokens {
			printTokenStats(s.op)
		}
	}
}

// printOpStats displays timing statistics for an operation.
func printOpStats(op *metrics.OperationSnapshot) {
	fmt.Printf("  Calls: %d, Total: %dms\n", op.Count, op.TotalTimeMs)
	fmt.Printf("  Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
}

// printTokenStats displays token statistics if available.
func printTokenStats(op *metrics.OperationSnapshot) {
	if op.TotalInputTokens == nil || op.TotalOutputTokens == nil {
		return
	}
	fmt.Printf("  Tokens In:  %d total", *op.TotalInputTokens)
	if op.AvgInputTokens != nil {
		fmt.Printf(", avg %.0f", *op.AvgInputTokens)
	}
	if op.MinInputTokens != nil && op.MaxInputTokens != nil {
		fmt.Printf(", min %d, max %d", *op.MinInputTokens, *op.MaxInputTokens)
	}
	fmt.Println()

	fmt.Printf("  Tokens Out: %d total", *op.TotalOutputTokens)
	if op.AvgOutputTokens != nil {
		fmt.Printf(", avg %.0f", *op.AvgOutputTokens)
	}
	if op.MinOutputTokens != nil && op.MaxOutputTokens != nil {
		fmt.Printf(", min %d, max %d", *op.MinOutputTokens, *op.MaxOutputTokens)
	}
	fmt.Println()
}

func printFeatureUsage(usage []metrics.FeatureUsage) {
	fmt.Printf("Feature Usage\n")
	fmt.Printf("═══════════════════════════════════════\n")
	if len(usage) == 0 {
		fmt.Println("No feature usage recorded.")
		return
	}
	for _, u := range usage {
		fmt.Printf("  %-20s %-10s %6d\n", u.UserID, u.Feature, u.Count)
	}
}
