package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"dialectica/internal/usage"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show token usage totals",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			stats := a.tracker.Stats()

			var b strings.Builder
			b.WriteString(kv("total", formatCounts(stats.Total)) + "\n\n")
			writeBreakdown(&b, "by stage", stats.ByStage)
			writeBreakdown(&b, "by model", stats.ByModel)
			writeBreakdown(&b, "by operation", stats.ByOperation)

			fmt.Println(boxStyle.Render(strings.TrimRight(b.String(), "\n")))
			return nil
		})
	},
}

func writeBreakdown(b *strings.Builder, title string, m map[string]usage.TokenCounts) {
	if len(m) == 0 {
		return
	}
	b.WriteString(titleStyle.Render(title) + "\n")
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(fmt.Sprintf("  %s %s\n",
			labelStyle.Render(fmt.Sprintf("%-24s", k)),
			valueStyle.Render(formatCounts(m[k]))))
	}
	b.WriteString("\n")
}

func formatCounts(tc usage.TokenCounts) string {
	return fmt.Sprintf("%d in / %d out / %d total", tc.Input, tc.Output, tc.Total)
}
