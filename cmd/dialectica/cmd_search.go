package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"dialectica/internal/types"
)

var (
	searchStage string
	searchTopK  int
)

var searchCmd = &cobra.Command{
	Use:   "search <session-id> <query>",
	Short: "Search indexed documents",
	Long:  `Semantic search over a session's indexed documents. Requires embedding.enabled in the config.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if a.indexer == nil {
				return types.NewConfigError("embedding is disabled; enable it in the config to search")
			}

			var meta *types.IndexMetadata
			if searchStage != "" {
				meta = &types.IndexMetadata{StageSlug: searchStage}
			}
			matches, err := a.indexer.Search(context.Background(), args[0], args[1], searchTopK, meta)
			if err != nil {
				return err
			}
			if len(matches) == 0 {
				fmt.Println(mutedStyle.Render("no matches"))
				return nil
			}

			for _, m := range matches {
				fmt.Printf("%s  %s  %s\n",
					okStyle.Render(fmt.Sprintf("%.3f", m.Score)),
					labelStyle.Render(m.Chunk.StageSlug+"/"+m.Chunk.ModelID),
					valueStyle.Render(m.Chunk.DocumentKey))
				fmt.Println(mutedStyle.Render("  " + truncate(strings.TrimSpace(m.Chunk.Content), 160)))
			}
			return nil
		})
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchStage, "stage", "", "restrict to one stage")
	searchCmd.Flags().IntVar(&searchTopK, "top", 8, "number of results")
}
