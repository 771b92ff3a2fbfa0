package main

import (
	"fmt"
	"sort"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"dialectica/internal/artifact"
	"dialectica/internal/recipe"
	"dialectica/internal/store"
	"dialectica/internal/types"
)

var (
	showStage string
	showModel string
	showRaw   bool
)

var showCmd = &cobra.Command{
	Use:   "show <session-id> [document-key]",
	Short: "Show generated documents",
	Long: `Without a document key, lists the latest documents for the stage.
With one, renders each model's version of that document.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			sess, err := a.store.GetSession(args[0])
			if err != nil {
				return err
			}
			stageSlug := showStage
			if stageSlug == "" {
				stageSlug = sess.CurrentStage
			}

			filter := store.ContributionFilter{StageSlug: stageSlug, ModelID: showModel}
			if len(args) == 2 {
				filter.DocumentKey = args[1]
			}
			docs, err := a.store.LatestContributions(sess.ID, sess.Iteration, filter)
			if err != nil {
				return err
			}

			var visible []*types.Contribution
			for _, d := range docs {
				if d.Type == types.ContributionSeedPrompt || d.Type == types.ContributionFeedback {
					continue
				}
				visible = append(visible, d)
			}
			if len(visible) == 0 {
				fmt.Println(mutedStyle.Render("no documents for stage " + stageSlug))
				return nil
			}

			if len(args) < 2 {
				listDocuments(visible, sourceStageName(a.template, stageSlug))
				return nil
			}
			return renderDocuments(a, visible)
		})
	},
}

// sourceStageName names the stage whose documents this stage's pairwise
// artifacts work from, for list annotations. Empty for the initial stage.
func sourceStageName(template *recipe.ProcessTemplate, slug string) string {
	src, ok, err := template.SourceStage(slug)
	if err != nil || !ok {
		return ""
	}
	return src.DisplayName
}

func listDocuments(docs []*types.Contribution, sourceStage string) {
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].ModelID != docs[j].ModelID {
			return docs[i].ModelID < docs[j].ModelID
		}
		return docs[i].DocumentKey < docs[j].DocumentKey
	})
	for _, d := range docs {
		fmt.Println(documentLine(d, sourceStage))
	}
}

// documentLine renders one listing row: model, key, pairwise lineage, edit
// version, and the attempt the surviving artifact came from.
func documentLine(d *types.Contribution, sourceStage string) string {
	line := fmt.Sprintf("%s  %s",
		labelStyle.Render(d.ModelID),
		valueStyle.Render(d.DocumentKey))
	if rel := d.Relationships; rel != nil && rel.SourceGroup != "" {
		note := "on "
		if sourceStage != "" {
			note += sourceStage + " by "
		}
		note += rel.SourceGroup
		if rel.PairedModelID != "" {
			note += " x " + rel.PairedModelID
		}
		line += mutedStyle.Render("  (" + note + ")")
	}
	if d.EditVersion > 1 {
		line += warnStyle.Render(fmt.Sprintf("  v%d", d.EditVersion))
	}
	if attempt, ok := artifact.AttemptFromFileName(d.FileName); ok && attempt > 0 {
		line += warnStyle.Render(fmt.Sprintf("  attempt %d", attempt))
	}
	return line
}

func renderDocuments(a *app, docs []*types.Contribution) error {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return err
	}

	for _, d := range docs {
		header := fmt.Sprintf("%s / %s", d.ModelID, d.DocumentKey)
		fmt.Println(titleStyle.Render(header))

		path := d.FullPath()
		if showRaw && d.RawResponsePath != "" {
			path = d.RawResponsePath
		}
		data, err := a.files.Read(path)
		if err != nil {
			return err
		}
		if showRaw || d.Type == types.ContributionHeaderContext {
			fmt.Println(string(data))
			continue
		}
		out, err := renderer.Render(string(data))
		if err != nil {
			return err
		}
		fmt.Print(out)
	}
	return nil
}

func init() {
	showCmd.Flags().StringVar(&showStage, "stage", "", "stage to show (default: current)")
	showCmd.Flags().StringVar(&showModel, "model", "", "restrict to one model")
	showCmd.Flags().BoolVar(&showRaw, "raw", false, "print the raw provider response")
}
