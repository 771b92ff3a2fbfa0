package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"dialectica/internal/recipe"
	"dialectica/internal/store"
	"dialectica/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show session progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			return printStatus(a, args[0])
		})
	},
}

func printStatus(a *app, sessionID string) error {
	sess, err := a.store.GetSession(sessionID)
	if err != nil {
		return err
	}
	st, err := a.template.Stage(sess.CurrentStage)
	if err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString(kv("session", sess.ID) + "\n")
	b.WriteString(kv("stage", st.DisplayName) + "  " + statusColor(sess.Status) + "\n")
	b.WriteString(kv("iteration", fmt.Sprintf("%d", sess.Iteration)) + "\n")
	b.WriteString(kv("models", strings.Join(sess.SelectedModels, ", ")) + "\n")

	jobs, err := a.store.ListStageJobs(sessionID, sess.CurrentStage, sess.Iteration)
	if err != nil {
		return err
	}
	if len(jobs) > 0 {
		counts := make(map[types.JobStatus]int)
		for _, j := range jobs {
			counts[j.Status]++
		}
		var parts []string
		for _, s := range []types.JobStatus{
			types.JobStatusPending, types.JobStatusProcessing, types.JobStatusRetrying,
			types.JobStatusPendingContinuation, types.JobStatusWaitingForChildren,
			types.JobStatusPendingNextStep, types.JobStatusCompleted, types.JobStatusFailed,
		} {
			if counts[s] > 0 {
				parts = append(parts, fmt.Sprintf("%s %d", s, counts[s]))
			}
		}
		b.WriteString(kv("jobs", strings.Join(parts, ", ")) + "\n")
	}

	docs, err := a.store.LatestContributions(sessionID, sess.Iteration, store.ContributionFilter{
		StageSlug: sess.CurrentStage,
	})
	if err != nil {
		return err
	}
	produced := 0
	for _, d := range docs {
		if d.Type != types.ContributionSeedPrompt && d.Type != types.ContributionFeedback {
			produced++
		}
	}
	expected := expectedOutputs(st, len(sess.SelectedModels))
	b.WriteString(kv("documents", fmt.Sprintf("%d / %d", produced, expected)) + "\n")

	in, out, err := a.store.SessionTokenTotals(sessionID)
	if err != nil {
		return err
	}
	b.WriteString(kv("tokens", fmt.Sprintf("%d in / %d out", in, out)))

	fmt.Println(boxStyle.Render(b.String()))
	return nil
}

// expectedOutputs computes the stage's full fan-out for n models, counting
// header contexts and documents across all steps.
func expectedOutputs(st *recipe.Stage, n int) int {
	total := 0
	for i := range st.Steps {
		step := &st.Steps[i]
		units := 1
		switch step.Granularity {
		case recipe.GranularityPairwiseOrigin:
			units = n
		case recipe.GranularityPerSourceGroup:
			units = n * n
		}
		total += n * units * len(step.DocumentKeys())
	}
	return total
}
