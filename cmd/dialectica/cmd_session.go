package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"dialectica/internal/stage"
	"dialectica/internal/usage"
)

var startModels []string

var startCmd = &cobra.Command{
	Use:   "start <project-id>",
	Short: "Start a dialectic session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			models := startModels
			if len(models) == 0 {
				models = a.cfg.Models.DefaultModels
			}
			sess, err := a.service.StartSession(args[0], models)
			if err != nil {
				return err
			}
			fmt.Println(titleStyle.Render("session started"))
			fmt.Println(kv("id", sess.ID))
			fmt.Println(kv("stage", sess.CurrentStage))
			fmt.Println(kv("models", strings.Join(sess.SelectedModels, ", ")))
			fmt.Println(mutedStyle.Render("next: dialectica generate " + sess.ID))
			return nil
		})
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions <project-id>",
	Short: "List a project's sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			sessions, err := a.store.ListSessions(args[0])
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println(mutedStyle.Render("no sessions for this project"))
				return nil
			}
			for _, sess := range sessions {
				fmt.Printf("%s  %s  %s  %s\n",
					valueStyle.Render(sess.ID),
					labelStyle.Render(sess.CurrentStage),
					statusColor(sess.Status),
					mutedStyle.Render(fmt.Sprintf("iteration %d", sess.Iteration)))
			}
			return nil
		})
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate <session-id>",
	Short: "Generate contributions for the session's current stage",
	Long: `Plans the current stage into a job DAG and runs the worker pool until
the queue drains. Interrupting with Ctrl-C is safe: jobs already claimed
finish their transition and the rest stay queued.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			sessionID := args[0]
			pool, err := a.newPool()
			if err != nil {
				return err
			}

			sess, err := a.store.GetSession(sessionID)
			if err != nil {
				return err
			}
			startIn, startOut, err := a.store.SessionTokenTotals(sessionID)
			if err != nil {
				return err
			}

			jobs, err := a.service.GenerateContributions(sessionID)
			if err != nil {
				return err
			}
			fmt.Printf("%s planned %d root jobs for stage %s\n",
				okStyle.Render("»"), len(jobs), sess.CurrentStage)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := pool.RunUntilIdle(ctx); err != nil {
				return err
			}

			endIn, endOut, err := a.store.SessionTokenTotals(sessionID)
			if err != nil {
				return err
			}
			a.tracker.Track(usage.Event{
				Stage:     sess.CurrentStage,
				SessionID: sessionID,
				Operation: "generation",
				Input:     endIn - startIn,
				Output:    endOut - startOut,
			})

			return printStatus(a, sessionID)
		})
	},
}

var submitFeedback []string

var submitCmd = &cobra.Command{
	Use:   "submit <session-id>",
	Short: "Sign off the completed stage and advance the session",
	Long: `Submits the current stage once generation has finished. Feedback entries
use the form model:document_key=text and are shown to that model in the
next stage. Submission is the only operation that advances the stage.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			sess, err := a.store.GetSession(args[0])
			if err != nil {
				return err
			}

			items, err := parseFeedback(submitFeedback)
			if err != nil {
				return err
			}
			advanced, err := a.service.SubmitStageResponses(stage.Submission{
				SessionID: sess.ID,
				StageSlug: sess.CurrentStage,
				Feedback:  items,
			})
			if err != nil {
				return err
			}

			fmt.Println(titleStyle.Render("stage submitted"))
			fmt.Println(kv("stage", advanced.CurrentStage))
			fmt.Println(kv("status", advanced.Status))
			return nil
		})
	},
}

// parseFeedback parses model:document_key=text entries.
func parseFeedback(entries []string) ([]stage.FeedbackItem, error) {
	var items []stage.FeedbackItem
	for _, entry := range entries {
		head, text, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("feedback %q: expected model:document_key=text", entry)
		}
		modelID, docKey, ok := strings.Cut(head, ":")
		if !ok || modelID == "" || docKey == "" {
			return nil, fmt.Errorf("feedback %q: expected model:document_key=text", entry)
		}
		items = append(items, stage.FeedbackItem{
			ModelID:     modelID,
			DocumentKey: docKey,
			Content:     text,
		})
	}
	return items, nil
}

func statusColor(status string) string {
	switch {
	case strings.HasSuffix(status, "_completed"), status == "iteration_complete_pending_review":
		return okStyle.Render(status)
	case strings.HasPrefix(status, "running_"):
		return warnStyle.Render(status)
	default:
		return mutedStyle.Render(status)
	}
}

func init() {
	startCmd.Flags().StringSliceVar(&startModels, "models", nil, "models for the panel (default: config default_models)")
	submitCmd.Flags().StringArrayVar(&submitFeedback, "feedback", nil, "feedback entry model:document_key=text (repeatable)")
}
