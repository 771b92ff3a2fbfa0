package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"dialectica/internal/types"
)

var (
	initName   string
	initPrompt string
	initDomain string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a new project",
	RunE: func(cmd *cobra.Command, args []string) error {
		if initName == "" || initPrompt == "" {
			return fmt.Errorf("--name and --prompt are required")
		}
		return withApp(func(a *app) error {
			p := &types.Project{
				ID:                uuid.NewString(),
				UserID:            "local",
				Name:              initName,
				InitialPrompt:     initPrompt,
				DomainID:          initDomain,
				ProcessTemplateID: a.template.ID,
				Status:            "active",
			}
			if err := a.store.CreateProject(p); err != nil {
				return err
			}
			fmt.Println(titleStyle.Render("project created"))
			fmt.Println(kv("id", p.ID))
			fmt.Println(kv("name", p.Name))
			return nil
		})
	},
}

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			projects, err := a.store.ListProjects()
			if err != nil {
				return err
			}
			if len(projects) == 0 {
				fmt.Println(mutedStyle.Render("no projects yet; run 'dialectica init'"))
				return nil
			}
			for _, p := range projects {
				fmt.Printf("%s  %s  %s\n",
					valueStyle.Render(p.ID),
					titleStyle.Render(p.Name),
					mutedStyle.Render(p.CreatedAt.Format("2006-01-02")))
				fmt.Println("  " + mutedStyle.Render(truncate(p.InitialPrompt, 100)))
			}
			return nil
		})
	},
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func init() {
	initCmd.Flags().StringVar(&initName, "name", "", "project name")
	initCmd.Flags().StringVar(&initPrompt, "prompt", "", "initial problem statement")
	initCmd.Flags().StringVar(&initDomain, "domain", "", "domain overlay id (optional)")
}
