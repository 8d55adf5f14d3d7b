/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/valpere/promptforge/internal/critic"
	"github.com/valpere/promptforge/internal/store"
)

var runsLimit int

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	promptStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("245")).Padding(0, 1)
	goodStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("142"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("228"))
	badStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	sectionStyle = lipgloss.NewStyle().Bold(true)
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect stored refinement runs",
	Long:  `List, show, delete and summarise refinement runs and their iterations.`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		runs, err := db.ListRuns(context.Background(), runsLimit)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}

		if len(runs) == 0 {
			fmt.Println("No runs stored.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tMODE\tITER\tLANG\tCREATED\tPROMPT")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\t%s\n",
				r.ID, r.Status, r.Mode, r.Iterations, r.MaxIterations, r.Language,
				r.CreatedAt.Local().Format("2006-01-02 15:04"),
				truncate(r.FinalPrompt, 40))
		}
		return w.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a run and every iteration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()
		run, err := db.GetRun(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get run: %w", err)
		}
		its, err := db.ListIterations(ctx, run.ID)
		if err != nil {
			return fmt.Errorf("failed to list iterations: %w", err)
		}

		fmt.Println(renderRun(run, its))
		return nil
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a run and its iterations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.DeleteRun(context.Background(), args[0]); err != nil {
			return fmt.Errorf("failed to delete run: %w", err)
		}
		fmt.Printf("Deleted run: %s\n", args[0])
		return nil
	},
}

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show run statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.Stats(context.Background())
		if err != nil {
			return fmt.Errorf("failed to get stats: %w", err)
		}

		fmt.Printf("Total runs:        %d\n", stats.TotalRuns)
		fmt.Printf("Completed:         %d\n", stats.CompletedRuns)
		fmt.Printf("Failed:            %d\n", stats.FailedRuns)
		fmt.Printf("Running:           %d\n", stats.RunningRuns)
		fmt.Printf("Iterations:        %d\n", stats.TotalIterations)
		fmt.Printf("Degraded critiques: %d\n", stats.DegradedCount)
		fmt.Printf("Average score:     %.2f\n", stats.AverageScore)
		return nil
	},
}

func renderRun(run *store.Run, its []store.Iteration) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Run "+run.ID) + "\n")
	field := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-9s", label)), value)
		}
	}
	field("status", statusStyle(run.Status).Render(run.Status))
	field("mode", run.Mode)
	field("creator", run.CreatorModel)
	field("critic", run.CriticModel)
	field("language", run.Language)
	field("cycles", fmt.Sprintf("%d (bound %d)", run.Iterations, run.MaxIterations))
	field("created", run.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	field("error", run.Error)

	for _, it := range its {
		b.WriteString("\n" + sectionStyle.Render(fmt.Sprintf("Iteration %d", it.Iteration)))
		if it.Score != nil {
			b.WriteString("  " + scoreStyle(*it.Score).Render(fmt.Sprintf("%d/10", *it.Score)))
		}
		if it.Degraded {
			b.WriteString("  " + warnStyle.Render("(critic reply was not JSON)"))
		}
		b.WriteString("\n" + promptStyle.Render(it.Prompt) + "\n")

		var c critic.Critique
		if len(it.Critique) > 0 && json.Unmarshal(it.Critique, &c) == nil {
			writeList(&b, "Strengths", c.Strengths)
			writeList(&b, "Weaknesses", c.Weaknesses)
			writeList(&b, "Suggestions", c.Suggestions)
		}
	}

	if run.FinalPrompt != "" {
		b.WriteString("\n" + titleStyle.Render("Final prompt") + "\n")
		b.WriteString(promptStyle.Render(run.FinalPrompt))
	}
	return b.String()
}

func writeList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(labelStyle.Render(label) + "\n")
	for _, item := range items {
		fmt.Fprintf(b, "  - %s\n", item)
	}
}

func statusStyle(status string) lipgloss.Style {
	switch status {
	case store.StatusCompleted:
		return goodStyle
	case store.StatusFailed:
		return badStyle
	default:
		return warnStyle
	}
}

func scoreStyle(score int) lipgloss.Style {
	switch {
	case score >= 8:
		return goodStyle
	case score >= 5:
		return warnStyle
	default:
		return badStyle
	}
}

func init() {
	rootCmd.AddCommand(runsCmd)

	runsListCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Maximum runs to list (0 = all)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsDeleteCmd)
	runsCmd.AddCommand(runsStatsCmd)
}
