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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Manage prompt memory",
	Long: `List, inspect and delete prompt memory entries. Each entry holds the latest
final state for prompts sharing a similar title, with a version that grows on
every matching run.`,
}

var memoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List prompt memory entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		entries, err := db.ListPrompts(context.Background())
		if err != nil {
			return fmt.Errorf("failed to list entries: %w", err)
		}

		if len(entries) == 0 {
			fmt.Println("No entries in prompt memory.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tVERSION\tUPDATED\tTITLE")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
				e.ID, e.CurrentVersion, e.UpdatedAt.Local().Format("2006-01-02 15:04"), e.Title)
		}
		return w.Flush()
	},
}

var memoryShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print the stored state of a memory entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		m, err := db.GetPrompt(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get entry: %w", err)
		}

		fmt.Println(titleStyle.Render(m.Title) + labelStyle.Render(fmt.Sprintf("  v%d", m.CurrentVersion)))
		var out bytes.Buffer
		if err := json.Indent(&out, m.State, "", "  "); err != nil {
			out.Reset()
			out.Write(m.State)
		}
		fmt.Println(out.String())
		return nil
	},
}

var memoryDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a prompt memory entry by ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.DeletePrompt(context.Background(), args[0]); err != nil {
			return fmt.Errorf("failed to delete entry: %w", err)
		}
		fmt.Printf("Deleted entry: %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(memoryCmd)

	memoryCmd.AddCommand(memoryListCmd)
	memoryCmd.AddCommand(memoryShowCmd)
	memoryCmd.AddCommand(memoryDeleteCmd)
}
