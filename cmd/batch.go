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
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/valpere/promptforge/internal"
	"github.com/valpere/promptforge/internal/batch"
	"github.com/valpere/promptforge/internal/store"
)

var (
	batchInputFile    string
	batchOutputFile   string
	batchColumn       int
	batchHeader       bool
	batchWorkers      int
	batchMode         string
	batchIterations   int
	batchCreatorModel string
	batchCriticModel  string
	batchResume       string
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Refine every prompt in a CSV column",
	Long: `Refine the prompts found in one column of a CSV file concurrently.

The output CSV keeps every input column and appends run_id, final_prompt and
iterations. Rows whose refinement fails are reported and left without output.

A checkpoint ID is printed at the start of each run. If the job is interrupted,
use --resume with that ID to skip rows that already finished.

Example:
  promptforge batch -i prompts.csv -o refined.csv -c 1 --header
  promptforge batch -i prompts.csv -o refined.csv -c 1 --header --resume cp_...`,
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().StringVarP(&batchInputFile, "input", "i", "", "Input CSV file (required)")
	batchCmd.Flags().StringVarP(&batchOutputFile, "output", "o", "", "Output CSV file (required)")
	batchCmd.Flags().IntVarP(&batchColumn, "column", "c", 0, "Column holding the prompts (0-indexed)")
	batchCmd.Flags().BoolVar(&batchHeader, "header", false, "Treat the first row as a header")
	batchCmd.Flags().IntVarP(&batchWorkers, "workers", "w", 0, "Concurrent refinements (default batch.workers)")
	batchCmd.Flags().StringVarP(&batchMode, "mode", "m", string(internal.ModeUserDefined), "Iteration mode: user_defined or auto")
	batchCmd.Flags().IntVarP(&batchIterations, "iterations", "n", 0, "Iteration bound for user_defined mode (default refine.iterations)")
	batchCmd.Flags().StringVar(&batchCreatorModel, "creator-model", "", "Creator model (default refine.creator_model)")
	batchCmd.Flags().StringVar(&batchCriticModel, "critic-model", "", "Critic model (default refine.critic_model)")
	batchCmd.Flags().StringVar(&batchResume, "resume", "", "Resume from checkpoint ID (printed at start of original run)")

	batchCmd.MarkFlagRequired("input")
	batchCmd.MarkFlagRequired("output")

	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	if batchInputFile == batchOutputFile {
		return fmt.Errorf("input file and output file cannot be the same")
	}

	f, err := os.Open(batchInputFile)
	if err != nil {
		return fmt.Errorf("failed to open input CSV: %w", err)
	}
	records, err := batch.ReadCSV(f)
	f.Close()
	if err != nil {
		return err
	}

	iterations := batchIterations
	if !cmd.Flags().Changed("iterations") {
		iterations = cfg.Refine.Iterations
	}
	jobs, err := batch.Jobs(records, batchColumn, batchHeader, internal.RefineRequest{
		Mode:         internal.Mode(batchMode),
		CreatorModel: batchCreatorModel,
		CriticModel:  batchCriticModel,
		Iterations:   iterations,
	})
	if err != nil {
		return err
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signalContext()
	defer stop()

	checkpointID, outcomes, err := loadCheckpoint(ctx, db)
	if err != nil {
		return err
	}

	pending := jobs[:0:0]
	for _, job := range jobs {
		if _, done := outcomes[job.Index]; !done {
			pending = append(pending, job)
		}
	}

	svc, err := buildService(db)
	if err != nil {
		return err
	}

	workers := batchWorkers
	if workers <= 0 {
		workers = cfg.Batch.Workers
	}

	fmt.Fprintf(os.Stderr, "Refining %d prompts with %d workers (%d already done)\n", len(pending), workers, len(jobs)-len(pending))

	pool := batch.New(svc, batch.Config{Workers: workers})
	finished := 0
	summary := pool.Execute(ctx, pending, func(res batch.Result) {
		finished++
		if res.Err != nil {
			fmt.Fprintf(os.Stderr, "[%d/%d] Row %d failed: %v\n", finished, len(pending), res.Index, res.Err)
			return
		}

		outcome := batch.Outcome{
			RunID:       res.Response.RunID,
			FinalPrompt: res.Response.FinalPrompt,
			Iterations:  res.Response.Iterations,
		}
		outcomes[res.Index] = outcome
		fmt.Fprintf(os.Stderr, "[%d/%d] Row %d refined (run %s)\n", finished, len(pending), res.Index, outcome.RunID)

		if checkpointID != "" {
			item := store.BatchItem{RunID: outcome.RunID, FinalPrompt: outcome.FinalPrompt, Iterations: outcome.Iterations}
			if err := db.SaveBatchItem(context.WithoutCancel(ctx), checkpointID, res.Index, item); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint row %d: %v\n", res.Index, err)
			}
		}
	})

	if err := writeBatchOutput(batch.AppendOutcomes(records, batchHeader, outcomes)); err != nil {
		return err
	}

	if summary.Failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d prompts failed", summary.Failed, len(pending))
		if checkpointID != "" {
			fmt.Fprintf(os.Stderr, "; rerun with --resume %s to retry them", checkpointID)
		}
		fmt.Fprintln(os.Stderr)
		return fmt.Errorf("batch finished with %d failures", summary.Failed)
	}

	if checkpointID != "" {
		_ = db.CompleteBatchCheckpoint(ctx, checkpointID)
	}

	fmt.Printf("Batch refined successfully: %s\n", batchOutputFile)
	return nil
}

// loadCheckpoint resumes the checkpoint named by --resume or starts a new one.
// A checkpoint that cannot be created only disables resuming.
func loadCheckpoint(ctx context.Context, db *store.Store) (string, map[int]batch.Outcome, error) {
	outcomes := make(map[int]batch.Outcome)

	if batchResume == "" {
		id, err := db.CreateBatchCheckpoint(ctx, batchInputFile, batchOutputFile, batchColumn)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to create checkpoint: %v\n", err)
			return "", outcomes, nil
		}
		fmt.Fprintf(os.Stderr, "Checkpoint ID: %s (use --resume %s to resume if interrupted)\n", id, id)
		return id, outcomes, nil
	}

	cp, err := db.GetBatchCheckpoint(ctx, batchResume)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if cp.Column != batchColumn {
		return "", nil, fmt.Errorf("checkpoint %s was created for column %d, not %d", cp.ID, cp.Column, batchColumn)
	}

	items, err := db.GetBatchItems(ctx, cp.ID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load checkpoint rows: %w", err)
	}
	for row, item := range items {
		outcomes[row] = batch.Outcome{RunID: item.RunID, FinalPrompt: item.FinalPrompt, Iterations: item.Iterations}
	}
	fmt.Fprintf(os.Stderr, "Resuming checkpoint %s (%d rows already done)\n", cp.ID, len(items))
	return cp.ID, outcomes, nil
}

func writeBatchOutput(records [][]string) error {
	if dir := filepath.Dir(batchOutputFile); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	out, err := os.Create(batchOutputFile)
	if err != nil {
		return fmt.Errorf("failed to create output CSV: %w", err)
	}
	defer out.Close()

	if err := batch.WriteCSV(out, records); err != nil {
		return fmt.Errorf("failed to write output CSV: %w", err)
	}
	return nil
}
