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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/valpere/promptforge/internal"
)

var (
	refinePrompt       string
	refineInputFile    string
	refineOutputFile   string
	refineMode         string
	refineIterations   int
	refineCreatorModel string
	refineCriticModel  string
	refineJSON         bool
)

var refineCmd = &cobra.Command{
	Use:   "refine",
	Short: "Refine a single prompt",
	Long: `Refine a prompt through the creator/critic loop and print the final prompt.

The prompt is taken from -p, from a file given with -i, or from stdin.

Example:
  promptforge refine -p "Write a poem" -n 2
  promptforge refine -i prompt.txt --mode auto --json
  echo "Summarize this report" | promptforge refine`,
	RunE: runRefine,
}

func init() {
	refineCmd.Flags().StringVarP(&refinePrompt, "prompt", "p", "", "Prompt text to refine")
	refineCmd.Flags().StringVarP(&refineInputFile, "input", "i", "", "Read the prompt from a file")
	refineCmd.Flags().StringVarP(&refineOutputFile, "output", "o", "", "Write the result to a file instead of stdout")
	refineCmd.Flags().StringVarP(&refineMode, "mode", "m", string(internal.ModeUserDefined), "Iteration mode: user_defined or auto")
	refineCmd.Flags().IntVarP(&refineIterations, "iterations", "n", 0, "Iteration bound for user_defined mode (default refine.iterations)")
	refineCmd.Flags().StringVar(&refineCreatorModel, "creator-model", "", "Creator model (default refine.creator_model)")
	refineCmd.Flags().StringVar(&refineCriticModel, "critic-model", "", "Critic model (default refine.critic_model)")
	refineCmd.Flags().BoolVar(&refineJSON, "json", false, "Print the response object as JSON")

	rootCmd.AddCommand(refineCmd)
}

func runRefine(cmd *cobra.Command, args []string) error {
	prompt, err := readPrompt(cmd.InOrStdin())
	if err != nil {
		return err
	}

	iterations := refineIterations
	if !cmd.Flags().Changed("iterations") {
		iterations = cfg.Refine.Iterations
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	svc, err := buildService(db)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	resp, err := svc.Refine(ctx, internal.RefineRequest{
		Prompt:       prompt,
		Mode:         internal.Mode(refineMode),
		CreatorModel: refineCreatorModel,
		CriticModel:  refineCriticModel,
		Iterations:   iterations,
	})
	if err != nil {
		return fmt.Errorf("refinement failed: %w", err)
	}

	var out string
	if refineJSON {
		data, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode response: %w", err)
		}
		out = string(data)
	} else {
		out = resp.FinalPrompt
	}

	if refineOutputFile != "" {
		if err := os.WriteFile(refineOutputFile, []byte(out+"\n"), 0644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Run %s finished after %d iterations, written to %s\n", resp.RunID, resp.Iterations, refineOutputFile)
		return nil
	}

	fmt.Fprintf(os.Stderr, "Run %s finished after %d iterations\n", resp.RunID, resp.Iterations)
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

func readPrompt(stdin io.Reader) (string, error) {
	switch {
	case refinePrompt != "" && refineInputFile != "":
		return "", fmt.Errorf("use either --prompt or --input, not both")
	case refinePrompt != "":
		return refinePrompt, nil
	case refineInputFile != "":
		data, err := os.ReadFile(refineInputFile)
		if err != nil {
			return "", fmt.Errorf("failed to read input file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	default:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			return "", fmt.Errorf("no prompt given: use --prompt, --input or stdin")
		}
		return text, nil
	}
}
