package batch

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/valpere/promptforge/internal"
)

// OutputColumns are appended to every row of a batch output file.
var OutputColumns = []string{"run_id", "final_prompt", "iterations"}

// Outcome is the part of a finished refinement written back to the file.
type Outcome struct {
	RunID       string
	FinalPrompt string
	Iterations  int
}

// ReadCSV reads all records from r.
func ReadCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("CSV file is empty")
	}
	return records, nil
}

// Jobs builds one job per non-empty cell of column, skipping the first row
// when header is set. Each job copies template with Prompt replaced.
func Jobs(records [][]string, column int, header bool, template internal.RefineRequest) ([]Job, error) {
	if column < 0 {
		return nil, fmt.Errorf("column index must not be negative: %d", column)
	}

	var jobs []Job
	for rowIdx, row := range records {
		if header && rowIdx == 0 {
			continue
		}
		if column >= len(row) || strings.TrimSpace(row[column]) == "" {
			continue
		}
		req := template
		req.Prompt = row[column]
		jobs = append(jobs, Job{Index: rowIdx, Request: req})
	}
	return jobs, nil
}

// AppendOutcomes returns a copy of records with OutputColumns added. Rows
// without an outcome get empty cells.
func AppendOutcomes(records [][]string, header bool, outcomes map[int]Outcome) [][]string {
	width := 0
	for _, row := range records {
		width = max(width, len(row))
	}

	out := make([][]string, len(records))
	for rowIdx, row := range records {
		padded := make([]string, width, width+len(OutputColumns))
		copy(padded, row)

		switch o, ok := outcomes[rowIdx]; {
		case header && rowIdx == 0:
			padded = append(padded, OutputColumns...)
		case ok:
			padded = append(padded, o.RunID, o.FinalPrompt, strconv.Itoa(o.Iterations))
		default:
			padded = append(padded, "", "", "")
		}
		out[rowIdx] = padded
	}
	return out
}

// WriteCSV writes records to w.
func WriteCSV(w io.Writer, records [][]string) error {
	writer := csv.NewWriter(w)
	if err := writer.WriteAll(records); err != nil {
		return fmt.Errorf("failed to write output CSV: %w", err)
	}
	return nil
}
