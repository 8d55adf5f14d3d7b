// Package batch refines many independent prompts concurrently.
package batch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/valpere/promptforge/internal"
)

// Refiner runs one refinement to completion.
type Refiner interface {
	Refine(ctx context.Context, req internal.RefineRequest) (internal.RefineResponse, error)
}

type Config struct {
	// Workers bounds how many refinements run at once.
	Workers int
	// Timeout applies to each refinement; zero means none.
	Timeout time.Duration
}

// Job is one prompt to refine. Index identifies it in the caller's input.
type Job struct {
	Index   int
	Request internal.RefineRequest
}

type Result struct {
	Index    int
	Response internal.RefineResponse
	Err      error
}

type Summary struct {
	// Results holds one entry per job, ordered by Index.
	Results   []Result
	Errors    []error
	Succeeded int
	Failed    int
}

type Pool struct {
	refiner Refiner
	config  Config
}

func New(refiner Refiner, config Config) *Pool {
	if config.Workers < 1 {
		config.Workers = 1
	}
	return &Pool{
		refiner: refiner,
		config:  config,
	}
}

// Execute refines every job. onResult, when non-nil, is called once per job
// as it finishes, always from the calling goroutine.
func (p *Pool) Execute(ctx context.Context, jobs []Job, onResult func(Result)) *Summary {
	summary := &Summary{
		Results: make([]Result, 0, len(jobs)),
		Errors:  make([]error, 0),
	}

	jobCh := make(chan Job)
	resultCh := make(chan Result, len(jobs))

	var wg sync.WaitGroup
	for w := 0; w < min(p.config.Workers, max(len(jobs), 1)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				resultCh <- p.run(ctx, job)
			}
		}()
	}

	go func() {
		defer close(jobCh)
		for _, job := range jobs {
			select {
			case jobCh <- job:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	done := make(map[int]bool, len(jobs))
	for res := range resultCh {
		done[res.Index] = true
		summary.add(res)
		if onResult != nil {
			onResult(res)
		}
	}

	// Jobs never handed to a worker because ctx ended.
	for _, job := range jobs {
		if !done[job.Index] {
			res := Result{Index: job.Index, Err: fmt.Errorf("prompt %d: %w", job.Index, ctx.Err())}
			summary.add(res)
			if onResult != nil {
				onResult(res)
			}
		}
	}

	sort.Slice(summary.Results, func(i, j int) bool {
		return summary.Results[i].Index < summary.Results[j].Index
	})
	return summary
}

func (p *Pool) run(ctx context.Context, job Job) Result {
	jobCtx := ctx
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	resp, err := p.refiner.Refine(jobCtx, job.Request)
	if err != nil {
		return Result{Index: job.Index, Err: fmt.Errorf("prompt %d: %w", job.Index, err)}
	}
	return Result{Index: job.Index, Response: resp}
}

func (s *Summary) add(res Result) {
	s.Results = append(s.Results, res)
	if res.Err != nil {
		s.Errors = append(s.Errors, res.Err)
		s.Failed++
		return
	}
	s.Succeeded++
}
