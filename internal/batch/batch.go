// Package batch converts many files on a fixed pool of workers.
package batch

import (
	"io"
	"os"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
)

// Config holds batch configuration.
type Config struct {
	Concurrency int // <= 0 means runtime.NumCPU()
	// Progress enables the terminal progress bar.
	Progress bool
	// ProgressOut receives the progress bar, os.Stderr when nil.
	ProgressOut io.Writer
}

// Job is one input file and the path its result goes to.
type Job struct {
	Index  int
	Input  string
	Output string
}

// Outcome reports what a Func did with a job.
type Outcome struct {
	InBytes  int64
	OutBytes int64
	// Skipped is set when the job succeeded without writing anything.
	Skipped bool
}

// Func processes a single job. It is called from several goroutines at once.
type Func func(Job) (Outcome, error)

// Failure pairs a job with the error it failed with.
type Failure struct {
	Job Job
	Err error
}

// Stats holds batch statistics.
type Stats struct {
	Files     int64
	Converted int64
	Skipped   int64
	Failed    int64
	InBytes   int64
	OutBytes  int64
}

// Run feeds jobs to the workers and waits for all of them. A failing job
// does not stop the others; failures are returned in job order.
func Run(cfg Config, jobs []Job, fn Func) (Stats, []Failure) {
	workers := cfg.Concurrency
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	var converted, skipped, inBytes, outBytes atomic.Int64
	var (
		mu       sync.Mutex
		failures []Failure
	)

	var pb *progressBar
	if cfg.Progress && len(jobs) > 0 {
		out := cfg.ProgressOut
		if out == nil {
			out = os.Stderr
		}
		pb = newProgressBar(out, "Quantizing", int64(len(jobs)))
	}

	ch := make(chan Job, workers*2)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range ch {
				out, err := fn(job)
				if pb != nil {
					pb.Done(job, out, err == nil && !out.Skipped)
				}
				if err != nil {
					mu.Lock()
					failures = append(failures, Failure{Job: job, Err: err})
					mu.Unlock()
					continue
				}
				inBytes.Add(out.InBytes)
				if out.Skipped {
					skipped.Add(1)
					continue
				}
				converted.Add(1)
				outBytes.Add(out.OutBytes)
			}
		}()
	}

	for _, j := range jobs {
		ch <- j
	}
	close(ch)
	wg.Wait()
	if pb != nil {
		pb.Finish()
	}

	sort.Slice(failures, func(a, b int) bool { return failures[a].Job.Index < failures[b].Job.Index })
	return Stats{
		Files:     int64(len(jobs)),
		Converted: converted.Load(),
		Skipped:   skipped.Load(),
		Failed:    int64(len(failures)),
		InBytes:   inBytes.Load(),
		OutBytes:  outBytes.Load(),
	}, failures
}
