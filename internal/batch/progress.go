package batch

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// progressBar renders an in-place terminal progress bar with the bytes saved
// so far and the last finished file. It refreshes at a fixed interval and
// supports concurrent Done calls from the workers.
type progressBar struct {
	out       io.Writer
	total     int64
	processed atomic.Int64
	saved     atomic.Int64
	last      atomic.Pointer[string]
	label     string
	barWidth  int
	start     time.Time
	done      chan struct{}
	stopped   chan struct{}
	mu        sync.Mutex
}

func newProgressBar(out io.Writer, label string, total int64) *progressBar {
	pb := &progressBar{
		out:      out,
		total:    total,
		label:    label,
		barWidth: 30,
		start:    time.Now(),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go pb.run()
	return pb
}

// Done marks job as processed. Only converted files count towards the
// bytes saved. Safe for concurrent use.
func (pb *progressBar) Done(job Job, out Outcome, converted bool) {
	if converted {
		pb.saved.Add(out.InBytes - out.OutBytes)
	}
	name := filepath.Base(job.Input)
	pb.last.Store(&name)
	pb.processed.Add(1)
}

// Finish stops the refresh loop and prints the final bar state with a newline.
func (pb *progressBar) Finish() {
	close(pb.done)
	<-pb.stopped
	pb.draw()
	fmt.Fprint(pb.out, "\n")
}

func (pb *progressBar) run() {
	defer close(pb.stopped)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-pb.done:
			return
		case <-ticker.C:
			pb.draw()
		}
	}
}

func (pb *progressBar) draw() {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	processed := pb.processed.Load()
	total := pb.total

	var frac float64
	if total > 0 {
		frac = float64(processed) / float64(total)
	}
	if frac > 1 {
		frac = 1
	}

	filled := int(float64(pb.barWidth) * frac)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", pb.barWidth-filled)

	saved := pb.saved.Load()
	sign := ""
	if saved < 0 {
		sign, saved = "-", -saved
	}
	var last string
	if p := pb.last.Load(); p != nil {
		last = "  " + *p
	}

	fmt.Fprintf(pb.out, "\r%s [%s] %3.0f%%  %d/%d files  saved %s%s  %s%s\033[K",
		pb.label, bar, frac*100, processed, total, sign, HumanSize(saved),
		formatDuration(time.Since(pb.start)), last)
}

// HumanSize formats a byte count with a binary unit (e.g. "1.5 MB").
func HumanSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// formatDuration formats a duration concisely (e.g. "1m23s", "45s", "0s").
func formatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) - m*60
	return fmt.Sprintf("%dm%02ds", m, s)
}
