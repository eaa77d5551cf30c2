package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/khanhnv2901/netlab/internal/probe"
)

// progressPrinter renders a single self-overwriting line while a scan runs.
type progressPrinter struct {
	out      io.Writer
	total    int
	name     string
	mu       sync.Mutex
	open     int
	closed   int
	duration float64
	updates  chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newProgressPrinter(out io.Writer, total int, name string) *progressPrinter {
	if total <= 0 {
		total = 1
	}
	return &progressPrinter{
		out:     out,
		total:   total,
		name:    name,
		updates: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (p *progressPrinter) Start() {
	p.wg.Add(1)
	go p.loop()
}

// Observe is handed to the scheduler and is called once per finished port.
func (p *progressPrinter) Observe(r probe.ProbeResult) {
	ms := 0.0
	if r.ElapsedMs != nil {
		ms = *r.ElapsedMs
	}
	p.Increment(r.Status == probe.StatusOpen, ms)
}

func (p *progressPrinter) Increment(open bool, elapsedMs float64) {
	p.mu.Lock()
	if open {
		p.open++
		p.duration += elapsedMs
	} else {
		p.closed++
	}
	p.mu.Unlock()

	select {
	case p.updates <- struct{}{}:
	default:
	}
}

func (p *progressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
	fmt.Fprintf(p.out, "\r%s\r", strings.Repeat(" ", 80))
	p.print()
	fmt.Fprintln(p.out)
}

func (p *progressPrinter) loop() {
	defer p.wg.Done()
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-p.updates:
			p.print()
		case <-ticker.C:
			p.print()
		case <-p.done:
			return
		}
	}
}

func (p *progressPrinter) print() {
	p.mu.Lock()
	open := p.open
	closed := p.closed
	dur := p.duration
	completed := open + closed
	if completed > p.total {
		p.total = completed
	}
	total := p.total
	p.mu.Unlock()

	percent := (float64(completed) / float64(total)) * 100
	avg := 0.0
	if open > 0 {
		avg = dur / float64(open)
	}

	line := fmt.Sprintf("\r[%s] Progress: %d/%d (%.1f%%) Open:%d Closed:%d Avg:%.1fms",
		p.name, completed, total, percent, open, closed, avg)
	fmt.Fprintf(p.out, "%s", line)
}
