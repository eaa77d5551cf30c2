package probe

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	consts "github.com/khanhnv2901/netlab/internal/shared/constants"
	apperrors "github.com/khanhnv2901/netlab/internal/shared/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Scheduler runs port probes through a bounded pull-based worker pool.
type Scheduler struct {
	Connector   PortConnector
	Concurrency int           // maximum simultaneous connects
	Timeout     time.Duration // per-connect timeout
	Budget      time.Duration // soft deadline for the whole batch
	MaxPorts    int
	Observer    func(ProbeResult) // called from worker goroutines
	Logger      *zap.Logger
}

// ScanPorts connects to every port of target and returns the open ones sorted by
// port. Refused and timed-out ports are both counted as closed. When the batch
// budget runs out, the scan stops claiming jobs and returns what has completed.
func (s *Scheduler) ScanPorts(ctx context.Context, target *Target, ports []uint16) (*ScanOutcome, error) {
	if target == nil {
		return nil, invalid("host", apperrors.ErrEmptyHost)
	}
	jobs, err := s.plan(ports)
	if err != nil {
		return nil, err
	}

	logger := s.logger()
	workers := s.Concurrency
	if workers <= 0 {
		workers = consts.DefaultScanConcurrency
	}
	workers = min(workers, len(jobs))

	budget := s.Budget
	if budget <= 0 {
		budget = consts.DefaultScanBudget
	}
	batchCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	var (
		next    atomic.Int64
		mu      sync.Mutex
		results = make([]ProbeResult, 0, len(jobs))
		g       errgroup.Group
	)

	start := time.Now()
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for batchCtx.Err() == nil {
				idx := int(next.Add(1) - 1)
				if idx >= len(jobs) {
					return nil
				}
				res, ok := s.run(batchCtx, target, jobs[idx])
				if !ok {
					return nil
				}
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
				if s.Observer != nil {
					s.Observer(res)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	outcome := &ScanOutcome{
		Open:           make([]ProbeResult, 0),
		Unfinished:     len(jobs) - len(results),
		TotalElapsedMs: millis(time.Since(start)),
	}
	for _, r := range results {
		if r.Status == StatusOpen {
			outcome.Open = append(outcome.Open, r)
		} else {
			outcome.ClosedCount++
		}
	}
	slices.SortFunc(outcome.Open, func(a, b ProbeResult) int { return int(a.Port) - int(b.Port) })

	if outcome.Unfinished > 0 {
		logger.Warn("scan budget exhausted",
			zap.String("host", target.Host()),
			zap.Int("completed", len(results)),
			zap.Int("unfinished", outcome.Unfinished),
			zap.Error(batchCtx.Err()),
		)
	}
	return outcome, nil
}

// run probes one job. ok is false when the batch deadline, not the port,
// ended the attempt; such jobs produce no result.
func (s *Scheduler) run(ctx context.Context, target *Target, job ProbeJob) (ProbeResult, bool) {
	elapsed, err := s.Connector.Connect(ctx, target, job.Port, job.Timeout)
	if err != nil && ctx.Err() != nil {
		return ProbeResult{}, false
	}
	res := ProbeResult{Port: job.Port, Status: Classify(err)}
	if err == nil {
		ms := millis(elapsed)
		res.ElapsedMs = &ms
	}
	s.logger().Debug("port probed",
		zap.String("address", target.dialAddress(job.Port)),
		zap.String("status", string(res.Status)),
		zap.Duration("elapsed", elapsed),
	)
	return res, true
}

// plan deduplicates ports and turns them into jobs, rejecting oversized sets.
func (s *Scheduler) plan(ports []uint16) ([]ProbeJob, error) {
	maxPorts := s.MaxPorts
	if maxPorts <= 0 {
		maxPorts = consts.MaxScanPorts
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = consts.DefaultConnectTimeout
	}

	seen := make(map[uint16]struct{}, len(ports))
	jobs := make([]ProbeJob, 0, len(ports))
	for _, p := range ports {
		if p == 0 {
			return nil, &ValidationError{Field: "ports", Reason: "0 is outside 1..65535", Err: apperrors.ErrInvalidPort}
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		jobs = append(jobs, ProbeJob{Port: p, Timeout: timeout})
	}
	if len(jobs) == 0 {
		return nil, invalid("ports", apperrors.ErrNoPorts)
	}
	if len(jobs) > maxPorts {
		return nil, &ValidationError{Field: "ports", Reason: fmt.Sprintf("%d ports requested, at most %d allowed", len(jobs), maxPorts), Err: apperrors.ErrTooManyPorts}
	}
	return jobs, nil
}

func (s *Scheduler) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
