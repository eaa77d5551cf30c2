package api

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/khanhnv2901/netlab/internal/shared/errors"
	"go.uber.org/zap"
)

// Job states.
const (
	JobPending = "pending"
	JobRunning = "running"
	JobDone    = "done"
	JobError   = "error"
)

type Job struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Host       string          `json:"host,omitempty"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	subscribers map[chan Job]struct{}
	maxJobs     int // Maximum number of jobs to keep in memory
	stop        chan struct{}
	stopOnce    sync.Once
}

func NewJobManager() *JobManager {
	m := &JobManager{
		jobs:        make(map[string]*Job),
		subscribers: make(map[chan Job]struct{}),
		maxJobs:     1000, // Default: keep last 1000 jobs
		stop:        make(chan struct{}),
	}
	// Start cleanup goroutine to remove old finished jobs
	go m.cleanupLoop()
	return m
}

// Close stops the cleanup goroutine.
func (m *JobManager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *JobManager) CreateJob(jobType, host string) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := &Job{
		ID:        generateID("job"),
		Type:      jobType,
		Host:      host,
		Status:    JobPending,
		CreatedAt: time.Now(),
	}
	m.jobs[job.ID] = job
	m.broadcast(*job)
	snapshot := *job
	return &snapshot
}

func (m *JobManager) UpdateJob(id string, update func(*Job)) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil
	}
	update(job)
	m.broadcast(*job)
	snapshot := *job
	return &snapshot
}

func (m *JobManager) GetJob(id string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if job, ok := m.jobs[id]; ok {
		snapshot := *job
		return &snapshot
	}
	return nil
}

// ListJobs returns up to limit jobs, newest first.
func (m *JobManager) ListJobs(limit int) []Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.jobs) {
		limit = len(m.jobs)
	}
	jobs := make([]Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, *job)
	}

	slices.SortFunc(jobs, func(a, b Job) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})

	return jobs[:limit]
}

func (m *JobManager) Subscribe() (chan Job, func()) {
	ch := make(chan Job, 10)
	m.mu.Lock()
	m.subscribers[ch] = struct{}{}
	m.mu.Unlock()
	return ch, func() {
		m.mu.Lock()
		if _, ok := m.subscribers[ch]; ok {
			delete(m.subscribers, ch)
			close(ch)
		}
		m.mu.Unlock()
	}
}

// broadcast must be called with m.mu held. Slow subscribers miss updates
// rather than blocking job progress.
func (m *JobManager) broadcast(job Job) {
	for ch := range m.subscribers {
		select {
		case ch <- job:
		default:
		}
	}
}

func generateID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString())
}

func (m *JobManager) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.prune()
		}
	}
}

// prune removes the oldest finished jobs until at most maxJobs remain.
// Pending and running jobs are never removed.
func (m *JobManager) prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.jobs) <= m.maxJobs {
		return 0
	}

	finished := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		if job.Status == JobDone || job.Status == JobError {
			finished = append(finished, job)
		}
	}
	slices.SortFunc(finished, func(a, b *Job) int {
		return finishTime(a).Compare(finishTime(b))
	})

	toRemove := min(len(m.jobs)-m.maxJobs, len(finished))
	for _, job := range finished[:toRemove] {
		delete(m.jobs, job.ID)
	}
	return toRemove
}

func finishTime(j *Job) time.Time {
	if j.FinishedAt != nil {
		return *j.FinishedAt
	}
	return j.CreatedAt
}

// SetMaxJobs configures the maximum number of jobs to retain in memory
func (m *JobManager) SetMaxJobs(max int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if max > 0 {
		m.maxJobs = max
	}
}

// ProbeJobService runs probe requests in the background and tracks them as jobs.
type ProbeJobService struct {
	manager *JobManager
	probes  ProbeService
	logger  *zap.Logger
	timeout time.Duration
}

// NewProbeJobService wires a job manager to the probe service. Each job gets
// timeout to finish, 90 seconds when zero.
func NewProbeJobService(manager *JobManager, probes ProbeService, logger *zap.Logger, timeout time.Duration) *ProbeJobService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &ProbeJobService{manager: manager, probes: probes, logger: logger, timeout: timeout}
}

func (s *ProbeJobService) StartJob(ctx context.Context, identity string, req ProbeRequest) (*Job, error) {
	kind, err := NormalizeKind(req.Type)
	if err != nil {
		return nil, err
	}
	req.Type = kind
	req.Host = strings.TrimSpace(req.Host)
	if req.Host == "" {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrValidation, apperrors.ErrEmptyHost)
	}
	job := s.manager.CreateJob(kind, req.Host)
	go s.execute(job.ID, identity, req)
	return job, nil
}

func (s *ProbeJobService) execute(id, identity string, req ProbeRequest) {
	now := time.Now()
	s.manager.UpdateJob(id, func(j *Job) {
		j.Status = JobRunning
		j.StartedAt = &now
	})

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	report, err := RunProbe(ctx, s.probes, identity, req)
	var payload []byte
	if err == nil {
		payload, err = json.Marshal(report)
	}

	finished := time.Now()
	if err != nil {
		s.logger.Warn("probe job failed",
			zap.String("job_id", id),
			zap.String("type", req.Type),
			zap.String("host", req.Host),
			zap.Error(err),
		)
		s.manager.UpdateJob(id, func(j *Job) {
			j.Status = JobError
			j.Error = err.Error()
			j.FinishedAt = &finished
		})
		return
	}
	s.manager.UpdateJob(id, func(j *Job) {
		j.Status = JobDone
		j.Result = payload
		j.FinishedAt = &finished
	})
}

func (s *ProbeJobService) GetJob(ctx context.Context, id string) (*Job, error) {
	job := s.manager.GetJob(id)
	if job == nil {
		return nil, apperrors.ErrJobNotFound
	}
	return job, nil
}

func (s *ProbeJobService) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	return s.manager.ListJobs(limit), nil
}

func (s *ProbeJobService) Subscribe() (chan Job, func()) {
	return s.manager.Subscribe()
}
