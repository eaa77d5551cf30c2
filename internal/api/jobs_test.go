package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "github.com/khanhnv2901/netlab/internal/shared/errors"
	"go.uber.org/zap/zaptest"
)

func TestNewJobManager(t *testing.T) {
	jm := NewJobManager()
	defer jm.Close()
	if jm.maxJobs != 1000 {
		t.Errorf("expected maxJobs 1000, got %d", jm.maxJobs)
	}
	if jm.jobs == nil {
		t.Error("expected jobs map to be initialized")
	}
	if jm.subscribers == nil {
		t.Error("expected subscribers map to be initialized")
	}
}

func TestJobManager_CreateJob(t *testing.T) {
	jm := NewJobManager()
	defer jm.Close()

	job := jm.CreateJob(KindScan, "example.com")

	if job.Type != KindScan {
		t.Errorf("expected type 'scan', got %s", job.Type)
	}
	if job.Host != "example.com" {
		t.Errorf("expected host 'example.com', got %s", job.Host)
	}
	if job.Status != JobPending {
		t.Errorf("expected status 'pending', got %s", job.Status)
	}
	if !strings.HasPrefix(job.ID, "job_") {
		t.Errorf("expected job_ prefix, got %s", job.ID)
	}
	if job.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}

	retrieved := jm.GetJob(job.ID)
	if retrieved == nil || retrieved.ID != job.ID {
		t.Fatalf("expected to retrieve created job, got %+v", retrieved)
	}
}

func TestJobManager_UpdateJob(t *testing.T) {
	jm := NewJobManager()
	defer jm.Close()
	job := jm.CreateJob(KindPing, "example.com")

	updated := jm.UpdateJob(job.ID, func(j *Job) {
		j.Status = JobRunning
		now := time.Now()
		j.StartedAt = &now
	})
	if updated == nil {
		t.Fatal("expected non-nil updated job")
	}
	if updated.Status != JobRunning || updated.StartedAt == nil {
		t.Errorf("unexpected updated job %+v", updated)
	}

	if jm.UpdateJob("non-existent-id", func(j *Job) { j.Status = JobDone }) != nil {
		t.Error("expected nil for non-existent job update")
	}
}

func TestJobManager_GetJobReturnsCopy(t *testing.T) {
	jm := NewJobManager()
	defer jm.Close()

	if jm.GetJob("non-existent") != nil {
		t.Error("expected nil for non-existent job")
	}

	created := jm.CreateJob(KindScan, "example.com")
	retrieved := jm.GetJob(created.ID)
	retrieved.Status = "tampered"

	if again := jm.GetJob(created.ID); again.Status != JobPending {
		t.Fatalf("mutating a returned job changed stored state: %s", again.Status)
	}
}

func TestJobManager_ListJobs(t *testing.T) {
	jm := NewJobManager()
	defer jm.Close()

	if jobs := jm.ListJobs(10); len(jobs) != 0 {
		t.Errorf("expected 0 jobs, got %d", len(jobs))
	}

	jm.CreateJob(KindScan, "a.example")
	time.Sleep(5 * time.Millisecond)
	jm.CreateJob(KindPing, "b.example")
	time.Sleep(5 * time.Millisecond)
	job3 := jm.CreateJob(KindTLS, "c.example")

	jobs := jm.ListJobs(10)
	if len(jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != job3.ID {
		t.Errorf("expected newest job first, got %s", jobs[0].ID)
	}
	if jobs = jm.ListJobs(2); len(jobs) != 2 {
		t.Errorf("expected limit to return 2 jobs, got %d", len(jobs))
	}
}

func TestJobManager_Subscribe(t *testing.T) {
	jm := NewJobManager()
	defer jm.Close()

	ch, unsubscribe := jm.Subscribe()

	jm.CreateJob(KindBanner, "example.com")
	select {
	case job := <-ch:
		if job.Type != KindBanner {
			t.Errorf("expected type 'banner', got %s", job.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for job notification")
	}

	unsubscribe()
	jm.CreateJob(KindScan, "example.com")

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}
	unsubscribe()
}

func TestJobManager_Broadcast(t *testing.T) {
	jm := NewJobManager()
	defer jm.Close()

	ch1, unsub1 := jm.Subscribe()
	ch2, unsub2 := jm.Subscribe()
	defer unsub1()
	defer unsub2()

	jm.CreateJob(KindScan, "example.com")

	for i, ch := range []chan Job{ch1, ch2} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Errorf("subscriber %d should have received notification", i+1)
		}
	}
}

func TestJobManager_SlowSubscriberDoesNotBlock(t *testing.T) {
	jm := NewJobManager()
	defer jm.Close()

	_, unsubscribe := jm.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			jm.CreateJob(KindScan, "example.com")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("CreateJob blocked on a full subscriber channel")
	}
}

func TestGenerateID(t *testing.T) {
	id1 := generateID("test")
	id2 := generateID("test")

	if id1 == id2 {
		t.Error("expected unique IDs")
	}
	if !strings.HasPrefix(id1, "test_") {
		t.Errorf("expected ID to start with 'test_', got %s", id1)
	}
}

func TestJobManager_Prune(t *testing.T) {
	jm := NewJobManager()
	defer jm.Close()
	jm.SetMaxJobs(2)

	finished := time.Now()
	var ids []string
	for i := 0; i < 3; i++ {
		job := jm.CreateJob(KindScan, "example.com")
		at := finished.Add(time.Duration(i) * time.Second)
		jm.UpdateJob(job.ID, func(j *Job) {
			j.Status = JobDone
			j.FinishedAt = &at
		})
		ids = append(ids, job.ID)
	}
	running := jm.CreateJob(KindPing, "example.com")
	jm.UpdateJob(running.ID, func(j *Job) { j.Status = JobRunning })

	if removed := jm.prune(); removed != 2 {
		t.Fatalf("expected 2 removals, got %d", removed)
	}
	if jm.GetJob(ids[0]) != nil || jm.GetJob(ids[1]) != nil {
		t.Error("expected the two oldest finished jobs to be pruned")
	}
	if jm.GetJob(ids[2]) == nil || jm.GetJob(running.ID) == nil {
		t.Error("expected newest finished job and running job to survive")
	}
}

func TestJobManager_SetMaxJobs(t *testing.T) {
	jm := NewJobManager()
	defer jm.Close()

	jm.SetMaxJobs(500)
	jm.SetMaxJobs(0)

	if jm.maxJobs != 500 {
		t.Errorf("expected maxJobs 500, got %d", jm.maxJobs)
	}
}

func TestJobManager_ConcurrentAccess(t *testing.T) {
	jm := NewJobManager()
	defer jm.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				jm.CreateJob(KindScan, "example.com")
				jm.ListJobs(10)
			}
		}()
	}
	wg.Wait()

	if jobs := jm.ListJobs(1000); len(jobs) != 100 {
		t.Errorf("expected 100 jobs, got %d", len(jobs))
	}
}

func waitForJob(t *testing.T, svc *ProbeJobService, id string) *Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := svc.GetJob(context.Background(), id)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if job.Status == JobDone || job.Status == JobError {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return nil
}

func TestProbeJobServiceRunsProbe(t *testing.T) {
	jm := NewJobManager()
	defer jm.Close()
	probes := &fakeProbes{}
	svc := NewProbeJobService(jm, probes, zaptest.NewLogger(t), time.Second)

	job, err := svc.StartJob(context.Background(), "203.0.113.1", ProbeRequest{Type: "port-scan", Host: "example.com", Ports: PortsField{Spec: "80"}})
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	if job.Type != KindScan {
		t.Fatalf("expected canonical kind, got %s", job.Type)
	}

	final := waitForJob(t, svc, job.ID)
	if final.Status != JobDone {
		t.Fatalf("expected done, got %s (%s)", final.Status, final.Error)
	}
	var report struct {
		OpenPorts []struct {
			Port int `json:"port"`
		} `json:"openPorts"`
	}
	if err := json.Unmarshal(final.Result, &report); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(report.OpenPorts) != 1 || report.OpenPorts[0].Port != 80 {
		t.Fatalf("unexpected result %s", final.Result)
	}
}

func TestProbeJobServiceRecordsFailure(t *testing.T) {
	jm := NewJobManager()
	defer jm.Close()
	svc := NewProbeJobService(jm, &fakeProbes{err: apperrors.ErrRateLimited}, nil, 0)

	job, err := svc.StartJob(context.Background(), "203.0.113.1", ProbeRequest{Type: KindTLS, Host: "example.com"})
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	final := waitForJob(t, svc, job.ID)
	if final.Status != JobError || final.Error != apperrors.ErrRateLimited.Error() {
		t.Fatalf("unexpected final job %+v", final)
	}
}

func TestProbeJobServiceRejectsBadRequests(t *testing.T) {
	jm := NewJobManager()
	defer jm.Close()
	svc := NewProbeJobService(jm, &fakeProbes{}, nil, 0)

	if _, err := svc.StartJob(context.Background(), "x", ProbeRequest{Type: "traceroute", Host: "example.com"}); !errors.Is(err, apperrors.ErrUnsupportedJobType) {
		t.Fatalf("expected unsupported type error, got %v", err)
	}
	if _, err := svc.StartJob(context.Background(), "x", ProbeRequest{Type: KindScan, Host: "  "}); StatusForError(err) != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty host, got %v", err)
	}
	if _, err := svc.GetJob(context.Background(), "missing"); !errors.Is(err, apperrors.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestJobRoutes(t *testing.T) {
	jm := NewJobManager()
	defer jm.Close()
	jobs := NewProbeJobService(jm, &fakeProbes{}, nil, time.Second)
	srv := NewServer(Config{Jobs: jobs})

	rr := doJSON(t, srv, http.MethodPost, "/api/v1/jobs", `{"type":"scan","host":"example.com","ports":"80"}`, nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var created Job
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	waitForJob(t, jobs, created.ID)

	rr = doJSON(t, srv, http.MethodGet, "/api/v1/jobs/"+created.ID, "", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"status":"done"`) {
		t.Fatalf("unexpected job lookup %d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, srv, http.MethodGet, "/api/jobs?limit=5", "", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), created.ID) {
		t.Fatalf("unexpected job list %d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, srv, http.MethodGet, "/api/v1/jobs/unknown", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	rr = doJSON(t, srv, http.MethodPost, "/api/v1/jobs", `{"type":"traceroute","host":"example.com"}`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsupported type, got %d", rr.Code)
	}
}

func TestJobStream(t *testing.T) {
	jm := NewJobManager()
	defer jm.Close()
	jobs := NewProbeJobService(jm, &fakeProbes{}, nil, time.Second)
	srv := httptestServer(t, NewServer(Config{Jobs: jobs}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv+"/api/v1/jobs-stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	if _, err := jobs.StartJob(context.Background(), "x", ProbeRequest{Type: KindPing, Host: "example.com"}); err != nil {
		t.Fatalf("StartJob: %v", err)
	}

	scanner := bufio.NewScanner(resp.Body)
	sawEvent := false
	for scanner.Scan() {
		line := scanner.Text()
		if line == "event: job" {
			sawEvent = true
			continue
		}
		if strings.HasPrefix(line, "data: ") {
			if !sawEvent || !strings.Contains(line, `"type":"ping"`) {
				t.Fatalf("unexpected stream data %q", line)
			}
			return
		}
	}
	t.Fatalf("stream ended without a job event: %v", scanner.Err())
}
