package extraction

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	StatusProcessing = "processing"
	StatusComplete   = "complete"
	StatusFailed     = "failed"
)

// Job is the state of one text extraction, as reported by the status
// endpoint.
type Job struct {
	ID        string    `json:"job_id"`
	FileName  string    `json:"file_name,omitempty"`
	Status    string    `json:"status"`
	Text      string    `json:"text,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (j *Job) finished() bool {
	return j.Status == StatusComplete || j.Status == StatusFailed
}

type JobManager struct {
	mu        sync.RWMutex
	jobs      map[string]*Job
	retention time.Duration
	now       func() time.Time
}

// NewJobManager keeps finished jobs for at least retention before Prune
// removes them.
func NewJobManager(retention time.Duration) *JobManager {
	return &JobManager{
		jobs:      make(map[string]*Job),
		retention: retention,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *JobManager) CreateJob(fileName string) *Job {
	now := m.now()
	job := &Job{
		ID:        uuid.NewString(),
		FileName:  fileName,
		Status:    StatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	return job.clone()
}

func (m *JobManager) GetJob(id string) (*Job, bool) {
	m.mu.RLock()
	job, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return job.clone(), true
}

func (m *JobManager) MarkComplete(id, text string) {
	m.withJob(id, func(job *Job) {
		job.Status = StatusComplete
		job.Text = text
		job.Error = ""
	})
}

func (m *JobManager) MarkFailed(id, msg string) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = "extraction failed"
	}
	m.withJob(id, func(job *Job) {
		job.Status = StatusFailed
		job.Error = msg
	})
}

// Prune drops finished jobs last updated before the retention window and
// returns how many were removed. Jobs still processing are kept.
func (m *JobManager) Prune() int {
	cutoff := m.now().Add(-m.retention)

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, job := range m.jobs {
		if job.finished() && job.UpdatedAt.Before(cutoff) {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed
}

// RunPruner calls Prune every interval until ctx is done.
func (m *JobManager) RunPruner(ctx context.Context, interval time.Duration, onPrune func(removed int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Prune(); n > 0 && onPrune != nil {
				onPrune(n)
			}
		}
	}
}

func (m *JobManager) withJob(id string, fn func(job *Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return
	}
	fn(job)
	job.UpdatedAt = m.now()
}

func (j *Job) clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	return &c
}
