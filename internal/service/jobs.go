package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the state of a background job.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Background job types started after a turn.
const (
	JobTypeMemory = "memory_extraction"
	JobTypeTitle  = "title_generation"
)

// jobTimeout bounds every background job.
const jobTimeout = 60 * time.Second

// maxFinishedJobs caps how many finished jobs are remembered.
const maxFinishedJobs = 100

// Job is a non-critical task that runs after a turn. Its failure is logged
// and never affects the turn.
type Job struct {
	ID             string
	Type           string
	ConversationID string
	Status         JobStatus
	Error          string
	StartedAt      time.Time
	CompletedAt    *time.Time

	mu sync.RWMutex
}

// JobInfo is a point-in-time copy of a Job.
type JobInfo struct {
	ID             string     `json:"id"`
	Type           string     `json:"type"`
	ConversationID string     `json:"conversation_id"`
	Status         JobStatus  `json:"status"`
	Error          string     `json:"error,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Snapshot returns a thread-safe copy of job state.
func (j *Job) Snapshot() JobInfo {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return JobInfo{
		ID:             j.ID,
		Type:           j.Type,
		ConversationID: j.ConversationID,
		Status:         j.Status,
		Error:          j.Error,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
	}
}

// JobManager runs and tracks background jobs.
type JobManager struct {
	jobs   map[string]*Job
	mu     sync.RWMutex
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewJobManager creates a job manager.
func NewJobManager(logger *slog.Logger) *JobManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobManager{jobs: make(map[string]*Job), logger: logger}
}

// Start runs fn in the background. The context passed to fn is detached from
// parent's cancellation and carries its own timeout.
func (m *JobManager) Start(parent context.Context, jobType, conversationID string, fn func(ctx context.Context) error) *Job {
	job := &Job{
		ID:             uuid.New().String()[:8],
		Type:           jobType,
		ConversationID: conversationID,
		Status:         JobStatusRunning,
		StartedAt:      time.Now(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.pruneLocked()
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), jobTimeout)
		defer cancel()

		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("internal panic: %v", r)
				}
			}()
			err = fn(ctx)
		}()

		if err != nil {
			m.fail(job, err)
			return
		}
		m.complete(job)
	}()

	return job
}

// Wait blocks until all started jobs have finished.
func (m *JobManager) Wait() {
	m.wg.Wait()
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// ListJobs returns all tracked jobs, most recent first.
func (m *JobManager) ListJobs() []JobInfo {
	m.mu.RLock()
	jobs := make([]JobInfo, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job.Snapshot())
	}
	m.mu.RUnlock()

	slices.SortFunc(jobs, func(a, b JobInfo) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return jobs
}

func (m *JobManager) complete(job *Job) {
	job.mu.Lock()
	job.Status = JobStatusCompleted
	now := time.Now()
	job.CompletedAt = &now
	job.mu.Unlock()

	m.logger.Debug("job completed", "job_id", job.ID, "type", job.Type, "conversation_id", job.ConversationID)
}

func (m *JobManager) fail(job *Job, err error) {
	job.mu.Lock()
	job.Status = JobStatusFailed
	job.Error = err.Error()
	now := time.Now()
	job.CompletedAt = &now
	job.mu.Unlock()

	m.logger.Warn("background job failed", "job_id", job.ID, "type", job.Type,
		"conversation_id", job.ConversationID, "error", err)
}

// pruneLocked drops the oldest finished jobs beyond maxFinishedJobs.
// Caller must hold the write lock.
func (m *JobManager) pruneLocked() {
	var finished []*Job
	for _, j := range m.jobs {
		j.mu.RLock()
		done := j.Status != JobStatusRunning
		j.mu.RUnlock()
		if done {
			finished = append(finished, j)
		}
	}
	if len(finished) <= maxFinishedJobs {
		return
	}
	slices.SortFunc(finished, func(a, b *Job) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	for _, j := range finished[:len(finished)-maxFinishedJobs] {
		delete(m.jobs, j.ID)
	}
}
