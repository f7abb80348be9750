package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/veoclip/pkg/model"
)

// Memory implements Repository in process. Used when no Firestore database
// is configured, and by tests.
type Memory struct {
	mu   sync.Mutex
	jobs map[model.JobRecordID]model.JobRecord
}

func NewMemory() *Memory {
	return &Memory{jobs: make(map[model.JobRecordID]model.JobRecord)}
}

func (r *Memory) PutJob(ctx context.Context, job *model.JobRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = *job
	return nil
}

func (r *Memory) GetJob(ctx context.Context, id model.JobRecordID) (*model.JobRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, goerr.Wrap(ErrJobNotFound, "failed to get job", goerr.V("job_id", id))
	}
	return &job, nil
}

func (r *Memory) ListJobs(ctx context.Context, limit int) ([]*model.JobRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobs := make([]*model.JobRecord, 0, len(r.jobs))
	for _, job := range r.jobs {
		job := job
		jobs = append(jobs, &job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

var _ Repository = (*Memory)(nil)
