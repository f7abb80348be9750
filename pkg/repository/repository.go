package repository

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/veoclip/pkg/model"
)

var ErrJobNotFound = goerr.New("job not found")

// Repository is the ledger of generation attempts
type Repository interface {
	// PutJob creates or replaces a job record
	PutJob(ctx context.Context, job *model.JobRecord) error

	// GetJob retrieves a job record by ID
	GetJob(ctx context.Context, id model.JobRecordID) (*model.JobRecord, error)

	// ListJobs retrieves job records, newest first
	ListJobs(ctx context.Context, limit int) ([]*model.JobRecord, error)
}
