package repository

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/veoclip/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const jobCollection = "veoclip_jobs"

// Firestore implements Repository on a Firestore database
type Firestore struct {
	client     *firestore.Client
	collection string
}

// New creates a Firestore repository
func New(ctx context.Context, projectID, databaseID string) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID),
			goerr.V("database", databaseID))
	}

	return &Firestore{
		client:     client,
		collection: jobCollection,
	}, nil
}

func (r *Firestore) Close() error {
	if err := r.client.Close(); err != nil {
		return goerr.Wrap(err, "failed to close firestore client")
	}
	return nil
}

func (r *Firestore) PutJob(ctx context.Context, job *model.JobRecord) error {
	if _, err := r.client.Collection(r.collection).Doc(string(job.ID)).Set(ctx, job); err != nil {
		return goerr.Wrap(err, "failed to put job", goerr.V("job_id", job.ID))
	}
	return nil
}

func (r *Firestore) GetJob(ctx context.Context, id model.JobRecordID) (*model.JobRecord, error) {
	doc, err := r.client.Collection(r.collection).Doc(string(id)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(ErrJobNotFound, "failed to get job", goerr.V("job_id", id))
		}
		return nil, goerr.Wrap(err, "failed to get job", goerr.V("job_id", id))
	}

	var job model.JobRecord
	if err := doc.DataTo(&job); err != nil {
		return nil, goerr.Wrap(err, "failed to decode job", goerr.V("job_id", id))
	}
	return &job, nil
}

func (r *Firestore) ListJobs(ctx context.Context, limit int) ([]*model.JobRecord, error) {
	iter := r.client.Collection(r.collection).
		OrderBy("CreatedAt", firestore.Desc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	var jobs []*model.JobRecord
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate jobs")
		}

		var job model.JobRecord
		if err := doc.DataTo(&job); err != nil {
			return nil, goerr.Wrap(err, "failed to decode job", goerr.V("doc_id", doc.Ref.ID))
		}
		jobs = append(jobs, &job)
	}

	return jobs, nil
}

var _ Repository = (*Firestore)(nil)
