package adapter

import (
	"context"
	"errors"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/veoclip/pkg/model"
	"google.golang.org/api/googleapi"
)

// BigQuery exports the job ledger to a BigQuery table for analysis
type BigQuery interface {
	// EnsureJobTable creates the table with the ledger schema unless it exists
	EnsureJobTable(ctx context.Context, datasetID, table string) error

	// InsertJobs streams records into the table. Rows are deduplicated by
	// record ID and update time.
	InsertJobs(ctx context.Context, datasetID, table string, jobs []*model.JobRecord) error

	Close() error
}

type bigqueryClient struct {
	client *bigquery.Client
	schema bigquery.Schema
}

// jobRow is the table layout of a ledger record
type jobRow struct {
	ID          string    `bigquery:"id"`
	Handle      string    `bigquery:"handle"`
	Prompt      string    `bigquery:"prompt"`
	AspectRatio string    `bigquery:"aspect_ratio"`
	Model       string    `bigquery:"model"`
	Status      string    `bigquery:"status"`
	Error       string    `bigquery:"error"`
	HistoryID   string    `bigquery:"history_id"`
	CreatedAt   time.Time `bigquery:"created_at"`
	UpdatedAt   time.Time `bigquery:"updated_at"`
}

func newJobRow(job *model.JobRecord) *jobRow {
	return &jobRow{
		ID:          string(job.ID),
		Handle:      job.Handle,
		Prompt:      job.Prompt,
		AspectRatio: string(job.AspectRatio),
		Model:       job.Model,
		Status:      string(job.Status),
		Error:       job.Error,
		HistoryID:   string(job.HistoryID),
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
}

func jobSchema() (bigquery.Schema, error) {
	schema, err := bigquery.InferSchema(jobRow{})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to infer job table schema")
	}
	return schema, nil
}

// NewBigQuery creates a new BigQuery client
func NewBigQuery(ctx context.Context, projectID string) (BigQuery, error) {
	schema, err := jobSchema()
	if err != nil {
		return nil, err
	}

	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create BigQuery client", goerr.V("project", projectID))
	}

	return &bigqueryClient{
		client: client,
		schema: schema,
	}, nil
}

func (bq *bigqueryClient) Close() error {
	if err := bq.client.Close(); err != nil {
		return goerr.Wrap(err, "failed to close BigQuery client")
	}
	return nil
}

func (bq *bigqueryClient) EnsureJobTable(ctx context.Context, datasetID, table string) error {
	tbl := bq.client.Dataset(datasetID).Table(table)

	err := tbl.Create(ctx, &bigquery.TableMetadata{
		Schema: bq.schema,
		TimePartitioning: &bigquery.TimePartitioning{
			Field: "created_at",
		},
	})
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
		return nil
	}
	return goerr.Wrap(err, "failed to create job table", goerr.V("dataset", datasetID), goerr.V("table", table))
}

func (bq *bigqueryClient) InsertJobs(ctx context.Context, datasetID, table string, jobs []*model.JobRecord) error {
	if len(jobs) == 0 {
		return nil
	}

	savers := make([]*bigquery.StructSaver, 0, len(jobs))
	for _, job := range jobs {
		savers = append(savers, &bigquery.StructSaver{
			Schema:   bq.schema,
			InsertID: string(job.ID) + "@" + job.UpdatedAt.UTC().Format(time.RFC3339Nano),
			Struct:   newJobRow(job),
		})
	}

	inserter := bq.client.Dataset(datasetID).Table(table).Inserter()
	if err := inserter.Put(ctx, savers); err != nil {
		return goerr.Wrap(err, "failed to insert jobs",
			goerr.V("dataset", datasetID),
			goerr.V("table", table),
			goerr.V("count", len(jobs)))
	}
	return nil
}
