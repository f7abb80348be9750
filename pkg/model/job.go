package model

import (
	"time"

	"github.com/google/uuid"
)

// Job is the latest known state of one remote generation operation. Each
// poll returns a new Job that replaces the previous one.
type Job struct {
	// Handle is the opaque operation name owned by the remote API
	Handle string
	Done   bool
	Error  string
	Result *Asset
}

// Asset is a produced video. The remote API sets either URI or Data; after
// download Data always holds the bytes.
type Asset struct {
	URI      string
	Data     []byte
	MIMEType string
}

type Stage string

const (
	StagePreparing   Stage = "preparing"
	StageSent        Stage = "sent"
	StagePolling     Stage = "polling"
	StageDownloading Stage = "downloading"
	StageDone        Stage = "done"
)

// Progress is reported by the job client while a request is in flight.
type Progress struct {
	Stage   Stage
	Message string
	Handle  string
}

type JobRecordID string

// NewJobRecordID generates a new unique JobRecordID
func NewJobRecordID() JobRecordID {
	return JobRecordID(uuid.New().String())
}

type JobStatus string

const (
	JobStatusSubmitted JobStatus = "submitted"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// JobRecord is the ledger entry of one generation attempt
type JobRecord struct {
	ID          JobRecordID `json:"id" yaml:"id"`
	Handle      string      `json:"handle" yaml:"handle"`
	Prompt      string      `json:"prompt" yaml:"prompt"`
	AspectRatio AspectRatio `json:"aspect_ratio" yaml:"aspect_ratio"`
	Model       string      `json:"model" yaml:"model"`
	Status      JobStatus   `json:"status" yaml:"status"`
	Error       string      `json:"error,omitempty" yaml:"error,omitempty"`
	HistoryID   HistoryID   `json:"history_id,omitempty" yaml:"history_id,omitempty"`
	CreatedAt   time.Time   `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" yaml:"updated_at"`
}
