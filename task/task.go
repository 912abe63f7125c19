package task

import (
	"context"
	"io"
	"time"
)

type Status string

const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusCompleted  Status = "Completed"
	StatusFailed     Status = "Failed"
)

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Record is the durable lifecycle state of one task.
type Record struct {
	ID           string
	Name         string
	Status       Status
	UploadTime   time.Time
	StartTime    *time.Time
	EndTime      *time.Time
	ErrorMessage *string
}

// Params is the parameter file staged for a task. The JSON keys are the ones
// the generation capability reads.
type Params struct {
	TaskID      string   `json:"task_id"`
	TaskName    string   `json:"task_name"`
	SeedSeqs    string   `json:"seed_seqs"`
	GenNum      int      `json:"gen_num"`
	Target      string   `json:"target,omitempty"`
	Model       string   `json:"model,omitempty"`
	OutputFile  string   `json:"output_file"`
	Attachments []string `json:"attachments,omitempty"`
}

// Attachment is an uploaded file staged next to the parameter file.
type Attachment struct {
	Filename string
	Open     func() (io.ReadCloser, error)
}

// Submission is a job descriptor as received from a client.
type Submission struct {
	ID          string
	Name        string
	SeedSeqs    string
	GenNum      int
	Target      string
	Model       string
	Attachments []Attachment
}

// Store persists task records. Implementations enforce the forward-only
// state machine and must be safe for concurrent use.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	MarkProcessing(ctx context.Context, id string, at time.Time) error
	MarkCompleted(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, msg string, at time.Time) error
	ListByStatus(ctx context.Context, status Status) ([]*Record, error)
}

// Stager stages and loads per-task parameter files on durable storage.
type Stager interface {
	Stage(p *Params, attachments []Attachment) error
	Discard(id string) error
	Load(id string) (*Params, error)
	ResultPath(id string) string
	Staged() ([]string, error)
}

// Generator runs the generation capability for one task and returns the
// path of the artifact it produced.
type Generator interface {
	Generate(ctx context.Context, p *Params) (string, error)
}
