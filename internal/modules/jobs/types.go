// Package jobs owns the submission surface: request validation,
// fingerprinting, the result cache, the durable job table, and the
// worker pool that runs the allocation pipeline. Request handlers never
// optimise; they fingerprint, consult the cache, enqueue, and poll.
package jobs

import (
	"time"

	"github.com/wildcroft/bng-engine/internal/domain"
)

// JobState is the lifecycle position of a job record.
type JobState string

const (
	StateQueued    JobState = "queued"
	StateRunning   JobState = "running"
	StateDone      JobState = "done"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

// DemandInput is one explicit habitat deficit in a submission.
type DemandInput struct {
	Habitat string  `json:"habitat" validate:"required"`
	Units   float64 `json:"units" validate:"gt=0"`
	Ledger  string  `json:"ledger,omitempty"`
}

// SiteInput identifies the development site. At least one field must
// be set; postcode and address are geocoded, explicit names are not.
type SiteInput struct {
	Postcode string `json:"postcode,omitempty"`
	Address  string `json:"address,omitempty"`
	LPA      string `json:"lpa,omitempty"`
	NCA      string `json:"nca,omitempty"`
}

// Options carries per-job knobs.
type Options struct {
	PriceUpliftPercent float64 `json:"price_uplift_percent,omitempty" validate:"gte=0,lte=100"`
	PairedFormula      string  `json:"paired_formula,omitempty" validate:"omitempty,oneof=blended legacy"`
}

// Submission is the POST /jobs request body. Demand may come from the
// explicit lines, an uploaded metric workbook, or both.
type Submission struct {
	Demand          []DemandInput `json:"demand,omitempty" validate:"dive"`
	Site            SiteInput     `json:"site"`
	MetricFileBytes []byte        `json:"metric_file_bytes,omitempty"`
	Options         Options       `json:"options"`
}

// ErrorInfo is the user-facing error envelope on a failed job.
type ErrorInfo struct {
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

// Record is one job's durable state.
type Record struct {
	ID          string                   `json:"job_id"`
	Fingerprint string                   `json:"fingerprint"`
	State       JobState                 `json:"status"`
	Result      *domain.AllocationReport `json:"result"`
	Error       *ErrorInfo               `json:"error"`
	EnqueuedAt  time.Time                `json:"enqueued_at"`
	CompletedAt *time.Time               `json:"completed_at,omitempty"`
}
