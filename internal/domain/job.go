package domain

import (
	"fmt"
	"strings"
	"time"
)

// Job status constants
const (
	JobStatusRunning = "running"
	JobStatusSuccess = "success"
	JobStatusFailed  = "failed"
)

// Job names
const (
	JobPollCurrent     = "poll_current"
	JobBackfillHistory = "backfill_history"
)

// MaxErrorMessageLen bounds JobRun.ErrorMessage
const MaxErrorMessageLen = 500

// JobRun is the accounting record of one job execution
type JobRun struct {
	ID              string     `db:"id" json:"run_id"`
	JobName         string     `db:"job_name" json:"job_name"`
	Status          string     `db:"status" json:"status"`
	StartedAt       time.Time  `db:"started_at" json:"started_at"`
	CompletedAt     *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	DurationSeconds *float64   `db:"duration_seconds" json:"duration_seconds,omitempty"`
	CitiesProcessed int        `db:"cities_processed" json:"cities_processed"`
	CitiesFailed    int        `db:"cities_failed" json:"cities_failed"`
	RecordsInserted int        `db:"records_inserted" json:"records_inserted"`
	RecordsUpdated  int        `db:"records_updated" json:"records_updated"`
	RecordsDropped  int        `db:"records_dropped" json:"records_dropped"`
	ErrorMessage    *string    `db:"error_message" json:"error_message,omitempty"`
}

// Finish moves the run into a terminal state. It is a no-op on a run
// that has already finished.
func (r *JobRun) Finish(status string, at time.Time, errMsg string) {
	if r.Status != JobStatusRunning {
		return
	}
	r.Status = status
	completed := at.UTC()
	r.CompletedAt = &completed
	d := completed.Sub(r.StartedAt).Seconds()
	r.DurationSeconds = &d
	if errMsg != "" {
		if len(errMsg) > MaxErrorMessageLen {
			// cut on a rune boundary; postgres rejects invalid UTF-8
			errMsg = strings.ToValidUTF8(errMsg[:MaxErrorMessageLen-3], "") + "..."
		}
		r.ErrorMessage = &errMsg
	}
}

// Trigger is an operator request to run a job now
type Trigger struct {
	TriggerID   string    `json:"trigger_id"`
	Job         string    `json:"job"`
	Days        int       `json:"days,omitempty"`
	RequestedBy string    `json:"requested_by,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// Trigger job kinds
const (
	TriggerPoll     = "poll"
	TriggerBackfill = "backfill"
)

// Validate checks the job kind and, for a backfill, the day count.
// maxDays bounds a backfill; 0 means unbounded.
func (t Trigger) Validate(maxDays int) error {
	switch t.Job {
	case TriggerPoll:
		return nil
	case TriggerBackfill:
		if t.Days <= 0 {
			return fmt.Errorf("%w: backfill days must be positive, got %d", ErrInvalidTrigger, t.Days)
		}
		if maxDays > 0 && t.Days > maxDays {
			return fmt.Errorf("%w: backfill days must not exceed %d, got %d", ErrInvalidTrigger, maxDays, t.Days)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown job %q", ErrInvalidTrigger, t.Job)
	}
}

// JobName maps the trigger kind to the job it starts
func (t Trigger) JobName() string {
	if t.Job == TriggerBackfill {
		return JobBackfillHistory
	}
	return JobPollCurrent
}
