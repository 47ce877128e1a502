package dto

import "time"

type TriggerBackfillRequest struct {
	Days int `json:"days" binding:"required,min=1"`
}

type TriggerResponse struct {
	TriggerID   string    `json:"trigger_id"`
	Job         string    `json:"job"`
	Days        int       `json:"days,omitempty"`
	Status      string    `json:"status"`
	RequestedAt time.Time `json:"requested_at"`
}

type ListRunsRequest struct {
	JobName  string `form:"job_name"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListRunsResponse struct {
	Runs       []JobRunDTO `json:"runs"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

type JobRunDTO struct {
	RunID           string   `json:"run_id"`
	JobName         string   `json:"job_name"`
	Status          string   `json:"status"`
	StartedAt       string   `json:"started_at"`
	CompletedAt     string   `json:"completed_at,omitempty"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
	CitiesProcessed int      `json:"cities_processed"`
	CitiesFailed    int      `json:"cities_failed"`
	RecordsInserted int      `json:"records_inserted"`
	RecordsUpdated  int      `json:"records_updated"`
	RecordsDropped  int      `json:"records_dropped"`
	ErrorMessage    string   `json:"error_message,omitempty"`
}
