package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/weather-pipeline/internal/api/dto"
	"github.com/cuongbtq/weather-pipeline/internal/domain"
	"github.com/cuongbtq/weather-pipeline/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TriggerPoll handles POST /api/v1/jobs/poll
func (h *JobHandler) TriggerPoll(c *gin.Context) {
	h.publish(c, domain.Trigger{Job: domain.TriggerPoll})
}

// TriggerBackfill handles POST /api/v1/jobs/backfill
func (h *JobHandler) TriggerBackfill(c *gin.Context) {
	var req dto.TriggerBackfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid backfill request", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "days must be a positive integer"})
		return
	}

	h.publish(c, domain.Trigger{Job: domain.TriggerBackfill, Days: req.Days})
}

// publish validates a trigger and hands it to the worker queue. The job runs
// asynchronously; the caller polls the run list for the outcome.
func (h *JobHandler) publish(c *gin.Context, trigger domain.Trigger) {
	trigger.TriggerID = uuid.NewString()
	trigger.RequestedAt = h.now().UTC()
	trigger.RequestedBy = c.ClientIP()

	if err := trigger.Validate(h.maxDays); err != nil {
		writeError(c, h.logger, err)
		return
	}

	body, err := json.Marshal(trigger)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	if err := h.publisher.PublishJSON(c.Request.Context(), trigger.TriggerID, body); err != nil {
		h.logger.Error("Failed to publish job trigger",
			slog.String("trigger_id", trigger.TriggerID),
			slog.Any("error", err),
		)
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "job queue unavailable"})
		return
	}

	h.logger.Info("Job trigger published",
		slog.String("trigger_id", trigger.TriggerID),
		slog.String("job", trigger.Job),
		slog.Int("days", trigger.Days),
	)

	c.JSON(http.StatusAccepted, dto.TriggerResponse{
		TriggerID:   trigger.TriggerID,
		Job:         trigger.JobName(),
		Days:        trigger.Days,
		Status:      "queued",
		RequestedAt: trigger.RequestedAt,
	})
}

// GetRun handles GET /api/v1/jobs/runs/:run_id
func (h *JobHandler) GetRun(c *gin.Context) {
	runID := c.Param("run_id")
	if _, err := uuid.Parse(runID); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "run_id must be a valid UUID"})
		return
	}

	run, err := h.store.GetRun(c.Request.Context(), runID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, toRunDTO(*run))
}

// ListRuns handles GET /api/v1/jobs/runs
func (h *JobHandler) ListRuns(c *gin.Context) {
	var req dto.ListRunsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid query parameters"})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	switch req.Status {
	case "", domain.JobStatusRunning, domain.JobStatusSuccess, domain.JobStatusFailed:
	default:
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "status must be one of running, success, failed"})
		return
	}

	cursor, err := DecodeRunCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid cursor"})
		return
	}

	runs, err := h.store.ListRuns(c.Request.Context(), store.RunFilter{
		JobName:  req.JobName,
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	hasMore := len(runs) > req.PageSize
	if hasMore {
		runs = runs[:req.PageSize]
	}

	resp := dto.ListRunsResponse{Runs: make([]dto.JobRunDTO, len(runs))}
	for i, run := range runs {
		resp.Runs[i] = toRunDTO(run)
	}

	if hasMore {
		last := runs[len(runs)-1]
		resp.NextCursor = EncodeRunCursor(&store.RunCursor{StartedAt: last.StartedAt, RunID: last.ID})
	}

	c.JSON(http.StatusOK, resp)
}

func toRunDTO(run domain.JobRun) dto.JobRunDTO {
	out := dto.JobRunDTO{
		RunID:           run.ID,
		JobName:         run.JobName,
		Status:          run.Status,
		StartedAt:       run.StartedAt.UTC().Format(time.RFC3339),
		DurationSeconds: run.DurationSeconds,
		CitiesProcessed: run.CitiesProcessed,
		CitiesFailed:    run.CitiesFailed,
		RecordsInserted: run.RecordsInserted,
		RecordsUpdated:  run.RecordsUpdated,
		RecordsDropped:  run.RecordsDropped,
	}
	if run.CompletedAt != nil {
		out.CompletedAt = run.CompletedAt.UTC().Format(time.RFC3339)
	}
	if run.ErrorMessage != nil {
		out.ErrorMessage = *run.ErrorMessage
	}
	return out
}
