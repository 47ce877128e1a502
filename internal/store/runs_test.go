package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cuongbtq/weather-pipeline/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var runColumns = []string{
	"id", "job_name", "status", "started_at", "completed_at", "duration_seconds",
	"cities_processed", "cities_failed", "records_inserted", "records_updated",
	"records_dropped", "error_message",
}

func TestCreateRun(t *testing.T) {
	s, mock := newMockStore(t)
	run := &domain.JobRun{ID: "2f1c", JobName: domain.JobPollCurrent, Status: domain.JobStatusRunning, StartedAt: fixedNow}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO job_runs")).
		WithArgs("2f1c", domain.JobPollCurrent, domain.JobStatusRunning, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.CreateRun(context.Background(), run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishRun(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		execErr  error
		wantErr  error
		storeErr bool
	}{
		{name: "finalized", affected: 1},
		{name: "already finalized", affected: 0, wantErr: domain.ErrRunNotFound},
		{name: "database down", execErr: errors.New("broken pipe"), storeErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			run := &domain.JobRun{ID: "r1", JobName: domain.JobPollCurrent, Status: domain.JobStatusRunning, StartedAt: fixedNow}
			run.Finish(domain.JobStatusSuccess, fixedNow.Add(time.Minute), "")

			exp := mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = $11"))
			if tt.execErr != nil {
				exp.WillReturnError(tt.execErr)
			} else {
				exp.WillReturnResult(sqlmock.NewResult(0, tt.affected))
			}

			err := s.FinishRun(context.Background(), run)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.storeErr:
				assert.True(t, domain.IsStoreError(err))
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestGetRun(t *testing.T) {
	s, mock := newMockStore(t)
	completed := fixedNow.Add(2 * time.Minute)
	msg := "2 of 10 cities failed"

	mock.ExpectQuery(regexp.QuoteMeta("FROM job_runs WHERE id = $1")).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(runColumns).
			AddRow("r1", domain.JobBackfillHistory, domain.JobStatusSuccess, fixedNow, completed, 120.0, 10, 2, 1680, 0, 3, msg))

	run, err := s.GetRun(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobBackfillHistory, run.JobName)
	assert.Equal(t, 10, run.CitiesProcessed)
	assert.Equal(t, 2, run.CitiesFailed)
	assert.Equal(t, 1680, run.RecordsInserted)
	assert.Equal(t, 3, run.RecordsDropped)
	require.NotNil(t, run.ErrorMessage)
	assert.Equal(t, msg, *run.ErrorMessage)
}

func TestGetRun_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM job_runs WHERE id = $1")).
		WillReturnRows(sqlmock.NewRows(runColumns))

	_, err := s.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestListRuns(t *testing.T) {
	cursorTime := fixedNow.Add(-time.Hour)

	tests := []struct {
		name      string
		filter    RunFilter
		wantQuery string
		wantArgs  []driver.Value
	}{
		{
			name:      "no filters",
			filter:    RunFilter{PageSize: 20},
			wantQuery: "WHERE 1=1 ORDER BY started_at DESC, id DESC LIMIT $1",
			wantArgs:  []driver.Value{21},
		},
		{
			name:      "job name and status",
			filter:    RunFilter{JobName: domain.JobPollCurrent, Status: domain.JobStatusFailed, PageSize: 5},
			wantQuery: "AND job_name = $1 AND status = $2 ORDER BY started_at DESC, id DESC LIMIT $3",
			wantArgs:  []driver.Value{domain.JobPollCurrent, domain.JobStatusFailed, 6},
		},
		{
			name:      "cursor",
			filter:    RunFilter{PageSize: 10, Cursor: &RunCursor{StartedAt: cursorTime, RunID: "r9"}},
			wantQuery: "AND (started_at, id) < ($1, $2) ORDER BY started_at DESC, id DESC LIMIT $3",
			wantArgs:  []driver.Value{cursorTime, "r9", 11},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)

			mock.ExpectQuery(regexp.QuoteMeta(tt.wantQuery)).
				WithArgs(tt.wantArgs...).
				WillReturnRows(sqlmock.NewRows(runColumns).
					AddRow("r1", domain.JobPollCurrent, domain.JobStatusSuccess, fixedNow, nil, nil, 10, 0, 0, 10, 0, nil))

			runs, err := s.ListRuns(context.Background(), tt.filter)
			require.NoError(t, err)
			require.Len(t, runs, 1)
			assert.Nil(t, runs[0].CompletedAt)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
