package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobRun_Finish(t *testing.T) {
	started := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	run := &JobRun{ID: "r1", JobName: JobPollCurrent, Status: JobStatusRunning, StartedAt: started}

	run.Finish(JobStatusSuccess, started.Add(90*time.Second), "")

	assert.Equal(t, JobStatusSuccess, run.Status)
	require.NotNil(t, run.CompletedAt)
	require.NotNil(t, run.DurationSeconds)
	assert.Equal(t, 90.0, *run.DurationSeconds)
	assert.Nil(t, run.ErrorMessage)

	t.Run("terminal state is not overwritten", func(t *testing.T) {
		run.Finish(JobStatusFailed, started.Add(time.Hour), "late failure")

		assert.Equal(t, JobStatusSuccess, run.Status)
		assert.Equal(t, 90.0, *run.DurationSeconds)
		assert.Nil(t, run.ErrorMessage)
	})
}

func TestJobRun_FinishTruncatesErrorMessage(t *testing.T) {
	run := &JobRun{Status: JobStatusRunning, StartedAt: time.Now()}

	run.Finish(JobStatusFailed, time.Now(), strings.Repeat("x", 800))

	require.NotNil(t, run.ErrorMessage)
	assert.Len(t, *run.ErrorMessage, MaxErrorMessageLen)
	assert.True(t, strings.HasSuffix(*run.ErrorMessage, "..."))
}

func TestJobRun_FinishKeepsErrorMessageValidUTF8(t *testing.T) {
	run := &JobRun{Status: JobStatusRunning, StartedAt: time.Now()}

	// the cut lands inside the two-byte "ã"
	msg := strings.Repeat("a", 495) + "São Paulo: upstream failed"
	run.Finish(JobStatusFailed, time.Now(), msg)

	require.NotNil(t, run.ErrorMessage)
	got := *run.ErrorMessage
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), MaxErrorMessageLen)
	assert.Equal(t, strings.Repeat("a", 495)+"S...", got)
}

func TestErrorClassification(t *testing.T) {
	base := errors.New("connection refused")

	storeErr := fmt.Errorf("upsert London: %w", NewStoreError("upsert", base))
	assert.True(t, IsStoreError(storeErr))
	assert.False(t, IsUpstreamError(storeErr))
	assert.ErrorIs(t, storeErr, base)

	upErr := fmt.Errorf("poll: %w", &UpstreamError{Source: "openweathermap", EntityID: "Tokyo", StatusCode: 429, RateLimited: true, Err: base})
	assert.True(t, IsUpstreamError(upErr))
	assert.Contains(t, upErr.Error(), "status 429")
	assert.ErrorIs(t, upErr, base)

	normErr := &NormalizationError{EntityID: "Paris", Field: "timestamp", Reason: "missing"}
	assert.True(t, IsNormalizationError(normErr))
	assert.Equal(t, "normalization failed for Paris: timestamp: missing", normErr.Error())
}

func TestParseSource(t *testing.T) {
	for _, s := range []string{"live", "backfill", "synthetic"} {
		got, err := ParseSource(s)
		require.NoError(t, err)
		assert.Equal(t, Source(s), got)
	}

	_, err := ParseSource("api")
	assert.Error(t, err)
}

func TestInsufficientHistory_AvailableSpan(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(72 * time.Hour)

	h := InsufficientHistory{AvailableStart: &start, AvailableEnd: &end}
	assert.Equal(t, 72*time.Hour, h.AvailableSpan())

	assert.Equal(t, time.Duration(0), InsufficientHistory{}.AvailableSpan())
}

func TestTrigger_Validate(t *testing.T) {
	tests := []struct {
		name    string
		trigger Trigger
		maxDays int
		wantErr bool
	}{
		{name: "poll", trigger: Trigger{Job: TriggerPoll}},
		{name: "poll ignores days", trigger: Trigger{Job: TriggerPoll, Days: -1}},
		{name: "backfill", trigger: Trigger{Job: TriggerBackfill, Days: 7}, maxDays: 30},
		{name: "backfill unbounded", trigger: Trigger{Job: TriggerBackfill, Days: 400}},
		{name: "backfill zero days", trigger: Trigger{Job: TriggerBackfill}, wantErr: true},
		{name: "backfill over limit", trigger: Trigger{Job: TriggerBackfill, Days: 31}, maxDays: 30, wantErr: true},
		{name: "unknown job", trigger: Trigger{Job: "reindex"}, wantErr: true},
		{name: "empty job", trigger: Trigger{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.trigger.Validate(tt.maxDays)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTrigger)
				return
			}
			assert.NoError(t, err)
		})
	}

	assert.Equal(t, JobBackfillHistory, Trigger{Job: TriggerBackfill}.JobName())
	assert.Equal(t, JobPollCurrent, Trigger{Job: TriggerPoll}.JobName())
}
