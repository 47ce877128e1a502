package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuongbtq/weather-pipeline/internal/domain"
	"github.com/cuongbtq/weather-pipeline/internal/entity"
	"github.com/cuongbtq/weather-pipeline/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

type stubResolver struct {
	latest     domain.Observation
	latestErr  error
	history    domain.HistoryResult
	historyErr error
	obs        []domain.Observation
	gotStart   time.Time
	gotEnd     time.Time
}

func (s *stubResolver) Latest(ctx context.Context, city string) (domain.Observation, error) {
	return s.latest, s.latestErr
}

func (s *stubResolver) History(ctx context.Context, city string, start, end time.Time) (domain.HistoryResult, error) {
	s.gotStart, s.gotEnd = start, end
	return s.history, s.historyErr
}

func (s *stubResolver) Observations(ctx context.Context, city string, start, end time.Time) (iter.Seq2[domain.Observation, error], error) {
	s.gotStart, s.gotEnd = start, end
	return func(yield func(domain.Observation, error) bool) {
		for _, o := range s.obs {
			if !yield(o, nil) {
				return
			}
		}
	}, nil
}

type stubStore struct {
	stats     domain.StoreStats
	statsErr  error
	runs      []domain.JobRun
	gotFilter store.RunFilter
}

func (s *stubStore) Stats(ctx context.Context) (domain.StoreStats, error) {
	return s.stats, s.statsErr
}

func (s *stubStore) DataRange(ctx context.Context, entityID string) (domain.DataRange, error) {
	return domain.DataRange{EntityID: entityID}, nil
}

func (s *stubStore) GetRun(ctx context.Context, runID string) (*domain.JobRun, error) {
	for _, r := range s.runs {
		if r.ID == runID {
			return &r, nil
		}
	}
	return nil, domain.ErrRunNotFound
}

func (s *stubStore) ListRuns(ctx context.Context, filter store.RunFilter) ([]domain.JobRun, error) {
	s.gotFilter = filter
	n := min(len(s.runs), filter.PageSize+1)
	return s.runs[:n], nil
}

type stubPublisher struct {
	bodies [][]byte
	err    error
}

func (p *stubPublisher) PublishJSON(ctx context.Context, messageID string, body []byte) error {
	if p.err != nil {
		return p.err
	}
	p.bodies = append(p.bodies, body)
	return nil
}

func testDeps(t *testing.T) (*Dependencies, *stubResolver, *stubStore, *stubPublisher) {
	t.Helper()

	reg, err := entity.New([]domain.Entity{
		{Name: "London", Country: "GB", Latitude: 51.5, Longitude: -0.12},
		{Name: "Tokyo", Country: "JP", Latitude: 35.7, Longitude: 139.7},
	})
	require.NoError(t, err)

	res := &stubResolver{}
	st := &stubStore{}
	pub := &stubPublisher{}

	return &Dependencies{
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		Resolver:        res,
		Cities:          reg,
		Store:           st,
		Publisher:       pub,
		MaxHistoryDays:  90,
		MaxBackfillDays: 30,
		Now:             func() time.Time { return fixedNow },
	}, res, st, pub
}

func testEngine(deps *Dependencies) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	wh := NewWeatherHandler(deps)
	jh := NewJobHandler(deps)

	r.GET("/cities", wh.ListCities)
	r.GET("/weather/:city/latest", wh.GetLatest)
	r.GET("/weather/:city/history", wh.GetHistory)
	r.GET("/weather/:city/observations", wh.GetObservations)
	r.GET("/weather/:city/range", wh.GetDataRange)
	r.GET("/stats", wh.GetStats)
	r.POST("/jobs/poll", jh.TriggerPoll)
	r.POST("/jobs/backfill", jh.TriggerBackfill)
	r.GET("/jobs/runs", jh.ListRuns)
	r.GET("/jobs/runs/:run_id", jh.GetRun)
	return r
}

func do(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestListCities(t *testing.T) {
	deps, _, _, _ := testDeps(t)
	w := do(testEngine(deps), http.MethodGet, "/cities", "")

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Cities []map[string]any `json:"cities"`
		Count  int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "London", resp.Cities[0]["name"])

	w = do(testEngine(deps), http.MethodGet, "/cities?q=tok", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "Tokyo", resp.Cities[0]["name"])

	w = do(testEngine(deps), http.MethodGet, "/cities?q=atlantis", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"cities":[],"count":0}`, w.Body.String())
}

func TestGetLatest_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"ok", nil, http.StatusOK},
		{"unknown city", fmt.Errorf("%w: Atlantis", domain.ErrUnknownEntity), http.StatusNotFound},
		{"upstream", &domain.UpstreamError{Source: "live", EntityID: "London", StatusCode: 503}, http.StatusBadGateway},
		{"normalization", &domain.NormalizationError{Field: "main.temp", Reason: "missing"}, http.StatusBadGateway},
		{"store", domain.NewStoreError("get_latest", errors.New("conn refused")), http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, res, _, _ := testDeps(t)
			res.latest = domain.Observation{EntityID: "London", Timestamp: fixedNow, Source: domain.SourceLive}
			res.latestErr = tt.err

			w := do(testEngine(deps), http.MethodGet, "/weather/London/latest", "")
			assert.Equal(t, tt.status, w.Code)
			if tt.err == nil {
				assert.Contains(t, w.Body.String(), `"city":"London"`)
			} else {
				assert.NotContains(t, w.Body.String(), "conn refused")
			}
		})
	}
}

func TestGetHistory_Window(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		status    int
		wantStart time.Time
		wantEnd   time.Time
	}{
		{"default days", "", http.StatusOK, fixedNow.AddDate(0, 0, -7), fixedNow},
		{"days", "?days=3", http.StatusOK, fixedNow.AddDate(0, 0, -3), fixedNow},
		{"explicit", "?start=2026-01-01T00:00:00Z&end=2026-01-02T00:00:00Z", http.StatusOK,
			time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"too many days", "?days=91", http.StatusBadRequest, time.Time{}, time.Time{}},
		{"negative days", "?days=-1", http.StatusBadRequest, time.Time{}, time.Time{}},
		{"start only", "?start=2026-01-01T00:00:00Z", http.StatusBadRequest, time.Time{}, time.Time{}},
		{"reversed", "?start=2026-01-02T00:00:00Z&end=2026-01-01T00:00:00Z", http.StatusBadRequest, time.Time{}, time.Time{}},
		{"bad time", "?start=yesterday&end=today", http.StatusBadRequest, time.Time{}, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, res, _, _ := testDeps(t)
			res.history = domain.HistoryResult{Status: domain.HistoryComplete, Aggregate: &domain.Aggregate{EntityID: "London"}}

			w := do(testEngine(deps), http.MethodGet, "/weather/London/history"+tt.query, "")
			require.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.status == http.StatusOK {
				assert.True(t, tt.wantStart.Equal(res.gotStart), "start %s", res.gotStart)
				assert.True(t, tt.wantEnd.Equal(res.gotEnd), "end %s", res.gotEnd)
			}
		})
	}
}

func TestGetHistory_InsufficientIsOK(t *testing.T) {
	deps, res, _, _ := testDeps(t)
	res.history = domain.HistoryResult{
		Status:       domain.HistoryInsufficient,
		Insufficient: &domain.InsufficientHistory{EntityID: "London", RecordCount: 3},
	}

	w := do(testEngine(deps), http.MethodGet, "/weather/London/history?days=7", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"insufficient_history"`)
}

func TestGetObservations(t *testing.T) {
	deps, res, _, _ := testDeps(t)
	res.obs = []domain.Observation{
		{EntityID: "Tokyo", Timestamp: fixedNow.Add(-2 * time.Hour)},
		{EntityID: "Tokyo", Timestamp: fixedNow.Add(-time.Hour)},
	}

	w := do(testEngine(deps), http.MethodGet, "/weather/Tokyo/observations?days=1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
}

func TestGetDataRange_UnknownCity(t *testing.T) {
	deps, _, _, _ := testDeps(t)
	w := do(testEngine(deps), http.MethodGet, "/weather/Atlantis/range", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(testEngine(deps), http.MethodGet, "/weather/tokyo/range", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"city":"Tokyo"`)
}

func TestGetStats_StoreDown(t *testing.T) {
	deps, _, st, _ := testDeps(t)
	st.statsErr = domain.NewStoreError("stats", errors.New("timeout"))

	w := do(testEngine(deps), http.MethodGet, "/stats", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestTriggerJobs(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		pubErr error
		status int
		job    string
		days   int
	}{
		{"poll", "/jobs/poll", "", nil, http.StatusAccepted, domain.TriggerPoll, 0},
		{"backfill", "/jobs/backfill", `{"days":5}`, nil, http.StatusAccepted, domain.TriggerBackfill, 5},
		{"backfill zero days", "/jobs/backfill", `{"days":0}`, nil, http.StatusBadRequest, "", 0},
		{"backfill over max", "/jobs/backfill", `{"days":31}`, nil, http.StatusBadRequest, "", 0},
		{"backfill bad json", "/jobs/backfill", `{"days":`, nil, http.StatusBadRequest, "", 0},
		{"queue down", "/jobs/poll", "", errors.New("channel closed"), http.StatusServiceUnavailable, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, _, _, pub := testDeps(t)
			pub.err = tt.pubErr

			w := do(testEngine(deps), http.MethodPost, tt.path, tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())

			if tt.status != http.StatusAccepted {
				assert.Empty(t, pub.bodies)
				return
			}

			require.Len(t, pub.bodies, 1)
			var trigger domain.Trigger
			require.NoError(t, json.Unmarshal(pub.bodies[0], &trigger))
			assert.Equal(t, tt.job, trigger.Job)
			assert.Equal(t, tt.days, trigger.Days)
			assert.NotEmpty(t, trigger.TriggerID)
			assert.True(t, fixedNow.Equal(trigger.RequestedAt))
			assert.NoError(t, trigger.Validate(30))
		})
	}
}

func TestListRuns_Pagination(t *testing.T) {
	deps, _, st, _ := testDeps(t)
	for i := range 3 {
		st.runs = append(st.runs, domain.JobRun{
			ID:        fmt.Sprintf("00000000-0000-0000-0000-00000000000%d", i),
			JobName:   domain.JobPollCurrent,
			Status:    domain.JobStatusSuccess,
			StartedAt: fixedNow.Add(-time.Duration(i) * time.Hour),
		})
	}
	r := testEngine(deps)

	w := do(r, http.MethodGet, "/jobs/runs?page_size=2&job_name=poll_current", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Runs       []map[string]any `json:"runs"`
		NextCursor string           `json:"next_cursor"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Runs, 2)
	assert.Equal(t, 2, st.gotFilter.PageSize)
	assert.Equal(t, domain.JobPollCurrent, st.gotFilter.JobName)
	require.NotEmpty(t, resp.NextCursor)

	cursor, err := DecodeRunCursor(resp.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, st.runs[1].ID, cursor.RunID)
	assert.True(t, st.runs[1].StartedAt.Equal(cursor.StartedAt))

	w = do(r, http.MethodGet, "/jobs/runs?cursor=!!!", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/jobs/runs?status=paused", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/jobs/runs?page_size=500", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 100, st.gotFilter.PageSize)
}

func TestGetRun(t *testing.T) {
	deps, _, st, _ := testDeps(t)
	msg := "1 of 2 cities failed"
	st.runs = []domain.JobRun{{
		ID:           "7f9c2b9e-4a43-4f44-9d0a-3f5c1b2e8a10",
		JobName:      domain.JobBackfillHistory,
		Status:       domain.JobStatusSuccess,
		StartedAt:    fixedNow,
		ErrorMessage: &msg,
	}}
	r := testEngine(deps)

	w := do(r, http.MethodGet, "/jobs/runs/7f9c2b9e-4a43-4f44-9d0a-3f5c1b2e8a10", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), msg)

	w = do(r, http.MethodGet, "/jobs/runs/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/jobs/runs/0b1e2c3d-0000-4000-8000-000000000000", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunCursorRoundTrip(t *testing.T) {
	c, err := DecodeRunCursor("")
	require.NoError(t, err)
	assert.Nil(t, c)

	in := &store.RunCursor{StartedAt: fixedNow.Add(123 * time.Nanosecond), RunID: "abc"}
	out, err := DecodeRunCursor(EncodeRunCursor(in))
	require.NoError(t, err)
	assert.True(t, in.StartedAt.Equal(out.StartedAt))
	assert.Equal(t, "abc", out.RunID)
}
