package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/weather-pipeline/internal/domain"
	"github.com/cuongbtq/weather-pipeline/internal/source"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func cities(names ...string) []domain.Entity {
	out := make([]domain.Entity, 0, len(names))
	for i, n := range names {
		out = append(out, domain.Entity{Name: n, Country: "XX", Latitude: float64(i), Longitude: float64(i)})
	}
	return out
}

type obsKey struct {
	entity string
	ts     time.Time
}

// memStore keeps observations keyed by (entity, timestamp) like the real table
type memStore struct {
	mu       sync.Mutex
	rows     map[obsKey]domain.Observation
	runs     map[string]domain.JobRun
	pingErr  error
	failOn   string
	creates  int
	finishes int
}

func newMemStore() *memStore {
	return &memStore{
		rows: make(map[obsKey]domain.Observation),
		runs: make(map[string]domain.JobRun),
	}
}

func (m *memStore) Ping(context.Context) error { return m.pingErr }

func (m *memStore) Upsert(_ context.Context, obs domain.Observation) (domain.UpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if obs.EntityID == m.failOn {
		return "", domain.NewStoreError("upsert observation", errors.New("connection refused"))
	}

	key := obsKey{obs.EntityID, obs.Timestamp}
	if prev, ok := m.rows[key]; ok {
		obs.RecordCreatedAt = prev.RecordCreatedAt
		m.rows[key] = obs
		return domain.UpsertUpdated, nil
	}
	obs.RecordCreatedAt = time.Now()
	m.rows[key] = obs
	return domain.UpsertInserted, nil
}

func (m *memStore) CreateRun(_ context.Context, run *domain.JobRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	m.runs[run.ID] = *run
	return nil
}

func (m *memStore) FinishRun(_ context.Context, run *domain.JobRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.runs[run.ID]
	if !ok || stored.Status != domain.JobStatusRunning {
		return fmt.Errorf("job run %s is not running: %w", run.ID, domain.ErrRunNotFound)
	}
	m.finishes++
	m.runs[run.ID] = *run
	return nil
}

func (m *memStore) Stats(context.Context) (domain.StoreStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.StoreStats{TotalRecords: len(m.rows)}, nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *memStore) timestamps(entity string) []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []time.Time
	for k := range m.rows {
		if k.entity == entity {
			out = append(out, k.ts)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// fakeLive returns one record per entity at a fixed timestamp
type fakeLive struct {
	mu      sync.Mutex
	dt      int64
	fail    map[string]error
	noTemp  map[string]bool
	calls   map[string]int
	block   chan struct{}
	started chan string
}

func newFakeLive(dt time.Time) *fakeLive {
	return &fakeLive{
		dt:     dt.Unix(),
		fail:   map[string]error{},
		noTemp: map[string]bool{},
		calls:  map[string]int{},
	}
}

func (f *fakeLive) FetchCurrent(_ context.Context, e domain.Entity) (source.LiveRecord, error) {
	f.mu.Lock()
	f.calls[e.Name]++
	err := f.fail[e.Name]
	noTemp := f.noTemp[e.Name]
	block, started := f.block, f.started
	f.mu.Unlock()

	if started != nil {
		started <- e.Name
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return source.LiveRecord{}, err
	}

	dt := f.dt
	rec := source.LiveRecord{
		EntityID:  e.Name,
		Country:   e.Country,
		Latitude:  e.Latitude,
		Longitude: e.Longitude,
		Units:     source.UnitsMetric,
		Dt:        &dt,
		Main:      "Clear",
	}
	if !noTemp {
		temp := 20.0
		rec.Temp = &temp
	}
	return rec, nil
}

func (f *fakeLive) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// fakeArchive serves hourly records for [from, to) regardless of the requested window
type fakeArchive struct {
	mu        sync.Mutex
	from, to  time.Time
	gotStart  time.Time
	gotEnd    time.Time
	malformed int
}

func (f *fakeArchive) FetchRange(_ context.Context, e domain.Entity, start, end time.Time) ([]source.ArchiveRecord, error) {
	f.mu.Lock()
	f.gotStart, f.gotEnd = start, end
	f.mu.Unlock()

	var out []source.ArchiveRecord
	for ts := f.from; ts.Before(f.to); ts = ts.Add(time.Hour) {
		temp := 10.0
		out = append(out, source.ArchiveRecord{
			EntityID:        e.Name,
			Time:            ts.Format("2006-01-02T15:04"),
			TemperatureUnit: "°C",
			WindSpeedUnit:   "km/h",
			Temperature:     &temp,
		})
	}
	for i := 0; i < f.malformed; i++ {
		out = append(out, source.ArchiveRecord{EntityID: e.Name, Time: "not-a-time"})
	}
	return out, nil
}

func upstreamErr(entity string) error {
	return &domain.UpstreamError{Source: "openweathermap", EntityID: entity, StatusCode: 503, Err: errors.New("service unavailable")}
}
