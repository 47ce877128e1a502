package ingest

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cuongbtq/weather-pipeline/internal/domain"
)

// maxListedFailures bounds how many per-city errors are spelled out in a summary
const maxListedFailures = 5

// tally accumulates per-entity outcomes of one run. Safe for concurrent use.
type tally struct {
	mu        sync.Mutex
	succeeded int
	failed    map[string]string
	inserted  int
	updated   int
	dropped   int
}

func (t *tally) succeed(inserted, updated int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.succeeded++
	t.inserted += inserted
	t.updated += updated
}

func (t *tally) fail(entity string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failed == nil {
		t.failed = make(map[string]string)
	}
	t.failed[entity] = err.Error()
}

func (t *tally) addWrites(inserted, updated int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inserted += inserted
	t.updated += updated
}

func (t *tally) addDropped(n int) {
	if n == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropped += n
}

func (t *tally) processed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.succeeded + len(t.failed)
}

func (t *tally) apply(run *domain.JobRun) {
	t.mu.Lock()
	defer t.mu.Unlock()
	run.CitiesProcessed = t.succeeded + len(t.failed)
	run.CitiesFailed = len(t.failed)
	run.RecordsInserted = t.inserted
	run.RecordsUpdated = t.updated
	run.RecordsDropped = t.dropped
}

// summary folds per-city failures and dropped records into one line,
// e.g. "2 of 10 cities failed: Paris: ...; Tokyo: ...; 3 records dropped"
func (t *tally) summary() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var parts []string
	if n := len(t.failed); n > 0 {
		names := make([]string, 0, n)
		for name := range t.failed {
			names = append(names, name)
		}
		sort.Strings(names)

		listed := names
		if len(listed) > maxListedFailures {
			listed = listed[:maxListedFailures]
		}
		details := make([]string, 0, len(listed))
		for _, name := range listed {
			details = append(details, t.failed[name])
		}

		head := fmt.Sprintf("%d of %d cities failed: %s", n, t.succeeded+n, strings.Join(details, "; "))
		if len(names) > len(listed) {
			head += fmt.Sprintf("; and %d more", len(names)-len(listed))
		}
		parts = append(parts, head)
	}
	if t.dropped > 0 {
		parts = append(parts, fmt.Sprintf("%d records dropped", t.dropped))
	}
	return strings.Join(parts, "; ")
}
