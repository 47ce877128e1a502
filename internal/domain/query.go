package domain

import "time"

// HistoryStatus tells the caller how to read a HistoryResult
type HistoryStatus string

const (
	HistoryComplete     HistoryStatus = "complete"
	HistoryInsufficient HistoryStatus = "insufficient_history"
)

// InsufficientHistory says stored coverage does not span the requested window.
// It is a typed result, not an error.
type InsufficientHistory struct {
	EntityID       string     `json:"city"`
	RequestedStart time.Time  `json:"requested_start"`
	RequestedEnd   time.Time  `json:"requested_end"`
	AvailableStart *time.Time `json:"available_start,omitempty"`
	AvailableEnd   *time.Time `json:"available_end,omitempty"`
	RecordCount    int        `json:"record_count"`
}

// AvailableSpan is the duration of data actually stored inside the window
func (h InsufficientHistory) AvailableSpan() time.Duration {
	if h.AvailableStart == nil || h.AvailableEnd == nil {
		return 0
	}
	return h.AvailableEnd.Sub(*h.AvailableStart)
}

// HistoryResult is either a full-window aggregate or an InsufficientHistory
type HistoryResult struct {
	Status       HistoryStatus        `json:"status"`
	Aggregate    *Aggregate           `json:"aggregate,omitempty"`
	Insufficient *InsufficientHistory `json:"insufficient,omitempty"`
}

// Intent is an ephemeral query: the latest observation of an entity, or its
// history over [Start, End] when a window is set.
type Intent struct {
	Entity string
	Start  time.Time
	End    time.Time
}

// LatestIntent asks for the newest observation of an entity
func LatestIntent(entity string) Intent {
	return Intent{Entity: entity}
}

// HistoryIntent asks for the aggregate of an entity over [start, end]
func HistoryIntent(entity string, start, end time.Time) Intent {
	return Intent{Entity: entity, Start: start, End: end}
}

// IsLatest reports whether the intent carries no window
func (i Intent) IsLatest() bool {
	return i.Start.IsZero() && i.End.IsZero()
}

// Resolution holds the answer to an Intent. Exactly one field is set.
type Resolution struct {
	Observation *Observation
	History     *HistoryResult
}
