package sync

import (
	"context"
	"time"
)

// Syncer reconciles the local and remote copies of an owner's records.
//
// Conflicts are resolved last-write-wins on updatedAt and are never reported
// as errors. A table failure aborts the rest of the run; tables already
// written are not rolled back, and the returned Report says which ones
// completed.
type Syncer interface {
	// Import copies newer remote records into the local store.
	//
	// Example:
	//   report, err := syncer.Import(ctx, "u1")
	Import(ctx context.Context, owner string) (*Report, error)

	// Export copies newer local records into the remote store.
	//
	// Example:
	//   report, err := syncer.Export(ctx, "u1")
	Export(ctx context.Context, owner string) (*Report, error)

	// Plan returns the table order used by every run.
	Plan() Plan
}

// Direction names the flow of a sync run.
type Direction string

const (
	// DirectionImport copies remote to local.
	DirectionImport Direction = "import"
	// DirectionExport copies local to remote.
	DirectionExport Direction = "export"
)

// ParseDirection accepts "import" or "export".
func ParseDirection(s string) (Direction, bool) {
	switch Direction(s) {
	case DirectionImport, DirectionExport:
		return Direction(s), true
	}
	return "", false
}

// TableResult summarizes one synced table.
type TableResult struct {
	Table    string        `json:"table"`
	Fetched  int           `json:"fetched"`
	Written  int           `json:"written"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
}

// Report describes a sync run. Tables lists completed tables in plan order.
type Report struct {
	RunID      string        `json:"runId"`
	Direction  Direction     `json:"direction"`
	Owner      string        `json:"owner"`
	Tables     []TableResult `json:"tables"`
	FailedAt   string        `json:"failedAt,omitempty"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
}

// Written returns the total number of records written.
func (r *Report) Written() int {
	var n int
	for _, t := range r.Tables {
		n += t.Written
	}
	return n
}

// EventType classifies an Event.
type EventType string

const (
	EventStarted  EventType = "started"
	EventTable    EventType = "table"
	EventFinished EventType = "finished"
	EventFailed   EventType = "failed"
)

// Event is a progress notification of a sync run.
type Event struct {
	Type      EventType    `json:"type"`
	RunID     string       `json:"runId"`
	Direction Direction    `json:"direction"`
	Owner     string       `json:"owner"`
	Table     *TableResult `json:"table,omitempty"`
	Error     string       `json:"error,omitempty"`
	Time      time.Time    `json:"time"`
}

// Observer receives sync events. Observe is called synchronously from the
// run and must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe implements Observer.
func (f ObserverFunc) Observe(e Event) { f(e) }
