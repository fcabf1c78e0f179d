package stores

import (
	"context"
	"time"
)

// RenderStatus represents the outcome of a render
type RenderStatus string

const (
	RenderStatusSucceeded RenderStatus = "succeeded"
	RenderStatusFailed    RenderStatus = "failed"
	RenderStatusDenied    RenderStatus = "denied"
)

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Render represents one run of the render pipeline
type Render struct {
	ID          string        `json:"id"`
	Sources     []string      `json:"sources"`               // stored as a JSON array
	Format      string        `json:"format"`
	Output      string        `json:"output"`                // empty for stdout
	Status      RenderStatus  `json:"status"`
	ErrorClass  *string       `json:"error_class,omitempty"`
	Error       *string       `json:"error,omitempty"`
	OutputHash  string        `json:"output_hash,omitempty"` // SHA256 of the rendered text
	OutputBytes int64         `json:"output_bytes"`
	Duration    time.Duration `json:"duration"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Event represents an append-only log entry attached to a render, such as a
// policy warning
type Event struct {
	ID        int64      `json:"id"`
	RenderID  string     `json:"render_id"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Details   *string    `json:"details,omitempty"` // JSON blob
	Timestamp time.Time  `json:"timestamp"`
}

// OutputState tracks the last text written to an output file
type OutputState struct {
	Path         string    `json:"path"`
	Hash         string    `json:"hash"` // SHA256 of the rendered text
	LastRenderID string    `json:"last_render_id"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store defines the interface for the render history
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Render operations
	RecordRender(ctx context.Context, render *Render) error
	GetRender(ctx context.Context, id string) (*Render, error)
	ListRenders(ctx context.Context, limit, offset int) ([]*Render, error)
	PruneRenders(ctx context.Context, before time.Time) (int64, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, renderID string, level *EventLevel) ([]*Event, error)

	// Output operations
	UpsertOutput(ctx context.Context, state *OutputState) error
	GetOutput(ctx context.Context, path string) (*OutputState, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
