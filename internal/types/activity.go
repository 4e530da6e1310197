package types

import "time"

// Activity log kinds.
const (
	ActivityKindAccount  = "account"
	ActivityKindPipeline = "pipeline"
	ActivityKindSystem   = "system"
)

// ActivityLogEntry is one line of the append-only per-entity audit trail.
type ActivityLogEntry struct {
	Entity    string    `json:"entity"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
}
