package model

import "time"

// EventSource identifies the channel a PhaseEvent arrived on.
type EventSource string

const (
	SourcePoll    EventSource = "poll"
	SourcePush    EventSource = "push"
	SourceEngine  EventSource = "engine"
	SourceTimeout EventSource = "timeout"
	SourceCancel  EventSource = "cancel"
)

// PhaseEvent is a single status update for a job. Totals are cumulative
// counters reported by the sender; increments are added on top of the
// current value. A zero Phase leaves the phase unchanged.
type PhaseEvent struct {
	JobID  string      `json:"job_id"`
	Source EventSource `json:"source"`
	Phase  Phase       `json:"phase,omitempty"`

	// Progress is a percentage; negative means "not reported".
	Progress int `json:"progress"`

	DiscoveredTotal        int `json:"discovered_total,omitempty"`
	DiscoveryIncrement     int `json:"discovery_increment,omitempty"`
	VulnerabilitiesTotal   int `json:"vulnerabilities_total,omitempty"`
	VulnerabilityIncrement int `json:"vulnerability_increment,omitempty"`

	// Result is the raw engine payload attached to a terminal event.
	Result []byte `json:"-"`
	// Normalized is set instead of Result when the sender already normalized.
	Normalized *NormalizedResult `json:"normalized,omitempty"`

	Error  string      `json:"error,omitempty"`
	Reason ErrorReason `json:"reason,omitempty"`
	At     time.Time   `json:"at"`
}
