package model

import (
	"fmt"
	"time"
)

// ScanSession is the durable record of one submitted scan.
type ScanSession struct {
	ID          string    `json:"id"`
	PrincipalID string    `json:"principal_id,omitempty"`
	AnonymousID string    `json:"anonymous_id,omitempty"`
	Target      string    `json:"target"`
	Tier        ScanTier  `json:"tier"`
	Wordlist    string    `json:"wordlist"`
	SourceIP    string    `json:"source_ip,omitempty"`
	CreatedAt   time.Time `json:"created_at"`

	ScanState
}

// Validate enforces the owner exclusivity invariant and the required fields.
func (s *ScanSession) Validate() error {
	if (s.PrincipalID == "") == (s.AnonymousID == "") {
		return fmt.Errorf("session %q: %w", s.ID, ErrOwnerConflict)
	}
	if s.JobID == "" {
		return fmt.Errorf("session %q: missing job id", s.ID)
	}
	if s.Target == "" {
		return fmt.Errorf("session %q: missing target", s.ID)
	}
	return nil
}

// OwnedBy reports whether id is the owner of the session.
func (s *ScanSession) OwnedBy(id Identity) bool {
	if id.IsAuthenticated() {
		return s.PrincipalID == id.PrincipalID
	}
	return id.SessionID != "" && s.AnonymousID == id.SessionID
}

// ScanState is the reconciled, mutable part of a session.
type ScanState struct {
	JobID           string            `json:"job_id"`
	Phase           Phase             `json:"phase"`
	Progress        int               `json:"progress"`
	Discovered      int               `json:"discovered"`
	Vulnerabilities int               `json:"vulnerabilities"`
	RawResult       []byte            `json:"-"`
	Result          *NormalizedResult `json:"result,omitempty"`
	Error           string            `json:"error,omitempty"`
	Reason          ErrorReason       `json:"reason,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at"`

	// Set once the engine reported a running total for the counter; bare
	// increments are ignored from then on.
	DiscoveredExact      bool `json:"-"`
	VulnerabilitiesExact bool `json:"-"`
}

// ErrorReason classifies why a session ended in PhaseErrored.
type ErrorReason string

const (
	ReasonEngine   ErrorReason = "engine"
	ReasonTimeout  ErrorReason = "timeout"
	ReasonCanceled ErrorReason = "canceled"
)

// NewPendingState is the initial state of a freshly accepted submission.
func NewPendingState(jobID string, now time.Time) ScanState {
	return ScanState{JobID: jobID, Phase: PhasePending, UpdatedAt: now}
}
