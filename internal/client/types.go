package client

import (
	"time"

	"github.com/Vicaadrn/web-scanner-project/internal/model"
)

// SubmitRequest asks the service to scan URL.
type SubmitRequest struct {
	URL      string `json:"url"`
	ScanType string `json:"scan_type,omitempty"`
	Wordlist string `json:"wordlist,omitempty"`
}

// ScanInfo is the caller's quota after an accepted submission.
// RemainingScans is nil for logged-in callers.
type ScanInfo struct {
	ID             string `json:"id"`
	RemainingScans *int   `json:"remainingScans"`
	RequiresLogin  bool   `json:"requiresLogin"`
	IsLoggedIn     bool   `json:"isLoggedIn"`
	ScanCount      int    `json:"scanCount"`
	MaxFreeScans   int    `json:"maxFreeScans"`
}

type SubmitResponse struct {
	Status    string   `json:"status"`
	JobID     string   `json:"jobId"`
	SessionID string   `json:"sessionId"`
	Session   Session  `json:"session"`
	ScanInfo  ScanInfo `json:"scanInfo"`
}

// Session is the service's view of one scan.
type Session struct {
	ID              string                  `json:"id"`
	JobID           string                  `json:"jobId"`
	Target          string                  `json:"target"`
	Tier            string                  `json:"tier"`
	Wordlist        string                  `json:"wordlist"`
	Phase           string                  `json:"phase"`
	Progress        int                     `json:"progress"`
	Discovered      int                     `json:"discovered"`
	Vulnerabilities int                     `json:"vulnerabilities"`
	Result          *model.NormalizedResult `json:"result,omitempty"`
	Error           string                  `json:"error,omitempty"`
	Reason          string                  `json:"reason,omitempty"`
	CreatedAt       time.Time               `json:"createdAt"`
	UpdatedAt       time.Time               `json:"updatedAt"`
}

// User is an authenticated principal as reported by /api/auth/me.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type meResponse struct {
	User       *User `json:"user"`
	IsLoggedIn bool  `json:"isLoggedIn"`
}

type streamMessage struct {
	Type string  `json:"type"`
	Data Session `json:"data"`
}

type errorResponse struct {
	Status        string `json:"status"`
	Error         string `json:"error"`
	RequiresLogin bool   `json:"requiresLogin"`
	ScanCount     int    `json:"scanCount"`
	MaxFreeScans  int    `json:"maxFreeScans"`
}

// Event translates a session snapshot into a phase event for the reducer.
func (s Session) Event(src model.EventSource, at time.Time) model.PhaseEvent {
	ev := model.PhaseEvent{
		JobID:                s.JobID,
		Source:               src,
		Phase:                model.Phase(s.Phase),
		Progress:             s.Progress,
		DiscoveredTotal:      s.Discovered,
		VulnerabilitiesTotal: s.Vulnerabilities,
		Normalized:           s.Result,
		Error:                s.Error,
		Reason:               model.ErrorReason(s.Reason),
		At:                   at,
	}
	if !s.UpdatedAt.IsZero() {
		ev.At = s.UpdatedAt
	}
	return ev
}
