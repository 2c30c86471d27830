package server

import (
	"time"

	"github.com/Vicaadrn/web-scanner-project/internal/model"
)

// ScanRequest is the payload of POST /api/scans.
type ScanRequest struct {
	URL      string `json:"url" validate:"required,max=2048" example:"https://example.com"`
	ScanType string `json:"scan_type,omitempty" validate:"omitempty,max=64" example:"quick"`
	Wordlist string `json:"wordlist,omitempty" validate:"omitempty,max=256" example:"common.txt"`
}

// ScanInfo reports the caller's quota after an accepted submission.
// RemainingScans is null for logged-in callers.
type ScanInfo struct {
	ID             string `json:"id" example:"9b2c1f0e-6a53-4a51-9a3f-2d0c5f7a1e44"`
	RemainingScans *int   `json:"remainingScans" example:"2"`
	RequiresLogin  bool   `json:"requiresLogin" example:"false"`
	IsLoggedIn     bool   `json:"isLoggedIn" example:"false"`
	ScanCount      int    `json:"scanCount" example:"1"`
	MaxFreeScans   int    `json:"maxFreeScans" example:"3"`
}

// SubmitResponse is returned with 201 when a scan was accepted.
type SubmitResponse struct {
	Status    string          `json:"status" example:"ok"`
	JobID     string          `json:"jobId" example:"scan_1a2b3c4d"`
	SessionID string          `json:"sessionId" example:"9b2c1f0e-6a53-4a51-9a3f-2d0c5f7a1e44"`
	Session   SessionResponse `json:"session"`
	ScanInfo  ScanInfo        `json:"scanInfo"`
}

// QuotaErrorResponse is returned with 401 when an anonymous caller has used
// every free scan in the window.
type QuotaErrorResponse struct {
	Status        string `json:"status" example:"error"`
	Error         string `json:"error" example:"log in to run more scans"`
	RequiresLogin bool   `json:"requiresLogin" example:"true"`
	ScanCount     int    `json:"scanCount" example:"3"`
	MaxFreeScans  int    `json:"maxFreeScans" example:"3"`
}

// SessionResponse is the caller-facing view of a scan session.
type SessionResponse struct {
	ID              string                  `json:"id" example:"9b2c1f0e-6a53-4a51-9a3f-2d0c5f7a1e44"`
	JobID           string                  `json:"jobId" example:"scan_1a2b3c4d"`
	Target          string                  `json:"target" example:"https://example.com"`
	Tier            string                  `json:"tier" example:"quick"`
	Wordlist        string                  `json:"wordlist" example:"common.txt"`
	Phase           string                  `json:"phase" example:"analyzing"`
	Progress        int                     `json:"progress" example:"70"`
	Discovered      int                     `json:"discovered" example:"12"`
	Vulnerabilities int                     `json:"vulnerabilities" example:"2"`
	Result          *model.NormalizedResult `json:"result,omitempty"`
	Error           string                  `json:"error,omitempty" example:"scan cancelled"`
	Reason          string                  `json:"reason,omitempty" example:"canceled"`
	CreatedAt       time.Time               `json:"createdAt"`
	UpdatedAt       time.Time               `json:"updatedAt"`
}

// StreamMessage is one frame on GET /ws/scans/{jobID}.
type StreamMessage struct {
	Type string          `json:"type" example:"state"`
	Data SessionResponse `json:"data"`
}

// UserResponse describes an authenticated principal.
type UserResponse struct {
	ID    string `json:"id" example:"u_42"`
	Email string `json:"email" example:"alice@example.com"`
}

// MeResponse is returned by GET /api/auth/me. User is null for anonymous
// callers.
type MeResponse struct {
	User       *UserResponse `json:"user"`
	IsLoggedIn bool          `json:"isLoggedIn" example:"false"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}

// ErrorResponse is a uniform error payload returned by the API.
type ErrorResponse struct {
	Error string `json:"error" example:"scan session not found"`
}

func toSessionResponse(s *model.ScanSession) SessionResponse {
	return SessionResponse{
		ID:              s.ID,
		JobID:           s.JobID,
		Target:          s.Target,
		Tier:            string(s.Tier),
		Wordlist:        s.Wordlist,
		Phase:           string(s.Phase),
		Progress:        s.Progress,
		Discovered:      s.Discovered,
		Vulnerabilities: s.Vulnerabilities,
		Result:          s.Result,
		Error:           s.Error,
		Reason:          string(s.Reason),
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}
