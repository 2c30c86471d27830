package engine

import (
	"bytes"
	"strings"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/Vicaadrn/web-scanner-project/internal/model"
)

// Message types on the engine websocket.
const (
	MessageState = "state"
	MessageEvent = "event"
)

// Event names carried in "event" messages.
const (
	EventDiscoveryLive  = "discovery_live"
	EventDiscovery      = "discovery"
	EventFfufDiscovery  = "ffuf_discovery"
	EventVulnerability  = "vulnerability"
	EventNucleiProgress = "nuclei_progress"
	EventNucleiComplete = "nuclei_complete"
	EventScanComplete   = "scan_complete"
	EventError          = "error"
)

// ScanRequest is the body of POST /api/scans.
type ScanRequest struct {
	URL      string `json:"url"`
	ScanType string `json:"scan_type"`
	Wordlist string `json:"wordlist"`
	Timeout  int    `json:"timeout,omitzero"`
}

// Message is one websocket frame.
type Message struct {
	Type string         `json:"type"`
	Data jsontext.Value `json:"data"`
}

// StatusSnapshot is the engine's view of one job, returned by
// GET /api/status and carried in "state" messages.
type StatusSnapshot struct {
	ID              string         `json:"id"`
	Status          string         `json:"status,omitempty"`
	Phase           string         `json:"phase"`
	Progress        float64        `json:"progress"`
	Discovered      int            `json:"discovered,omitzero"`
	Vulnerabilities int            `json:"vulnerabilities,omitzero"`
	Result          jsontext.Value `json:"result,omitempty"`
	Error           string         `json:"error,omitempty"`
	StartTime       time.Time      `json:"start_time,omitzero"`
}

// EventPayload is the data of an "event" message. Only the fields relevant
// to each event name are set.
type EventPayload struct {
	Event    string         `json:"event"`
	URL      string         `json:"url,omitempty"`
	Tool     string         `json:"tool,omitempty"`
	Count    int            `json:"count,omitzero"`
	Status   int            `json:"status,omitzero"`
	Severity string         `json:"severity,omitempty"`
	Name     string         `json:"name,omitempty"`
	Message  string         `json:"message,omitempty"`
	Duration string         `json:"duration,omitempty"`
	Targets  int            `json:"targets,omitzero"`
	Error    string         `json:"error,omitempty"`
	Result   jsontext.Value `json:"result,omitempty"`
}

// phaseOf combines the free-form phase label with the coarse status.
func phaseOf(status, label string) model.Phase {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "error", "failed", "cancelled", "canceled", "stopped":
		return model.PhaseErrored
	case "finished", "completed", "done":
		return model.PhaseFinished
	}
	return model.ParsePhase(label)
}

// SnapshotEvent translates a status snapshot into a phase event.
func SnapshotEvent(jobID string, src model.EventSource, s StatusSnapshot, at time.Time) model.PhaseEvent {
	ev := model.PhaseEvent{
		JobID:                jobID,
		Source:               src,
		Phase:                phaseOf(s.Status, s.Phase),
		Progress:             int(s.Progress),
		DiscoveredTotal:      s.Discovered,
		VulnerabilitiesTotal: s.Vulnerabilities,
		Error:                s.Error,
		At:                   at,
	}
	if ev.Phase == model.PhaseErrored && ev.Error == "" {
		ev.Error = s.Phase
	}
	if ev.Phase == model.PhaseErrored && strings.Contains(strings.ToLower(s.Phase), "cancel") {
		ev.Reason = model.ReasonCanceled
	}
	if ev.Phase.IsTerminal() {
		ev.Result = resultBytes(s.Result)
	}
	return ev
}

// TranslateMessage translates one websocket frame. ok is false for frames that
// carry nothing the reconciler can use.
func TranslateMessage(jobID string, msg Message, at time.Time) (model.PhaseEvent, bool) {
	switch msg.Type {
	case MessageState:
		var s StatusSnapshot
		if err := json.Unmarshal(msg.Data, &s); err != nil {
			return model.PhaseEvent{}, false
		}
		ev := SnapshotEvent(jobID, model.SourcePush, s, at)
		return ev, ev.Phase != "" || ev.Progress > 0
	case MessageEvent:
		var p EventPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return model.PhaseEvent{}, false
		}
		return payloadEvent(jobID, p, at)
	}
	return model.PhaseEvent{}, false
}

func payloadEvent(jobID string, p EventPayload, at time.Time) (model.PhaseEvent, bool) {
	ev := model.PhaseEvent{JobID: jobID, Source: model.SourcePush, At: at}
	switch p.Event {
	case EventDiscoveryLive, EventFfufDiscovery:
		ev.Phase = model.PhaseDiscovering
		if p.Count > 0 {
			ev.DiscoveredTotal = p.Count
		} else {
			ev.DiscoveryIncrement = 1
		}
	case EventDiscovery:
		ev.Phase = model.PhaseDiscovering
	case EventVulnerability:
		ev.Phase = model.PhaseAnalyzing
		if p.Count > 0 {
			ev.VulnerabilitiesTotal = p.Count
		} else {
			ev.VulnerabilityIncrement = 1
		}
	case EventNucleiProgress:
		ev.Phase = model.PhaseAnalyzing
	case EventNucleiComplete:
		ev.Phase = model.PhaseAnalyzing
		ev.VulnerabilitiesTotal = p.Count
	case EventScanComplete:
		ev.Phase = model.PhaseFinished
		ev.Result = resultBytes(p.Result)
	case EventError:
		ev.Phase = model.PhaseErrored
		ev.Error = p.Error
		if ev.Error == "" {
			ev.Error = p.Message
		}
	default:
		return model.PhaseEvent{}, false
	}
	return ev, true
}

func resultBytes(v jsontext.Value) []byte {
	b := bytes.TrimSpace(v)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	return append([]byte(nil), b...)
}
