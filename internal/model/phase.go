package model

import "strings"

// Phase is a discrete stage in a scan session's lifecycle.
type Phase string

const (
	PhasePending     Phase = "pending"
	PhaseDiscovering Phase = "discovering"
	PhaseAnalyzing   Phase = "analyzing"
	PhaseFinished    Phase = "finished"
	PhaseErrored     Phase = "errored"
)

func (p Phase) String() string { return string(p) }

// Rank orders the phases along the forward path. errored shares the top rank
// with finished since both are terminal. Unknown phases rank -1.
func (p Phase) Rank() int {
	switch p {
	case PhasePending:
		return 0
	case PhaseDiscovering:
		return 1
	case PhaseAnalyzing:
		return 2
	case PhaseFinished, PhaseErrored:
		return 3
	default:
		return -1
	}
}

func (p Phase) IsValid() bool { return p.Rank() >= 0 }

// IsTerminal reports whether no further transitions are possible.
func (p Phase) IsTerminal() bool {
	return p == PhaseFinished || p == PhaseErrored
}

// ParsePhase maps canonical names and the engine's free-form phase labels
// ("Discovery (12 found)", "Nuclei Scanning", "Scan completed!") onto a Phase.
// The empty Phase is returned when nothing matches.
func ParsePhase(s string) Phase {
	l := strings.ToLower(strings.TrimSpace(s))
	switch l {
	case "pending", "queued", "init", "initializing", "running":
		return PhasePending
	case "discovering":
		return PhaseDiscovering
	case "analyzing":
		return PhaseAnalyzing
	case "finished", "done", "completed":
		return PhaseFinished
	case "errored", "error", "failed", "cancelled", "canceled":
		return PhaseErrored
	}
	switch {
	case l == "":
		return ""
	case strings.Contains(l, "error"), strings.Contains(l, "fail"), strings.Contains(l, "cancel"):
		return PhaseErrored
	case strings.Contains(l, "discover"), strings.Contains(l, "ffuf"), strings.Contains(l, "katana"):
		return PhaseDiscovering
	case strings.Contains(l, "vuln"), strings.Contains(l, "nuclei"), strings.Contains(l, "analy"),
		strings.Contains(l, "no targets"):
		return PhaseAnalyzing
	case strings.Contains(l, "finish"), strings.Contains(l, "complete"):
		return PhaseFinished
	case strings.Contains(l, "init"), strings.Contains(l, "pending"), strings.Contains(l, "processing"):
		return PhasePending
	}
	return ""
}

// ScanTier is the requested depth of a scan.
type ScanTier string

const (
	TierQuick ScanTier = "quick"
	TierDeep  ScanTier = "deep"
	TierFull  ScanTier = "full"
)

// ParseTier accepts the canonical names as well as UI labels such as
// "Deep Scan". Empty input selects TierQuick; ok is false for anything else.
func ParseTier(s string) (ScanTier, bool) {
	l := strings.ToLower(strings.TrimSpace(s))
	switch {
	case l == "":
		return TierQuick, true
	case strings.Contains(l, "quick"):
		return TierQuick, true
	case strings.Contains(l, "deep"):
		return TierDeep, true
	case strings.Contains(l, "full"):
		return TierFull, true
	}
	return "", false
}

// DefaultWordlist is the wordlist the engine uses when none is requested.
func (t ScanTier) DefaultWordlist() string {
	switch t {
	case TierDeep:
		return "medium.txt"
	case TierFull:
		return "big.txt"
	default:
		return "common.txt"
	}
}
