// Package reconcile merges phase events from every status channel into one
// consistent scan state.
//
// The merge rule is monotonic: phases only move forward along
// pending, discovering, analyzing, finished; errored is reachable from any
// non-terminal phase; terminal phases latch; progress never decreases.
// Apply is the pure reducer and Loop is the single goroutine that owns a
// session's state while it is in flight.
package reconcile

import (
	"github.com/Vicaadrn/web-scanner-project/internal/model"
	"github.com/Vicaadrn/web-scanner-project/internal/normalize"
)

// Apply folds ev into cur and reports whether anything observable changed.
// Events for another job, events reporting an earlier phase and any
// phase-changing event after a terminal phase are discarded.
func Apply(cur model.ScanState, ev model.PhaseEvent) (model.ScanState, bool) {
	if ev.JobID != "" && cur.JobID != "" && ev.JobID != cur.JobID {
		return cur, false
	}
	if ev.Phase != "" && !ev.Phase.IsValid() {
		return cur, false
	}
	if cur.Phase == "" {
		cur.Phase = model.PhasePending
	}

	if cur.Phase.IsTerminal() {
		return applyLateResult(cur, ev)
	}
	if ev.Phase != "" && ev.Phase.Rank() < cur.Phase.Rank() {
		return cur, false
	}

	next := cur
	if ev.Phase != "" {
		next.Phase = ev.Phase
	}

	if ev.Progress > 0 {
		p := min(ev.Progress, 100)
		next.Progress = max(next.Progress, p)
	}
	next.Discovered = foldCount(next.Discovered, ev.DiscoveredTotal, ev.DiscoveryIncrement, &next.DiscoveredExact)
	next.Vulnerabilities = foldCount(next.Vulnerabilities, ev.VulnerabilitiesTotal, ev.VulnerabilityIncrement, &next.VulnerabilitiesExact)

	switch next.Phase {
	case model.PhaseFinished:
		next.Progress = 100
		attachResult(&next, ev)
	case model.PhaseErrored:
		next.Error = ev.Error
		if next.Error == "" {
			next.Error = "scan failed"
		}
		next.Reason = ev.Reason
		if next.Reason == "" {
			next.Reason = model.ReasonEngine
		}
		attachResult(&next, ev)
	}

	if !changed(cur, next) {
		return cur, false
	}
	if !ev.At.IsZero() {
		next.UpdatedAt = ev.At
	}
	return next, true
}

// applyLateResult lets a terminal event deliver the result of a session that
// latched before the payload arrived. Nothing else may change.
func applyLateResult(cur model.ScanState, ev model.PhaseEvent) (model.ScanState, bool) {
	if ev.Phase != cur.Phase || cur.Result != nil || (len(ev.Result) == 0 && ev.Normalized == nil) {
		return cur, false
	}
	next := cur
	attachResult(&next, ev)
	if !ev.At.IsZero() {
		next.UpdatedAt = ev.At
	}
	return next, true
}

// attachResult normalizes the terminal payload once and replaces any earlier
// result wholesale.
func attachResult(s *model.ScanState, ev model.PhaseEvent) {
	var res model.NormalizedResult
	switch {
	case ev.Normalized != nil:
		res = *ev.Normalized
	case len(ev.Result) > 0:
		res = normalize.Normalize(ev.Result)
		s.RawResult = append([]byte(nil), ev.Result...)
	default:
		return
	}
	s.Result = &res
	s.Discovered = max(s.Discovered, len(res.Endpoints))
	s.Vulnerabilities = max(s.Vulnerabilities, len(res.Vulnerabilities))
}

// foldCount merges one counter. Totals never lower the count. Increments
// carry no identity, so a duplicated delivery counts twice; they only apply
// until the engine has reported a total for the counter.
func foldCount(cur, total, inc int, exact *bool) int {
	if total > 0 {
		*exact = true
		return max(cur, total)
	}
	if *exact || inc <= 0 {
		return cur
	}
	return cur + inc
}

func changed(a, b model.ScanState) bool {
	return a.Phase != b.Phase ||
		a.Progress != b.Progress ||
		a.Discovered != b.Discovered ||
		a.Vulnerabilities != b.Vulnerabilities ||
		a.DiscoveredExact != b.DiscoveredExact ||
		a.VulnerabilitiesExact != b.VulnerabilitiesExact ||
		a.Error != b.Error ||
		a.Reason != b.Reason ||
		a.Result != b.Result
}
