package devengine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/Vicaadrn/web-scanner-project/internal/engine"
	"github.com/Vicaadrn/web-scanner-project/internal/logging"
)

var scriptedFindings = []struct {
	Template, Name, Severity, Matched string
}{
	{"git-config", "Git Config Disclosure", "medium", "/.git/config"},
	{"exposed-env", "Environment File Exposure", "high", "/.env"},
	{"tech-detect", "Technology Detection", "info", "/"},
}

var scriptedPaths = []string{"admin", "login", "api", "backup", ".git/config", "robots.txt", "static", "uploads"}

// scripted returns n discovery paths drawn from scriptedPaths.
func scripted(n int) []string {
	paths := make([]string, 0, n)
	for i := 0; i < n; i++ {
		p := scriptedPaths[i%len(scriptedPaths)]
		if i >= len(scriptedPaths) {
			p = fmt.Sprintf("%s%d", p, i/len(scriptedPaths))
		}
		paths = append(paths, p)
	}
	return paths
}

// Result builds the final result document for a target. The document is
// returned as a JSON string holding the encoded payload, the way the real
// engine wraps tool output.
func Result(target string, discoveries int) jsontext.Value {
	return resultFor(target, scripted(discoveries))
}

func resultFor(target string, paths []string) jsontext.Value {
	type match struct {
		Input    map[string]string `json:"input"`
		URL      string            `json:"url"`
		Status   int               `json:"status"`
		Length   int               `json:"length"`
		Words    int               `json:"words"`
		Lines    int               `json:"lines"`
		Duration int64             `json:"duration"`
	}
	type finding struct {
		TemplateID string `json:"template-id"`
		Info       struct {
			Name        string `json:"name"`
			Severity    string `json:"severity"`
			Description string `json:"description"`
		} `json:"info"`
		MatchedAt string `json:"matched-at"`
	}

	base := strings.TrimRight(target, "/")
	matches := make([]match, 0, len(paths))
	for i, p := range paths {
		matches = append(matches, match{
			Input:    map[string]string{"FUZZ": p},
			URL:      base + "/" + p,
			Status:   200,
			Length:   512 + i*64,
			Words:    40 + i,
			Lines:    12 + i,
			Duration: int64(25+i) * int64(time.Millisecond),
		})
	}
	findings := make([]finding, 0, len(scriptedFindings))
	for _, f := range scriptedFindings {
		var out finding
		out.TemplateID = f.Template
		out.Info.Name = f.Name
		out.Info.Severity = f.Severity
		out.Info.Description = f.Name + " on " + base
		out.MatchedAt = base + f.Matched
		findings = append(findings, out)
	}

	inner, _ := json.Marshal(map[string]any{
		"data": map[string]any{
			"matches":         matches,
			"vulnerabilities": findings,
		},
	})
	outer, _ := json.Marshal(string(inner))
	return jsontext.Value(outer)
}

// run plays the scripted pipeline for one job.
func (e *Engine) run(ctx context.Context, id string, req engine.ScanRequest) {
	log := e.logger.With(logging.Field{Key: "job_id", Value: id})
	started := time.Now()

	step := func() bool {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(e.cfg.StepInterval):
			return true
		}
	}
	cancelled := func() {
		e.update(id, func(s *engine.StatusSnapshot) {
			s.Status = "cancelled"
			s.Phase = "Cancelled"
		})
		log.Info("scan cancelled")
	}

	e.update(id, func(s *engine.StatusSnapshot) { s.Phase = "Init"; s.Progress = 5 })
	if !step() {
		cancelled()
		return
	}

	paths, tool := e.discover(ctx, req.URL, log)
	for i, p := range paths {
		n := i + 1
		e.update(id, func(s *engine.StatusSnapshot) {
			s.Phase = fmt.Sprintf("Discovery (%d found)", n)
			s.Progress = float64(10 + n*50/len(paths))
			s.Discovered = n
		})
		e.emit(id, engine.EventPayload{
			Event: engine.EventDiscoveryLive,
			URL:   strings.TrimRight(req.URL, "/") + "/" + p,
			Tool:  tool,
			Count: n,
		})
		if !step() {
			cancelled()
			return
		}
	}
	e.update(id, func(s *engine.StatusSnapshot) { s.Phase = "Discovery Complete"; s.Progress = 65 })

	if e.cfg.FailJobs {
		e.update(id, func(s *engine.StatusSnapshot) {
			s.Status = "error"
			s.Phase = "Error"
			s.Error = "nuclei exited with status 1"
		})
		e.emit(id, engine.EventPayload{Event: engine.EventError, Error: "nuclei exited with status 1"})
		log.Warn("scan failed")
		return
	}
	if !step() {
		cancelled()
		return
	}

	e.update(id, func(s *engine.StatusSnapshot) { s.Phase = "Vulnerability Scan"; s.Progress = 70 })
	for i, f := range scriptedFindings {
		n := i + 1
		e.emit(id, engine.EventPayload{
			Event:    engine.EventVulnerability,
			Severity: f.Severity,
			Name:     f.Name,
			Count:    n,
		})
		e.update(id, func(s *engine.StatusSnapshot) {
			s.Phase = fmt.Sprintf("Nuclei: %d vulns found", n)
			s.Progress = float64(70 + n*25/len(scriptedFindings))
			s.Vulnerabilities = n
		})
		if !step() {
			cancelled()
			return
		}
	}
	e.emit(id, engine.EventPayload{Event: engine.EventNucleiComplete, Count: len(scriptedFindings)})

	result := resultFor(req.URL, paths)
	if e.cfg.BareCompletion {
		e.emit(id, engine.EventPayload{
			Event:    engine.EventScanComplete,
			Duration: time.Since(started).Round(time.Millisecond).String(),
			Targets:  len(paths),
		})
		if !step() {
			cancelled()
			return
		}
		e.update(id, func(s *engine.StatusSnapshot) {
			s.Status = "completed"
			s.Phase = "Finished"
			s.Progress = 100
			s.Result = result
		})
		log.Info("scan finished", logging.Field{Key: "duration", Value: time.Since(started).String()})
		return
	}
	e.update(id, func(s *engine.StatusSnapshot) {
		s.Status = "completed"
		s.Phase = "Finished"
		s.Progress = 100
		s.Result = result
	})
	e.emit(id, engine.EventPayload{
		Event:    engine.EventScanComplete,
		Duration: time.Since(started).Round(time.Millisecond).String(),
		Targets:  len(paths),
		Result:   result,
	})
	log.Info("scan finished", logging.Field{Key: "duration", Value: time.Since(started).String()})
}
