package model

import "time"

// Severity is the normalized severity of a finding.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// CountedSeverities is the ordered set used for classification and tallies.
var CountedSeverities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// Endpoint is one discovered path.
type Endpoint struct {
	Path      string        `json:"path"`
	Status    int           `json:"status"`
	Length    int           `json:"length"`
	WordCount int           `json:"word_count"`
	LineCount int           `json:"line_count"`
	Duration  time.Duration `json:"duration,format:nano"`
}

// Vulnerability is one classified finding.
type Vulnerability struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	TemplateID  string   `json:"template_id"`
}

// SeverityCounts tallies findings; INFO is not counted.
type SeverityCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

func (c *SeverityCounts) Add(s Severity) {
	switch s {
	case SeverityCritical:
		c.Critical++
	case SeverityHigh:
		c.High++
	case SeverityMedium:
		c.Medium++
	case SeverityLow:
		c.Low++
	}
}

// NormalizedResult is the canonical shape of a finished scan.
type NormalizedResult struct {
	Endpoints       []Endpoint      `json:"endpoints"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
	Counts          SeverityCounts  `json:"counts"`
	Malformed       bool            `json:"malformed,omitempty"`
	Error           string          `json:"error,omitempty"`
}
