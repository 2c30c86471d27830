package normalize

import (
	"bytes"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/Vicaadrn/web-scanner-project/internal/model"
)

const (
	defaultFindingName        = "Vulnerability Detected"
	defaultFindingDescription = "No description available for this finding."
	unknownFindingName        = "Unknown Finding"
	unknownFindingDescription = "Error parsing data"
	noDetailDescription       = "No detailed description."
)

// findingShape is the resolved variant of one raw vulnerability entry.
type findingShape int

const (
	shapeRecord    findingShape = iota // JSON object, nuclei or flat layout
	shapeSemicolon                     // "name;severity;description;templateId"
	shapeDash                          // "name - description"
	shapeUnknown
)

// rawFinding is a vulnerability entry after its shape has been decided.
type rawFinding struct {
	shape  findingShape
	record map[string]jsontext.Value
	text   string
}

// resolveFinding decides the variant of a raw entry exactly once.
func resolveFinding(v jsontext.Value) rawFinding {
	un, err := unwrapValue(v, 0)
	if err != nil {
		if s, ok := stringOf(v); ok {
			return textFinding(s)
		}
		return rawFinding{shape: shapeUnknown}
	}
	switch kindOf(un) {
	case '{':
		m, err := objectOf(un)
		if err != nil {
			return rawFinding{shape: shapeUnknown}
		}
		return rawFinding{shape: shapeRecord, record: m}
	case '"':
		s, _ := stringOf(un)
		return textFinding(s)
	}
	return rawFinding{shape: shapeUnknown}
}

func textFinding(s string) rawFinding {
	s = strings.TrimSpace(s)
	if s == "" {
		return rawFinding{shape: shapeUnknown}
	}
	if strings.Contains(s, ";") {
		return rawFinding{shape: shapeSemicolon, text: s}
	}
	return rawFinding{shape: shapeDash, text: s}
}

func (f rawFinding) toVulnerability() model.Vulnerability {
	switch f.shape {
	case shapeRecord:
		return recordVulnerability(f.record)
	case shapeSemicolon:
		parts := strings.SplitN(f.text, ";", 4)
		for len(parts) < 4 {
			parts = append(parts, "")
		}
		return model.Vulnerability{
			Name:        orDefault(parts[0], unknownFindingName),
			Severity:    ClassifySeverity(parts[1]),
			Description: orDefault(parts[2], noDetailDescription),
			TemplateID:  strings.TrimSpace(parts[3]),
		}
	case shapeDash:
		name, desc, _ := strings.Cut(f.text, "-")
		return model.Vulnerability{
			Name:        orDefault(name, unknownFindingName),
			Description: orDefault(desc, noDetailDescription),
			Severity:    model.SeverityInfo,
		}
	}
	return model.Vulnerability{
		Name:        unknownFindingName,
		Description: unknownFindingDescription,
		Severity:    model.SeverityInfo,
	}
}

// recordVulnerability reads both the nuclei layout (info.name, template-id)
// and the flat layout (name, templateId). Nested info wins.
func recordVulnerability(m map[string]jsontext.Value) model.Vulnerability {
	var info map[string]jsontext.Value
	if raw, ok := m["info"]; ok {
		if un, err := unwrapValue(raw, 0); err == nil && kindOf(un) == '{' {
			info, _ = objectOf(un)
		}
	}
	name := firstString(info, "name")
	if name == "" {
		name = firstString(m, "name", "title")
	}
	desc := firstString(info, "description")
	if desc == "" {
		desc = firstString(m, "description", "detail")
	}
	sev := firstString(info, "severity")
	if sev == "" {
		sev = firstString(m, "severity", "level")
	}
	return model.Vulnerability{
		Name:        orDefault(name, defaultFindingName),
		Description: orDefault(desc, defaultFindingDescription),
		Severity:    ClassifySeverity(sev),
		TemplateID:  firstString(m, "template-id", "templateId", "template_id", "template"),
	}
}

func firstString(m map[string]jsontext.Value, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := stringOf(v); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func stringOf(v jsontext.Value) (string, bool) {
	if kindOf(v) != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(bytes.TrimSpace(v), &s); err != nil {
		return "", false
	}
	return s, true
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}
