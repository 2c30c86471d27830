package normalize

import (
	"testing"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vicaadrn/web-scanner-project/internal/model"
)

const ffufPayload = `{
  "status": "ok",
  "data": {
    "summary": {"target": "https://example.com", "total_matches": 2},
    "matches": [
      {"path": {"FUZZ": "admin"}, "status": 301, "length": 169, "words": 5, "lines": 8, "duration": 12000000},
      {"path": "backup.zip", "status": "200", "length": "2048", "words": 1, "lines": 1, "duration": "35ms"}
    ],
    "vulnerabilities": [
      {"template-id": "git-config", "info": {"name": "Git Config Exposure", "description": "exposed .git/config", "severity": "medium"}},
      {"name": "Open Redirect", "severity": "HIGH", "templateId": "open-redirect"},
      "Directory listing - index of /backup"
    ]
  }
}`

func TestNormalize_FfufAndNucleiShapes(t *testing.T) {
	res := Normalize([]byte(ffufPayload))

	require.False(t, res.Malformed, res.Error)
	require.Len(t, res.Endpoints, 2)
	assert.Equal(t, model.Endpoint{
		Path: "admin", Status: 301, Length: 169, WordCount: 5, LineCount: 8, Duration: 12 * time.Millisecond,
	}, res.Endpoints[0])
	assert.Equal(t, model.Endpoint{
		Path: "backup.zip", Status: 200, Length: 2048, WordCount: 1, LineCount: 1, Duration: 35 * time.Millisecond,
	}, res.Endpoints[1])

	require.Len(t, res.Vulnerabilities, 3)
	assert.Equal(t, model.Vulnerability{
		Name: "Git Config Exposure", Description: "exposed .git/config",
		Severity: model.SeverityMedium, TemplateID: "git-config",
	}, res.Vulnerabilities[0])
	assert.Equal(t, model.SeverityHigh, res.Vulnerabilities[1].Severity)
	assert.Equal(t, "open-redirect", res.Vulnerabilities[1].TemplateID)
	assert.Equal(t, model.Vulnerability{
		Name: "Directory listing", Description: "index of /backup", Severity: model.SeverityInfo,
	}, res.Vulnerabilities[2])

	assert.Equal(t, model.SeverityCounts{High: 1, Medium: 1}, res.Counts)
}

func TestNormalize_DoubleEncodedMatchesInner(t *testing.T) {
	inner := Normalize([]byte(ffufPayload))

	wrapped, err := json.Marshal(ffufPayload)
	require.NoError(t, err)
	assert.Equal(t, inner, Normalize(wrapped))

	envelope, err := json.Marshal(map[string]string{"scan_id": "abc", "output": ffufPayload})
	require.NoError(t, err)
	assert.Equal(t, inner, Normalize(envelope))

	twice, err := json.Marshal(string(wrapped))
	require.NoError(t, err)
	assert.Equal(t, inner, Normalize(twice))
}

func TestNormalize_NestedStringFields(t *testing.T) {
	data, err := json.Marshal(map[string]any{
		"matches": []any{map[string]any{"path": "login", "status": 200}},
	})
	require.NoError(t, err)
	outer, err := json.Marshal(map[string]any{"discovery": string(data)})
	require.NoError(t, err)

	res := Normalize(outer)
	require.False(t, res.Malformed)
	require.Len(t, res.Endpoints, 1)
	assert.Equal(t, "login", res.Endpoints[0].Path)
}

func TestNormalize_FailsClosed(t *testing.T) {
	tests := map[string]string{
		"truncated":        `{"data": {"matches": [`,
		"bad inner string": `"{\"data\": oops}"`,
		"plain string":     `"scan failed"`,
		"number":           `42`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			res := Normalize([]byte(raw))
			assert.True(t, res.Malformed)
			assert.NotEmpty(t, res.Error)
			assert.Empty(t, res.Endpoints)
			assert.Empty(t, res.Vulnerabilities)
			assert.Equal(t, model.SeverityCounts{}, res.Counts)
		})
	}
}

func TestNormalize_TooDeep(t *testing.T) {
	raw := []byte(`{"matches": []}`)
	for i := 0; i <= MaxUnwrapDepth+1; i++ {
		b, err := json.Marshal(string(raw))
		require.NoError(t, err)
		raw = b
	}
	res := Normalize(raw)
	assert.True(t, res.Malformed)
	assert.Contains(t, res.Error, "nested deeper")
}

func TestNormalize_EmptyPayload(t *testing.T) {
	for _, raw := range []string{"", "  ", "null"} {
		res := Normalize([]byte(raw))
		assert.False(t, res.Malformed)
		assert.NotNil(t, res.Endpoints)
		assert.NotNil(t, res.Vulnerabilities)
	}
}

func TestNormalize_WellFormedAndUnparseableEntry(t *testing.T) {
	raw := `{"vulnerabilities": [
		{"info": {"name": "SQL Injection", "severity": "critical"}, "template-id": "sqli"},
		"%%% not a finding %%%"
	]}`

	res := Normalize([]byte(raw))
	require.Len(t, res.Vulnerabilities, 2)
	assert.Equal(t, model.SeverityCritical, res.Vulnerabilities[0].Severity)
	assert.Equal(t, model.SeverityInfo, res.Vulnerabilities[1].Severity)
	assert.Equal(t, model.SeverityCounts{Critical: 1}, res.Counts)
}

func TestNormalize_VulnerabilityVariants(t *testing.T) {
	raw := `{"findings": [
		"{\"info\":{\"name\":\"XSS\",\"severity\":\"high\"},\"template-id\":\"xss\"}",
		"Weak TLS;low;TLS 1.0 enabled;tls-version",
		"Banner;;;",
		{},
		17,
		["nested"],
		{"info": "not an object", "name": "Flat Name", "severity": "crit"}
	]}`

	res := Normalize([]byte(raw))
	require.Len(t, res.Vulnerabilities, 7)

	assert.Equal(t, model.Vulnerability{Name: "XSS", Description: defaultFindingDescription,
		Severity: model.SeverityHigh, TemplateID: "xss"}, res.Vulnerabilities[0])
	assert.Equal(t, model.Vulnerability{Name: "Weak TLS", Description: "TLS 1.0 enabled",
		Severity: model.SeverityLow, TemplateID: "tls-version"}, res.Vulnerabilities[1])
	assert.Equal(t, model.Vulnerability{Name: "Banner", Description: noDetailDescription,
		Severity: model.SeverityInfo}, res.Vulnerabilities[2])
	assert.Equal(t, model.Vulnerability{Name: defaultFindingName, Description: defaultFindingDescription,
		Severity: model.SeverityInfo}, res.Vulnerabilities[3])
	for _, v := range res.Vulnerabilities[4:6] {
		assert.Equal(t, model.Vulnerability{Name: unknownFindingName, Description: unknownFindingDescription,
			Severity: model.SeverityInfo}, v)
	}
	assert.Equal(t, "Flat Name", res.Vulnerabilities[6].Name)
	assert.Equal(t, model.SeverityCritical, res.Vulnerabilities[6].Severity)

	assert.Equal(t, model.SeverityCounts{Critical: 1, High: 1, Low: 1}, res.Counts)
}

func TestNormalize_EndpointEdgeCases(t *testing.T) {
	raw := `{"endpoints": [
		"/robots.txt",
		{"input": {"FUZZ": "api"}, "status": "n/a"},
		{"path": {"WORD": "zeta", "ALPHA": "alpha"}},
		{"status": 200},
		null
	]}`

	res := Normalize([]byte(raw))
	require.Len(t, res.Endpoints, 3)
	assert.Equal(t, "/robots.txt", res.Endpoints[0].Path)
	assert.Equal(t, "api", res.Endpoints[1].Path)
	assert.Equal(t, 0, res.Endpoints[1].Status)
	assert.Equal(t, "alpha", res.Endpoints[2].Path)
}

func TestNormalize_EngineError(t *testing.T) {
	res := Normalize([]byte(`{"error": "ffuf run error", "detail": {}}`))
	assert.False(t, res.Malformed)
	assert.Equal(t, "ffuf run error", res.Error)
}

func TestNormalize_Deterministic(t *testing.T) {
	assert.Equal(t, Normalize([]byte(ffufPayload)), Normalize([]byte(ffufPayload)))
}
