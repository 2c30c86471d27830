package normalize

import (
	"github.com/go-json-experiment/json/jsontext"

	"github.com/Vicaadrn/web-scanner-project/internal/model"
)

var (
	matchPaths = [][]string{
		{"data", "matches"},
		{"matches"},
		{"discovery", "data", "matches"},
		{"discovery", "matches"},
		{"endpoints"},
		{"data", "endpoints"},
	}
	vulnerabilityPaths = [][]string{
		{"data", "vulnerabilities"},
		{"vulnerabilities"},
		{"findings"},
		{"data", "findings"},
		{"nuclei", "vulnerabilities"},
	}
)

// Normalize converts a raw engine payload into the canonical result. It never
// fails: an undecodable document yields an empty result with Malformed set,
// and a bad entry degrades on its own without affecting its neighbours.
// An empty payload yields an empty, well-formed result.
func Normalize(raw []byte) model.NormalizedResult {
	res := model.NormalizedResult{
		Endpoints:       []model.Endpoint{},
		Vulnerabilities: []model.Vulnerability{},
	}
	doc := NewDocument(raw)
	if doc.IsEmpty() {
		return res
	}
	return NormalizeDocument(doc)
}

// NormalizeDocument is Normalize for an already wrapped document.
func NormalizeDocument(doc Document) model.NormalizedResult {
	res := model.NormalizedResult{
		Endpoints:       []model.Endpoint{},
		Vulnerabilities: []model.Vulnerability{},
	}
	un, err := doc.Unwrap()
	if err != nil {
		return malformed(res, err)
	}
	root := un.value
	if kindOf(root) != '{' {
		return malformed(res, ErrInvalidJSON)
	}

	for _, entry := range firstArray(root, matchPaths) {
		if ep, ok := resolveEndpoint(entry); ok {
			res.Endpoints = append(res.Endpoints, ep)
		}
	}
	for _, entry := range firstArray(root, vulnerabilityPaths) {
		v := resolveFinding(entry).toVulnerability()
		res.Vulnerabilities = append(res.Vulnerabilities, v)
		res.Counts.Add(v.Severity)
	}
	if msg, ok := lookup(root, "error"); ok {
		if s, isStr := stringOf(msg); isStr {
			res.Error = s
		}
	}
	return res
}

func malformed(res model.NormalizedResult, err error) model.NormalizedResult {
	res.Malformed = true
	res.Error = model.ErrMalformedResult.Error() + ": " + err.Error()
	return res
}

// firstArray returns the elements of the first path that resolves to an
// array. Paths that resolve to something else are skipped.
func firstArray(root jsontext.Value, paths [][]string) []jsontext.Value {
	for _, p := range paths {
		v, ok := lookup(root, p...)
		if !ok || kindOf(v) != '[' {
			continue
		}
		elems, err := arrayOf(v)
		if err != nil {
			continue
		}
		return elems
	}
	return nil
}
