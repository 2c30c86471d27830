package normalize

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/Vicaadrn/web-scanner-project/internal/model"
)

// fuzzKey is the placeholder field ffuf uses for the matched input.
const fuzzKey = "FUZZ"

// resolveEndpoint accepts a match object or a bare path string. ok is false
// for entries that carry no path at all.
func resolveEndpoint(v jsontext.Value) (model.Endpoint, bool) {
	un, err := unwrapValue(v, 0)
	if err != nil {
		return model.Endpoint{}, false
	}
	if s, isStr := stringOf(un); isStr {
		s = strings.TrimSpace(s)
		return model.Endpoint{Path: s}, s != ""
	}
	if kindOf(un) != '{' {
		return model.Endpoint{}, false
	}
	m, err := objectOf(un)
	if err != nil {
		return model.Endpoint{}, false
	}

	p := displayPath(m["path"])
	if p == "" {
		p = displayPath(m["input"])
	}
	if p == "" {
		p = firstString(m, "url")
	}
	if p == "" {
		return model.Endpoint{}, false
	}
	return model.Endpoint{
		Path:      p,
		Status:    intOf(m["status"]),
		Length:    intOf(m["length"]),
		WordCount: intOf(m["words"]),
		LineCount: intOf(m["lines"]),
		Duration:  durationOf(m["duration"]),
	}, true
}

// displayPath extracts one string from a path that is either plain text or
// an object keyed by fuzz placeholder.
func displayPath(v jsontext.Value) string {
	if len(v) == 0 {
		return ""
	}
	if s, ok := stringOf(v); ok {
		return strings.TrimSpace(s)
	}
	if kindOf(v) != '{' {
		return ""
	}
	m, err := objectOf(v)
	if err != nil {
		return ""
	}
	if s := firstString(m, fuzzKey); s != "" {
		return s
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, ok := stringOf(m[k]); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// intOf reads a JSON number or numeric string. Everything else is zero.
func intOf(v jsontext.Value) int {
	switch k := kindOf(v); {
	case k == '"':
		s, _ := stringOf(v)
		s = strings.TrimSpace(s)
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return int(f)
		}
	case k == '-' || (k >= '0' && k <= '9'):
		var f float64
		if err := json.Unmarshal(v, &f); err == nil {
			return int(f)
		}
	}
	return 0
}

// durationOf reads nanoseconds as a number or numeric string, or a Go
// duration string such as "120ms".
func durationOf(v jsontext.Value) time.Duration {
	if s, ok := stringOf(v); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d
		}
	}
	return time.Duration(intOf(v))
}
