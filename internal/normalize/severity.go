package normalize

import (
	"strings"

	"github.com/Vicaadrn/web-scanner-project/internal/model"
)

const minSeverityLabel = 3

// ClassifySeverity maps a free-form severity label onto a model.Severity.
// The trimmed input is matched case-insensitively against CRITICAL, HIGH,
// MEDIUM and LOW in that order and the first level containing it wins, so
// abbreviations such as "crit" or "med" resolve while decorated labels such
// as "medium-ish" do not. Labels shorter than three characters never
// match partially. Anything unmatched is INFO.
func ClassifySeverity(raw string) model.Severity {
	s := strings.ToUpper(strings.Trim(raw, " \t\r\n[]()\"'"))
	if len(s) < minSeverityLabel {
		return model.SeverityInfo
	}
	for _, level := range model.CountedSeverities {
		if strings.Contains(string(level), s) {
			return level
		}
	}
	return model.SeverityInfo
}
