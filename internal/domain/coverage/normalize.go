package coverage

import (
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

var numericStatuses = map[int64]string{
	1: PolicyActive,
	2: PolicyDraft,
	3: PolicySuspended,
	4: PolicyExpired,
	5: PolicyCancelled,
}

// NormalizePolicyStatus maps a raw upstream status to its canonical form.
// openIMIS sends integer codes from the policy tables and free text from other
// endpoints. Text is upper-cased verbatim, codes 1..5 are mapped, and anything
// else (including nil) yields "".
func NormalizePolicyStatus(raw interface{}) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return numericStatuses[n]
		}
		return strings.ToUpper(v)
	case json.Number:
		return NormalizePolicyStatus(v.String())
	case float64:
		if v != float64(int64(v)) {
			return ""
		}
		return numericStatuses[int64(v)]
	case float32:
		return NormalizePolicyStatus(float64(v))
	case int:
		return numericStatuses[int64(v)]
	case int32:
		return numericStatuses[int64(v)]
	case int64:
		return numericStatuses[v]
	}
	return ""
}
