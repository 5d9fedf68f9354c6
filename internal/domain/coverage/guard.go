package coverage

import "strings"

// DefaultMatchTokens is used when no allow-list is configured.
var DefaultMatchTokens = []string{"TEST"}

// GuardConfig is the product allow-list of the deployment. A product is part
// of the program when its name, code or plan name contains one of the tokens.
type GuardConfig struct {
	MatchTokens []string
}

// ParseGuardConfig reads a comma separated allow-list. Tokens are trimmed and
// upper-cased; an empty list falls back to DefaultMatchTokens.
func ParseGuardConfig(csv string) GuardConfig {
	var tokens []string
	for _, t := range strings.Split(csv, ",") {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t != "" {
			tokens = append(tokens, t)
		}
	}
	if len(tokens) == 0 {
		tokens = append(tokens, DefaultMatchTokens...)
	}
	return GuardConfig{MatchTokens: tokens}
}

// Bypass is true when the list contains "*" or "ANY".
func (g GuardConfig) Bypass() bool {
	for _, t := range g.MatchTokens {
		if t == "*" || strings.EqualFold(t, "ANY") {
			return true
		}
	}
	return false
}

// Allows reports whether a product passes the guard. Matching is a
// case-insensitive substring test.
func (g GuardConfig) Allows(productName, productCode, planName string) bool {
	if g.Bypass() {
		return true
	}
	name := strings.ToUpper(productName)
	code := strings.ToUpper(productCode)
	plan := strings.ToUpper(planName)
	for _, t := range g.MatchTokens {
		t = strings.ToUpper(t)
		if t == "" {
			continue
		}
		if strings.Contains(name, t) || strings.Contains(code, t) || strings.Contains(plan, t) {
			return true
		}
	}
	return false
}
