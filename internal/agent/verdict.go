package agent

import "strings"

var (
	passMarkers = []string{"**PASS**", "VERDICT: PASS"}
	failMarkers = []string{"**FAIL**", "VERDICT: FAIL"}
)

// Verdict derives a boolean pass/fail from free-form verifier output by
// substring-matching the verdict markers, case-insensitively. When both a
// pass and a fail marker appear, the earliest marker in the text wins.
//
// This is brittle by design and kept behind this single function so it can be
// replaced with a structured output contract later.
func Verdict(content string) bool {
	upper := strings.ToUpper(content)
	pass := earliestIndex(upper, passMarkers)
	fail := earliestIndex(upper, failMarkers)

	if pass < 0 {
		return false
	}
	return fail < 0 || pass < fail
}

func earliestIndex(s string, markers []string) int {
	best := -1
	for _, m := range markers {
		if i := strings.Index(s, m); i >= 0 && (best < 0 || i < best) {
			best = i
		}
	}
	return best
}
