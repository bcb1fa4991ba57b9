package agent

import "testing"

func TestVerdict(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"bold pass", "All checks succeeded.\n**PASS**", true},
		{"verdict pass", "Summary...\nVERDICT: PASS", true},
		{"bold fail", "**FAIL** - missing error handling", false},
		{"verdict fail", "VERDICT: FAIL", false},
		{"case insensitive", "verdict: pass", true},
		{"no marker", "Everything looks reasonable.", false},
		{"pass before fail", "**PASS** overall, though one subtest would **FAIL** in isolation", true},
		{"fail before pass", "**FAIL**: the suite must **PASS** before merge", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Verdict(tt.content); got != tt.want {
				t.Errorf("Verdict(%q) = %v, want %v", tt.content, got, tt.want)
			}
		})
	}
}
