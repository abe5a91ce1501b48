package coordinator

import "testing"

func TestMarkerExtractor(t *testing.T) {
	tests := []struct {
		name      string
		reply     string
		requested bool
		freeText  string
	}{
		{"no marker", "all quiet, nothing to report", false, ""},
		{"completion bare", "TASK_COMPLETE", true, ""},
		{"completion with reason", "TASK_COMPLETE: inbox reached zero", true, "inbox reached zero"},
		{"completion mid-reply", "Summary follows.\nTASK_COMPLETE: done\ntrailing notes", true, "done"},
		{"exit call bare", "wrapping up [exit_task]", true, ""},
		{"exit call with reason", "[exit_task] reason: goal satisfied", true, "goal satisfied"},
		{"exit call reason no keyword", "[exit_task] all merged", true, "all merged"},
		{"exit call case insensitive", "[EXIT_TASK] Reason: shipped", true, "shipped"},
		{"reason trimmed to first line", "TASK_COMPLETE: first line\nsecond line", true, "first line"},
	}

	e := NewMarkerExtractor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requested, freeText := e.Extract(tt.reply)
			if requested != tt.requested || freeText != tt.freeText {
				t.Fatalf("Extract(%q): got (%v, %q), want (%v, %q)",
					tt.reply, requested, freeText, tt.requested, tt.freeText)
			}
		})
	}
}
