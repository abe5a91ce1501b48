package coordinator

import (
	"regexp"
	"strings"
)

// OutcomeExtractor decides, from the latest agent reply, whether the agent
// signalled that the task's goal is met. Text scanning is fragile by
// nature; keeping it behind this interface lets a structured tool-call
// signal replace it without touching the coordinator's control flow.
type OutcomeExtractor interface {
	// Extract returns whether the reply requests an exit and the optional
	// free-text reason.
	Extract(reply string) (requested bool, freeText string)
}

const (
	// completionMarker is the explicit marker an agent emits when done,
	// optionally followed by ": <reason>".
	completionMarker = "TASK_COMPLETE"
	// exitCallMarker is the trace the exit capability leaves in the reply.
	exitCallMarker = "[exit_task]"
)

var exitReasonPattern = regexp.MustCompile(`(?i)\[exit_task\]\s*(?:reason\s*:\s*)?(.*)`)

// markerExtractor scans for the completion marker or an exit-capability
// invocation marker.
type markerExtractor struct{}

// NewMarkerExtractor returns the default text-scanning extractor.
func NewMarkerExtractor() OutcomeExtractor {
	return markerExtractor{}
}

func (markerExtractor) Extract(reply string) (bool, string) {
	if idx := strings.Index(reply, completionMarker); idx >= 0 {
		rest := reply[idx+len(completionMarker):]
		return true, trimReason(strings.TrimPrefix(rest, ":"))
	}

	if m := exitReasonPattern.FindStringSubmatch(reply); m != nil {
		return true, trimReason(m[1])
	}
	return false, ""
}

// trimReason keeps the reason to its first line, trimmed.
func trimReason(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
