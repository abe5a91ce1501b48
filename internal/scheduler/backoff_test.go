package scheduler

import (
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		consecutiveErr int
		want           time.Duration
	}{
		{0, 30 * time.Second},
		{1, 30 * time.Second},
		{2, 1 * time.Minute},
		{3, 5 * time.Minute},
		{4, 15 * time.Minute},
		{5, 60 * time.Minute},
		{99, 60 * time.Minute}, // capped
	}
	for _, tt := range tests {
		if got := backoffDelay(tt.consecutiveErr); got != tt.want {
			t.Errorf("backoffDelay(%d): got %v, want %v", tt.consecutiveErr, got, tt.want)
		}
	}
}
