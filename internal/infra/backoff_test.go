package infra

import (
	"testing"
	"time"
)

func TestCalculateBackoff(t *testing.T) {
	base := 1 * time.Second
	max := 60 * time.Second

	tests := []struct {
		name       string
		retryCount int
		want       time.Duration
	}{
		{"First retry", 0, 1 * time.Second},
		{"Second retry", 1, 2 * time.Second},
		{"Third retry", 2, 4 * time.Second},
		{"Fourth retry", 3, 8 * time.Second},
		{"Capped at max", 6, 60 * time.Second},
		{"Way past cap", 10, 60 * time.Second},
		{"Overflow guard", 64, 60 * time.Second},
		{"Negative count", -1, 1 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calculateBackoff(tt.retryCount, base, max)
			if got != tt.want {
				t.Errorf("calculateBackoff(%d) = %v, want %v", tt.retryCount, got, tt.want)
			}
		})
	}
}

func TestBackoff_JitterBounds(t *testing.T) {
	b := NewBackoff(1*time.Second, 60*time.Second)

	for attempt := 0; attempt < 8; attempt++ {
		ceiling := calculateBackoff(attempt, b.Base, b.Max)
		delay := b.Next()
		if delay <= 0 {
			t.Errorf("attempt %d: delay %v not positive", attempt, delay)
		}
		if delay > ceiling {
			t.Errorf("attempt %d: delay %v exceeds ceiling %v", attempt, delay, ceiling)
		}
	}
}

func TestBackoff_Reset(t *testing.T) {
	b := NewBackoff(1*time.Second, 60*time.Second)

	for i := 0; i < 5; i++ {
		b.Next()
	}
	if b.Attempt() != 5 {
		t.Fatalf("expected 5 attempts, got %d", b.Attempt())
	}

	b.Reset()
	if b.Attempt() != 0 {
		t.Errorf("expected 0 attempts after reset, got %d", b.Attempt())
	}

	// After reset the ceiling is back at base.
	if delay := b.Next(); delay > 1*time.Second {
		t.Errorf("post-reset delay %v exceeds base", delay)
	}
}

func TestNewBackoff_Defaults(t *testing.T) {
	b := NewBackoff(0, 0)
	if b.Base != defaultBaseDelay {
		t.Errorf("expected default base %v, got %v", defaultBaseDelay, b.Base)
	}
	if b.Max != defaultMaxDelay {
		t.Errorf("expected default max %v, got %v", defaultMaxDelay, b.Max)
	}
}
