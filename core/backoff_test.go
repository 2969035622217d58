package core

import (
	"testing"
	"time"
)

func TestExponentialBackoff_DoublesFromBase(t *testing.T) {
	policy := ExponentialBackoff{Base: 5 * time.Second}
	expected := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second, 80 * time.Second}
	for index, want := range expected {
		attempt := index + 1
		if got := policy.Delay(attempt); got != want {
			t.Fatalf("attempt %d: expected %v, got %v", attempt, want, got)
		}
	}
}

func TestExponentialBackoff_Cap(t *testing.T) {
	policy := ExponentialBackoff{Base: time.Second, Max: 3 * time.Second}
	if got := policy.Delay(2); got != 2*time.Second {
		t.Fatalf("expected 2s below cap, got %v", got)
	}
	if got := policy.Delay(3); got != 3*time.Second {
		t.Fatalf("expected cap of 3s, got %v", got)
	}
	if got := policy.Delay(40); got != 3*time.Second {
		t.Fatalf("expected cap of 3s for large attempts, got %v", got)
	}
}

func TestExponentialBackoff_UncappedDoesNotOverflow(t *testing.T) {
	policy := ExponentialBackoff{Base: time.Hour}
	if got := policy.Delay(200); got <= 0 {
		t.Fatalf("expected positive saturated delay, got %v", got)
	}
	if got := policy.Delay(0); got != time.Hour {
		t.Fatalf("expected attempt below one to use base, got %v", got)
	}
}
