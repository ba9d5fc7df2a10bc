package forward

import (
	"path/filepath"
	"testing"
	"time"
)

func TestBoltStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	state, err := NewBoltState(path)
	if err != nil {
		t.Fatalf("NewBoltState() error = %v", err)
	}
	defer state.Close()

	// Fresh store: zero time, no multiplier
	last, err := state.LastAttempt()
	if err != nil {
		t.Fatalf("LastAttempt() error = %v", err)
	}
	if !last.IsZero() {
		t.Errorf("fresh LastAttempt() = %v, want zero", last)
	}

	if _, ok, err := state.Multiplier(); err != nil || ok {
		t.Errorf("fresh Multiplier() ok = %v, err = %v, want false, nil", ok, err)
	}

	// Round trip
	now := time.Now().Truncate(time.Nanosecond)
	if err := state.SetLastAttempt(now); err != nil {
		t.Fatalf("SetLastAttempt() error = %v", err)
	}
	got, err := state.LastAttempt()
	if err != nil {
		t.Fatalf("LastAttempt() error = %v", err)
	}
	if !got.Equal(now) {
		t.Errorf("LastAttempt() = %v, want %v", got, now)
	}

	if err := state.SetMultiplier(0.42); err != nil {
		t.Fatalf("SetMultiplier() error = %v", err)
	}
	m, ok, err := state.Multiplier()
	if err != nil {
		t.Fatalf("Multiplier() error = %v", err)
	}
	if !ok || m != 0.42 {
		t.Errorf("Multiplier() = %v, %v, want 0.42, true", m, ok)
	}
}

func TestBoltStateSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	state, err := NewBoltState(path)
	if err != nil {
		t.Fatalf("NewBoltState() error = %v", err)
	}
	if err := state.SetMultiplier(0.7); err != nil {
		t.Fatalf("SetMultiplier() error = %v", err)
	}
	if err := state.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewBoltState(path)
	if err != nil {
		t.Fatalf("NewBoltState() reopen error = %v", err)
	}
	defer reopened.Close()

	m, ok, err := reopened.Multiplier()
	if err != nil {
		t.Fatalf("Multiplier() error = %v", err)
	}
	if !ok || m != 0.7 {
		t.Errorf("Multiplier() after reopen = %v, %v, want 0.7, true", m, ok)
	}
}
