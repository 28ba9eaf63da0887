package feed

import (
	"testing"
	"time"
)

func TestBackoff_GrowsAndCaps(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: time.Second}

	// Raw delay doubles per attempt: 100ms, 200ms, 400ms, 800ms, 1s, 1s...
	// Jitter spreads each over [raw/2, raw*1.5).
	wantRaw := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}

	for i, raw := range wantRaw {
		got := b.Next()
		lo := raw / 2
		hi := raw + raw/2
		if got < lo || got >= hi {
			t.Errorf("attempt %d: delay = %v, want in [%v, %v)", i, got, lo, hi)
		}
	}

	if b.Attempts() != len(wantRaw) {
		t.Errorf("Attempts() = %d, want %d", b.Attempts(), len(wantRaw))
	}
}

func TestBackoff_Reset(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: time.Second}

	for i := 0; i < 5; i++ {
		b.Next()
	}
	b.Reset()

	if b.Attempts() != 0 {
		t.Errorf("Attempts() after Reset = %d, want 0", b.Attempts())
	}

	// First delay after reset is back to base range.
	got := b.Next()
	lo := 50 * time.Millisecond
	hi := 150 * time.Millisecond
	if got < lo || got >= hi {
		t.Errorf("delay after Reset = %v, want in [%v, %v)", got, lo, hi)
	}
}
