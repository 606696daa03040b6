package metrics

import "testing"

func TestSnapReflectsCounters(t *testing.T) {
	before := Snap()
	IncCancels()
	IncDeadlines()
	IncDeadlines()
	IncBackpressure()
	IncBackpressure()
	IncBackpressure()

	after := Snap()
	if after.Cancels != before.Cancels+1 {
		t.Fatalf("cancels: got %d want %d", after.Cancels, before.Cancels+1)
	}
	if after.Deadlines != before.Deadlines+2 {
		t.Fatalf("deadlines: got %d want %d", after.Deadlines, before.Deadlines+2)
	}
	if after.Backpressure != before.Backpressure+3 {
		t.Fatalf("backpressure: got %d want %d", after.Backpressure, before.Backpressure+3)
	}
}

func TestIsReadyDefaultsToTrue(t *testing.T) {
	SetReadinessFunc(nil)
	if !IsReady() {
		t.Fatalf("expected IsReady() true with no readiness function registered")
	}
}

func TestIsReadyUsesRegisteredFunc(t *testing.T) {
	t.Cleanup(func() { SetReadinessFunc(nil) })

	ready := false
	SetReadinessFunc(func() bool { return ready })
	if IsReady() {
		t.Fatalf("expected IsReady() false before flipping")
	}
	ready = true
	if !IsReady() {
		t.Fatalf("expected IsReady() true after flipping")
	}
}
