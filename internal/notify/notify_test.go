package notify

import (
	"errors"
	"testing"
	"time"
)

func TestHubNoSessionNoPush(t *testing.T) {
	h := NewHub(nil, nil)
	err := h.Publish(Driver("d1"), NewEvent(EventRideRequest, "r1", nil))
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("want ErrNoSession, got %v", err)
	}
}

type flakyNotifier struct {
	failures int
	calls    int
}

func (f *flakyNotifier) Publish(p Party, ev Event) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("transient")
	}
	return nil
}

func TestWithRetryRecoversOnce(t *testing.T) {
	f := &flakyNotifier{failures: 1}
	n := WithRetry(f, time.Millisecond)
	if err := n.Publish(Passenger("p1"), Event{Type: EventRideAccepted}); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if f.calls != 2 {
		t.Fatalf("want 2 attempts, got %d", f.calls)
	}
}

func TestWithRetryGivesUpAfterSecondFailure(t *testing.T) {
	f := &flakyNotifier{failures: 5}
	n := WithRetry(f, time.Millisecond)
	if err := n.Publish(Passenger("p1"), Event{}); err == nil {
		t.Fatal("expected error after exhausted retry")
	}
	if f.calls != 2 {
		t.Fatalf("want exactly 2 attempts, got %d", f.calls)
	}
}

func TestPartyKeys(t *testing.T) {
	if Driver("x").Key() != "driver:x" || Passenger("y").Key() != "passenger:y" {
		t.Fatal("party keys changed; room addressing depends on them")
	}
}
