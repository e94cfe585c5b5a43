package eventfanout

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(nopWriter{})
	return logrus.NewEntry(l)
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

type recordingBroadcaster struct {
	events chan SystemEvent
}

func newRecordingBroadcaster() *recordingBroadcaster {
	return &recordingBroadcaster{events: make(chan SystemEvent, 16)}
}

func (r *recordingBroadcaster) BroadcastEvent(e SystemEvent) {
	r.events <- e
}

func (r *recordingBroadcaster) expectOne(t *testing.T, timeout time.Duration) SystemEvent {
	t.Helper()
	select {
	case e := <-r.events:
		return e
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for a broadcast event")
		return nil
	}
}

func (r *recordingBroadcaster) expectNone(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case e := <-r.events:
		t.Fatalf("expected no broadcast, got %#v", e)
	case <-time.After(within):
	}
}

// TestFanOutSingleEventFlushesAfterIdle covers spec.md §8 scenario 6's base
// case: one event, no follow-up, flushed after the idle window.
func TestFanOutSingleEventFlushesAfterIdle(t *testing.T) {
	in := make(chan SystemEvent, 4)
	out := newRecordingBroadcaster()
	go FanOut(in, out, testLogger())

	in <- ClipboardUpdatedEvent{Content: "a"}
	out.expectNone(t, flushDelay/2)
	got := out.expectOne(t, flushDelay*4)
	if got != (ClipboardUpdatedEvent{Content: "a"}) {
		t.Fatalf("got %#v", got)
	}
	close(in)
}

// TestFanOutRepeatedIdenticalEventCollapses covers the "recv(e) when
// Holding(e) -> Holding(e)" transition: duplicates never produce more than
// one flush.
func TestFanOutRepeatedIdenticalEventCollapses(t *testing.T) {
	in := make(chan SystemEvent, 4)
	out := newRecordingBroadcaster()
	go FanOut(in, out, testLogger())

	in <- ClipboardUpdatedEvent{Content: "a"}
	in <- ClipboardUpdatedEvent{Content: "a"}
	in <- ClipboardUpdatedEvent{Content: "a"}

	out.expectOne(t, flushDelay*4)
	out.expectNone(t, flushDelay*2)
	close(in)
}

// TestFanOutSpacedDuplicatesRestartIdleWindow covers spec.md §8 scenario 6's
// literal worked example: identical events arriving at t=0/20/40ms each
// restart the idle window, so the flush lands at t=140ms (40+flushDelay),
// not at t=100ms (0+flushDelay) as it would if only the first occurrence
// started the timer.
func TestFanOutSpacedDuplicatesRestartIdleWindow(t *testing.T) {
	in := make(chan SystemEvent, 4)
	out := newRecordingBroadcaster()
	go FanOut(in, out, testLogger())

	spacing := flushDelay / 5 // 20ms when flushDelay is 100ms
	in <- ClipboardUpdatedEvent{Content: "a"}
	time.Sleep(spacing)
	in <- ClipboardUpdatedEvent{Content: "a"}
	time.Sleep(spacing)
	in <- ClipboardUpdatedEvent{Content: "a"}

	// A timer started at the first occurrence (t=0) would already have
	// fired by t=100ms; confirm it has not.
	out.expectNone(t, flushDelay-spacing/2)
	out.expectOne(t, flushDelay)
	close(in)
}

// TestFanOutDistinctEventRestartsTimerAndFlushesOld covers the "recv(e2)
// when Holding(e1), e1 != e2" transition: the old value flushes immediately
// and the new one starts its own debounce window.
func TestFanOutDistinctEventRestartsTimerAndFlushesOld(t *testing.T) {
	in := make(chan SystemEvent, 4)
	out := newRecordingBroadcaster()
	go FanOut(in, out, testLogger())

	in <- ClipboardUpdatedEvent{Content: "a"}
	in <- ClipboardUpdatedEvent{Content: "b"}

	first := out.expectOne(t, flushDelay*4)
	if first != (ClipboardUpdatedEvent{Content: "a"}) {
		t.Fatalf("first flushed event = %#v, want content \"a\"", first)
	}
	second := out.expectOne(t, flushDelay*4)
	if second != (ClipboardUpdatedEvent{Content: "b"}) {
		t.Fatalf("second flushed event = %#v, want content \"b\"", second)
	}
	close(in)
}

func TestFanOutReturnsWhenInputClosed(t *testing.T) {
	in := make(chan SystemEvent)
	out := newRecordingBroadcaster()
	done := make(chan struct{})
	go func() {
		FanOut(in, out, testLogger())
		close(done)
	}()
	close(in)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("FanOut did not return after input channel closed")
	}
}
