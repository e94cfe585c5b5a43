// Package eventfanout implements spec.md §4.7: debounced fan-out from a
// single stream of OS-level SystemEvent values to the device manager's
// broadcast.
package eventfanout

import (
	"time"

	"github.com/sirupsen/logrus"
)

// flushDelay is the trailing idle window before a held event is flushed
// (spec.md §4.7, §5 "Timeouts").
const flushDelay = 100 * time.Millisecond

// SystemEvent is any OS-level event the core fans out to sessions. Event
// source collaborators (tray, MPRIS, power state, …) produce these;
// comparing two events for equality drives the dedupe logic, so concrete
// event types should be comparable (spec.md §4.7: "if it equals the last-
// stored event, discard it").
type SystemEvent interface {
	// EventType names the event's kind for log fields and error messages.
	// It plays no part in equality, which uses an Equal method when the
	// event has one and == otherwise.
	EventType() string
}

// Broadcaster is the device manager's broadcast entry point.
type Broadcaster interface {
	BroadcastEvent(e SystemEvent)
}

// FanOut runs spec.md §4.7's debounce state machine: {Empty, Holding(event)}
// with recv/timeout transitions exactly as specified. It consumes events
// from in until in is closed, then returns.
func FanOut(in <-chan SystemEvent, out Broadcaster, log *logrus.Entry) {
	log = log.WithField("component", "eventfanout")

	var (
		holding bool
		current SystemEvent
		timer   *time.Timer
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	timerC := func() <-chan time.Time {
		if timer == nil {
			return nil
		}
		return timer.C
	}

	for {
		select {
		case e, ok := <-in:
			if !ok {
				return
			}
			switch {
			case !holding:
				holding = true
				current = e
				timer = time.NewTimer(flushDelay)
			case equal(current, e):
				// recv(e) when Holding(e) -> Holding(e): discarding a duplicate
				// still counts as new input, so the idle window restarts
				// (spec.md §8 scenario 6: duplicates at t=0/20/40 flush at
				// t=140, not t=100).
				timer.Stop()
				timer = time.NewTimer(flushDelay)
			default:
				log.WithField("eventType", current.EventType()).Debug("flushing event, new event superseded it")
				out.BroadcastEvent(current)
				current = e
				timer.Stop()
				timer = time.NewTimer(flushDelay)
			}

		case <-timerC():
			log.WithField("eventType", current.EventType()).Debug("flushing event after idle timeout")
			out.BroadcastEvent(current)
			holding = false
			current = nil
			timer = nil
		}
	}
}

func equal(a, b SystemEvent) bool {
	type comparable interface{ Equal(SystemEvent) bool }
	if ca, ok := a.(comparable); ok {
		return ca.Equal(b)
	}
	return a == b
}
