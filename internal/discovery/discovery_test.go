package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kdeconnectd/kdeconnectd/internal/identity"
	"github.com/kdeconnectd/kdeconnectd/internal/packet"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(nopWriter{})
	return logrus.NewEntry(l)
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestListenReusableBindsAndCloses(t *testing.T) {
	conn, err := listenReusable(0) // :0 lets the OS pick an ephemeral port
	if err != nil {
		t.Fatalf("listenReusable: %v", err)
	}
	defer conn.Close()
	if conn.LocalAddr() == nil {
		t.Fatalf("expected a bound local address")
	}
}

type fakeActiveCounter struct{ count int }

func (f *fakeActiveCounter) ActiveCount() int { return f.count }

type fakeCandidateConsumer struct {
	candidates []packet.IdentityBody
}

func (f *fakeCandidateConsumer) ConsiderCandidate(id packet.IdentityBody, sourceIP string) {
	f.candidates = append(f.candidates, id)
}

// TestBroadcastLoopReturnsOnContextCancel checks that broadcastLoop returns
// once its context is cancelled. The 50ms context ends before the first
// broadcastInterval tick, so ActiveCount is never consulted and the
// zero-active-devices gate itself is not exercised here.
func TestBroadcastLoopReturnsOnContextCancel(t *testing.T) {
	id := identity.Build("device-1", "Test Device", "desktop")
	active := &fakeActiveCounter{count: 1}
	consumer := &fakeCandidateConsumer{}

	conn, err := listenReusable(0)
	if err != nil {
		t.Fatalf("listenReusable: %v", err)
	}
	defer conn.Close()

	svc := New(testLogger(), id, active, consumer, 1716)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	svc.broadcastLoop(ctx, conn)
	// broadcastLoop returning cleanly on context cancellation is the
	// behavior under test; a real send would require an actual
	// broadcast-capable interface which is not assumed present in a test
	// sandbox.
}
