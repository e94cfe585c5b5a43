package session

import (
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kdeconnectd/kdeconnectd/internal/devicemanager"
	"github.com/kdeconnectd/kdeconnectd/internal/identity"
	"github.com/kdeconnectd/kdeconnectd/internal/packet"
	"github.com/kdeconnectd/kdeconnectd/internal/testcert"
	"github.com/kdeconnectd/kdeconnectd/internal/tlscontext"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(nopWriter{})
	return logrus.NewEntry(l)
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

type recordingDispatcher struct {
	received chan *packet.Packet
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{received: make(chan *packet.Packet, 8)}
}

func (d *recordingDispatcher) Dispatch(deviceID string, p *packet.Packet) {
	d.received <- p
}

func waitForActiveCount(t *testing.T, m *devicemanager.Manager, want int, within time.Duration) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if m.ActiveCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("ActiveCount never reached %d (last was %d)", want, m.ActiveCount())
}

// TestAcceptDialRoundTrip exercises spec.md §4.4 end to end: A accepts (and
// so runs TLS as client), B dials (and so runs TLS as server), both sides
// register in their device manager, and a packet sent from either side is
// dispatched on the other.
func TestAcceptDialRoundTrip(t *testing.T) {
	certA, err := testcert.Generate()
	if err != nil {
		t.Fatalf("cert A: %v", err)
	}
	certB, err := testcert.Generate()
	if err != nil {
		t.Fatalf("cert B: %v", err)
	}

	idA := identity.Build("device-a", "Device A", "desktop")
	idB := identity.Build("device-b", "Device B", "phone")

	dispatchA := newRecordingDispatcher()
	dispatchB := newRecordingDispatcher()

	managerA := devicemanager.New(testLogger(), "device-a", nil)
	managerB := devicemanager.New(testLogger(), "device-b", nil)

	engineA := NewEngine(testLogger(), idA, tlscontext.New(certA), managerA, dispatchA)
	engineB := NewEngine(testLogger(), idB, tlscontext.New(certB), managerB, dispatchB)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		engineA.Accept(conn)
	}()

	port := listener.Addr().(*net.TCPAddr).Port
	remoteA := idA.Body(&port)
	go engineB.DialCandidate(remoteA, "127.0.0.1")

	waitForActiveCount(t, managerA, 1, 5*time.Second)
	waitForActiveCount(t, managerB, 1, 5*time.Second)

	pingFromB, err := packet.New(packet.TypePing, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	managerB.Broadcast(&devicemanager.OutboundPacket{Packet: pingFromB})

	select {
	case got := <-dispatchA.received:
		if got.Type != packet.TypePing {
			t.Fatalf("type = %q, want %q", got.Type, packet.TypePing)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for A to receive the ping from B")
	}

	pingFromA, err := packet.New(packet.TypePing, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	managerA.Broadcast(&devicemanager.OutboundPacket{Packet: pingFromA})

	select {
	case got := <-dispatchB.received:
		if got.Type != packet.TypePing {
			t.Fatalf("type = %q, want %q", got.Type, packet.TypePing)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for B to receive the ping from A")
	}
}

// TestReaderLoopDropsMalformedPacketAndContinues covers spec.md §7: a
// malformed frame mid-session is logged and dropped, not treated as fatal
// like a real transport error. A ping sent right after the malformed frame
// must still be dispatched on the same connection.
func TestReaderLoopDropsMalformedPacketAndContinues(t *testing.T) {
	cert, err := testcert.Generate()
	if err != nil {
		t.Fatalf("cert: %v", err)
	}
	log := testLogger()
	dispatch := newRecordingDispatcher()
	engine := &Engine{log: log, dispatch: dispatch}

	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	tlsCtx := tlscontext.New(cert)
	serverSide := tlsCtx.Client(c1)
	clientSide := tlsCtx.Server(c2)

	handshakeDone := make(chan error, 2)
	go func() { handshakeDone <- serverSide.Handshake() }()
	go func() { handshakeDone <- clientSide.Handshake() }()
	for i := 0; i < 2; i++ {
		if err := <-handshakeDone; err != nil {
			t.Fatalf("handshake: %v", err)
		}
	}

	outbound := make(chan *devicemanager.OutboundPacket, 1)
	readerDone := make(chan error, 1)
	go func() { readerDone <- engine.readerLoop(serverSide, "device-x", outbound, log) }()

	if _, err := clientSide.Write([]byte("not valid json\n")); err != nil {
		t.Fatalf("write malformed frame: %v", err)
	}

	ping, err := packet.New(packet.TypePing, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := packet.NewWriter(clientSide).WritePacket(ping); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	select {
	case got := <-dispatch.received:
		if got.Type != packet.TypePing {
			t.Fatalf("type = %q, want %q", got.Type, packet.TypePing)
		}
	case err := <-readerDone:
		t.Fatalf("readerLoop returned prematurely after a malformed frame: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the ping to be dispatched after a malformed frame")
	}

	clientSide.Close()
	select {
	case <-readerDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("readerLoop did not return after the connection closed")
	}
}

// TestSupersededSessionOutboundChannelClosesWriter covers spec.md §4.5: a
// second Add() for the same device closes the first session's outbound
// channel, and its writer loop must return without treating that as a
// write error.
func TestSupersededSessionOutboundChannelClosesWriter(t *testing.T) {
	cert, err := testcert.Generate()
	if err != nil {
		t.Fatalf("cert: %v", err)
	}
	log := testLogger()
	engine := &Engine{log: log, tlsCtx: tlscontext.New(cert)}

	outbound := make(chan *devicemanager.OutboundPacket)
	close(outbound)

	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	tlsConn := engine.tlsCtx.Client(c1)
	errCh := make(chan error, 1)
	go func() { errCh <- engine.writerLoop(tlsConn, outbound, log) }()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("writerLoop returned %v, want nil for a closed-not-errored outbound channel", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("writerLoop did not return after its outbound channel closed")
	}
}
