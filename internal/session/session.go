// Package session implements spec.md §4.4: the Connection Engine. Given a
// TCP socket and a role, it performs the plaintext identity exchange, the
// role-reversed TLS handshake, and runs the bidirectional packet loop until
// termination.
package session

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kdeconnectd/kdeconnectd/internal/devicemanager"
	"github.com/kdeconnectd/kdeconnectd/internal/identity"
	"github.com/kdeconnectd/kdeconnectd/internal/packet"
	"github.com/kdeconnectd/kdeconnectd/internal/payload"
	"github.com/kdeconnectd/kdeconnectd/internal/tlscontext"
)

const (
	handshakeTimeout = 15 * time.Second
	dialTimeout      = 15 * time.Second
	teardownGrace    = 1 * time.Second

	keepAliveIdle     = 10 * time.Second
	keepAliveInterval = 5 * time.Second
)

// Dispatcher fans inbound packets out to registered plugins by type
// (spec.md §4.4 "forwarded to the Device Manager's per-device dispatcher
// which in turn fans out to registered plugins by type").
type Dispatcher interface {
	Dispatch(deviceID string, p *packet.Packet)
}

// Registry is the subset of devicemanager.Manager the engine needs.
type Registry interface {
	Add(deviceID, deviceName, remoteAddr string) (connectionID uint64, outbound chan *devicemanager.OutboundPacket)
	Remove(deviceID string, connectionID uint64)
}

// Engine runs connection lifecycles per spec.md §4.4.
type Engine struct {
	log      *logrus.Entry
	identity *identity.Identity
	tlsCtx   *tlscontext.Context
	registry Registry
	dispatch Dispatcher
}

// NewEngine constructs a connection engine.
func NewEngine(log *logrus.Entry, id *identity.Identity, tlsCtx *tlscontext.Context, registry Registry, dispatch Dispatcher) *Engine {
	return &Engine{
		log:      log.WithField("component", "session"),
		identity: id,
		tlsCtx:   tlsCtx,
		registry: registry,
		dispatch: dispatch,
	}
}

// Accept runs the Server-role lifecycle (spec.md §4.4: "A, the TCP
// listener, acts as TLS client") for a freshly accepted connection. It
// blocks until the session terminates, and never returns an error to the
// caller: all failures here are scoped to this one connection (spec.md §7).
func (e *Engine) Accept(conn net.Conn) {
	log := e.log.WithField("remoteAddr", conn.RemoteAddr().String())
	configureKeepAlive(conn)

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	reader := packet.NewReader(conn)
	p, err := reader.ReadPacket()
	if err != nil {
		log.WithError(err).Warn("failed reading plaintext identity packet")
		conn.Close()
		return
	}
	if p.Type != packet.TypeIdentity {
		log.WithField("type", p.Type).Warn("expected identity packet in plaintext prefix, aborting")
		conn.Close()
		return
	}
	remoteIdentity, err := packet.DecodeBody[packet.IdentityBody](p)
	if err != nil {
		log.WithError(err).Warn("malformed identity body in plaintext prefix, aborting")
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	// Role reversal (spec.md §4.4 step 2): the TCP listener is the TLS
	// client.
	tlsConn := e.tlsCtx.Client(conn)
	if err := e.handshake(tlsConn, log); err != nil {
		conn.Close()
		return
	}

	e.runSession(tlsConn, remoteIdentity, conn.RemoteAddr().String(), log)
}

// DialCandidate runs the Client-role lifecycle (spec.md §4.4: "B, the TCP
// dialer, acts as TLS server") against a candidate already learned from UDP
// discovery — remoteIdentity is known in full, so no plaintext read is
// needed from the peer (spec.md §4.4 step 1). This method makes Engine
// satisfy devicemanager.Dialer.
func (e *Engine) DialCandidate(remoteIdentity packet.IdentityBody, host string) {
	if remoteIdentity.TCPPort == nil {
		e.log.WithField("deviceId", remoteIdentity.DeviceID).Warn("candidate has no tcpPort, cannot dial")
		return
	}
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", *remoteIdentity.TCPPort))
	log := e.log.WithField("remoteAddr", addr).WithField("deviceId", remoteIdentity.DeviceID)

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		log.WithError(err).Debug("dial failed")
		return
	}
	configureKeepAlive(conn)

	localBody := e.identity.Body(nil) // absent: we are about to become TLS server, not the UDP advertiser.
	outboundIdentity, err := packet.New(packet.TypeIdentity, localBody)
	if err != nil {
		log.WithError(err).Warn("failed to encode local identity")
		conn.Close()
		return
	}
	if err := packet.NewWriter(conn).WritePacket(outboundIdentity); err != nil {
		log.WithError(err).Warn("failed to write plaintext identity packet")
		conn.Close()
		return
	}

	// Role reversal: the TCP dialer is the TLS server.
	tlsConn := e.tlsCtx.Server(conn)
	if err := e.handshake(tlsConn, log); err != nil {
		conn.Close()
		return
	}

	e.runSession(tlsConn, remoteIdentity, addr, log)
}

func (e *Engine) handshake(tlsConn *tls.Conn, log *logrus.Entry) error {
	tlsConn.SetDeadline(time.Now().Add(handshakeTimeout))
	if err := tlsConn.Handshake(); err != nil {
		log.WithError(err).Warn("TLS handshake failed")
		return err
	}
	tlsConn.SetDeadline(time.Time{})
	if _, err := tlscontext.PeerCertificate(tlsConn); err != nil {
		// Captured for a future pairing layer; its absence at this layer is
		// still a hard failure since TOFU needs *something* to trust.
		log.WithError(err).Warn("peer presented no certificate")
		return err
	}
	return nil
}

// runSession registers the session and runs the packet loop until
// termination, then applies the teardown grace window and evicts the
// registry entry (spec.md §4.4 "Termination").
func (e *Engine) runSession(conn *tls.Conn, remoteIdentity packet.IdentityBody, remoteAddr string, log *logrus.Entry) {
	connectionID, outbound := e.registry.Add(remoteIdentity.DeviceID, remoteIdentity.DeviceName, remoteAddr)
	log = log.WithField("connectionId", connectionID)
	log.Info("session established")

	errCh := make(chan error, 2)
	go func() { errCh <- e.writerLoop(conn, outbound, log) }()
	go func() { errCh <- e.readerLoop(conn, remoteIdentity.DeviceID, outbound, log) }()

	first := <-errCh
	conn.Close() // unblocks whichever side is still reading/writing
	<-errCh

	if first != nil {
		log.WithError(first).Debug("session loop terminated")
	} else {
		log.Debug("session loop terminated (outbound channel closed, superseded)")
	}

	time.Sleep(teardownGrace)
	e.registry.Remove(remoteIdentity.DeviceID, connectionID)
	log.Info("session removed")
}

// readerLoop implements spec.md §4.4's inbound path.
func (e *Engine) readerLoop(conn *tls.Conn, deviceID string, outbound chan *devicemanager.OutboundPacket, log *logrus.Entry) error {
	reader := packet.NewReader(conn)
	for {
		p, err := reader.ReadPacket()
		if err != nil {
			if errors.Is(err, packet.ErrMalformedFrame) {
				// spec.md §7: MalformedPacket is logged and dropped, the
				// session continues (grounded on original_source's
				// main.rs, which logs a parse failure and loops rather
				// than breaking the connection).
				log.WithError(err).Warn("dropping malformed packet")
				continue
			}
			return err
		}

		if p.Type == packet.TypePair {
			log.Info("pair request accepted automatically")
			ack, err := packet.New(packet.TypePair, packet.PairBody{Pair: true})
			if err != nil {
				log.WithError(err).Warn("failed to encode pair ack")
				continue
			}
			// Enqueued before the next inbound packet is read, preserving
			// spec.md §5's "pair-ACK is emitted before any subsequent
			// inbound packet ... is processed".
			outbound <- &devicemanager.OutboundPacket{Packet: ack}
			continue
		}

		e.dispatch.Dispatch(deviceID, p)
	}
}

// writerLoop implements spec.md §4.4's outbound path.
func (e *Engine) writerLoop(conn *tls.Conn, outbound chan *devicemanager.OutboundPacket, log *logrus.Entry) error {
	writer := packet.NewWriter(conn)
	for op := range outbound {
		out := *op.Packet // copy: op.Packet may be shared across a broadcast fan-out.

		if op.Payload != nil {
			srv, err := payload.Open(e.tlsCtx, op.Payload, log)
			if err != nil {
				log.WithError(err).Warn("failed to open payload sub-server, sending packet without payload")
			} else {
				go srv.Serve()
				out.WithPayload(int64(len(op.Payload)), srv.Port)
			}
		}

		if err := writer.WritePacket(&out); err != nil {
			return err
		}
	}
	// The outbound channel was closed: this session was superseded by a
	// newer registration for the same device (spec.md §4.5).
	return nil
}

func configureKeepAlive(conn net.Conn) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	tcpConn.SetKeepAliveConfig(net.KeepAliveConfig{
		Enable:   true,
		Idle:     keepAliveIdle,
		Interval: keepAliveInterval,
	})
}
