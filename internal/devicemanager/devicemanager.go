// Package devicemanager implements spec.md §4.5: the process-wide registry
// mapping device id to active session, deduplication of concurrent
// connection attempts, and outbound multiplexing.
package devicemanager

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/kdeconnectd/kdeconnectd/internal/packet"
)

// OutboundPacket pairs a packet with its optional binary payload, matching
// spec.md §3's "outbound: channel<PacketWithPayload>".
type OutboundPacket struct {
	Packet  *packet.Packet
	Payload []byte
}

// entry is the registry's back-reference to a live session (spec.md §3
// "Device registry": "at most one entry per deviceId"). It never owns the
// stream — only the outbound sender half and the connectionId guard.
type entry struct {
	connectionID uint64
	deviceName   string
	remoteAddr   string
	outbound     chan *OutboundPacket
}

// Dialer is implemented by whoever can start an outbound Client-role
// connection attempt (spec.md §4.5 considerCandidate: "spawns a Connection
// Engine task in the Client role"). The core wires this to
// internal/session. The full identity is passed through unchanged: the
// Client role already knows it in full from the UDP broadcast and does not
// re-read it during the plaintext handshake (spec.md §4.4 step 1).
type Dialer interface {
	DialCandidate(id packet.IdentityBody, sourceIP string)
}

// Manager is the device registry and dispatcher described in spec.md §4.5.
type Manager struct {
	log      *logrus.Entry
	localID  string
	dialer   Dialer
	nextConn uint64

	mu      sync.Mutex
	devices map[string]*entry
}

// New constructs an empty Manager. localID is the process's own device id,
// used by ConsiderCandidate to suppress self-discovery (spec.md §4.5,
// §8 scenario 1). dialer may be nil and set later with SetDialer, since the
// Connection Engine that implements Dialer is itself constructed with a
// reference to this Manager (spec.md §4.4/§4.5 wiring is mutually
// referential at startup only, never at request time).
func New(log *logrus.Entry, localID string, dialer Dialer) *Manager {
	return &Manager{
		log:     log.WithField("component", "devicemanager"),
		localID: localID,
		dialer:  dialer,
		devices: make(map[string]*entry),
	}
}

// SetDialer wires the Dialer after construction, breaking the Manager/
// Engine constructor cycle at startup.
func (m *Manager) SetDialer(dialer Dialer) {
	m.dialer = dialer
}

// ConsiderCandidate implements spec.md §4.5: drops self and already-
// connected candidates, otherwise spawns an outbound dial.
func (m *Manager) ConsiderCandidate(id packet.IdentityBody, sourceIP string) {
	if id.DeviceID == m.localID {
		m.log.WithField("deviceId", id.DeviceID).Debug("ignoring self-discovery")
		return
	}
	if m.Query(id.DeviceID) {
		m.log.WithField("deviceId", id.DeviceID).Debug("ignoring duplicate candidate, already connected")
		return
	}
	if id.TCPPort == nil {
		m.log.WithField("deviceId", id.DeviceID).Warn("candidate identity missing tcpPort, cannot dial")
		return
	}
	m.dialer.DialCandidate(id, sourceIP)
}

// Add atomically allocates a connectionId and registers the session,
// returning the outbound channel the caller (the Connection Engine) should
// drain into the wire. If a prior entry exists for deviceId it is replaced
// (last-write-wins, spec.md §4.5) and its outbound channel is closed so the
// superseded session's writer observes failure and terminates.
func (m *Manager) Add(deviceID, deviceName, remoteAddr string) (connectionID uint64, outbound chan *OutboundPacket) {
	connectionID = atomic.AddUint64(&m.nextConn, 1)
	outbound = make(chan *OutboundPacket, 16)

	m.mu.Lock()
	old, existed := m.devices[deviceID]
	m.devices[deviceID] = &entry{
		connectionID: connectionID,
		deviceName:   deviceName,
		remoteAddr:   remoteAddr,
		outbound:     outbound,
	}
	m.mu.Unlock()

	if existed {
		m.log.WithField("deviceId", deviceID).
			WithField("oldConnectionId", old.connectionID).
			WithField("newConnectionId", connectionID).
			Info("superseding existing session")
		close(old.outbound)
	} else {
		m.log.WithField("deviceId", deviceID).WithField("connectionId", connectionID).Info("registering new session")
	}
	return connectionID, outbound
}

// Remove evicts the registry entry for deviceId only if its stored
// connectionId matches (spec.md §4.5, §8's core invariant). A mismatch is
// a silent no-op: the caller's session was already superseded.
func (m *Manager) Remove(deviceID string, connectionID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.devices[deviceID]
	if !ok || cur.connectionID != connectionID {
		return
	}
	delete(m.devices, deviceID)
	m.log.WithField("deviceId", deviceID).WithField("connectionId", connectionID).Info("removing session")
}

// Query reports whether a session is currently registered for deviceId.
func (m *Manager) Query(deviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.devices[deviceID]
	return ok
}

// Broadcast pushes an outbound packet into every active session's channel.
// Full or closed channels are skipped (spec.md §4.5) — a slow or dying
// session never blocks the broadcaster. The registry lock is held across
// the non-blocking sends, so Add cannot close a superseded channel while
// it is being sent to; closed channels are never in the registry.
func (m *Manager) Broadcast(p *OutboundPacket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	targets := make([]chan *OutboundPacket, 0, len(m.devices))
	for _, e := range m.devices {
		targets = append(targets, e.outbound)
	}

	for _, ch := range targets {
		select {
		case ch <- p:
		default:
		}
	}
}

// ActiveCount returns the number of registered devices (spec.md §4.5,
// §4.2's broadcaster gate).
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.devices)
}
