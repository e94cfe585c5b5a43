// Package identity holds the process-wide, immutable-after-construction
// identity described in spec.md §2.1 and §3: a stable device UUID, name,
// type, protocol version, and the capability sets merged in from plugins.
package identity

import (
	"sort"

	"github.com/kdeconnectd/kdeconnectd/internal/packet"
)

// ProtocolVersion is the kdeconnect protocol version this daemon speaks.
const ProtocolVersion = 7

// Capable is the interface plugins implement to contribute to the
// advertised capability sets (spec.md §6 "Plugin hook").
type Capable interface {
	IncomingCapabilities() []string
	OutgoingCapabilities() []string
}

// Identity is the frozen local identity record. It is constructed once at
// startup and never mutated afterwards — safe to share by reference
// across every goroutine in the daemon, mirroring how srv.localnode is
// treated as immutable after setupLocalNode() in the teacher.
type Identity struct {
	DeviceID             string
	DeviceName           string
	DeviceType           string
	IncomingCapabilities []string
	OutgoingCapabilities []string
}

// Build merges the capability sets declared by plugins into a base
// identity, deduplicating and sorting for a stable advertised order.
func Build(deviceID, deviceName, deviceType string, plugins ...Capable) *Identity {
	in := map[string]struct{}{
		packet.TypeIdentity: {},
		packet.TypePair:     {},
		packet.TypePing:     {},
	}
	out := map[string]struct{}{
		packet.TypeIdentity: {},
		packet.TypePair:     {},
		packet.TypePing:     {},
	}
	for _, p := range plugins {
		for _, c := range p.IncomingCapabilities() {
			in[c] = struct{}{}
		}
		for _, c := range p.OutgoingCapabilities() {
			out[c] = struct{}{}
		}
	}
	return &Identity{
		DeviceID:             deviceID,
		DeviceName:           deviceName,
		DeviceType:           deviceType,
		IncomingCapabilities: sortedKeys(in),
		OutgoingCapabilities: sortedKeys(out),
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Body renders the identity as the wire body of a kdeconnect.identity
// packet. tcpPort is nil for the TLS-server side of the plaintext
// handshake (spec.md §3 invariant), non-nil for UDP advertisement.
func (id *Identity) Body(tcpPort *int) packet.IdentityBody {
	return packet.IdentityBody{
		DeviceID:             id.DeviceID,
		DeviceName:           id.DeviceName,
		DeviceType:           id.DeviceType,
		ProtocolVersion:      ProtocolVersion,
		IncomingCapabilities: id.IncomingCapabilities,
		OutgoingCapabilities: id.OutgoingCapabilities,
		TCPPort:              tcpPort,
	}
}
