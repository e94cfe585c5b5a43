// Package tlscontext holds the process-wide TLS connector/acceptor pair
// described in spec.md §2.4 and §9: initialized once after config load,
// immutable afterwards, and published by reference to every session.
//
// Both roles accept any peer certificate (trust-on-first-use, spec.md
// §4.4/§9) — authorization is explicitly deferred to a future pairing layer
// outside this core.
package tlscontext

import (
	"crypto/tls"
	"errors"
	"net"
)

// ErrNoCertificate is returned when a peer presents no certificate during
// the handshake, which the trust-on-first-use policy still rejects: there
// must be *something* to trust on first use.
var ErrNoCertificate = errors.New("tlscontext: peer presented no certificate")

// Context is the immutable, process-wide TLS material. Safe for concurrent
// use by every session goroutine — nothing here is mutated after New.
type Context struct {
	clientConfig *tls.Config
	serverConfig *tls.Config
}

// New builds a Context around the local certificate. Because the protocol
// reverses TLS roles per connection (spec.md §4.4 step 2 — "an
// implementer must not 'fix' this by having the TCP listener be the TLS
// server"), both the client and server tls.Config present the same
// certificate and both skip chain verification, deferring acceptance
// entirely to trust-on-first-use.
func New(cert tls.Certificate) *Context {
	base := &tls.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: true, // TOFU: any certificate is accepted here.
		ClientAuth:         tls.RequireAnyClientCert,
		MinVersion:         tls.VersionTLS12,
	}

	return &Context{
		clientConfig: base.Clone(),
		serverConfig: base.Clone(),
	}
}

// Client wraps conn as the TLS client side of the handshake. Per spec.md
// §4.4 the TLS roles are reversed from the TCP dial/accept roles — callers
// pick Client or Server based on the connection's assigned TLS role, not
// its TCP role.
func (c *Context) Client(conn net.Conn) *tls.Conn {
	return tls.Client(conn, c.clientConfig)
}

// Server wraps conn as the TLS server side of the handshake.
func (c *Context) Server(conn net.Conn) *tls.Conn {
	return tls.Server(conn, c.serverConfig)
}

// PeerCertificate returns the first certificate the remote side presented
// during the handshake, captured for a future pairing layer (spec.md §4.4:
// "The peer certificate is captured but authorization decisions are
// deferred"). Handshake() must have completed before calling this; before
// that no peer certificate is recorded and ErrNoCertificate is returned.
func PeerCertificate(conn *tls.Conn) ([]byte, error) {
	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil, ErrNoCertificate
	}
	return state.PeerCertificates[0].Raw, nil
}
