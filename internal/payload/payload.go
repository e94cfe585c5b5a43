// Package payload implements spec.md §4.6: for each outbound packet that
// carries a binary payload, an ephemeral TLS-wrapped TCP listener is opened
// that serves the bytes to every peer that connects, until a 60 second
// overall timeout elapses.
package payload

import (
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kdeconnectd/kdeconnectd/internal/tlscontext"
)

const (
	minPort = 1765
	// maxPort is the Open Question ceiling this repo chose (DESIGN.md):
	// the spec documents no upper bound, so this implementation fails
	// closed rather than scanning forever.
	maxPort = 1899

	// lifetime bounds the sub-server regardless of whether any peer has
	// connected (spec.md §4.6 step 4).
	lifetime = 60 * time.Second
)

// ErrNoPortAvailable is returned when no port in [minPort, maxPort] binds.
var ErrNoPortAvailable = fmt.Errorf("payload: no free port in [%d, %d]", minPort, maxPort)

// Server represents one ephemeral, single-payload TCP+TLS listener.
type Server struct {
	Port int

	listener net.Listener
	tlsCtx   *tlscontext.Context
	bytes    []byte
	log      *logrus.Entry
}

// Open binds a fresh listener in [1765, 1899] and returns a Server ready to
// be served. Port is known as soon as Open returns, so the caller can
// annotate its outbound packet with it before or after starting Serve
// (spec.md §4.6 steps 1–2).
func Open(tlsCtx *tlscontext.Context, data []byte, log *logrus.Entry) (*Server, error) {
	for port := minPort; port <= maxPort; port++ {
		l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			continue
		}
		// The payload is cloned into a read-only view so the sub-server can
		// stream it independently of the caller's buffer (spec.md §3
		// "Payload attachment" lifetime note).
		clone := make([]byte, len(data))
		copy(clone, data)
		return &Server{
			Port:     port,
			listener: l,
			tlsCtx:   tlsCtx,
			bytes:    clone,
			log:      log.WithField("component", "payload").WithField("port", port),
		}, nil
	}
	return nil, ErrNoPortAvailable
}

// Serve accepts connections until lifetime elapses, writing the full
// payload to each one as server-side TLS (spec.md §4.6 steps 3–4). It
// blocks; callers spawn it as its own goroutine ("Spawn a task that
// accepts connections...").
func (s *Server) Serve() {
	defer s.listener.Close()

	deadline := time.Now().Add(lifetime)
	done := make(chan struct{})
	go func() {
		<-time.After(time.Until(deadline))
		close(done)
	}()

	for {
		type acceptResult struct {
			conn net.Conn
			err  error
		}
		acceptCh := make(chan acceptResult, 1)
		go func() {
			conn, err := s.listener.Accept()
			acceptCh <- acceptResult{conn, err}
		}()

		select {
		case <-done:
			s.log.Debug("payload sub-server lifetime elapsed, tearing down")
			return
		case res := <-acceptCh:
			if res.err != nil {
				// An accept error ends the sub-server; the deferred Close
				// releases the listener.
				return
			}
			go s.serveOne(res.conn)
		}
	}
}

func (s *Server) serveOne(conn net.Conn) {
	defer conn.Close()
	tlsConn := s.tlsCtx.Server(conn)
	defer tlsConn.Close()

	if err := tlsConn.Handshake(); err != nil {
		s.log.WithError(err).Debug("payload peer TLS handshake failed")
		return
	}
	if _, err := tlsConn.Write(s.bytes); err != nil {
		s.log.WithError(err).Debug("failed writing payload to peer")
		return
	}
}
