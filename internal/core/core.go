// Package core wires the daemon's components together into one running
// Engine, mirroring the teacher's network/p2p.Server: a setup phase that
// binds sockets and constructs collaborators, followed by a run phase of
// independent goroutines (spec.md §2 "Data flow").
package core

import (
	"context"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/kdeconnectd/kdeconnectd/internal/config"
	"github.com/kdeconnectd/kdeconnectd/internal/devicemanager"
	"github.com/kdeconnectd/kdeconnectd/internal/discovery"
	"github.com/kdeconnectd/kdeconnectd/internal/eventfanout"
	"github.com/kdeconnectd/kdeconnectd/internal/identity"
	"github.com/kdeconnectd/kdeconnectd/internal/plugin"
	"github.com/kdeconnectd/kdeconnectd/internal/session"
	"github.com/kdeconnectd/kdeconnectd/internal/tlscontext"
)

// tcpPortRangeLow and tcpPortRangeHigh bound the main listener's port
// selection (spec.md §4.3 "the first free port in [1716, 1764]").
const (
	tcpPortRangeLow  = 1716
	tcpPortRangeHigh = 1764

	// pendingAccepts bounds how many accepted connections are served at
	// once. A slot is taken before each Accept and returned only when that
	// connection's session ends, not when its handshake completes, so it
	// caps concurrent inbound sessions, handshakes included.
	pendingAccepts = 16
)

// broadcastEventAdapter adapts devicemanager.Manager's packet-shaped
// Broadcast to eventfanout.Broadcaster's SystemEvent-shaped one, translating
// each OS event to its outbound packet (spec.md §4.7's final step, "then
// broadcasts the corresponding outbound packet to every active session").
type broadcastEventAdapter struct {
	manager *devicemanager.Manager
}

func (b *broadcastEventAdapter) BroadcastEvent(e eventfanout.SystemEvent) {
	p, err := eventToPacket(e)
	if err != nil {
		return
	}
	b.manager.Broadcast(&devicemanager.OutboundPacket{Packet: p})
}

// Engine is the top-level running daemon.
type Engine struct {
	log       *logrus.Entry
	cfg       *config.Config
	identity  *identity.Identity
	tlsCtx    *tlscontext.Context
	manager   *devicemanager.Manager
	session   *session.Engine
	plugins   *plugin.Table
	discovery *discovery.Service
	events    chan eventfanout.SystemEvent

	listener net.Listener
	cancel   context.CancelFunc
}

// New constructs an Engine from a frozen configuration. No sockets are
// opened and no goroutines are started until Start is called.
func New(log *logrus.Entry, cfg *config.Config, plugins []plugin.Plugin) (*Engine, error) {
	capable := make([]identity.Capable, len(plugins))
	for i, p := range plugins {
		capable[i] = p
	}
	id := identity.Build(cfg.DeviceID, cfg.DeviceName, cfg.DeviceType, capable...)
	tlsCtx := tlscontext.New(cfg.Cert)
	pluginTable := plugin.NewTable(log)
	for _, p := range plugins {
		if err := pluginTable.Register(p); err != nil {
			return nil, fmt.Errorf("core: registering plugin: %w", err)
		}
	}

	manager := devicemanager.New(log, cfg.DeviceID, nil)
	sessionEngine := session.NewEngine(log, id, tlsCtx, manager, pluginTable)
	manager.SetDialer(sessionEngine)

	return &Engine{
		log:      log.WithField("component", "core"),
		cfg:      cfg,
		identity: id,
		tlsCtx:   tlsCtx,
		manager:  manager,
		session:  sessionEngine,
		plugins:  pluginTable,
		events:   make(chan eventfanout.SystemEvent, 64),
	}, nil
}

// Events returns the channel OS-integration collaborators (tray, MPRIS,
// power state, …) should publish SystemEvent values onto (spec.md §1 "The
// core consumes a single event stream from them").
func (e *Engine) Events() chan<- eventfanout.SystemEvent {
	return e.events
}

// Start binds the main TCP listener and launches the Discovery Service,
// the accept loop, and the Event Fan-out goroutine. It returns once the
// listener is bound; the remaining work runs in background goroutines
// until Stop is called.
func (e *Engine) Start() error {
	listener, port, err := bindFirstFree(tcpPortRangeLow, tcpPortRangeHigh)
	if err != nil {
		return fmt.Errorf("core: no free TCP port in [%d, %d]: %w", tcpPortRangeLow, tcpPortRangeHigh, err)
	}
	e.listener = listener
	e.log.WithField("port", port).Info("main TCP listener bound")

	e.discovery = discovery.New(e.log, e.identity, e.manager, e.manager, port)

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	go func() {
		if err := e.discovery.Run(ctx); err != nil {
			e.log.WithError(err).Error("discovery service exited")
		}
	}()
	go e.acceptLoop(ctx)
	go eventfanout.FanOut(e.events, &broadcastEventAdapter{manager: e.manager}, e.log)

	return nil
}

// Stop tears the daemon down: the discovery loop and accept loop observe
// context cancellation, the listener is closed, and the event stream is
// closed so Event Fan-out returns.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.listener != nil {
		e.listener.Close()
	}
	close(e.events)
}

func (e *Engine) acceptLoop(ctx context.Context) {
	slots := make(chan struct{}, pendingAccepts)
	for i := 0; i < pendingAccepts; i++ {
		slots <- struct{}{}
	}

	for {
		<-slots
		conn, err := e.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			e.log.WithError(err).Debug("accept error")
			slots <- struct{}{}
			continue
		}
		go func() {
			e.session.Accept(conn)
			slots <- struct{}{}
		}()
	}
}

// bindFirstFree implements spec.md §4.3's "first free port in [low, high]"
// main listener selection.
func bindFirstFree(low, high int) (net.Listener, int, error) {
	for port := low; port <= high; port++ {
		l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			continue
		}
		return l, port, nil
	}
	return nil, 0, fmt.Errorf("no port available")
}
