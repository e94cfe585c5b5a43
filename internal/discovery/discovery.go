// Package discovery implements spec.md §4.2: a UDP broadcaster and listener
// sharing the well-known port 1716, producing peer-candidate events for the
// device manager.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kdeconnectd/kdeconnectd/internal/identity"
	"github.com/kdeconnectd/kdeconnectd/internal/packet"
)

// Port is the well-known KDE Connect UDP discovery port.
const Port = 1716

const (
	broadcastInterval = 5 * time.Second
	broadcastAddr     = "255.255.255.255"
	maxDatagramSize   = 512 * 1024
)

// ActiveCounter reports how many devices are currently connected, gating
// the broadcaster per spec.md §4.2 ("if and only if the Device Manager
// reports zero active devices").
type ActiveCounter interface {
	ActiveCount() int
}

// CandidateConsumer is the device manager's entry point for identities
// learned over UDP (spec.md §4.5 considerCandidate).
type CandidateConsumer interface {
	ConsiderCandidate(id packet.IdentityBody, sourceIP string)
}

// Service runs the broadcaster and listener tasks sharing UDP port 1716.
type Service struct {
	log      *logrus.Entry
	identity *identity.Identity
	active   ActiveCounter
	consumer CandidateConsumer
	tcpPort  int
}

// New constructs the discovery service. tcpPort is the local main TCP
// listener's port, advertised in every broadcast identity packet.
func New(log *logrus.Entry, id *identity.Identity, active ActiveCounter, consumer CandidateConsumer, tcpPort int) *Service {
	return &Service{
		log:      log.WithField("component", "discovery"),
		identity: id,
		active:   active,
		consumer: consumer,
		tcpPort:  tcpPort,
	}
}

// Run binds the shared UDP port and runs the broadcaster and listener until
// ctx is cancelled. A bind failure here is fatal to the Discovery Service
// only — the caller is expected to log it and continue running the rest of
// the core (spec.md §4.2, §7 "BindFailure ... fatal to the core" applies
// only to the main TCP listener, not this one).
func (s *Service) Run(ctx context.Context) error {
	conn, err := listenReusable(Port)
	if err != nil {
		return fmt.Errorf("discovery: binding udp port %d: %w", Port, err)
	}
	defer conn.Close()

	if err := conn.SetWriteBuffer(maxDatagramSize); err != nil {
		s.log.WithError(err).Debug("failed to set UDP write buffer size")
	}

	done := make(chan struct{}, 2)
	go func() {
		s.broadcastLoop(ctx, conn)
		done <- struct{}{}
	}()
	go func() {
		s.listenLoop(ctx, conn)
		done <- struct{}{}
	}()

	<-ctx.Done()
	conn.Close()
	<-done
	<-done
	return nil
}

// broadcastLoop implements spec.md §4.2's Broadcaster.
func (s *Service) broadcastLoop(ctx context.Context, conn *net.UDPConn) {
	dst := &net.UDPAddr{IP: net.IPv4bcast, Port: Port}
	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.active.ActiveCount() != 0 {
				continue
			}
			tcpPort := s.tcpPort
			body := s.identity.Body(&tcpPort)
			p, err := packet.New(packet.TypeIdentity, body)
			if err != nil {
				s.log.WithError(err).Warn("failed to encode identity broadcast")
				continue
			}
			raw, err := json.Marshal(p)
			if err != nil {
				s.log.WithError(err).Warn("failed to marshal identity broadcast")
				continue
			}
			raw = append(raw, '\n')
			if _, err := conn.WriteToUDP(raw, dst); err != nil {
				s.log.WithError(err).Debug("failed to send identity broadcast")
			}
		}
	}
}

// listenLoop implements spec.md §4.2's Listener.
func (s *Service) listenLoop(ctx context.Context, conn *net.UDPConn) {
	buf := make([]byte, maxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.log.WithError(err).Debug("udp read error")
			continue
		}

		var p packet.Packet
		if err := json.Unmarshal(buf[:n], &p); err != nil {
			s.log.WithError(err).WithField("from", addr.String()).Warn("dropping malformed discovery datagram")
			continue
		}
		if p.Type != packet.TypeIdentity {
			continue
		}
		id, err := packet.DecodeBody[packet.IdentityBody](&p)
		if err != nil {
			s.log.WithError(err).WithField("from", addr.String()).Warn("dropping malformed identity body")
			continue
		}
		s.consumer.ConsiderCandidate(id, addr.IP.String())
	}
}

// listenReusable binds a UDP socket with SO_REUSEADDR and SO_BROADCAST set,
// matching spec.md §4.2's listener requirements.
func listenReusable(port int) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
				if sockErr != nil {
					return
				}
				sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return nil, err
	}
	udpConn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("discovery: unexpected packet conn type %T", pc)
	}
	return udpConn, nil
}
