// Package plugin implements spec.md §4.8: a dispatch table that fans
// inbound packets out to registered protocol plugins by packet type, one
// actor per plugin (grounded on the teacher's pkgs/trace/service.go
// actor.FromProducer/Receive pattern).
package plugin

import (
	"fmt"

	"github.com/AsynkronIT/protoactor-go/actor"
	"github.com/sirupsen/logrus"

	"github.com/kdeconnectd/kdeconnectd/internal/identity"
	"github.com/kdeconnectd/kdeconnectd/internal/packet"
)

// Plugin is a protocol handler registered against one or more packet
// types. Receive is the actor.Actor contract: it is invoked once per
// dispatched Inbound message, on the plugin's own actor mailbox goroutine,
// so plugins never block the session's reader loop (spec.md §4.4
// "forwarded to ... fans out to registered plugins by type"). Plugins also
// declare the capability sets spec.md §6's "Plugin hook" merges into the
// advertised identity at startup.
type Plugin interface {
	actor.Actor
	identity.Capable
	PacketTypes() []string
}

// Inbound is the message sent to a plugin's mailbox for each matching
// packet.
type Inbound struct {
	DeviceID string
	Packet   *packet.Packet
}

// Table is the process-wide plugin registry.
type Table struct {
	log      *logrus.Entry
	handlers map[string][]*actor.PID
}

// NewTable constructs an empty dispatch table.
func NewTable(log *logrus.Entry) *Table {
	return &Table{
		log:      log.WithField("component", "plugin"),
		handlers: make(map[string][]*actor.PID),
	}
}

// Register spawns p as its own actor and subscribes it to every packet
// type it declares. Registration happens once at startup (spec.md §4.8
// names no dynamic plugin loading), so Register is not safe to call
// concurrently with Dispatch.
func (t *Table) Register(p Plugin) error {
	props := actor.FromProducer(func() actor.Actor { return p })
	pid, err := actor.SpawnNamed(props, fmt.Sprintf("plugin-%T", p))
	if err != nil {
		return fmt.Errorf("plugin: spawn %T: %w", p, err)
	}
	for _, pt := range p.PacketTypes() {
		t.handlers[pt] = append(t.handlers[pt], pid)
		t.log.WithField("packetType", pt).WithField("plugin", fmt.Sprintf("%T", p)).Debug("registered plugin")
	}
	return nil
}

// Dispatch fans an inbound packet out to every plugin registered for its
// type. Unregistered types are dropped silently (spec.md §4.4's dispatcher
// has no notion of an unhandled-type error).
func (t *Table) Dispatch(deviceID string, p *packet.Packet) {
	pids := t.handlers[p.Type]
	if len(pids) == 0 {
		t.log.WithField("type", p.Type).Debug("no plugin registered for packet type")
		return
	}
	msg := &Inbound{DeviceID: deviceID, Packet: p}
	for _, pid := range pids {
		actor.EmptyRootContext.Send(pid, msg)
	}
}
