package core

import (
	"fmt"

	"github.com/kdeconnectd/kdeconnectd/internal/eventfanout"
	"github.com/kdeconnectd/kdeconnectd/internal/packet"
)

// eventToPacket translates a debounced SystemEvent into the outbound packet
// Event Fan-out broadcasts for it (spec.md §4.7's final step). Event types
// with no wire representation return an error and are dropped by the
// caller.
func eventToPacket(e eventfanout.SystemEvent) (*packet.Packet, error) {
	switch ev := e.(type) {
	case eventfanout.ClipboardUpdatedEvent:
		return packet.New(packet.TypeClipboard, packet.ClipboardBody{Content: ev.Content})

	case eventfanout.PowerStatusUpdatedEvent:
		return packet.New(packet.TypeBattery, packet.BatteryBody{
			CurrentCharge: ev.ChargePercent,
			IsCharging:    ev.IsCharging,
		})

	case eventfanout.ConnectivityReportUpdatedEvent:
		return packet.New(packet.TypeConnectivityReport, packet.ConnectivityReportBody{
			SignalStrengths: map[string]packet.CellularNetworkInfo{
				"0": {SignalStrength: ev.SignalStrength, NetworkType: ev.NetworkType},
			},
		})

	case eventfanout.TrayMenuClickedEvent:
		return packet.New(packet.TypeFindMyPhoneRequest, packet.FindMyPhoneRequestBody{})

	default:
		return nil, fmt.Errorf("core: no outbound packet mapping for event type %q", e.EventType())
	}
}
