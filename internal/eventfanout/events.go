package eventfanout

// ClipboardUpdatedEvent fires when the OS clipboard collaborator observes a
// new clipboard value (spec.md §4.7, §8 scenario 6).
type ClipboardUpdatedEvent struct {
	Content string
}

// EventType implements SystemEvent.
func (ClipboardUpdatedEvent) EventType() string { return "ClipboardUpdated" }

// Equal implements the dedupe comparison spec.md §4.7 requires ("if it
// equals the last-stored event, discard it") — two clipboard updates
// collapse only when their content is identical.
func (e ClipboardUpdatedEvent) Equal(other SystemEvent) bool {
	o, ok := other.(ClipboardUpdatedEvent)
	return ok && o.Content == e.Content
}

// PowerStatusUpdatedEvent fires when battery/charging state changes.
type PowerStatusUpdatedEvent struct {
	ChargePercent int
	IsCharging    bool
}

// EventType implements SystemEvent.
func (PowerStatusUpdatedEvent) EventType() string { return "PowerStatusUpdated" }

// Equal implements the dedupe comparison.
func (e PowerStatusUpdatedEvent) Equal(other SystemEvent) bool {
	o, ok := other.(PowerStatusUpdatedEvent)
	return ok && o.ChargePercent == e.ChargePercent && o.IsCharging == e.IsCharging
}

// TrayMenuClickedEvent fires when the user clicks a tray menu item
// identified by id (spec.md §4.7: "TrayMenuClicked(id)").
type TrayMenuClickedEvent struct {
	ID string
}

// EventType implements SystemEvent.
func (TrayMenuClickedEvent) EventType() string { return "TrayMenuClicked" }

// Equal implements the dedupe comparison.
func (e TrayMenuClickedEvent) Equal(other SystemEvent) bool {
	o, ok := other.(TrayMenuClickedEvent)
	return ok && o.ID == e.ID
}

// ConnectivityReportUpdatedEvent fires when cellular signal/network state
// changes (SPEC_FULL.md §10 supplement, grounded on
// original_source/kdeconnect/src/plugin/connectivity_report.rs).
type ConnectivityReportUpdatedEvent struct {
	SignalStrength int
	NetworkType    string
}

// EventType implements SystemEvent.
func (ConnectivityReportUpdatedEvent) EventType() string { return "ConnectivityReportUpdated" }

// Equal implements the dedupe comparison.
func (e ConnectivityReportUpdatedEvent) Equal(other SystemEvent) bool {
	o, ok := other.(ConnectivityReportUpdatedEvent)
	return ok && o.SignalStrength == e.SignalStrength && o.NetworkType == e.NetworkType
}
