package packet

// IdentityBody is the body of a kdeconnect.identity packet (spec.md §3,
// §6). TCPPort is a pointer because its presence is meaningful: absent when
// sent by the TLS-server side of the plaintext identity exchange, present
// when advertised over UDP (spec.md §3 invariant).
type IdentityBody struct {
	DeviceID             string   `json:"deviceId"`
	DeviceName           string   `json:"deviceName"`
	DeviceType           string   `json:"deviceType"`
	ProtocolVersion      int      `json:"protocolVersion"`
	IncomingCapabilities []string `json:"incomingCapabilities"`
	OutgoingCapabilities []string `json:"outgoingCapabilities"`
	TCPPort              *int     `json:"tcpPort,omitempty"`
}

// PairBody is the body of a kdeconnect.pair packet.
type PairBody struct {
	Pair bool `json:"pair"`
}

// ClipboardBody is the body of a kdeconnect.clipboard packet.
type ClipboardBody struct {
	Content string `json:"content"`
}

// ConnectivityReportBody mirrors kdeconnect-rs's connectivity_report
// plugin body (original_source/kdeconnect/src/plugin/connectivity_report.rs),
// supplemented per SPEC_FULL.md §10. No OS collaborator supplies these
// values in this repo; the schema exists so Event Fan-out and a future
// plugin can exchange it.
type ConnectivityReportBody struct {
	SignalStrengths map[string]CellularNetworkInfo `json:"signalStrengths"`
}

// CellularNetworkInfo describes one SIM/subscription's connectivity state.
type CellularNetworkInfo struct {
	SignalStrength int    `json:"signalStrength"`
	NetworkType    string `json:"networkType"`
}

// InputBody mirrors kdeconnect-rs's input_receive plugin body
// (original_source/kdeconnect/src/plugin/input_receive.rs), supplemented
// per SPEC_FULL.md §10.
type InputBody struct {
	DX          float64 `json:"dx,omitempty"`
	DY          float64 `json:"dy,omitempty"`
	Key         string  `json:"key,omitempty"`
	SpecialKey  int     `json:"specialKey,omitempty"`
	ShiftKey    bool    `json:"shift,omitempty"`
	CtrlKey     bool    `json:"ctrl,omitempty"`
	AltKey      bool    `json:"alt,omitempty"`
	SingleClick bool    `json:"singleclick,omitempty"`
	DoubleClick bool    `json:"doubleclick,omitempty"`
	Scroll      bool    `json:"scroll,omitempty"`
}

// ShareRequestBody is the body of a kdeconnect.share.request packet (§8
// scenario 4: payload send example).
type ShareRequestBody struct {
	Filename string `json:"filename,omitempty"`
}

// BatteryBody is the body of a kdeconnect.battery packet, supplemented per
// SPEC_FULL.md §10 to translate PowerStatusUpdatedEvent into the wire
// protocol's standard battery-state report.
type BatteryBody struct {
	CurrentCharge  int  `json:"currentCharge"`
	IsCharging     bool `json:"isCharging"`
	ThresholdEvent int  `json:"thresholdEvent"`
}

// FindMyPhoneRequestBody is the body of a kdeconnect.findmyphone.request
// packet; it carries no fields on the wire, matching the upstream
// protocol's empty-body ping-the-device request.
type FindMyPhoneRequestBody struct{}
