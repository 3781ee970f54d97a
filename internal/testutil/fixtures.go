package testutil

import "github.com/HerbHall/autofleet/pkg/protocol"

// NewDeviceInfo returns a DeviceInfoPayload for deviceID with a few
// identity fields set. Override fields through opts.
func NewDeviceInfo(deviceID string, opts ...func(*protocol.DeviceInfoPayload)) protocol.DeviceInfoPayload {
	p := protocol.DeviceInfoPayload{
		DeviceID:       deviceID,
		Model:          Ptr("Pixel 7"),
		Manufacturer:   Ptr("Google"),
		AndroidVersion: Ptr("14"),
		AppVersion:     Ptr("6.5.0"),
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// WithBattery sets the reported battery percentage.
func WithBattery(pct float64) func(*protocol.DeviceInfoPayload) {
	return func(p *protocol.DeviceInfoPayload) { p.Battery = &pct }
}

// WithModel sets the reported model.
func WithModel(model string) func(*protocol.DeviceInfoPayload) {
	return func(p *protocol.DeviceInfoPayload) { p.Model = &model }
}

// WithExtra sets the extra map.
func WithExtra(extra map[string]any) func(*protocol.DeviceInfoPayload) {
	return func(p *protocol.DeviceInfoPayload) { p.Extra = extra }
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
