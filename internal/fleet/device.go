package fleet

import (
	"errors"
	"time"

	"github.com/HerbHall/autofleet/pkg/protocol"
)

// Sentinel errors returned by the registry.
var (
	ErrDeviceNotFound    = errors.New("device not found")
	ErrDeviceUnavailable = errors.New("device offline or socket not ready")
)

// Status is the liveness state of a device.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Conn is the transport bound to a device. Implementations must be safe for
// concurrent use; Send must not block on the network.
type Conn interface {
	// ID uniquely identifies the connection for reverse lookups.
	ID() string
	IsOpen() bool
	Send(data []byte) error
	Close() error
}

// Clock supplies wall-clock time to the registry.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Screenshot is the most recent capture received from a device.
type Screenshot struct {
	protocol.ScreenshotPayload
	UpdatedAt int64 `json:"updatedAt"`
}

// Device is the externally visible view of a device record. It never carries
// the live connection.
type Device struct {
	DeviceID       string  `json:"deviceId"`
	Model          *string `json:"model,omitempty"`
	AndroidVersion *string `json:"androidVersion,omitempty"`
	AppVersion     *string `json:"appVersion,omitempty"`
	Manufacturer   *string `json:"manufacturer,omitempty"`
	protocol.Telemetry
	Extra map[string]any `json:"extra"`

	Status        Status `json:"status"`
	LastHeartbeat int64  `json:"lastHeartbeat"` // Unix milliseconds.

	Scripts    []protocol.ScriptSummary   `json:"scripts"`
	Folders    []string                   `json:"folders"`
	Apps       []protocol.AppInfo         `json:"apps,omitempty"`
	Screenshot *Screenshot                `json:"screenshot,omitempty"`
	Running    []protocol.RunningScript   `json:"running,omitempty"`
	Scheduled  []protocol.ScheduledScript `json:"scheduled,omitempty"`
	Remark     *string                    `json:"remark,omitempty"`
}

// record is the registry's internal device state.
type record struct {
	Device
	conn Conn
}

// view returns a copy of the record that shares no mutable state with it.
// Pointer fields are shared because the registry only ever replaces them.
func (rec *record) view() Device {
	d := rec.Device
	d.Extra = make(map[string]any, len(rec.Extra))
	for k, v := range rec.Extra {
		d.Extra[k] = v
	}
	d.Scripts = cloneSlice(rec.Scripts)
	if d.Scripts == nil {
		d.Scripts = []protocol.ScriptSummary{}
	}
	d.Folders = cloneSlice(rec.Folders)
	if d.Folders == nil {
		d.Folders = []string{}
	}
	d.Apps = cloneSlice(rec.Apps)
	d.Running = cloneSlice(rec.Running)
	d.Scheduled = cloneSlice(rec.Scheduled)
	if rec.Screenshot != nil {
		s := *rec.Screenshot
		d.Screenshot = &s
	}
	return d
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append(make([]T, 0, len(s)), s...)
}

// mergeTelemetry overwrites the fields of dst that src reports.
func mergeTelemetry(dst *protocol.Telemetry, src protocol.Telemetry) {
	if src.Battery != nil {
		dst.Battery = src.Battery
	}
	if src.IsCharging != nil {
		dst.IsCharging = src.IsCharging
	}
	if src.Volume != nil {
		dst.Volume = src.Volume
	}
	if src.Brightness != nil {
		dst.Brightness = src.Brightness
	}
	if src.BluetoothEnabled != nil {
		dst.BluetoothEnabled = src.BluetoothEnabled
	}
}

func coalesce(v, fallback *string) *string {
	if v != nil {
		return v
	}
	return fallback
}
