// Package protocol defines the JSON envelopes exchanged between the server and
// device agents over the device WebSocket. Every frame carries exactly one
// envelope with a "type" discriminator and an optional "payload".
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies the kind of envelope on the wire.
type MessageType string

// Inbound message types (device -> server).
const (
	TypeDeviceInfo         MessageType = "DEVICE_INFO"
	TypeHeartbeat          MessageType = "HEARTBEAT"
	TypeScriptList         MessageType = "SCRIPT_LIST"
	TypeScriptStatusUpdate MessageType = "SCRIPT_STATUS_UPDATE"
	TypeScreenshot         MessageType = "SCREENSHOT"
	TypeRunningScripts     MessageType = "RUNNING_SCRIPTS"
	TypeScheduledScripts   MessageType = "SCHEDULED_SCRIPTS"
	TypeInstalledApps      MessageType = "INSTALLED_APPS"
	TypeLogLines           MessageType = "LOG_LINES"
	TypeScriptContent      MessageType = "SCRIPT_CONTENT"
)

// Outbound message types (server -> device). None of them has an
// acknowledgment envelope.
const (
	TypeRequestScriptList       MessageType = "REQUEST_SCRIPT_LIST"
	TypePushScript              MessageType = "PUSH_SCRIPT"
	TypeRunScript               MessageType = "RUN_SCRIPT"
	TypeStopScript              MessageType = "STOP_SCRIPT"
	TypeRequestScreenshot       MessageType = "REQUEST_SCREENSHOT"
	TypeRequestInstalledApps    MessageType = "REQUEST_INSTALLED_APPS"
	TypeTouchEvent              MessageType = "TOUCH_EVENT"
	TypeDeviceAction            MessageType = "DEVICE_ACTION"
	TypeRequestRunningScripts   MessageType = "REQUEST_RUNNING_SCRIPTS"
	TypeRequestScheduledScripts MessageType = "REQUEST_SCHEDULED_SCRIPTS"
	TypeRequestLogTail          MessageType = "REQUEST_LOG_TAIL"
	TypeRequestScriptContent    MessageType = "REQUEST_SCRIPT_CONTENT"
	TypeUpdateScriptContent     MessageType = "UPDATE_SCRIPT_CONTENT"
	TypeDeleteScript            MessageType = "DELETE_SCRIPT"
	TypeDeleteScheduledTask     MessageType = "DELETE_SCHEDULED_TASK"
	TypeCreateIntentTask        MessageType = "CREATE_INTENT_TASK"
	TypeCreateTimedTask         MessageType = "CREATE_TIMED_TASK"
	TypeInstallAPK              MessageType = "INSTALL_APK"
	TypeCreateFolder            MessageType = "CREATE_FOLDER"
)

// ScriptStatusRunning marks the start of a script run. Every other status
// reported in SCRIPT_STATUS_UPDATE is terminal.
const ScriptStatusRunning = "running"

// SnapshotTailLines is the number of log lines requested from a device after
// a run finishes.
const SnapshotTailLines = 500

// Sentinel errors returned by Decode.
var (
	ErrMalformedEnvelope  = errors.New("malformed envelope")
	ErrUnknownMessageType = errors.New("unknown message type")
)

// Envelope is an inbound frame whose payload has not been decoded yet.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message is an outbound frame.
type Message struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload,omitempty"`
}

// Encode serializes m for the wire.
func (m Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type, err)
	}
	return data, nil
}

// IsInbound reports whether t is a message type a device may send.
func IsInbound(t MessageType) bool {
	switch t {
	case TypeDeviceInfo, TypeHeartbeat, TypeScriptList, TypeScriptStatusUpdate,
		TypeScreenshot, TypeRunningScripts, TypeScheduledScripts, TypeInstalledApps,
		TypeLogLines, TypeScriptContent:
		return true
	}
	return false
}
