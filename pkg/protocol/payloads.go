package protocol

import "errors"

// Telemetry holds the device state fields that heartbeats and identity
// reports may carry. A nil field means "not reported".
type Telemetry struct {
	Battery          *float64 `json:"battery,omitempty"`
	IsCharging       *bool    `json:"isCharging,omitempty"`
	Volume           *float64 `json:"volume,omitempty"`
	Brightness       *float64 `json:"brightness,omitempty"`
	BluetoothEnabled *bool    `json:"bluetoothEnabled,omitempty"`
}

// DeviceInfoPayload is the self-reported identity of a device.
type DeviceInfoPayload struct {
	DeviceID       string  `json:"deviceId"`
	Model          *string `json:"model,omitempty"`
	AndroidVersion *string `json:"androidVersion,omitempty"`
	AppVersion     *string `json:"appVersion,omitempty"`
	Manufacturer   *string `json:"manufacturer,omitempty"`
	Telemetry
	Extra map[string]any `json:"extra,omitempty"`
}

// HeartbeatPayload is the periodic proof of life.
type HeartbeatPayload struct {
	Timestamp *int64 `json:"timestamp,omitempty"`
	Telemetry
}

// ScriptSummary describes a script stored on a device.
type ScriptSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Path      string `json:"path,omitempty"`
	Size      *int64 `json:"size,omitempty"`
	UpdatedAt *int64 `json:"updatedAt,omitempty"`
}

// RunningScript is one entry of a device's running-script list.
type RunningScript struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	PID       *int   `json:"pid,omitempty"`
	StartedAt *int64 `json:"startedAt,omitempty"`
}

// ScheduledScript is one entry of a device's scheduled-task list.
type ScheduledScript struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Cron      string `json:"cron,omitempty"`
	NextRunAt *int64 `json:"nextRunAt,omitempty"`
	// ScheduleID is the device-side task id, e.g. "timed:123" or "intent:5".
	ScheduleID string `json:"scheduleId,omitempty"`
	// Type is "timed" or "intent".
	Type string `json:"type,omitempty"`
}

// AppInfo describes an installed application.
type AppInfo struct {
	PackageName string `json:"packageName"`
	Name        string `json:"name"`
	VersionName string `json:"versionName,omitempty"`
	VersionCode *int64 `json:"versionCode,omitempty"`
	TargetSDK   *int   `json:"targetSdk,omitempty"`
	IsSystem    *bool  `json:"isSystem,omitempty"`
}

// ScriptListPayload reports the scripts and folders stored on a device.
// A nil Folders slice means the device did not report folders.
type ScriptListPayload struct {
	DeviceID string          `json:"deviceId,omitempty"`
	Scripts  []ScriptSummary `json:"scripts"`
	Folders  []string        `json:"folders,omitempty"`
}

// ScriptStatusPayload reports a script execution status transition.
type ScriptStatusPayload struct {
	DeviceID string `json:"deviceId,omitempty"`
	ScriptID string `json:"scriptId"`
	Status   string `json:"status"`
	Detail   string `json:"detail,omitempty"`
}

func (p ScriptStatusPayload) Validate() error {
	if p.ScriptID == "" {
		return errors.New("scriptId is required")
	}
	if p.Status == "" {
		return errors.New("status is required")
	}
	return nil
}

// ScreenshotPayload carries an encoded screen capture.
type ScreenshotPayload struct {
	DeviceID    string `json:"deviceId,omitempty"`
	ContentType string `json:"contentType"`
	Data        string `json:"data"`
	Width       *int   `json:"width,omitempty"`
	Height      *int   `json:"height,omitempty"`
	Timestamp   *int64 `json:"timestamp,omitempty"`
}

func (p ScreenshotPayload) Validate() error {
	if p.Data == "" {
		return errors.New("data is required")
	}
	return nil
}

// RunningScriptsPayload reports the scripts currently running on a device.
type RunningScriptsPayload struct {
	DeviceID string          `json:"deviceId,omitempty"`
	Items    []RunningScript `json:"items"`
}

// ScheduledScriptsPayload reports the scheduled tasks on a device.
type ScheduledScriptsPayload struct {
	DeviceID string            `json:"deviceId,omitempty"`
	Items    []ScheduledScript `json:"items"`
}

// InstalledAppsPayload reports the applications installed on a device.
type InstalledAppsPayload struct {
	DeviceID string    `json:"deviceId,omitempty"`
	Apps     []AppInfo `json:"apps"`
}

// LogLinesPayload carries a log tail for a script.
type LogLinesPayload struct {
	DeviceID  string   `json:"deviceId,omitempty"`
	ScriptID  string   `json:"scriptId"`
	Lines     []string `json:"lines"`
	Timestamp *int64   `json:"timestamp,omitempty"`
}

func (p LogLinesPayload) Validate() error {
	if p.ScriptID == "" {
		return errors.New("scriptId is required")
	}
	return nil
}

// ScriptContentPayload carries the source text of a device script.
type ScriptContentPayload struct {
	DeviceID string `json:"deviceId,omitempty"`
	ScriptID string `json:"scriptId"`
	Content  string `json:"content"`
}

func (p ScriptContentPayload) Validate() error {
	if p.ScriptID == "" {
		return errors.New("scriptId is required")
	}
	return nil
}

// --- Outbound payloads ---

// ScriptRef addresses a single script on a device.
type ScriptRef struct {
	ScriptID string `json:"scriptId"`
}

// PushScriptPayload uploads a script to a device.
type PushScriptPayload struct {
	ScriptID       string `json:"scriptId"`
	Name           string `json:"name"`
	Content        string `json:"content"`
	RunImmediately bool   `json:"runImmediately"`
	TargetFolder   string `json:"targetFolder,omitempty"`
}

// ScreenshotRequest tunes the capture a device sends back.
type ScreenshotRequest struct {
	Quality   *float64 `json:"quality,omitempty"`
	MaxWidth  *float64 `json:"maxWidth,omitempty"`
	MaxHeight *float64 `json:"maxHeight,omitempty"`
}

// Point is a screen coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// TouchEvent is a synthetic gesture: "tap", "swipe" or "long_press".
type TouchEvent struct {
	Type       string `json:"type"`
	Start      *Point `json:"start"`
	End        *Point `json:"end,omitempty"`
	DurationMs *int   `json:"durationMs,omitempty"`
}

// DeviceActionPayload triggers a system action such as "back" or "home".
type DeviceActionPayload struct {
	Action string `json:"action"`
}

// LogTailRequest asks a device for the last Lines lines of a script log.
type LogTailRequest struct {
	ScriptID string `json:"scriptId"`
	Lines    *int   `json:"lines,omitempty"`
}

// UpdateScriptContentPayload replaces the source of a device script.
type UpdateScriptContentPayload struct {
	ScriptID string `json:"scriptId"`
	Content  string `json:"content"`
}

// DeleteScheduledTaskPayload removes a scheduled task by its device-side id.
type DeleteScheduledTaskPayload struct {
	ID string `json:"id"`
}

// IntentTaskPayload registers a broadcast-triggered task.
type IntentTaskPayload struct {
	ScriptID string `json:"scriptId"`
	Action   string `json:"action"`
	Local    bool   `json:"local"`
}

// TimedTaskPayload registers a time-triggered task. Mode is "once" (uses
// Timestamp), "daily" (uses TimeOfDay) or "weekly" (TimeOfDay + DaysOfWeek,
// 1=Monday .. 7=Sunday).
type TimedTaskPayload struct {
	ScriptID   string `json:"scriptId"`
	Mode       string `json:"mode"`
	Timestamp  *int64 `json:"timestamp,omitempty"`
	TimeOfDay  string `json:"timeOfDay,omitempty"`
	DaysOfWeek []int  `json:"daysOfWeek,omitempty"`
}

// InstallAPKPayload asks a device to install an APK served by the server.
// Mode is "auto", "normal" or "root".
type InstallAPKPayload struct {
	APKName string `json:"apkName"`
	Mode    string `json:"mode,omitempty"`
}

// CreateFolderPayload creates a script folder on a device.
type CreateFolderPayload struct {
	Folder string `json:"folder"`
}
