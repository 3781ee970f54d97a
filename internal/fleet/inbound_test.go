package fleet

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/HerbHall/autofleet/internal/testutil"
	"github.com/HerbHall/autofleet/pkg/protocol"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(t *testing.T, typ protocol.MessageType, payload any) []byte {
	t.Helper()
	data, err := protocol.NewMessage(typ, payload).Encode()
	require.NoError(t, err)
	return data
}

func TestHandleMessage_DeviceInfoUsesConnectionDeviceID(t *testing.T) {
	r, _ := newTestRegistry(t)
	conn := testutil.NewFakeConn()

	info := testutil.NewDeviceInfo("spoofed", testutil.WithModel("Pixel 8"))
	require.NoError(t, r.HandleMessage("dev-1", conn, frame(t, protocol.TypeDeviceInfo, info)))

	_, err := r.Get("spoofed")
	assert.ErrorIs(t, err, ErrDeviceNotFound)

	d, err := r.Get("dev-1")
	require.NoError(t, err)
	assert.Equal(t, StatusOnline, d.Status)
	require.NotNil(t, d.Model)
	assert.Equal(t, "Pixel 8", *d.Model)

	// The connection is bound: commands reach it.
	require.NoError(t, r.Send("dev-1", protocol.NewMessage(protocol.TypeRequestScriptList, nil)))
	assert.Len(t, conn.Sent(), 1)
}

func TestHandleMessage_Heartbeat(t *testing.T) {
	r, clock := newTestRegistry(t)
	conn := testutil.NewFakeConn()
	require.NoError(t, r.HandleMessage("dev-1", conn, frame(t, protocol.TypeDeviceInfo, testutil.NewDeviceInfo("dev-1"))))

	clock.Advance(30 * time.Second)
	battery, charging := 42.0, true
	hb := protocol.HeartbeatPayload{Telemetry: protocol.Telemetry{Battery: &battery, IsCharging: &charging}}
	require.NoError(t, r.HandleMessage("dev-1", conn, frame(t, protocol.TypeHeartbeat, hb)))

	d, err := r.Get("dev-1")
	require.NoError(t, err)
	assert.Equal(t, clock.Now().UnixMilli(), d.LastHeartbeat)
	require.NotNil(t, d.Battery)
	assert.InDelta(t, 42.0, *d.Battery, 0.001)
	require.NotNil(t, d.IsCharging)
	assert.True(t, *d.IsCharging)
}

func TestHandleMessage_HeartbeatFromUnknownDeviceDiscarded(t *testing.T) {
	r, _ := newTestRegistry(t)

	err := r.HandleMessage("ghost", testutil.NewFakeConn(), frame(t, protocol.TypeHeartbeat, protocol.HeartbeatPayload{}))
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.Empty(t, r.List())
}

func TestHandleMessage_TerminalStatusRequestsSnapshot(t *testing.T) {
	tests := []struct {
		status      string
		wantRequest bool
	}{
		{status: "running", wantRequest: false},
		{status: "stopped", wantRequest: true},
		{status: "completed", wantRequest: true},
		{status: "error", wantRequest: true},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			r, _ := newTestRegistry(t)
			r.Upsert(testutil.NewDeviceInfo("dev-1"), nil)
			conn := testutil.NewFakeConn()

			payload := protocol.ScriptStatusPayload{ScriptID: "s1", Status: tt.status}
			require.NoError(t, r.HandleMessage("dev-1", conn, frame(t, protocol.TypeScriptStatusUpdate, payload)))

			runs := r.ScriptRuns("dev-1", "s1")
			require.Len(t, runs, 1)
			assert.Equal(t, tt.status, runs[0].Status)

			sent := conn.Sent()
			if !tt.wantRequest {
				assert.Empty(t, sent)
				return
			}
			require.Len(t, sent, 1)
			assert.Equal(t, protocol.TypeRequestLogTail, sent[0].Type)
			var req protocol.LogTailRequest
			require.NoError(t, json.Unmarshal(sent[0].Payload, &req))
			assert.Equal(t, "s1", req.ScriptID)
			require.NotNil(t, req.Lines)
			assert.Equal(t, protocol.SnapshotTailLines, *req.Lines)
		})
	}
}

func TestHandleMessage_SnapshotRequestFailureIsTolerated(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Upsert(testutil.NewDeviceInfo("dev-1"), nil)
	conn := testutil.NewFakeConn()
	conn.FailSends(errors.New("queue full"))

	payload := protocol.ScriptStatusPayload{ScriptID: "s1", Status: "stopped"}
	require.NoError(t, r.HandleMessage("dev-1", conn, frame(t, protocol.TypeScriptStatusUpdate, payload)))
	assert.Len(t, r.ScriptRuns("dev-1", "s1"), 1)
}

func TestHandleMessage_LogLinesAndContent(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Upsert(testutil.NewDeviceInfo("dev-1"), nil)
	conn := testutil.NewFakeConn()

	require.NoError(t, r.HandleMessage("dev-1", conn, frame(t, protocol.TypeLogLines,
		protocol.LogLinesPayload{ScriptID: "s1", Lines: []string{"a", "b"}})))
	require.NoError(t, r.HandleMessage("dev-1", conn, frame(t, protocol.TypeScriptContent,
		protocol.ScriptContentPayload{ScriptID: "s1", Content: "toast('hi')"})))

	assert.Equal(t, []string{"a", "b"}, r.Logs("dev-1", "s1", 0))
	content, ok := r.ScriptContent("dev-1", "s1")
	require.True(t, ok)
	assert.Equal(t, "toast('hi')", content)
}

func TestHandleMessage_RunFramesFromUnknownDeviceDiscarded(t *testing.T) {
	r, _ := newTestRegistry(t)
	conn := testutil.NewFakeConn()
	require.NoError(t, r.HandleMessage("dev-1", conn, frame(t, protocol.TypeDeviceInfo, testutil.NewDeviceInfo("dev-1"))))
	require.NoError(t, r.Delete("dev-1"))

	frames := [][]byte{
		frame(t, protocol.TypeScriptStatusUpdate, protocol.ScriptStatusPayload{ScriptID: "s1", Status: "stopped"}),
		frame(t, protocol.TypeLogLines, protocol.LogLinesPayload{ScriptID: "s1", Lines: []string{"late"}}),
		frame(t, protocol.TypeScriptContent, protocol.ScriptContentPayload{ScriptID: "s1", Content: "x"}),
	}
	for _, data := range frames {
		assert.ErrorIs(t, r.HandleMessage("dev-1", conn, data), ErrDeviceNotFound)
	}

	assert.Empty(t, r.ScriptRuns("dev-1", ""))
	assert.Empty(t, r.Logs("dev-1", "s1", 0))
	_, ok := r.ScriptContent("dev-1", "s1")
	assert.False(t, ok)
	assert.Empty(t, conn.Sent(), "no snapshot is requested for a deleted device")

	r.mu.Lock()
	_, tracked := r.tracks["dev-1"]
	r.mu.Unlock()
	assert.False(t, tracked)
}

func TestHandleMessage_ReportedCollections(t *testing.T) {
	r, _ := newTestRegistry(t)
	conn := testutil.NewFakeConn()
	require.NoError(t, r.HandleMessage("dev-1", conn, frame(t, protocol.TypeDeviceInfo, testutil.NewDeviceInfo("dev-1"))))

	require.NoError(t, r.HandleMessage("dev-1", conn, frame(t, protocol.TypeScriptList, protocol.ScriptListPayload{
		Scripts: []protocol.ScriptSummary{{ID: "s1", Name: "main.js"}},
		Folders: []string{"tools"},
	})))
	require.NoError(t, r.HandleMessage("dev-1", conn, frame(t, protocol.TypeInstalledApps, protocol.InstalledAppsPayload{
		Apps: []protocol.AppInfo{{PackageName: "com.example", Name: "Example"}},
	})))
	require.NoError(t, r.HandleMessage("dev-1", conn, frame(t, protocol.TypeRunningScripts, protocol.RunningScriptsPayload{
		Items: []protocol.RunningScript{{ID: "s1"}},
	})))
	require.NoError(t, r.HandleMessage("dev-1", conn, frame(t, protocol.TypeScheduledScripts, protocol.ScheduledScriptsPayload{
		Items: []protocol.ScheduledScript{{ID: "s1", ScheduleID: "timed:1", Type: "timed"}},
	})))
	require.NoError(t, r.HandleMessage("dev-1", conn, frame(t, protocol.TypeScreenshot, protocol.ScreenshotPayload{
		DeviceID: "spoofed", ContentType: "image/jpeg", Data: "AAAA",
	})))

	d, err := r.Get("dev-1")
	require.NoError(t, err)
	require.Len(t, d.Scripts, 1)
	assert.Equal(t, "main.js", d.Scripts[0].Name)
	assert.Equal(t, []string{"tools"}, d.Folders)
	assert.Len(t, r.Apps("dev-1"), 1)
	assert.Len(t, r.Running("dev-1"), 1)
	assert.Equal(t, "timed:1", r.Scheduled("dev-1")[0].ScheduleID)

	shot := r.Screenshot("dev-1")
	require.NotNil(t, shot)
	assert.Equal(t, "dev-1", shot.DeviceID)
	assert.Equal(t, "AAAA", shot.Data)
}

func TestHandleMessage_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		label   string
		wantErr error
	}{
		{name: "not json", data: "{not json", label: "unknown", wantErr: protocol.ErrMalformedEnvelope},
		{name: "missing type", data: `{"payload":{}}`, label: "unknown", wantErr: protocol.ErrMalformedEnvelope},
		{name: "outbound type", data: `{"type":"RUN_SCRIPT"}`, label: "unknown", wantErr: protocol.ErrUnknownMessageType},
		{name: "made up type", data: `{"type":"FOO"}`, label: "unknown", wantErr: protocol.ErrUnknownMessageType},
		{name: "missing required field", data: `{"type":"LOG_LINES","payload":{"lines":["x"]}}`, label: "LOG_LINES", wantErr: protocol.ErrMalformedEnvelope},
		{name: "wrong payload shape", data: `{"type":"SCRIPT_STATUS_UPDATE","payload":[1,2]}`, label: "SCRIPT_STATUS_UPDATE", wantErr: protocol.ErrMalformedEnvelope},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMetrics(nil)
			r, _ := newTestRegistry(t, WithMetrics(m))
			conn := testutil.NewFakeConn()

			err := r.HandleMessage("dev-1", conn, []byte(tt.data))
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, r.List())
			assert.Empty(t, r.ScriptRuns("dev-1", ""))
			assert.Empty(t, conn.Sent())
			assert.InDelta(t, 1.0, promtest.ToFloat64(m.InboundMessages.WithLabelValues(tt.label, "rejected")), 0.001)
		})
	}
}
