package fleet

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/HerbHall/autofleet/internal/plugin"
	"github.com/HerbHall/autofleet/internal/server"
	"github.com/HerbHall/autofleet/pkg/protocol"
	"go.uber.org/zap"
)

const defaultStatsWindow = 24 * time.Hour

// Routes implements plugin.Plugin.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/devices", Handler: m.handleListDevices},
		{Method: "GET", Path: "/devices/{id}", Handler: m.handleGetDevice},
		{Method: "DELETE", Path: "/devices/{id}", Handler: m.handleDeleteDevice},
		{Method: "GET", Path: "/devices/{id}/status-stats", Handler: m.handleStatusStats},
		{Method: "GET", Path: "/devices/{id}/status-events", Handler: m.handleStatusEvents},
		{Method: "POST", Path: "/devices/{id}/remark", Handler: m.handleSetRemark},

		{Method: "GET", Path: "/devices/{id}/scripts", Handler: m.handleScripts},
		{Method: "GET", Path: "/devices/{id}/apps", Handler: m.handleApps},
		{Method: "GET", Path: "/devices/{id}/running", Handler: m.handleRunning},
		{Method: "GET", Path: "/devices/{id}/scheduled", Handler: m.handleScheduled},
		{Method: "GET", Path: "/devices/{id}/screenshot", Handler: m.handleScreenshot},
		{Method: "GET", Path: "/devices/{id}/script-runs", Handler: m.handleScriptRuns},
		{Method: "GET", Path: "/devices/{id}/logs", Handler: m.handleLogs},
		{Method: "GET", Path: "/devices/{id}/run-logs", Handler: m.handleRunLogs},
		{Method: "GET", Path: "/devices/{id}/script-content", Handler: m.handleScriptContent},

		{Method: "POST", Path: "/devices/{id}/run-script", Handler: m.handleRunScript},
		{Method: "POST", Path: "/devices/{id}/stop-script", Handler: m.handleStopScript},
		{Method: "POST", Path: "/devices/{id}/request-script-list", Handler: m.handleBareRequest(protocol.TypeRequestScriptList)},
		{Method: "POST", Path: "/devices/{id}/request-apps", Handler: m.handleBareRequest(protocol.TypeRequestInstalledApps)},
		{Method: "POST", Path: "/devices/{id}/request-running", Handler: m.handleBareRequest(protocol.TypeRequestRunningScripts)},
		{Method: "POST", Path: "/devices/{id}/request-scheduled", Handler: m.handleBareRequest(protocol.TypeRequestScheduledScripts)},
		{Method: "POST", Path: "/devices/{id}/request-screenshot", Handler: m.handleRequestScreenshot},
		{Method: "POST", Path: "/devices/{id}/touch", Handler: m.handleTouch},
		{Method: "POST", Path: "/devices/{id}/actions", Handler: m.handleAction},
		{Method: "POST", Path: "/devices/{id}/push-inline-script", Handler: m.handlePushInlineScript},
		{Method: "POST", Path: "/devices/{id}/create-folder", Handler: m.handleCreateFolder},
		{Method: "POST", Path: "/devices/{id}/scheduled-tasks", Handler: m.handleCreateTimedTask},
		{Method: "POST", Path: "/devices/{id}/broadcast-tasks", Handler: m.handleCreateIntentTask},
		{Method: "POST", Path: "/devices/{id}/delete-scheduled", Handler: m.handleDeleteScheduled},
		{Method: "POST", Path: "/devices/{id}/request-log", Handler: m.handleRequestLog},
		{Method: "POST", Path: "/devices/{id}/request-script-content", Handler: m.handleRequestScriptContent},
		{Method: "POST", Path: "/devices/{id}/update-script-content", Handler: m.handleUpdateScriptContent},
		{Method: "POST", Path: "/devices/{id}/delete-scripts", Handler: m.handleDeleteScripts},
		{Method: "POST", Path: "/devices/{id}/install-apk", Handler: m.handleInstallAPK},
	}
}

// --- Devices ---

func (m *Module) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	m.registry.CheckHeartbeats()
	writeJSON(w, http.StatusOK, map[string]any{"devices": m.registry.List()})
}

func (m *Module) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := m.registry.Get(r.PathValue("id"))
	if err != nil {
		server.NotFound(w, "device not found", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"device": d})
}

func (m *Module) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	if err := m.registry.Delete(r.PathValue("id")); err != nil {
		server.NotFound(w, "device not found", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Device deleted"})
}

// handleStatusStats returns the online/offline timeline of a device. from and
// to are Unix milliseconds and default to the last 24 hours.
func (m *Module) handleStatusStats(w http.ResponseWriter, r *http.Request) {
	now := m.clock.Now()
	from, err := queryInt64(r, "from", now.Add(-defaultStatsWindow).UnixMilli())
	if err != nil {
		server.BadRequest(w, "from and to must be valid timestamps", r.URL.Path)
		return
	}
	to, err := queryInt64(r, "to", now.UnixMilli())
	if err != nil {
		server.BadRequest(w, "from and to must be valid timestamps", r.URL.Path)
		return
	}

	stats, err := m.registry.StatsFor(r.PathValue("id"), from, to)
	if err != nil {
		server.NotFound(w, "device not found", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleStatusEvents returns persisted status transitions, newest first.
func (m *Module) handleStatusEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		server.BadRequest(w, "limit must be a number", r.URL.Path)
		return
	}
	events, err := m.events.List(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		m.logger.Warn("failed to list status events", zap.String("device_id", r.PathValue("id")), zap.Error(err))
		server.InternalError(w, "failed to list status events", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (m *Module) handleSetRemark(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Remark string `json:"remark"`
	}
	if err := decodeJSON(r, &req); err != nil {
		server.BadRequest(w, "invalid JSON body", r.URL.Path)
		return
	}
	remark := m.registry.SetRemark(r.PathValue("id"), req.Remark)
	writeJSON(w, http.StatusOK, map[string]string{"remark": remark})
}

// --- Reported state ---

func (m *Module) handleScripts(w http.ResponseWriter, r *http.Request) {
	d, err := m.registry.Get(r.PathValue("id"))
	if err != nil {
		server.NotFound(w, "device not found", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scripts": d.Scripts, "folders": d.Folders})
}

func (m *Module) handleApps(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := m.registry.Get(id); err != nil {
		server.NotFound(w, "device not found", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"apps": m.registry.Apps(id)})
}

func (m *Module) handleRunning(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": m.registry.Running(r.PathValue("id"))})
}

func (m *Module) handleScheduled(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": m.registry.Scheduled(r.PathValue("id"))})
}

func (m *Module) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"screenshot": m.registry.Screenshot(r.PathValue("id"))})
}

func (m *Module) handleScriptRuns(w http.ResponseWriter, r *http.Request) {
	runs := m.registry.ScriptRuns(r.PathValue("id"), r.URL.Query().Get("scriptId"))
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (m *Module) handleLogs(w http.ResponseWriter, r *http.Request) {
	scriptID := r.URL.Query().Get("scriptId")
	if scriptID == "" {
		server.BadRequest(w, "scriptId query is required", r.URL.Path)
		return
	}
	lines := m.registry.Logs(r.PathValue("id"), scriptID, queryLines(r))
	writeJSON(w, http.StatusOK, map[string]any{"lines": lines})
}

func (m *Module) handleRunLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scriptID, ts := q.Get("scriptId"), q.Get("timestamp")
	if scriptID == "" || ts == "" {
		server.BadRequest(w, "scriptId and timestamp query are required", r.URL.Path)
		return
	}
	timestamp, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		server.BadRequest(w, "timestamp must be a number", r.URL.Path)
		return
	}
	lines := m.registry.RunLogs(r.PathValue("id"), scriptID, timestamp, queryLines(r))
	writeJSON(w, http.StatusOK, map[string]any{"lines": lines})
}

func (m *Module) handleScriptContent(w http.ResponseWriter, r *http.Request) {
	scriptID := r.URL.Query().Get("scriptId")
	if scriptID == "" {
		server.BadRequest(w, "scriptId query is required", r.URL.Path)
		return
	}
	content, ok := m.registry.ScriptContent(r.PathValue("id"), scriptID)
	if !ok {
		server.NotFound(w, "no script content available", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"content": content})
}

// --- Commands ---

// dispatch sends msg to the device in the path and writes the outcome.
func (m *Module) dispatch(w http.ResponseWriter, r *http.Request, msg protocol.Message, sent string) {
	if !m.send(w, r, msg) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": sent})
}

// send writes a failure response and returns false when msg could not be
// delivered.
func (m *Module) send(w http.ResponseWriter, r *http.Request, msg protocol.Message) bool {
	err := m.registry.Send(r.PathValue("id"), msg)
	if err == nil {
		return true
	}
	m.writeSendError(w, r, msg, err, "")
	return false
}

// writeSendError maps a failed Send to a problem response. A non-empty note
// is appended to the detail.
func (m *Module) writeSendError(w http.ResponseWriter, r *http.Request, msg protocol.Message, err error, note string) {
	withNote := func(detail string) string {
		if note == "" {
			return detail
		}
		return detail + "; " + note
	}
	if errors.Is(err, ErrDeviceUnavailable) {
		server.ServiceUnavailable(w, withNote(ErrDeviceUnavailable.Error()), r.URL.Path)
		return
	}
	m.logger.Warn("dispatch failed",
		zap.String("device_id", r.PathValue("id")),
		zap.String("type", string(msg.Type)),
		zap.Error(err),
	)
	server.InternalError(w, withNote("failed to encode command"), r.URL.Path)
}

func (m *Module) handleBareRequest(t protocol.MessageType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.dispatch(w, r, protocol.NewMessage(t, nil), "Request sent")
	}
}

func (m *Module) handleRunScript(w http.ResponseWriter, r *http.Request) {
	m.handleScriptCommand(w, r, protocol.TypeRunScript, "Command sent")
}

func (m *Module) handleStopScript(w http.ResponseWriter, r *http.Request) {
	m.handleScriptCommand(w, r, protocol.TypeStopScript, "Command sent")
}

func (m *Module) handleRequestScriptContent(w http.ResponseWriter, r *http.Request) {
	m.handleScriptCommand(w, r, protocol.TypeRequestScriptContent, "Request sent")
}

func (m *Module) handleScriptCommand(w http.ResponseWriter, r *http.Request, t protocol.MessageType, sent string) {
	var req protocol.ScriptRef
	if err := decodeJSON(r, &req); err != nil {
		server.BadRequest(w, "invalid JSON body", r.URL.Path)
		return
	}
	if req.ScriptID == "" {
		server.BadRequest(w, "scriptId is required", r.URL.Path)
		return
	}
	m.dispatch(w, r, protocol.NewMessage(t, req), sent)
}

func (m *Module) handleRequestScreenshot(w http.ResponseWriter, r *http.Request) {
	var req protocol.ScreenshotRequest
	if err := decodeJSON(r, &req); err != nil {
		server.BadRequest(w, "invalid JSON body", r.URL.Path)
		return
	}
	var payload any
	if req.Quality != nil || req.MaxWidth != nil || req.MaxHeight != nil {
		payload = req
	}
	m.dispatch(w, r, protocol.NewMessage(protocol.TypeRequestScreenshot, payload), "Screenshot request sent")
}

func (m *Module) handleTouch(w http.ResponseWriter, r *http.Request) {
	var req protocol.TouchEvent
	if err := decodeJSON(r, &req); err != nil || req.Type == "" || req.Start == nil {
		server.BadRequest(w, "invalid touch payload", r.URL.Path)
		return
	}
	m.dispatch(w, r, protocol.NewMessage(protocol.TypeTouchEvent, req), "Touch event sent")
}

func (m *Module) handleAction(w http.ResponseWriter, r *http.Request) {
	var req protocol.DeviceActionPayload
	if err := decodeJSON(r, &req); err != nil {
		server.BadRequest(w, "invalid JSON body", r.URL.Path)
		return
	}
	if req.Action == "" {
		server.BadRequest(w, "action is required", r.URL.Path)
		return
	}
	m.dispatch(w, r, protocol.NewMessage(protocol.TypeDeviceAction, req), "Action sent")
}

func (m *Module) handlePushInlineScript(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name           string  `json:"name"`
		Content        *string `json:"content"`
		RunImmediately bool    `json:"runImmediately"`
		TargetFolder   string  `json:"targetFolder"`
	}
	if err := decodeJSON(r, &req); err != nil {
		server.BadRequest(w, "invalid JSON body", r.URL.Path)
		return
	}
	if req.Name == "" || req.Content == nil {
		server.BadRequest(w, "name and content are required", r.URL.Path)
		return
	}
	m.dispatch(w, r, protocol.NewMessage(protocol.TypePushScript, protocol.PushScriptPayload{
		ScriptID:       req.Name,
		Name:           req.Name,
		Content:        *req.Content,
		RunImmediately: req.RunImmediately,
		TargetFolder:   req.TargetFolder,
	}), "Inline script push command sent")
}

func (m *Module) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreateFolderPayload
	if err := decodeJSON(r, &req); err != nil {
		server.BadRequest(w, "invalid JSON body", r.URL.Path)
		return
	}
	if req.Folder == "" {
		server.BadRequest(w, "folder is required", r.URL.Path)
		return
	}
	m.dispatch(w, r, protocol.NewMessage(protocol.TypeCreateFolder, req), "Create folder command sent")
}

func (m *Module) handleCreateTimedTask(w http.ResponseWriter, r *http.Request) {
	var req protocol.TimedTaskPayload
	if err := decodeJSON(r, &req); err != nil {
		server.BadRequest(w, "invalid JSON body", r.URL.Path)
		return
	}
	if req.ScriptID == "" || req.Mode == "" {
		server.BadRequest(w, "scriptId and mode are required", r.URL.Path)
		return
	}
	switch req.Mode {
	case "once":
		if req.Timestamp == nil {
			server.BadRequest(w, "timestamp is required for once mode", r.URL.Path)
			return
		}
	case "daily":
		if req.TimeOfDay == "" {
			server.BadRequest(w, "timeOfDay is required for daily mode", r.URL.Path)
			return
		}
	case "weekly":
		if req.TimeOfDay == "" {
			server.BadRequest(w, "timeOfDay is required for weekly mode", r.URL.Path)
			return
		}
		if len(req.DaysOfWeek) == 0 {
			server.BadRequest(w, "daysOfWeek is required for weekly mode", r.URL.Path)
			return
		}
	default:
		server.BadRequest(w, "unsupported mode", r.URL.Path)
		return
	}
	m.dispatch(w, r, protocol.NewMessage(protocol.TypeCreateTimedTask, req), "Create timed task command sent")
}

func (m *Module) handleCreateIntentTask(w http.ResponseWriter, r *http.Request) {
	var req protocol.IntentTaskPayload
	if err := decodeJSON(r, &req); err != nil {
		server.BadRequest(w, "invalid JSON body", r.URL.Path)
		return
	}
	req.ScriptID = strings.TrimSpace(req.ScriptID)
	req.Action = strings.TrimSpace(req.Action)
	if req.ScriptID == "" || req.Action == "" {
		server.BadRequest(w, "scriptId and action are required", r.URL.Path)
		return
	}
	m.dispatch(w, r, protocol.NewMessage(protocol.TypeCreateIntentTask, req), "Create broadcast task command sent")
}

func (m *Module) handleDeleteScheduled(w http.ResponseWriter, r *http.Request) {
	var req protocol.DeleteScheduledTaskPayload
	if err := decodeJSON(r, &req); err != nil {
		server.BadRequest(w, "invalid JSON body", r.URL.Path)
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		server.BadRequest(w, "id is required", r.URL.Path)
		return
	}
	m.dispatch(w, r, protocol.NewMessage(protocol.TypeDeleteScheduledTask, req), "Delete scheduled task command sent")
}

func (m *Module) handleRequestLog(w http.ResponseWriter, r *http.Request) {
	var req protocol.LogTailRequest
	if err := decodeJSON(r, &req); err != nil {
		server.BadRequest(w, "invalid JSON body", r.URL.Path)
		return
	}
	if req.ScriptID == "" {
		server.BadRequest(w, "scriptId is required", r.URL.Path)
		return
	}
	m.dispatch(w, r, protocol.NewMessage(protocol.TypeRequestLogTail, req), "Request sent")
}

func (m *Module) handleUpdateScriptContent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScriptID string  `json:"scriptId"`
		Content  *string `json:"content"`
	}
	if err := decodeJSON(r, &req); err != nil {
		server.BadRequest(w, "invalid JSON body", r.URL.Path)
		return
	}
	if req.ScriptID == "" || req.Content == nil {
		server.BadRequest(w, "scriptId and content are required", r.URL.Path)
		return
	}
	m.dispatch(w, r, protocol.NewMessage(protocol.TypeUpdateScriptContent, protocol.UpdateScriptContentPayload{
		ScriptID: req.ScriptID,
		Content:  *req.Content,
	}), "Update command sent")
}

// handleDeleteScripts sends one DELETE_SCRIPT per non-blank id and stops at
// the first failed send. Commands sent before the failure are not recalled;
// the problem detail reports how many went out.
func (m *Module) handleDeleteScripts(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScriptIDs []string `json:"scriptIds"`
	}
	if err := decodeJSON(r, &req); err != nil || len(req.ScriptIDs) == 0 {
		server.BadRequest(w, "scriptIds array is required", r.URL.Path)
		return
	}

	ids := make([]string, 0, len(req.ScriptIDs))
	for _, raw := range req.ScriptIDs {
		if id := strings.TrimSpace(raw); id != "" {
			ids = append(ids, id)
		}
	}
	for i, id := range ids {
		msg := protocol.NewMessage(protocol.TypeDeleteScript, protocol.ScriptRef{ScriptID: id})
		if err := m.registry.Send(r.PathValue("id"), msg); err != nil {
			m.writeSendError(w, r, msg, err, fmt.Sprintf("sent %d of %d delete commands", i, len(ids)))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Delete commands sent", "sent": len(ids)})
}

func (m *Module) handleInstallAPK(w http.ResponseWriter, r *http.Request) {
	var req protocol.InstallAPKPayload
	if err := decodeJSON(r, &req); err != nil {
		server.BadRequest(w, "invalid JSON body", r.URL.Path)
		return
	}
	req.APKName = strings.TrimSpace(req.APKName)
	if req.APKName == "" {
		server.BadRequest(w, "apkName is required", r.URL.Path)
		return
	}
	switch req.Mode {
	case "", "auto", "normal", "root":
	default:
		server.BadRequest(w, "mode must be auto, normal, or root", r.URL.Path)
		return
	}
	m.dispatch(w, r, protocol.NewMessage(protocol.TypeInstallAPK, req), "Install APK command sent")
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON decodes the request body into v. An empty body leaves v as is.
func decodeJSON(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func queryInt64(r *http.Request, key string, fallback int64) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

// queryLines parses the "lines" query parameter; anything unusable selects
// the default.
func queryLines(r *http.Request) int {
	n, err := queryInt(r, "lines", defaultLogLines)
	if err != nil || n <= 0 {
		return defaultLogLines
	}
	return n
}
