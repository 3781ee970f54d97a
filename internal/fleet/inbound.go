package fleet

import (
	"errors"
	"fmt"

	"github.com/HerbHall/autofleet/pkg/protocol"
	"go.uber.org/zap"
)

// HandleMessage decodes one inbound frame received on conn from deviceID and
// applies it to the registry. The device ID always comes from the
// connection, never from the payload. Malformed or unknown frames are
// discarded whole and the decode error is returned.
func (r *Registry) HandleMessage(deviceID string, conn Conn, data []byte) error {
	env, err := protocol.Decode(data)
	if err != nil {
		label := string(env.Type)
		if errors.Is(err, protocol.ErrUnknownMessageType) || label == "" {
			label = "unknown"
		}
		r.metrics.InboundMessages.WithLabelValues(label, resultRejected).Inc()
		r.logger.Warn("discarding inbound message",
			zap.String("device_id", deviceID),
			zap.String("conn_id", conn.ID()),
			zap.Error(err),
		)
		return err
	}

	if err := r.route(deviceID, conn, env); err != nil {
		r.metrics.InboundMessages.WithLabelValues(string(env.Type), resultRejected).Inc()
		r.logger.Warn("discarding inbound message",
			zap.String("device_id", deviceID),
			zap.String("conn_id", conn.ID()),
			zap.String("type", string(env.Type)),
			zap.Error(err),
		)
		return err
	}

	r.metrics.InboundMessages.WithLabelValues(string(env.Type), resultOK).Inc()
	r.logger.Debug("inbound message",
		zap.String("device_id", deviceID),
		zap.String("type", string(env.Type)),
	)
	return nil
}

func (r *Registry) route(deviceID string, conn Conn, env protocol.Envelope) error {
	switch env.Type {
	case protocol.TypeDeviceInfo:
		p, err := protocol.DecodePayload[protocol.DeviceInfoPayload](env)
		if err != nil {
			return err
		}
		p.DeviceID = deviceID
		r.Upsert(p, conn)

	case protocol.TypeHeartbeat:
		p, err := protocol.DecodePayload[protocol.HeartbeatPayload](env)
		if err != nil {
			return err
		}
		return r.UpdateHeartbeat(deviceID, p.Telemetry)

	case protocol.TypeScriptList:
		p, err := protocol.DecodePayload[protocol.ScriptListPayload](env)
		if err != nil {
			return err
		}
		return r.UpdateScripts(deviceID, p.Scripts, p.Folders)

	case protocol.TypeScriptStatusUpdate:
		p, err := protocol.DecodePayload[protocol.ScriptStatusPayload](env)
		if err != nil {
			return err
		}
		// Run and log state only exists for registered devices; a frame
		// still in flight after a delete is dropped.
		if !r.Known(deviceID) {
			return ErrDeviceNotFound
		}
		run := r.RecordScriptStatus(deviceID, p.ScriptID, p.Status, p.Detail)
		if p.Status != protocol.ScriptStatusRunning {
			r.requestSnapshot(deviceID, conn, run)
		}

	case protocol.TypeScreenshot:
		p, err := protocol.DecodePayload[protocol.ScreenshotPayload](env)
		if err != nil {
			return err
		}
		p.DeviceID = deviceID
		return r.UpdateScreenshot(deviceID, p)

	case protocol.TypeRunningScripts:
		p, err := protocol.DecodePayload[protocol.RunningScriptsPayload](env)
		if err != nil {
			return err
		}
		return r.UpdateRunning(deviceID, p.Items)

	case protocol.TypeScheduledScripts:
		p, err := protocol.DecodePayload[protocol.ScheduledScriptsPayload](env)
		if err != nil {
			return err
		}
		return r.UpdateScheduled(deviceID, p.Items)

	case protocol.TypeInstalledApps:
		p, err := protocol.DecodePayload[protocol.InstalledAppsPayload](env)
		if err != nil {
			return err
		}
		return r.UpdateApps(deviceID, p.Apps)

	case protocol.TypeLogLines:
		p, err := protocol.DecodePayload[protocol.LogLinesPayload](env)
		if err != nil {
			return err
		}
		if !r.Known(deviceID) {
			return ErrDeviceNotFound
		}
		r.AppendLogs(deviceID, p.ScriptID, p.Lines)

	case protocol.TypeScriptContent:
		p, err := protocol.DecodePayload[protocol.ScriptContentPayload](env)
		if err != nil {
			return err
		}
		if !r.Known(deviceID) {
			return ErrDeviceNotFound
		}
		r.SetScriptContent(deviceID, p.ScriptID, p.Content)

	default:
		return fmt.Errorf("%w: %q", protocol.ErrUnknownMessageType, env.Type)
	}
	return nil
}

// requestSnapshot asks the device, on the connection that reported the end
// of a run, for the final log tail of that run.
func (r *Registry) requestSnapshot(deviceID string, conn Conn, run ScriptRun) {
	data, err := protocol.RequestLogTail(run.ScriptID, protocol.SnapshotTailLines).Encode()
	if err == nil {
		err = conn.Send(data)
	}
	if err != nil {
		r.logger.Warn("request log tail snapshot failed",
			zap.String("device_id", deviceID),
			zap.String("script_id", run.ScriptID),
			zap.Error(err),
		)
		return
	}
	r.logger.Debug("requested log tail snapshot",
		zap.String("device_id", deviceID),
		zap.String("script_id", run.ScriptID),
		zap.Int64("run_timestamp", run.Timestamp),
	)
}
