package fleet

import (
	"fmt"

	"github.com/HerbHall/autofleet/pkg/protocol"
	"go.uber.org/zap"
)

// Send writes msg to the device's connection without waiting for an
// acknowledgment. It returns ErrDeviceUnavailable when the device is unknown,
// detached or its connection is not open, and marks a device that believed
// itself online offline. A failed write is reported the same way and also
// detaches the connection.
func (r *Registry) Send(deviceID string, msg protocol.Message) error {
	data, err := msg.Encode()
	if err != nil {
		r.metrics.Commands.WithLabelValues(string(msg.Type), resultRejected).Inc()
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.devices[deviceID]
	if !ok || rec.conn == nil || !rec.conn.IsOpen() {
		if ok && rec.Status == StatusOnline {
			r.recordStatusLocked(rec, StatusOffline)
		}
		r.metrics.Commands.WithLabelValues(string(msg.Type), resultFailed).Inc()
		return ErrDeviceUnavailable
	}

	if err := rec.conn.Send(data); err != nil {
		r.logger.Warn("send to device failed",
			zap.String("device_id", deviceID),
			zap.String("conn_id", rec.conn.ID()),
			zap.String("type", string(msg.Type)),
			zap.Error(err),
		)
		r.recordStatusLocked(rec, StatusOffline)
		r.detachLocked(rec)
		r.metrics.Commands.WithLabelValues(string(msg.Type), resultFailed).Inc()
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	r.metrics.Commands.WithLabelValues(string(msg.Type), resultOK).Inc()
	r.logger.Debug("command sent",
		zap.String("device_id", deviceID),
		zap.String("type", string(msg.Type)),
	)
	return nil
}
