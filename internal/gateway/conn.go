package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HerbHall/autofleet/internal/fleet"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	errConnClosed    = errors.New("connection closed")
	errSendQueueFull = errors.New("send queue full")
)

var _ fleet.Conn = (*wsConn)(nil)

// wsConn adapts a device WebSocket to fleet.Conn. Outbound frames go through
// a bounded queue drained by writePump, so Send and Close never block the
// caller.
type wsConn struct {
	id          string
	deviceID    string
	remoteAddr  string
	connectedAt time.Time

	ws           *websocket.Conn
	send         chan []byte
	done         chan struct{}
	open         atomic.Bool
	closeOnce    sync.Once
	writeTimeout time.Duration
	logger       *zap.Logger
}

func newConn(ws *websocket.Conn, deviceID, remoteAddr string, cfg Config, logger *zap.Logger) *wsConn {
	c := &wsConn{
		id:           uuid.New().String(),
		deviceID:     deviceID,
		remoteAddr:   remoteAddr,
		connectedAt:  time.Now(),
		ws:           ws,
		send:         make(chan []byte, cfg.SendQueue),
		done:         make(chan struct{}),
		writeTimeout: cfg.WriteTimeout,
	}
	c.logger = logger.With(zap.String("device_id", deviceID), zap.String("conn_id", c.id))
	c.open.Store(true)
	return c
}

func (c *wsConn) ID() string   { return c.id }
func (c *wsConn) IsOpen() bool { return c.open.Load() }

// Send queues data for the write pump.
func (c *wsConn) Send(data []byte) error {
	if !c.open.Load() {
		return errConnClosed
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return errConnClosed
	default:
		return errSendQueueFull
	}
}

// Close marks the connection closed and asks the write pump to end the
// WebSocket. It is safe to call more than once.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.open.Store(false)
		close(c.done)
	})
	return nil
}

// queued returns the number of frames waiting to be written.
func (c *wsConn) queued() int {
	return len(c.send)
}

// writePump writes queued frames until the connection is closed or a write
// fails. On exit the WebSocket is closed, which also ends the read loop.
func (c *wsConn) writePump() {
	for {
		select {
		case data := <-c.send:
			ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
			err := c.ws.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				c.logger.Warn("write to device failed", zap.Error(err))
				_ = c.Close()
				_ = c.ws.CloseNow()
				return
			}
		case <-c.done:
			if err := c.ws.Close(websocket.StatusNormalClosure, "connection closed by server"); err != nil {
				c.logger.Debug("close websocket", zap.Error(err))
			}
			return
		}
	}
}
