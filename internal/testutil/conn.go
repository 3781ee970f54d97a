package testutil

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/HerbHall/autofleet/pkg/protocol"
	"github.com/google/uuid"
)

// ErrConnClosed is returned by FakeConn.Send after Close.
var ErrConnClosed = errors.New("fake conn closed")

// FakeConn is an in-memory device connection that records every frame sent
// to it.
type FakeConn struct {
	mu      sync.Mutex
	id      string
	open    bool
	sent    [][]byte
	sendErr error
	budget  int // sends left before sendErr applies; -1 means no limit
	closes  int
	closeFn func() error
}

// NewFakeConn returns an open FakeConn with a random ID.
func NewFakeConn() *FakeConn {
	return &FakeConn{id: uuid.New().String(), open: true, budget: -1}
}

func (c *FakeConn) ID() string { return c.id }

func (c *FakeConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *FakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil && c.budget == 0 {
		return c.sendErr
	}
	if !c.open {
		return ErrConnClosed
	}
	if c.budget > 0 {
		c.budget--
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *FakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	c.open = false
	if c.closeFn != nil {
		return c.closeFn()
	}
	return nil
}

// SetOpen flips the readiness state without counting as a Close.
func (c *FakeConn) SetOpen(open bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = open
}

// FailSends makes every subsequent Send return err while the conn still
// reports itself open.
func (c *FakeConn) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
	c.budget = 0
}

// FailSendsAfter lets n more sends succeed, then fails like FailSends.
func (c *FakeConn) FailSendsAfter(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
	c.budget = n
}

// FailClose makes Close return err.
func (c *FakeConn) FailClose(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeFn = func() error { return err }
}

// Closes returns how many times Close was called.
func (c *FakeConn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// Sent returns the decoded outbound messages in send order.
func (c *FakeConn) Sent() []SentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SentMessage, 0, len(c.sent))
	for _, raw := range c.sent {
		var m SentMessage
		_ = json.Unmarshal(raw, &m)
		out = append(out, m)
	}
	return out
}

// SentMessage is an outbound frame as seen by the device.
type SentMessage struct {
	Type    protocol.MessageType `json:"type"`
	Payload json.RawMessage      `json:"payload,omitempty"`
}
