// Package testutil provides shared test helpers for autofleet packages.
package testutil

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// Logger returns a logger that writes warnings and errors to the test log,
// so failed persistence or discarded frames show up next to the failure.
// Only use it where every goroutine that logs is stopped before the test
// returns.
func Logger(t testing.TB) *zap.Logger {
	return zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))
}
