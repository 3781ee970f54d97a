// Package services provides repository interfaces and SQLite implementations
// for the data the fleet registry persists. The registry keeps its state in
// memory; these repositories are its durable side channel.
package services

import "errors"

// Sentinel errors returned by repositories.
var (
	ErrNotFound = errors.New("not found")
)

// normalizeLimit applies the default and cap used by list queries.
func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
