package fleet

// StatusEvent is one online/offline transition in a device's ledger.
type StatusEvent struct {
	Timestamp int64  `json:"timestamp"` // Unix milliseconds.
	Status    Status `json:"status"`
}

// Segment is a maximal interval of a single status.
type Segment struct {
	Start  int64  `json:"start"`
	End    int64  `json:"end"`
	Status Status `json:"status"`
}

// Stats is the status timeline of a device over [From, To].
type Stats struct {
	From           int64     `json:"from"`
	To             int64     `json:"to"`
	Segments       []Segment `json:"segments"`
	TotalOnlineMs  int64     `json:"totalOnlineMs"`
	TotalOfflineMs int64     `json:"totalOfflineMs"`
}

// appendEventLocked appends ev to the device ledger and prunes events that
// fell out of the retention window.
func (r *Registry) appendEventLocked(deviceID string, ev StatusEvent) {
	events := append(r.ledgers[deviceID], ev)

	cutoff := ev.Timestamp - r.cfg.StatusRetention.Milliseconds()
	drop := 0
	for drop < len(events) && events[drop].Timestamp < cutoff {
		drop++
	}
	if drop > 0 {
		events = append(events[:0:0], events[drop:]...)
	}
	r.ledgers[deviceID] = events
}

// History returns a copy of the device's in-memory status ledger, oldest
// first.
func (r *Registry) History(deviceID string) []StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StatusEvent{}, r.ledgers[deviceID]...)
}

// StatsFor reconstructs the status timeline of a device over [from, to]
// (Unix milliseconds). No status is assumed for time before the first
// recorded event, so such windows yield no segments.
func (r *Registry) StatsFor(deviceID string, from, to int64) (Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[deviceID]; !ok {
		return Stats{}, ErrDeviceNotFound
	}
	return computeStats(r.ledgers[deviceID], from, to), nil
}

func computeStats(events []StatusEvent, from, to int64) Stats {
	stats := Stats{From: from, To: to, Segments: []Segment{}}
	if to <= from || len(events) == 0 {
		return stats
	}

	start := max(from, events[0].Timestamp)
	if start >= to {
		return stats
	}

	// The status in effect when the window opens comes from the last event
	// before it; an event exactly at start takes effect immediately.
	current := StatusOffline
	var inRange []StatusEvent
	for _, ev := range events {
		if ev.Timestamp < start {
			current = ev.Status
			continue
		}
		if ev.Timestamp > to {
			break
		}
		inRange = append(inRange, ev)
	}

	cursor := start
	for _, ev := range inRange {
		ts := max(ev.Timestamp, from)
		if ts > cursor {
			stats.Segments = append(stats.Segments, Segment{Start: cursor, End: ts, Status: current})
			cursor = ts
		}
		current = ev.Status
	}
	if cursor < to {
		stats.Segments = append(stats.Segments, Segment{Start: cursor, End: to, Status: current})
	}

	for _, seg := range stats.Segments {
		if seg.Status == StatusOnline {
			stats.TotalOnlineMs += seg.End - seg.Start
		} else {
			stats.TotalOfflineMs += seg.End - seg.Start
		}
	}
	return stats
}
