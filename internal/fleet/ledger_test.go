package fleet

import (
	"testing"
	"time"

	"github.com/HerbHall/autofleet/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func on(ts int64) StatusEvent  { return StatusEvent{Timestamp: ts, Status: StatusOnline} }
func off(ts int64) StatusEvent { return StatusEvent{Timestamp: ts, Status: StatusOffline} }

func TestComputeStats(t *testing.T) {
	tests := []struct {
		name        string
		events      []StatusEvent
		from, to    int64
		want        []Segment
		wantOnline  int64
		wantOffline int64
	}{
		{
			name:   "no events",
			events: nil,
			from:   0, to: 100,
			want: []Segment{},
		},
		{
			name:   "empty window",
			events: []StatusEvent{on(10)},
			from:   50, to: 50,
			want: []Segment{},
		},
		{
			name:   "inverted window",
			events: []StatusEvent{on(10)},
			from:   80, to: 20,
			want: []Segment{},
		},
		{
			name:   "window before first event",
			events: []StatusEvent{on(100)},
			from:   0, to: 90,
			want: []Segment{},
		},
		{
			name:   "window ends at first event",
			events: []StatusEvent{on(100)},
			from:   0, to: 100,
			want: []Segment{},
		},
		{
			name:   "event exactly at from",
			events: []StatusEvent{on(100), off(150)},
			from:   100, to: 200,
			want: []Segment{
				{Start: 100, End: 150, Status: StatusOnline},
				{Start: 150, End: 200, Status: StatusOffline},
			},
			wantOnline: 50, wantOffline: 50,
		},
		{
			name:   "window starts before first event is clamped",
			events: []StatusEvent{on(100), off(150)},
			from:   0, to: 200,
			want: []Segment{
				{Start: 100, End: 150, Status: StatusOnline},
				{Start: 150, End: 200, Status: StatusOffline},
			},
			wantOnline: 50, wantOffline: 50,
		},
		{
			name:   "status carried in from before the window",
			events: []StatusEvent{on(10), off(40), on(120)},
			from:   100, to: 200,
			want: []Segment{
				{Start: 100, End: 120, Status: StatusOffline},
				{Start: 120, End: 200, Status: StatusOnline},
			},
			wantOnline: 80, wantOffline: 20,
		},
		{
			name:   "events after to are ignored",
			events: []StatusEvent{on(10), off(300), on(400)},
			from:   100, to: 200,
			want: []Segment{
				{Start: 100, End: 200, Status: StatusOnline},
			},
			wantOnline: 100,
		},
		{
			name:   "event exactly at to",
			events: []StatusEvent{on(10), off(200)},
			from:   100, to: 200,
			want: []Segment{
				{Start: 100, End: 200, Status: StatusOnline},
			},
			wantOnline: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := computeStats(tt.events, tt.from, tt.to)
			assert.Equal(t, tt.from, got.From)
			assert.Equal(t, tt.to, got.To)
			assert.Equal(t, tt.want, got.Segments)
			assert.Equal(t, tt.wantOnline, got.TotalOnlineMs)
			assert.Equal(t, tt.wantOffline, got.TotalOfflineMs)
		})
	}
}

func TestComputeStats_Coverage(t *testing.T) {
	events := []StatusEvent{on(1_000), off(5_000), on(9_000), off(9_500), on(20_000)}
	windows := [][2]int64{
		{0, 30_000}, {1_000, 2_000}, {4_000, 9_200}, {9_500, 9_501}, {25_000, 26_000},
	}

	for _, w := range windows {
		got := computeStats(events, w[0], w[1])
		start := max(w[0], events[0].Timestamp)
		want := w[1] - start

		var sum int64
		for i, seg := range got.Segments {
			assert.Less(t, seg.Start, seg.End)
			if i > 0 {
				assert.Equal(t, got.Segments[i-1].End, seg.Start, "segments must be contiguous")
				assert.NotEqual(t, got.Segments[i-1].Status, seg.Status, "adjacent segments must differ")
			}
			sum += seg.End - seg.Start
		}
		assert.Equal(t, want, sum, "window %v", w)
		assert.Equal(t, want, got.TotalOnlineMs+got.TotalOfflineMs, "window %v", w)
	}
}

func TestStatsFor(t *testing.T) {
	r, clock := newTestRegistry(t)

	_, err := r.StatsFor("ghost", 0, 1)
	assert.ErrorIs(t, err, ErrDeviceNotFound)

	start := clock.Now().UnixMilli()
	r.Upsert(protocol.DeviceInfoPayload{DeviceID: "dev-1"}, nil)
	clock.Advance(3 * time.Minute)
	r.CheckHeartbeats() // offline at start+3m
	clock.Advance(time.Minute)

	stats, err := r.StatsFor("dev-1", start-time.Hour.Milliseconds(), clock.Now().UnixMilli())
	require.NoError(t, err)
	require.Len(t, stats.Segments, 2)
	assert.Equal(t, start, stats.Segments[0].Start)
	assert.Equal(t, (3 * time.Minute).Milliseconds(), stats.TotalOnlineMs)
	assert.Equal(t, time.Minute.Milliseconds(), stats.TotalOfflineMs)
}

func TestLedger_RetentionPrunesOldEvents(t *testing.T) {
	r, clock := newTestRegistry(t)

	r.Upsert(protocol.DeviceInfoPayload{DeviceID: "dev-1"}, nil)
	clock.Advance(3 * time.Minute)
	r.CheckHeartbeats()
	require.Len(t, r.History("dev-1"), 2)

	clock.Advance(8 * 24 * time.Hour)
	require.NoError(t, r.UpdateHeartbeat("dev-1", protocol.Telemetry{}))

	history := r.History("dev-1")
	require.Len(t, history, 1, "events older than the retention window are dropped on append")
	assert.Equal(t, StatusOnline, history[0].Status)
	assert.Equal(t, clock.Now().UnixMilli(), history[0].Timestamp)
}

func TestStatsFor_WindowStartsBeforePrunedHead(t *testing.T) {
	r, clock := newTestRegistry(t)
	day := 24 * time.Hour
	t0 := clock.Now().UnixMilli()

	r.Upsert(protocol.DeviceInfoPayload{DeviceID: "dev-1"}, nil) // online at t0
	clock.Advance(day)
	require.Equal(t, 1, r.CheckHeartbeats()) // offline at t0+1d
	offlineAt := clock.Now().UnixMilli()
	clock.Advance(6*day + 12*time.Hour)
	require.NoError(t, r.UpdateHeartbeat("dev-1", protocol.Telemetry{})) // online at t0+7.5d
	onlineAt := clock.Now().UnixMilli()
	clock.Advance(12 * time.Hour)
	now := clock.Now().UnixMilli()

	history := r.History("dev-1")
	require.Len(t, history, 2, "the first online event fell out of retention")
	require.Equal(t, offlineAt, history[0].Timestamp)

	stats, err := r.StatsFor("dev-1", t0, now)
	require.NoError(t, err)
	assert.Equal(t, []Segment{
		{Start: offlineAt, End: onlineAt, Status: StatusOffline},
		{Start: onlineAt, End: now, Status: StatusOnline},
	}, stats.Segments, "no segment covers the pruned span before the surviving head")
	assert.Equal(t, now-offlineAt, stats.TotalOnlineMs+stats.TotalOfflineMs)
	assert.Equal(t, (12 * time.Hour).Milliseconds(), stats.TotalOnlineMs)
}
