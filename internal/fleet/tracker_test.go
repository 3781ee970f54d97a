package fleet

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numberedLines(from, to int) []string {
	lines := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		lines = append(lines, fmt.Sprintf("line %d", i))
	}
	return lines
}

func TestAppendLogs_KeepsNewestTail(t *testing.T) {
	r, _ := newTestRegistry(t)

	r.AppendLogs("dev-1", "s1", numberedLines(1, 400))
	r.AppendLogs("dev-1", "s1", numberedLines(1, 600))

	got := r.Logs("dev-1", "s1", 1000)
	require.Len(t, got, 500)
	assert.Equal(t, "line 101", got[0])
	assert.Equal(t, "line 600", got[499])
}

func TestAppendLogs_ReplacesTail(t *testing.T) {
	r, _ := newTestRegistry(t)

	r.AppendLogs("dev-1", "s1", []string{"a", "b"})
	r.AppendLogs("dev-1", "s1", []string{"a", "b"})
	assert.Equal(t, []string{"a", "b"}, r.Logs("dev-1", "s1", 0), "a repeated report does not duplicate lines")

	r.AppendLogs("dev-1", "s1", []string{"x"})
	assert.Equal(t, []string{"x"}, r.Logs("dev-1", "s1", 0))
}

func TestLogs_Defaults(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.AppendLogs("dev-1", "s1", numberedLines(1, 300))

	tests := []struct {
		name  string
		n     int
		want  int
		first string
	}{
		{name: "zero selects default", n: 0, want: defaultLogLines, first: "line 101"},
		{name: "negative selects default", n: -5, want: defaultLogLines, first: "line 101"},
		{name: "explicit count", n: 3, want: 3, first: "line 298"},
		{name: "more than available", n: 1000, want: 300, first: "line 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Logs("dev-1", "s1", tt.n)
			require.Len(t, got, tt.want)
			assert.Equal(t, tt.first, got[0])
		})
	}
}

func TestLogs_UnknownReturnsEmpty(t *testing.T) {
	r, _ := newTestRegistry(t)

	assert.Equal(t, []string{}, r.Logs("ghost", "s1", 10))
	assert.Equal(t, []string{}, r.RunLogs("ghost", "s1", 1, 10))

	r.AppendLogs("dev-1", "s1", []string{"a"})
	assert.Equal(t, []string{}, r.Logs("dev-1", "other", 10))
}

func TestRecordScriptStatus_RunningClearsCurrentTail(t *testing.T) {
	r, clock := newTestRegistry(t)

	r.RecordScriptStatus("dev-1", "s1", "running", "")
	r.AppendLogs("dev-1", "s1", []string{"first run"})
	clock.Advance(time.Second)
	r.RecordScriptStatus("dev-1", "s1", "stopped", "")

	assert.Equal(t, []string{"first run"}, r.Logs("dev-1", "s1", 0), "terminal status keeps the tail")

	clock.Advance(time.Second)
	r.RecordScriptStatus("dev-1", "s1", "running", "")
	assert.Empty(t, r.Logs("dev-1", "s1", 0))
}

func TestAppendLogs_SnapshotsLatestRun(t *testing.T) {
	r, clock := newTestRegistry(t)

	first := r.RecordScriptStatus("dev-1", "s1", "running", "")
	r.AppendLogs("dev-1", "s1", []string{"a", "b"})
	r.AppendLogs("dev-1", "s1", []string{"a", "b", "c"})
	clock.Advance(time.Second)
	done := r.RecordScriptStatus("dev-1", "s1", "completed", "")
	r.AppendLogs("dev-1", "s1", []string{"a", "b", "c", "d"})

	assert.Equal(t, []string{"a", "b", "c"}, r.RunLogs("dev-1", "s1", first.Timestamp, 0))
	assert.Equal(t, []string{"a", "b", "c", "d"}, r.RunLogs("dev-1", "s1", done.Timestamp, 0),
		"the snapshot is the final tail of the run")
	assert.Equal(t, []string{"a", "b", "c", "d"}, r.Logs("dev-1", "s1", 0))
	assert.Equal(t, []string{"d"}, r.RunLogs("dev-1", "s1", done.Timestamp, 1))
	assert.Empty(t, r.RunLogs("dev-1", "s1", done.Timestamp+1, 0))
}

func TestAppendLogs_ReturnedSlicesAreCopies(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.AppendLogs("dev-1", "s1", []string{"a"})

	got := r.Logs("dev-1", "s1", 0)
	got[0] = "mutated"

	assert.Equal(t, []string{"a"}, r.Logs("dev-1", "s1", 0))
}

func TestScriptRuns_HistoryCapAndFilter(t *testing.T) {
	r, clock := newTestRegistry(t)

	for i := range 60 {
		script := "s1"
		if i%2 == 1 {
			script = "s2"
		}
		r.RecordScriptStatus("dev-1", script, "running", fmt.Sprintf("run %d", i))
		clock.Advance(time.Millisecond)
	}

	all := r.ScriptRuns("dev-1", "")
	require.Len(t, all, 50)
	assert.Equal(t, "run 10", all[0].Detail, "oldest runs are evicted first")
	assert.Equal(t, "run 59", all[49].Detail)

	s1 := r.ScriptRuns("dev-1", "s1")
	assert.Len(t, s1, 25)
	for _, run := range s1 {
		assert.Equal(t, "s1", run.ScriptID)
	}

	assert.Equal(t, []ScriptRun{}, r.ScriptRuns("ghost", ""))
}

func TestScriptContent(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, ok := r.ScriptContent("dev-1", "s1")
	assert.False(t, ok)

	r.SetScriptContent("dev-1", "s1", "print('hi')")
	r.SetScriptContent("dev-1", "s1", "print('bye')")

	content, ok := r.ScriptContent("dev-1", "s1")
	require.True(t, ok)
	assert.Equal(t, "print('bye')", content)
}
