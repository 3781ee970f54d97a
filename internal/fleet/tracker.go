package fleet

import "github.com/HerbHall/autofleet/pkg/protocol"

// defaultLogLines is the number of trailing lines returned when a caller
// does not ask for a specific count.
const defaultLogLines = 200

// ScriptRun is one reported execution status of a script.
type ScriptRun struct {
	ScriptID  string `json:"scriptId"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds.
}

type runKey struct {
	scriptID  string
	timestamp int64
}

// tracker holds the per-device run records, log tails and script content.
type tracker struct {
	runs      []ScriptRun
	current   map[string][]string
	snapshots map[runKey][]string
	contents  map[string]string
}

func newTracker() *tracker {
	return &tracker{
		current:   make(map[string][]string),
		snapshots: make(map[runKey][]string),
		contents:  make(map[string]string),
	}
}

func (r *Registry) trackerLocked(deviceID string) *tracker {
	t, ok := r.tracks[deviceID]
	if !ok {
		t = newTracker()
		r.tracks[deviceID] = t
	}
	return t
}

// RecordScriptStatus appends a run record, evicting the oldest beyond the
// history cap. A "running" status starts a new run and clears the current
// log tail of the script.
func (r *Registry) RecordScriptStatus(deviceID, scriptID, status, detail string) ScriptRun {
	r.mu.Lock()
	defer r.mu.Unlock()

	run := ScriptRun{ScriptID: scriptID, Status: status, Detail: detail, Timestamp: r.now()}
	t := r.trackerLocked(deviceID)
	t.runs = append(t.runs, run)
	if over := len(t.runs) - r.cfg.MaxRunHistory; over > 0 {
		t.runs = append(t.runs[:0:0], t.runs[over:]...)
	}
	if status == protocol.ScriptStatusRunning {
		delete(t.current, scriptID)
	}
	return run
}

// ScriptRuns returns the retained run records of a device, oldest first,
// optionally filtered by script.
func (r *Registry) ScriptRuns(deviceID, scriptID string) []ScriptRun {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []ScriptRun{}
	t, ok := r.tracks[deviceID]
	if !ok {
		return out
	}
	for _, run := range t.runs {
		if scriptID == "" || run.ScriptID == scriptID {
			out = append(out, run)
		}
	}
	return out
}

// AppendLogs stores lines as the current tail of a script, keeping only the
// newest lines up to the configured tail length. Every LOG_LINES report is
// the device's whole tail, so it replaces the previous one. The tail is also
// stored as the snapshot of the script's most recent run, if any.
func (r *Registry) AppendLogs(deviceID, scriptID string, lines []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.trackerLocked(deviceID)
	tail := lastN(cloneSlice(lines), r.cfg.MaxLogTail)
	t.current[scriptID] = tail

	for i := len(t.runs) - 1; i >= 0; i-- {
		if t.runs[i].ScriptID == scriptID {
			t.snapshots[runKey{scriptID, t.runs[i].Timestamp}] = cloneSlice(tail)
			break
		}
	}
}

// Logs returns up to n trailing lines of the script's current tail. n <= 0
// selects the default of 200.
func (r *Registry) Logs(deviceID, scriptID string, n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tracks[deviceID]
	if !ok {
		return []string{}
	}
	return tailCopy(t.current[scriptID], n)
}

// RunLogs returns up to n trailing lines of the snapshot stored for the run
// of scriptID that started at timestamp.
func (r *Registry) RunLogs(deviceID, scriptID string, timestamp int64, n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tracks[deviceID]
	if !ok {
		return []string{}
	}
	return tailCopy(t.snapshots[runKey{scriptID, timestamp}], n)
}

// SetScriptContent caches the last known source of a device script.
func (r *Registry) SetScriptContent(deviceID, scriptID, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trackerLocked(deviceID).contents[scriptID] = content
}

// ScriptContent returns the cached source of a device script.
func (r *Registry) ScriptContent(deviceID, scriptID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tracks[deviceID]
	if !ok {
		return "", false
	}
	content, ok := t.contents[scriptID]
	return content, ok
}

func lastN(lines []string, n int) []string {
	if len(lines) > n {
		return lines[len(lines)-n:]
	}
	return lines
}

func tailCopy(lines []string, n int) []string {
	if n <= 0 {
		n = defaultLogLines
	}
	return append([]string{}, lastN(lines, n)...)
}
