package fleet

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/HerbHall/autofleet/pkg/protocol"
	"go.uber.org/zap"
)

// Registry is the device session registry. It owns every device record, the
// status ledger and the run/log tracker, and is the single source of truth
// for online/offline state. All methods are safe for concurrent use; every
// mutation runs under one lock.
type Registry struct {
	mu sync.Mutex

	cfg       Config
	clock     Clock
	persister Persister
	metrics   *Metrics
	logger    *zap.Logger

	devices map[string]*record
	conns   map[string]string // conn ID -> device ID
	ledgers map[string][]StatusEvent
	tracks  map[string]*tracker
	remarks map[string]string
	online  int

	// Persistence jobs run one at a time in submission order.
	persistMu      sync.Mutex
	persistQueue   []persistJob
	persistRunning bool
	persistWG      sync.WaitGroup
}

type persistJob struct {
	op     string
	fn     func(ctx context.Context) error
	fields []zap.Field
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithPersister sets the durable side channel for status events and remarks.
func WithPersister(p Persister) Option {
	return func(r *Registry) { r.persister = p }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config, logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		cfg:       cfg.withDefaults(),
		clock:     systemClock{},
		persister: nopPersister{},
		logger:    logger,
		devices:   make(map[string]*record),
		conns:     make(map[string]string),
		ledgers:   make(map[string][]StatusEvent),
		tracks:    make(map[string]*tracker),
		remarks:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = NewMetrics(nil)
	}
	return r
}

func (r *Registry) now() int64 {
	return r.clock.Now().UnixMilli()
}

// LoadRemarks seeds the remark cache from the persister. Remarks are applied
// to records that already exist and to devices seen for the first time later.
func (r *Registry) LoadRemarks(ctx context.Context) error {
	loaded, err := r.persister.LoadRemarks(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, remark := range loaded {
		r.remarks[id] = remark
		if rec, ok := r.devices[id]; ok {
			v := remark
			rec.Remark = &v
		}
	}
	return nil
}

// Upsert merges a self-reported identity into the device record and marks
// the device online. Absent fields keep their previous value; extra is
// merged key by key. A non-nil conn replaces the bound transport.
func (r *Registry) Upsert(info protocol.DeviceInfoPayload, conn Conn) {
	if info.DeviceID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upsertLocked(info, conn)
}

func (r *Registry) upsertLocked(info protocol.DeviceInfoPayload, conn Conn) {
	rec, ok := r.devices[info.DeviceID]
	if !ok {
		// A new record starts offline so the forced transition below
		// records the first contact in the ledger.
		rec = &record{Device: Device{
			DeviceID: info.DeviceID,
			Status:   StatusOffline,
			Extra:    map[string]any{},
			Scripts:  []protocol.ScriptSummary{},
			Folders:  []string{},
		}}
		if remark, ok := r.remarks[info.DeviceID]; ok {
			rec.Remark = &remark
		}
		r.devices[info.DeviceID] = rec
		r.logger.Info("device registered", zap.String("device_id", info.DeviceID))
	}

	rec.Model = coalesce(info.Model, rec.Model)
	rec.AndroidVersion = coalesce(info.AndroidVersion, rec.AndroidVersion)
	rec.AppVersion = coalesce(info.AppVersion, rec.AppVersion)
	rec.Manufacturer = coalesce(info.Manufacturer, rec.Manufacturer)
	mergeTelemetry(&rec.Telemetry, info.Telemetry)
	for k, v := range info.Extra {
		rec.Extra[k] = v
	}
	rec.LastHeartbeat = r.now()

	if conn != nil {
		r.bindLocked(rec, conn)
	}
	r.recordStatusLocked(rec, StatusOnline)
}

// Attach binds conn to the device, creating the record on first sighting,
// refreshes the heartbeat and marks the device online. A previously bound
// connection is closed.
func (r *Registry) Attach(deviceID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.devices[deviceID]
	if !ok {
		r.upsertLocked(protocol.DeviceInfoPayload{DeviceID: deviceID}, conn)
		return
	}
	r.bindLocked(rec, conn)
	rec.LastHeartbeat = r.now()
	r.recordStatusLocked(rec, StatusOnline)
}

func (r *Registry) bindLocked(rec *record, conn Conn) {
	if rec.conn != nil && rec.conn.ID() != conn.ID() {
		r.logger.Info("connection superseded",
			zap.String("device_id", rec.DeviceID),
			zap.String("conn_id", rec.conn.ID()),
		)
		r.detachLocked(rec)
	}
	rec.conn = conn
	r.conns[conn.ID()] = rec.DeviceID
}

// Detach closes the device's connection if it is still open and clears the
// binding. It does not change the device status.
func (r *Registry) Detach(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.devices[deviceID]; ok {
		r.detachLocked(rec)
	}
}

func (r *Registry) detachLocked(rec *record) {
	if rec.conn == nil {
		return
	}
	conn := rec.conn
	rec.conn = nil
	delete(r.conns, conn.ID())
	if conn.IsOpen() {
		if err := conn.Close(); err != nil {
			r.logger.Debug("close connection",
				zap.String("device_id", rec.DeviceID),
				zap.String("conn_id", conn.ID()),
				zap.Error(err),
			)
		}
	}
}

// MarkOffline detaches whichever device currently holds conn. It is used
// when the transport fails without a reliable device context.
func (r *Registry) MarkOffline(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deviceID, ok := r.conns[conn.ID()]
	if !ok {
		return
	}
	if rec, ok := r.devices[deviceID]; ok && rec.conn != nil && rec.conn.ID() == conn.ID() {
		r.detachLocked(rec)
	}
}

// recordStatusLocked applies a status transition. It is a no-op when the
// status is unchanged.
func (r *Registry) recordStatusLocked(rec *record, status Status) {
	if rec.Status == status {
		return
	}
	rec.Status = status

	now := r.now()
	r.appendEventLocked(rec.DeviceID, StatusEvent{Timestamp: now, Status: status})

	if status == StatusOnline {
		r.online++
	} else {
		r.online--
	}
	r.metrics.DevicesOnline.Set(float64(r.online))
	r.metrics.Transitions.WithLabelValues(string(status)).Inc()
	r.logger.Info("device status changed",
		zap.String("device_id", rec.DeviceID),
		zap.String("status", string(status)),
	)

	deviceID := rec.DeviceID
	r.persist("append_status_event", func(ctx context.Context) error {
		return r.persister.AppendStatusEvent(ctx, deviceID, now, status)
	}, zap.String("device_id", deviceID), zap.String("status", string(status)))
}

// CheckHeartbeats marks every online device whose last heartbeat is older
// than the timeout offline and detaches it. It returns the number of devices
// that timed out.
func (r *Registry) CheckHeartbeats() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	timeout := r.cfg.HeartbeatTimeout.Milliseconds()
	expired := 0
	for _, rec := range r.devices {
		if rec.Status != StatusOnline || now-rec.LastHeartbeat <= timeout {
			continue
		}
		r.logger.Info("heartbeat timeout",
			zap.String("device_id", rec.DeviceID),
			zap.Duration("silence", time.Duration(now-rec.LastHeartbeat)*time.Millisecond),
		)
		r.recordStatusLocked(rec, StatusOffline)
		r.detachLocked(rec)
		expired++
	}
	return expired
}

// UpdateHeartbeat refreshes the liveness timestamp, marks the device online
// and applies any telemetry it reports.
func (r *Registry) UpdateHeartbeat(deviceID string, t protocol.Telemetry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.devices[deviceID]
	if !ok {
		return ErrDeviceNotFound
	}
	rec.LastHeartbeat = r.now()
	r.recordStatusLocked(rec, StatusOnline)
	mergeTelemetry(&rec.Telemetry, t)
	return nil
}

// Delete detaches the device and purges its record, status ledger, run
// records, log tails and cached script content. The remark is kept. Run and
// log state left under an unknown ID is purged too, but the call still
// reports ErrDeviceNotFound.
func (r *Registry) Delete(deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.ledgers, deviceID)
	delete(r.tracks, deviceID)

	rec, ok := r.devices[deviceID]
	if !ok {
		return ErrDeviceNotFound
	}
	r.detachLocked(rec)
	if rec.Status == StatusOnline {
		r.online--
		r.metrics.DevicesOnline.Set(float64(r.online))
	}
	delete(r.devices, deviceID)

	r.persist("delete_status_events", func(ctx context.Context) error {
		return r.persister.DeleteStatusEvents(ctx, deviceID)
	}, zap.String("device_id", deviceID))

	r.logger.Info("device deleted", zap.String("device_id", deviceID))
	return nil
}

// Known reports whether a record exists for deviceID.
func (r *Registry) Known(deviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.devices[deviceID]
	return ok
}

// Get returns the device view.
func (r *Registry) Get(deviceID string) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.devices[deviceID]
	if !ok {
		return Device{}, ErrDeviceNotFound
	}
	return rec.view(), nil
}

// List returns every device view ordered by device ID.
func (r *Registry) List() []Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Device, 0, len(r.devices))
	for _, rec := range r.devices {
		out = append(out, rec.view())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// SetRemark stores a trimmed free-text remark for the device and persists it
// in the background. Remarks may be set before a device is first seen.
func (r *Registry) SetRemark(deviceID, remark string) string {
	remark = strings.TrimSpace(remark)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.remarks[deviceID] = remark
	if rec, ok := r.devices[deviceID]; ok {
		v := remark
		rec.Remark = &v
	}
	r.persist("set_remark", func(ctx context.Context) error {
		return r.persister.SetRemark(ctx, deviceID, remark)
	}, zap.String("device_id", deviceID))
	return remark
}

// UpdateScripts replaces the device's script list. A nil folders slice keeps
// the previously reported folders.
func (r *Registry) UpdateScripts(deviceID string, scripts []protocol.ScriptSummary, folders []string) error {
	return r.mutate(deviceID, func(rec *record) {
		rec.Scripts = cloneSlice(scripts)
		if rec.Scripts == nil {
			rec.Scripts = []protocol.ScriptSummary{}
		}
		if folders != nil {
			rec.Folders = cloneSlice(folders)
		}
	})
}

// UpdateApps replaces the device's installed application list.
func (r *Registry) UpdateApps(deviceID string, apps []protocol.AppInfo) error {
	return r.mutate(deviceID, func(rec *record) { rec.Apps = cloneSlice(apps) })
}

// UpdateRunning replaces the device's running-script list.
func (r *Registry) UpdateRunning(deviceID string, items []protocol.RunningScript) error {
	return r.mutate(deviceID, func(rec *record) { rec.Running = cloneSlice(items) })
}

// UpdateScheduled replaces the device's scheduled-task list.
func (r *Registry) UpdateScheduled(deviceID string, items []protocol.ScheduledScript) error {
	return r.mutate(deviceID, func(rec *record) { rec.Scheduled = cloneSlice(items) })
}

// UpdateScreenshot stores the latest capture, stamped with the receipt time.
func (r *Registry) UpdateScreenshot(deviceID string, shot protocol.ScreenshotPayload) error {
	return r.mutate(deviceID, func(rec *record) {
		rec.Screenshot = &Screenshot{ScreenshotPayload: shot, UpdatedAt: r.now()}
	})
}

func (r *Registry) mutate(deviceID string, fn func(rec *record)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.devices[deviceID]
	if !ok {
		return ErrDeviceNotFound
	}
	fn(rec)
	return nil
}

// Apps returns the device's installed applications, empty when unknown.
func (r *Registry) Apps(deviceID string) []protocol.AppInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.devices[deviceID]; ok && rec.Apps != nil {
		return cloneSlice(rec.Apps)
	}
	return []protocol.AppInfo{}
}

// Running returns the device's last reported running scripts.
func (r *Registry) Running(deviceID string) []protocol.RunningScript {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.devices[deviceID]; ok && rec.Running != nil {
		return cloneSlice(rec.Running)
	}
	return []protocol.RunningScript{}
}

// Scheduled returns the device's last reported scheduled tasks.
func (r *Registry) Scheduled(deviceID string) []protocol.ScheduledScript {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.devices[deviceID]; ok && rec.Scheduled != nil {
		return cloneSlice(rec.Scheduled)
	}
	return []protocol.ScheduledScript{}
}

// Screenshot returns the latest capture, or nil.
func (r *Registry) Screenshot(deviceID string) *Screenshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.devices[deviceID]; ok && rec.Screenshot != nil {
		s := *rec.Screenshot
		return &s
	}
	return nil
}

// persist runs fn in the background with a bounded context. Failures are
// logged and counted.
func (r *Registry) persist(op string, fn func(ctx context.Context) error, fields ...zap.Field) {
	r.persistWG.Add(1)
	r.persistMu.Lock()
	defer r.persistMu.Unlock()
	r.persistQueue = append(r.persistQueue, persistJob{op: op, fn: fn, fields: fields})
	if !r.persistRunning {
		r.persistRunning = true
		go r.drainPersist()
	}
}

// drainPersist runs queued jobs until the queue is empty. At most one
// drainer runs at a time, so a delete queued after an append is applied
// after it.
func (r *Registry) drainPersist() {
	for {
		r.persistMu.Lock()
		if len(r.persistQueue) == 0 {
			r.persistQueue = nil
			r.persistRunning = false
			r.persistMu.Unlock()
			return
		}
		job := r.persistQueue[0]
		r.persistQueue = r.persistQueue[1:]
		r.persistMu.Unlock()

		r.runPersist(job)
		r.persistWG.Done()
	}
}

func (r *Registry) runPersist(job persistJob) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.PersistTimeout)
	defer cancel()
	if err := job.fn(ctx); err != nil {
		r.metrics.PersistFailures.WithLabelValues(job.op).Inc()
		r.logger.Warn("persist failed", append(job.fields, zap.String("op", job.op), zap.Error(err))...)
	}
}

// Flush waits for background persistence to finish.
func (r *Registry) Flush() {
	r.persistWG.Wait()
}
