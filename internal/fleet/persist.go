package fleet

import (
	"context"
	"fmt"

	"github.com/HerbHall/autofleet/internal/services"
)

// Persister is the durable side channel of the registry. Calls run in the
// background; failures are logged and counted, never propagated.
type Persister interface {
	AppendStatusEvent(ctx context.Context, deviceID string, timestamp int64, status Status) error
	DeleteStatusEvents(ctx context.Context, deviceID string) error
	SetRemark(ctx context.Context, deviceID, remark string) error
	LoadRemarks(ctx context.Context) (map[string]string, error)
}

// Compile-time interface guards.
var (
	_ Persister = (*RepoPersister)(nil)
	_ Persister = nopPersister{}
)

// RepoPersister stores status events and remarks through the services
// repositories.
type RepoPersister struct {
	events  services.StatusEventRepository
	remarks services.RemarkRepository
}

// NewRepoPersister creates a Persister backed by the given repositories.
func NewRepoPersister(events services.StatusEventRepository, remarks services.RemarkRepository) *RepoPersister {
	return &RepoPersister{events: events, remarks: remarks}
}

func (p *RepoPersister) AppendStatusEvent(ctx context.Context, deviceID string, timestamp int64, status Status) error {
	return p.events.Append(ctx, &services.StatusEvent{
		DeviceID:  deviceID,
		Timestamp: timestamp,
		Status:    string(status),
	})
}

func (p *RepoPersister) DeleteStatusEvents(ctx context.Context, deviceID string) error {
	return p.events.DeleteDevice(ctx, deviceID)
}

func (p *RepoPersister) SetRemark(ctx context.Context, deviceID, remark string) error {
	return p.remarks.Set(ctx, deviceID, remark)
}

func (p *RepoPersister) LoadRemarks(ctx context.Context) (map[string]string, error) {
	all, err := p.remarks.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load remarks: %w", err)
	}
	return all, nil
}

type nopPersister struct{}

func (nopPersister) AppendStatusEvent(context.Context, string, int64, Status) error { return nil }
func (nopPersister) DeleteStatusEvents(context.Context, string) error               { return nil }
func (nopPersister) SetRemark(context.Context, string, string) error                { return nil }
func (nopPersister) LoadRemarks(context.Context) (map[string]string, error)         { return nil, nil }
