// Package registry derives the set of known devices from the form log.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/gasbill97-stack/allu-admin/internal/store"
)

const (
	demoDevicePrimary   = "DEMO_DEVICE_001"
	demoDeviceSecondary = "DEMO_DEVICE_002"
)

type Device struct {
	DeviceID  string    `json:"device_id"`
	LastSeen  time.Time `json:"last_seen"`
	FormCount int       `json:"form_count"`
}

// FormScanner walks every form record in insertion order.
type FormScanner interface {
	ScanForms(ctx context.Context, fn func(store.FormRecord) error) error
}

type Registry struct {
	forms FormScanner
	now   func() time.Time
}

func New(forms FormScanner) *Registry {
	return &Registry{forms: forms, now: time.Now}
}

// ListDevices aggregates the form log on every call. Devices are returned in
// order of first appearance; last_seen is the newest timestamp seen for the
// device. An empty log yields the two demo placeholders.
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	var (
		order []string
		byID  = make(map[string]*Device)
	)
	err := r.forms.ScanForms(ctx, func(f store.FormRecord) error {
		d, ok := byID[f.DeviceID]
		if !ok {
			d = &Device{DeviceID: f.DeviceID, LastSeen: f.Timestamp}
			byID[f.DeviceID] = d
			order = append(order, f.DeviceID)
		}
		if f.Timestamp.After(d.LastSeen) {
			d.LastSeen = f.Timestamp
		}
		d.FormCount++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan forms: %w", err)
	}

	if len(order) == 0 {
		return r.placeholders(), nil
	}
	out := make([]Device, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}

func (r *Registry) placeholders() []Device {
	now := r.now().UTC()
	return []Device{
		{DeviceID: demoDevicePrimary, LastSeen: now, FormCount: 3},
		{DeviceID: demoDeviceSecondary, LastSeen: now.Add(-time.Hour), FormCount: 1},
	}
}
