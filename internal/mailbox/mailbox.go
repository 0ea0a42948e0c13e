// Package mailbox implements the single-slot command queue: one pending
// command per device, overwritten by redispatch, handed out exactly once by
// PollAndClear.
package mailbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/gasbill97-stack/allu-admin/internal/apperr"
	"github.com/gasbill97-stack/allu-admin/internal/observability"
	"github.com/gasbill97-stack/allu-admin/internal/store"
	"github.com/google/uuid"
)

const lockStripes = 64

// Slots is the durable per-device slot table. Put reports whether a pending
// command was replaced; Take returns nil when the slot is empty and must never
// hand the same command to two callers.
type Slots interface {
	Put(ctx context.Context, cmd *store.Command) (bool, error)
	Take(ctx context.Context, deviceID string) (*store.Command, error)
}

type Mailbox struct {
	slots Slots
	locks [lockStripes]sync.Mutex
	now   func() time.Time
}

func New(slots Slots) *Mailbox {
	return &Mailbox{slots: slots, now: time.Now}
}

func (m *Mailbox) lockFor(deviceID string) *sync.Mutex {
	return &m.locks[xxhash.Sum64String(deviceID)%lockStripes]
}

// Dispatch stores a new PENDING command for deviceID. A command still waiting
// in the slot is replaced without telling the caller.
func (m *Mailbox) Dispatch(ctx context.Context, deviceID, cmdType string, data json.RawMessage) (*store.Command, error) {
	if strings.TrimSpace(deviceID) == "" {
		return nil, apperr.Validation("device_id is required")
	}
	payload := []byte(strings.TrimSpace(string(data)))
	if len(payload) == 0 {
		payload = []byte("null")
	}
	cmd := &store.Command{
		DeviceID:  deviceID,
		ID:        uuid.New(),
		Type:      cmdType,
		Data:      store.JSON(payload),
		Timestamp: m.now().UTC(),
		Status:    store.CommandStatusPending,
	}

	mu := m.lockFor(deviceID)
	mu.Lock()
	replaced, err := m.slots.Put(ctx, cmd)
	mu.Unlock()
	if err != nil {
		slog.Error("relay command store failed", "device_id", deviceID, "error", err)
		return nil, apperr.Persistence("put command", err)
	}

	observability.CommandsDispatched.Inc()
	if replaced {
		observability.CommandsOverwritten.Inc()
		slog.Info("relay command overwrote pending command", "device_id", deviceID, "command_id", cmd.ID)
	}
	slog.Debug("relay command queued", "device_id", deviceID, "command_id", cmd.ID, "type", cmdType)
	return cmd, nil
}

// PollAndClear returns the pending command for deviceID and empties the slot,
// or nil when nothing is pending.
func (m *Mailbox) PollAndClear(ctx context.Context, deviceID string) (*store.Command, error) {
	if strings.TrimSpace(deviceID) == "" {
		return nil, nil
	}
	mu := m.lockFor(deviceID)
	mu.Lock()
	cmd, err := m.slots.Take(ctx, deviceID)
	mu.Unlock()
	if err != nil {
		slog.Error("relay command take failed", "device_id", deviceID, "error", err)
		return nil, apperr.Persistence("take command", err)
	}
	if cmd != nil {
		observability.CommandsDelivered.Inc()
		slog.Debug("relay command delivered", "device_id", deviceID, "command_id", cmd.ID)
	}
	return cmd, nil
}
