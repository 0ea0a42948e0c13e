package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gasbill97-stack/allu-admin/internal/store"
	"github.com/redis/go-redis/v9"
)

// RedisSlots keeps each device slot under its own key. GETSET and GETDEL are
// single commands, so replacement detection and take are atomic on the server.
type RedisSlots struct{ rdb *redis.Client }

func NewRedisSlots(rdb *redis.Client) *RedisSlots { return &RedisSlots{rdb: rdb} }

func slotKey(deviceID string) string { return "relay:command:" + deviceID }

func (s *RedisSlots) Put(ctx context.Context, cmd *store.Command) (bool, error) {
	b, err := json.Marshal(cmd)
	if err != nil {
		return false, fmt.Errorf("encode command: %w", err)
	}
	err = s.rdb.GetSet(ctx, slotKey(cmd.DeviceID), b).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisSlots) Take(ctx context.Context, deviceID string) (*store.Command, error) {
	b, err := s.rdb.GetDel(ctx, slotKey(deviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cmd store.Command
	if err := json.Unmarshal(b, &cmd); err != nil {
		return nil, fmt.Errorf("decode command %s: %w", deviceID, err)
	}
	return &cmd, nil
}
