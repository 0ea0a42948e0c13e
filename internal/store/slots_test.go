package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newCommand(deviceID, typ string) *Command {
	return &Command{
		DeviceID:  deviceID,
		ID:        uuid.New(),
		Type:      typ,
		Data:      JSON(`{"phone":"+100","sim":1}`),
		Timestamp: time.Now().UTC(),
		Status:    CommandStatusPending,
	}
}

func TestTakeCommandEmptySlot(t *testing.T) {
	repo := openTestRepo(t)
	cmd, err := repo.TakeCommand(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if cmd != nil {
		t.Fatalf("expected nil command, got %+v", cmd)
	}
}

func TestPutCommandOverwrites(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	first := newCommand("dev-1", "SEND_SMS")
	replaced, err := repo.PutCommand(ctx, first)
	if err != nil {
		t.Fatalf("put first: %v", err)
	}
	if replaced {
		t.Fatalf("first put must not report a replacement")
	}

	second := newCommand("dev-1", "CALL_FORWARD")
	replaced, err = repo.PutCommand(ctx, second)
	if err != nil {
		t.Fatalf("put second: %v", err)
	}
	if !replaced {
		t.Fatalf("second put should replace the pending command")
	}

	got, err := repo.TakeCommand(ctx, "dev-1")
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if got == nil || got.ID != second.ID || got.Type != "CALL_FORWARD" {
		t.Fatalf("expected second command, got %+v", got)
	}

	again, err := repo.TakeCommand(ctx, "dev-1")
	if err != nil {
		t.Fatalf("take again: %v", err)
	}
	if again != nil {
		t.Fatalf("slot should be empty after take, got %+v", again)
	}
}

func TestTakeCommandIsolatedPerDevice(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	if _, err := repo.PutCommand(ctx, newCommand("dev-a", "SEND_SMS")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := repo.TakeCommand(ctx, "dev-b")
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if got != nil {
		t.Fatalf("dev-b must not see dev-a's command")
	}
}

func TestTakeCommandConcurrentSingleWinner(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	if _, err := repo.PutCommand(ctx, newCommand("dev-1", "SEND_SMS")); err != nil {
		t.Fatalf("put: %v", err)
	}

	const pollers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < pollers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cmd, err := repo.TakeCommand(ctx, "dev-1")
			if err != nil {
				t.Errorf("take: %v", err)
				return
			}
			if cmd != nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one poller to receive the command, got %d", wins)
	}
}

func TestCommandDataScalarsRoundTrip(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	for _, p := range scalarPayloads {
		cmd := newCommand("dev-1", "SET")
		cmd.Data = JSON(p)
		if _, err := repo.PutCommand(ctx, cmd); err != nil {
			t.Fatalf("put %s: %v", p, err)
		}
		got, err := repo.TakeCommand(ctx, "dev-1")
		if err != nil {
			t.Fatalf("take %s: %v", p, err)
		}
		if got == nil || string(got.Data) != p {
			t.Fatalf("expected data %s, got %+v", p, got)
		}
	}
}
