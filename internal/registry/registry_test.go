package registry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gasbill97-stack/allu-admin/internal/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openTestRepo(t *testing.T) *store.Repo {
	t.Helper()
	dsn := "file:registry_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	repo, err := store.New(db)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo
}

func TestListDevicesAggregatesForms(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	t1 := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 1, 1, 11, 0, 0, 0, time.UTC)
	t3 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	for _, f := range []store.FormRecord{
		{DeviceID: "A", Timestamp: t1},
		{DeviceID: "B", Timestamp: t2},
		{DeviceID: "A", Timestamp: t3},
	} {
		f.Data = store.JSON(`{}`)
		if err := repo.InsertForm(ctx, &f); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	devices, err := New(repo).ListDevices(ctx)
	if err != nil {
		t.Fatalf("list devices: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %+v", devices)
	}
	if devices[0].DeviceID != "A" || devices[0].FormCount != 2 || !devices[0].LastSeen.Equal(t3) {
		t.Fatalf("unexpected device A: %+v", devices[0])
	}
	if devices[1].DeviceID != "B" || devices[1].FormCount != 1 || !devices[1].LastSeen.Equal(t2) {
		t.Fatalf("unexpected device B: %+v", devices[1])
	}
}

func TestListDevicesKeepsNewestWhenLogIsOutOfOrder(t *testing.T) {
	late := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	early := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	scanner := sliceScanner{
		{DeviceID: "A", Timestamp: late},
		{DeviceID: "A", Timestamp: early},
	}
	devices, err := New(scanner).ListDevices(context.Background())
	if err != nil {
		t.Fatalf("list devices: %v", err)
	}
	if !devices[0].LastSeen.Equal(late) || devices[0].FormCount != 2 {
		t.Fatalf("unexpected device: %+v", devices[0])
	}
}

func TestListDevicesPlaceholdersWhenEmpty(t *testing.T) {
	reg := New(openTestRepo(t))
	now := time.Date(2025, 5, 5, 5, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return now }

	devices, err := reg.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("list devices: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 placeholders, got %+v", devices)
	}
	if devices[0].DeviceID != "DEMO_DEVICE_001" || devices[0].FormCount != 3 || !devices[0].LastSeen.Equal(now) {
		t.Fatalf("unexpected first placeholder: %+v", devices[0])
	}
	if devices[1].DeviceID != "DEMO_DEVICE_002" || devices[1].FormCount != 1 || !devices[1].LastSeen.Equal(now.Add(-time.Hour)) {
		t.Fatalf("unexpected second placeholder: %+v", devices[1])
	}
}

func TestListDevicesScanError(t *testing.T) {
	_, err := New(failingScanner{}).ListDevices(context.Background())
	if err == nil {
		t.Fatalf("expected scan error")
	}
}

type sliceScanner []store.FormRecord

func (s sliceScanner) ScanForms(_ context.Context, fn func(store.FormRecord) error) error {
	for _, f := range s {
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

type failingScanner struct{}

func (failingScanner) ScanForms(context.Context, func(store.FormRecord) error) error {
	return errors.New("db down")
}
