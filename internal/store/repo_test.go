package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openTestRepo(t *testing.T) *Repo {
	t.Helper()
	// Use a unique in-memory DB per test to avoid cross-test contamination.
	dsn := "file:store_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	repo, err := New(db)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo
}

func TestListSMSNewestFirst(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, msg := range []string{"first", "second", "third"} {
		rec := &SmsRecord{Sender: "A", Message: msg, DeviceID: "phone-1", Timestamp: base.Add(time.Duration(i) * time.Second)}
		if err := repo.InsertSMS(ctx, rec); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if rec.ID == uuid.Nil {
			t.Fatalf("expected id to be assigned")
		}
	}

	page, err := repo.ListSMS(ctx, 0, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(page.Records))
	}
	if page.Records[0].Message != "third" || page.Records[2].Message != "first" {
		t.Fatalf("unexpected order: %q .. %q", page.Records[0].Message, page.Records[2].Message)
	}
	if page.NextCursor != "" {
		t.Fatalf("did not expect next_cursor for an unbounded list")
	}
}

func TestListFormsCursor(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	// Same timestamp on purpose: order must follow insertion, not time.
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, dev := range []string{"d1", "d2", "d3"} {
		if err := repo.InsertForm(ctx, &FormRecord{DeviceID: dev, Data: JSON(`{"k":1}`), Timestamp: ts}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	page1, err := repo.ListForms(ctx, 2, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page1.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(page1.Records))
	}
	if page1.Records[0].DeviceID != "d3" || page1.Records[1].DeviceID != "d2" {
		t.Fatalf("unexpected page1 order: %s, %s", page1.Records[0].DeviceID, page1.Records[1].DeviceID)
	}
	if page1.NextCursor == "" {
		t.Fatalf("expected next_cursor")
	}

	cur, err := DecodeCursor(page1.NextCursor)
	if err != nil {
		t.Fatalf("decode cursor: %v", err)
	}
	page2, err := repo.ListForms(ctx, 2, cur)
	if err != nil {
		t.Fatalf("list page2: %v", err)
	}
	if len(page2.Records) != 1 || page2.Records[0].DeviceID != "d1" {
		t.Fatalf("unexpected page2: %+v", page2.Records)
	}
	if page2.NextCursor != "" {
		t.Fatalf("did not expect next_cursor")
	}
}

func TestScanFormsChronological(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	for _, dev := range []string{"a", "b", "c"} {
		if err := repo.InsertForm(ctx, &FormRecord{DeviceID: dev, Timestamp: time.Now().UTC()}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	var seen []string
	if err := repo.ScanForms(ctx, func(f FormRecord) error {
		seen = append(seen, f.DeviceID)
		return nil
	}); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if strings.Join(seen, ",") != "a,b,c" {
		t.Fatalf("expected a,b,c, got %v", seen)
	}
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	if c, err := DecodeCursor(""); err != nil || c != nil {
		t.Fatalf("empty cursor should decode to nil, got %v %v", c, err)
	}
	if _, err := DecodeCursor("not base64 !!"); err == nil {
		t.Fatalf("expected error for invalid base64")
	}
	if _, err := DecodeCursor(EncodeCursor(Cursor{Seq: 42})[:2]); err == nil {
		t.Fatalf("expected error for truncated cursor")
	}
}

var scalarPayloads = []string{`42`, `1.5`, `true`, `"s"`, `[1]`, `null`}

func TestFormDataScalarsRoundTrip(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	for _, p := range scalarPayloads {
		if err := repo.InsertForm(ctx, &FormRecord{DeviceID: "d1", Data: JSON(p), Timestamp: time.Now().UTC()}); err != nil {
			t.Fatalf("insert %s: %v", p, err)
		}
	}

	page, err := repo.ListForms(ctx, 0, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Records) != len(scalarPayloads) {
		t.Fatalf("expected %d records, got %d", len(scalarPayloads), len(page.Records))
	}
	for i, rec := range page.Records {
		want := scalarPayloads[len(scalarPayloads)-1-i]
		if string(rec.Data) != want {
			t.Fatalf("record %d: data = %s, want %s", i, rec.Data, want)
		}
	}

	var scanned []string
	if err := repo.ScanForms(ctx, func(f FormRecord) error {
		scanned = append(scanned, string(f.Data))
		return nil
	}); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if strings.Join(scanned, " ") != strings.Join(scalarPayloads, " ") {
		t.Fatalf("scan saw %v", scanned)
	}
}

func TestJSONColumnType(t *testing.T) {
	repo := openTestRepo(t)
	var typ string
	if err := repo.db.Raw(`SELECT type FROM pragma_table_info('relay_form_records') WHERE name = 'data'`).Scan(&typ).Error; err != nil {
		t.Fatalf("pragma: %v", err)
	}
	if typ != "TEXT" {
		t.Fatalf("data column type = %q, want TEXT", typ)
	}
}
