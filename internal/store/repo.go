package store

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const scanBatchSize = 500

type Repo struct {
	db *gorm.DB
}

func gormConfig() *gorm.Config {
	gormLogger := logger.New(
		log.New(os.Stdout, "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	return &gorm.Config{Logger: gormLogger}
}

func OpenPostgres(user, password, dbName, host, port, sslMode string) (*gorm.DB, error) {
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC", host, user, password, dbName, port, sslMode)
	return gorm.Open(postgres.New(postgres.Config{DSN: dsn}), gormConfig())
}

// OpenSQLite opens the local database file, creating its directory if needed.
// SQLite allows a single writer, so the pool is pinned to one connection.
func OpenSQLite(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000&_journal_mode=WAL"), gormConfig())
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func New(db *gorm.DB) (*Repo, error) {
	if err := db.AutoMigrate(&SmsRecord{}, &FormRecord{}, &Command{}); err != nil {
		return nil, err
	}
	return &Repo{db: db}, nil
}

// --- Telemetry ---

func (r *Repo) InsertSMS(ctx context.Context, rec *SmsRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *Repo) InsertForm(ctx context.Context, rec *FormRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(rec).Error
}

type SMSPage struct {
	Records    []SmsRecord `json:"records"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

type FormPage struct {
	Records    []FormRecord `json:"records"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

// ListSMS returns SMS records newest first. A non-positive limit returns the
// whole log.
func (r *Repo) ListSMS(ctx context.Context, limit int, cursor *Cursor) (SMSPage, error) {
	rows, next, err := listNewestFirst(r.db.WithContext(ctx), limit, cursor, func(s SmsRecord) uint64 { return s.Seq })
	if err != nil {
		return SMSPage{}, err
	}
	return SMSPage{Records: rows, NextCursor: next}, nil
}

// ListForms returns form records newest first. A non-positive limit returns
// the whole log.
func (r *Repo) ListForms(ctx context.Context, limit int, cursor *Cursor) (FormPage, error) {
	rows, next, err := listNewestFirst(r.db.WithContext(ctx), limit, cursor, func(f FormRecord) uint64 { return f.Seq })
	if err != nil {
		return FormPage{}, err
	}
	return FormPage{Records: rows, NextCursor: next}, nil
}

func listNewestFirst[T any](db *gorm.DB, limit int, cursor *Cursor, seqOf func(T) uint64) ([]T, string, error) {
	q := db.Clauses(clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: clause.Column{Name: "seq"}, Desc: true},
	}})
	if cursor != nil {
		q = q.Where(clause.Lt{Column: clause.Column{Name: "seq"}, Value: cursor.Seq})
	}
	if limit > 0 {
		q = q.Limit(limit + 1)
	}

	rows := []T{}
	if err := q.Find(&rows).Error; err != nil {
		return nil, "", err
	}

	next := ""
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
		next = EncodeCursor(Cursor{Seq: seqOf(rows[limit-1])})
	}
	return rows, next, nil
}

// ScanForms walks the whole form log in insertion order. FindInBatches pages
// on the primary key, which is the insertion sequence.
func (r *Repo) ScanForms(ctx context.Context, fn func(FormRecord) error) error {
	var batch []FormRecord
	res := r.db.WithContext(ctx).FindInBatches(&batch, scanBatchSize, func(_ *gorm.DB, _ int) error {
		for _, f := range batch {
			if err := fn(f); err != nil {
				return err
			}
		}
		return nil
	})
	return res.Error
}
