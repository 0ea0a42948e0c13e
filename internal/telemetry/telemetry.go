// Package telemetry ingests device-reported records (inbound SMS and form
// submissions) into the append-only store and announces each persisted
// record on the live event feed.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gasbill97-stack/allu-admin/internal/apperr"
	"github.com/gasbill97-stack/allu-admin/internal/observability"
	"github.com/gasbill97-stack/allu-admin/internal/realtime"
	"github.com/gasbill97-stack/allu-admin/internal/store"
	"github.com/gasbill97-stack/allu-admin/internal/validation"
)

type Kind string

const (
	KindSMS  Kind = "sms"
	KindForm Kind = "form"
)

const (
	EventNewSMS  = "NEW_SMS"
	EventNewForm = "NEW_FORM"

	defaultSMSDevice  = "Unknown"
	unknownFormPrefix = "UNKNOWN_"
)

func (k Kind) EventType() string {
	if k == KindForm {
		return EventNewForm
	}
	return EventNewSMS
}

func ParseKind(v string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(v))) {
	case KindSMS:
		return KindSMS, nil
	case KindForm, "forms", "submit":
		return KindForm, nil
	}
	return "", fmt.Errorf("unknown telemetry kind %q", v)
}

type Repo interface {
	InsertSMS(ctx context.Context, rec *store.SmsRecord) error
	InsertForm(ctx context.Context, rec *store.FormRecord) error
	ListSMS(ctx context.Context, limit int, cursor *store.Cursor) (store.SMSPage, error)
	ListForms(ctx context.Context, limit int, cursor *store.Cursor) (store.FormPage, error)
}

type Publisher interface {
	Publish(ev realtime.Event)
}

// SMSInput is a partially filled SMS record as reported by a device.
type SMSInput struct {
	Sender    string `json:"sender"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	DeviceID  string `json:"device_id"`
}

// FormInput is a partially filled form submission.
type FormInput struct {
	DeviceID  string          `json:"device_id"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

type Service struct {
	repo      Repo
	pub       Publisher
	validator *validation.Validator
	now       func() time.Time
}

func NewService(repo Repo, pub Publisher, v *validation.Validator) *Service {
	if v == nil {
		v = validation.MustNew()
	}
	return &Service{repo: repo, pub: pub, validator: v, now: time.Now}
}

// Ingest validates a raw JSON body of the given kind and appends it.
// deviceHint fills device_id when the body leaves it empty.
func (s *Service) Ingest(ctx context.Context, kind Kind, body []byte, deviceHint string) error {
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}
	switch kind {
	case KindSMS:
		if err := s.validator.SMS(body); err != nil {
			return apperr.Validation("sms: %v", err)
		}
		var in SMSInput
		if err := json.Unmarshal(body, &in); err != nil {
			return apperr.Validation("sms: %v", err)
		}
		if strings.TrimSpace(in.DeviceID) == "" {
			in.DeviceID = deviceHint
		}
		_, err := s.AppendSMS(ctx, in)
		return err
	case KindForm:
		if err := s.validator.Form(body); err != nil {
			return apperr.Validation("form: %v", err)
		}
		var in FormInput
		if err := json.Unmarshal(body, &in); err != nil {
			return apperr.Validation("form: %v", err)
		}
		if strings.TrimSpace(in.DeviceID) == "" {
			in.DeviceID = deviceHint
		}
		_, err := s.AppendForm(ctx, in)
		return err
	}
	return apperr.Validation("unknown telemetry kind %q", kind)
}

func (s *Service) AppendSMS(ctx context.Context, in SMSInput) (*store.SmsRecord, error) {
	now := s.now().UTC()
	ts, err := parseTimestamp(in.Timestamp, now)
	if err != nil {
		return nil, err
	}
	rec := &store.SmsRecord{
		Sender:    in.Sender,
		Message:   in.Message,
		Timestamp: ts,
		DeviceID:  orDefault(in.DeviceID, defaultSMSDevice),
	}
	if err := s.repo.InsertSMS(ctx, rec); err != nil {
		slog.Error("relay sms insert failed", "device_id", rec.DeviceID, "error", err)
		return nil, apperr.Persistence("insert sms", err)
	}
	observability.TelemetryIngested.WithLabelValues(string(KindSMS)).Inc()
	slog.Debug("relay sms stored", "device_id", rec.DeviceID, "sender", rec.Sender, "id", rec.ID)

	s.publish(KindSMS, rec)
	return rec, nil
}

func (s *Service) AppendForm(ctx context.Context, in FormInput) (*store.FormRecord, error) {
	now := s.now().UTC()
	ts, err := parseTimestamp(in.Timestamp, now)
	if err != nil {
		return nil, err
	}
	data := bytes.TrimSpace(in.Data)
	if len(data) == 0 {
		data = []byte("null")
	}
	rec := &store.FormRecord{
		DeviceID:  orDefault(in.DeviceID, unknownFormPrefix+strconv.FormatInt(now.UnixMilli(), 10)),
		Data:      store.JSON(append([]byte(nil), data...)),
		Timestamp: ts,
	}
	if err := s.repo.InsertForm(ctx, rec); err != nil {
		slog.Error("relay form insert failed", "device_id", rec.DeviceID, "error", err)
		return nil, apperr.Persistence("insert form", err)
	}
	observability.TelemetryIngested.WithLabelValues(string(KindForm)).Inc()
	slog.Debug("relay form stored", "device_id", rec.DeviceID, "id", rec.ID)

	s.publish(KindForm, rec)
	return rec, nil
}

func (s *Service) ListSMS(ctx context.Context, limit int, cursor *store.Cursor) (store.SMSPage, error) {
	page, err := s.repo.ListSMS(ctx, limit, cursor)
	if err != nil {
		return store.SMSPage{}, apperr.Persistence("list sms", err)
	}
	return page, nil
}

func (s *Service) ListForms(ctx context.Context, limit int, cursor *store.Cursor) (store.FormPage, error) {
	page, err := s.repo.ListForms(ctx, limit, cursor)
	if err != nil {
		return store.FormPage{}, apperr.Persistence("list forms", err)
	}
	return page, nil
}

// publish runs only after the record is durable.
func (s *Service) publish(kind Kind, rec any) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(realtime.Event{Type: kind.EventType(), Payload: rec})
}

// timestampLayouts are tried in order. Layouts without a zone offset are read
// as UTC; fractional seconds are accepted by all of them.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimestamp(v string, fallback time.Time) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, apperr.Validation("timestamp %q is not ISO-8601", v)
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
