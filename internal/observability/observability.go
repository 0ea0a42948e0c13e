// Package observability wires Prometheus metrics and OpenTelemetry tracing
// for the relay service.
package observability

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	otelmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// unmatchedRoute labels requests no route claimed, so stray paths do not
// grow the label set.
const unmatchedRoute = "unmatched"

var (
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_http_requests_total",
		Help: "HTTP requests by route pattern, method and status.",
	}, []string{"route", "method", "status"})
	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_http_request_duration_seconds",
		Help:    "HTTP handler latency by route pattern. Streaming feeds report their connection lifetime.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	TelemetryIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_telemetry_ingested_total",
		Help: "Telemetry records persisted, by kind.",
	}, []string{"kind"})
	CommandsDispatched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_commands_dispatched_total",
		Help: "Commands stored in a device mailbox slot.",
	})
	CommandsOverwritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_commands_overwritten_total",
		Help: "Pending commands replaced by a newer dispatch before being polled.",
	})
	CommandsDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_commands_delivered_total",
		Help: "Commands handed to a polling device and cleared.",
	})
	BroadcastSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_broadcast_subscribers",
		Help: "Live event feed subscriptions.",
	})
	BroadcastDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_broadcast_dropped_total",
		Help: "Events dropped from a full subscriber buffer.",
	})
)

func init() {
	prometheus.MustRegister(
		httpRequests,
		httpDuration,
		TelemetryIngested,
		CommandsDispatched,
		CommandsOverwritten,
		CommandsDelivered,
		BroadcastSubscribers,
		BroadcastDropped,
	)
}

// Provider holds the installed otel providers.
type Provider struct {
	Tracer  oteltrace.Tracer
	Metrics http.Handler

	tracing *sdktrace.TracerProvider
	meters  *otelmetric.MeterProvider
}

// Setup installs global otel providers for serviceName. Spans are exported
// over OTLP/HTTP only when otlpEndpoint is set.
func Setup(ctx context.Context, serviceName, otlpEndpoint string) (*Provider, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	exporter, err := otelprom.New()
	if err != nil {
		return nil, fmt.Errorf("prometheus exporter: %w", err)
	}
	meters := otelmetric.NewMeterProvider(otelmetric.WithReader(exporter))
	otel.SetMeterProvider(meters)

	res, err := resource.New(ctx, resource.WithAttributes(attribute.String("service.name", serviceName)))
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if endpoint := strings.TrimSpace(otlpEndpoint); endpoint != "" {
		exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
		if err != nil {
			return nil, fmt.Errorf("otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	tracing := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tracing)

	return &Provider{
		Tracer:  tracing.Tracer(serviceName),
		Metrics: promhttp.Handler(),
		tracing: tracing,
		meters:  meters,
	}, nil
}

// Shutdown flushes pending spans and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	return errors.Join(p.tracing.Shutdown(ctx), p.meters.Shutdown(ctx))
}

// Middleware records one span and one counter sample per request, keyed by
// the chi route pattern that served it. /metrics scrapes are not recorded.
func Middleware(tracer oteltrace.Tracer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method, oteltrace.WithSpanKind(oteltrace.SpanKindServer))
			defer span.End()
			w.Header().Set("Trace-ID", span.SpanContext().TraceID().String())

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r.WithContext(ctx))

			route := routeLabel(r)
			span.SetName(r.Method + " " + route)
			span.SetAttributes(
				attribute.String("http.route", route),
				attribute.String("http.method", r.Method),
				attribute.Int("http.status_code", rec.status),
			)
			httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
			httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		})
	}
}

// routeLabel must run after routing: chi fills the pattern while dispatching.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return unmatchedRoute
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming handlers (SSE) working behind the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack is required by the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
