package observe

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Route classes for the endpoints the server mounts. Metric and span
// attributes use the class rather than the raw URL path so that scanner
// traffic and per-call query strings cannot inflate label cardinality.
const (
	RouteIncomingCall = "incoming-call"
	RouteMediaStream  = "media-stream"
	RoutePlaceCall    = "place-call"
	RouteMetrics      = "metrics"
	RouteHealthz      = "healthz"
	RouteReadyz       = "readyz"
	RouteOther        = "other"
)

// routeClass maps a request path to its route class.
func routeClass(path string) string {
	switch path {
	case "/incoming-call":
		return RouteIncomingCall
	case "/media-stream":
		return RouteMediaStream
	case "/api/call":
		return RoutePlaceCall
	case "/metrics":
		return RouteMetrics
	case "/healthz":
		return RouteHealthz
	case "/readyz":
		return RouteReadyz
	default:
		return RouteOther
	}
}

// operational reports whether a route class carries scrape or probe traffic
// rather than call traffic.
func operational(route string) bool {
	switch route {
	case RouteMetrics, RouteHealthz, RouteReadyz:
		return true
	}
	return false
}

// statusRecorder wraps [http.ResponseWriter] to capture the status code
// written by the downstream handler.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code and delegates to the wrapped writer.
func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the wrapped writer so [http.ResponseController] and the
// WebSocket upgrade can reach the underlying connection's [http.Hijacker].
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Middleware returns an [http.Handler] wrapper that instruments every served
// request:
//
//  1. Extracts W3C Trace Context from incoming request headers (or starts a
//     new trace). For webhook traffic from the telephony provider this is
//     usually absent and a fresh trace begins here, making the trace ID the
//     correlation identifier for the whole call.
//  2. Starts an OTel span named after the method and route class.
//  3. Sets the X-Correlation-ID response header from the trace ID.
//  4. Records request duration to [Metrics.HTTPRequestDuration] by method
//     and route class.
//  5. Logs request completion. Metrics scrapes and health probes log at
//     debug; call traffic logs at info.
//
// The /media-stream span covers the entire bridged call, since the WebSocket
// handler does not return until the call ends.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			route := routeClass(r.URL.Path)

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			ctx, span := StartSpan(ctx, "HTTP "+r.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.HTTPRoute(route),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			r = r.WithContext(ctx)
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rec, r)

			duration := time.Since(start)
			m.HTTPRequestDuration.Record(ctx, duration.Seconds(),
				metric.WithAttributes(
					Attr("method", r.Method),
					Attr("route", route),
				),
			)
			span.SetAttributes(semconv.HTTPResponseStatusCode(rec.statusCode))

			level := slog.LevelInfo
			if operational(route) {
				level = slog.LevelDebug
			}
			slog.LogAttrs(ctx, level, "request completed",
				slog.String("trace_id", cid),
				slog.String("method", r.Method),
				slog.String("route", route),
				slog.Int("status", rec.statusCode),
				slog.Duration("duration", duration),
			)
		})
	}
}
