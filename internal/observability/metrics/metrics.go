package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bagurumba"

// Recorder owns a dedicated Prometheus registry and the collectors for HTTP
// traffic, upload sessions, provider calls, reconciliation and events.
type Recorder struct {
	registry *prometheus.Registry

	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	uploadSessions   *prometheus.CounterVec
	uploadConfirms   *prometheus.CounterVec
	providerAttempts *prometheus.CounterVec
	providerFailures *prometheus.CounterVec
	reconciliations  *prometheus.CounterVec
	webhookRejected  *prometheus.CounterVec
	publishFailures  *prometheus.CounterVec
	sweepRuns        prometheus.Counter
	sweepChecked     prometheus.Counter
}

var (
	defaultMu       sync.RWMutex
	defaultRecorder = New()
)

// New constructs a Recorder on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed by the API.",
		}, []string{"method", "path", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		uploadSessions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_sessions_total",
			Help:      "Upload session requests by outcome.",
		}, []string{"outcome"}),
		uploadConfirms: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_confirmations_total",
			Help:      "Upload confirmations by outcome.",
		}, []string{"outcome"}),
		providerAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Streaming provider HTTP attempts by operation.",
		}, []string{"operation"}),
		providerFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_request_failures_total",
			Help:      "Failed streaming provider HTTP attempts by operation.",
		}, []string{"operation"}),
		reconciliations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliations_total",
			Help:      "Status reconciliations by channel and outcome.",
		}, []string{"channel", "outcome"}),
		webhookRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_rejections_total",
			Help:      "Rejected status webhooks by reason.",
		}, []string{"reason"}),
		publishFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_failures_total",
			Help:      "Lifecycle events that could not be published.",
		}, []string{"type"}),
		sweepRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeper_runs_total",
			Help:      "Reconciliation sweeper ticks.",
		}),
		sweepChecked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeper_records_checked_total",
			Help:      "Records revisited by the reconciliation sweeper.",
		}),
	}
}

// Default returns the process-wide Recorder.
func Default() *Recorder {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultRecorder
}

// SetDefault replaces the process-wide Recorder. Nil is ignored.
func SetDefault(recorder *Recorder) {
	if recorder == nil {
		return
	}
	defaultMu.Lock()
	defaultRecorder = recorder
	defaultMu.Unlock()
}

// Registry exposes the underlying registry for tests and extra collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	method = strings.ToUpper(method)
	path = normalizePath(path)
	r.requests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.requestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveUploadSession counts an IssueUploadSession outcome such as "issued",
// "payment_required" or "failed".
func (r *Recorder) ObserveUploadSession(outcome string) {
	r.uploadSessions.WithLabelValues(normalizeName(outcome)).Inc()
}

func (r *Recorder) ObserveUploadConfirm(outcome string) {
	r.uploadConfirms.WithLabelValues(normalizeName(outcome)).Inc()
}

// ObserveProviderCall records one provider HTTP attempt.
func (r *Recorder) ObserveProviderCall(operation string, err error) {
	op := normalizeName(operation)
	r.providerAttempts.WithLabelValues(op).Inc()
	if err != nil {
		r.providerFailures.WithLabelValues(op).Inc()
	}
}

// ObserveReconcile records a pull or push outcome: applied, unchanged,
// fallback, not_found, ignored or failed.
func (r *Recorder) ObserveReconcile(channel, outcome string) {
	r.reconciliations.WithLabelValues(normalizeName(channel), normalizeName(outcome)).Inc()
}

func (r *Recorder) ObserveWebhookRejected(reason string) {
	r.webhookRejected.WithLabelValues(normalizeName(reason)).Inc()
}

func (r *Recorder) ObserveEventPublishFailure(eventType string) {
	r.publishFailures.WithLabelValues(normalizeName(eventType)).Inc()
}

func (r *Recorder) ObserveSweep(checked int) {
	r.sweepRuns.Inc()
	if checked > 0 {
		r.sweepChecked.Add(float64(checked))
	}
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part != "" && looksLikeIdentifier(part) {
			parts[i] = ":id"
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

// looksLikeIdentifier flags provider uids and uuids. Route words such as
// "upload-url" and "my-videos" contain hyphens but no long hex runs.
func looksLikeIdentifier(segment string) bool {
	hex := 0
	digits := 0
	for _, r := range segment {
		switch {
		case r >= '0' && r <= '9':
			digits++
			hex++
		case r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
			hex++
		case r == '-':
		default:
			return digits >= 3
		}
	}
	return hex >= 16 || digits >= 3
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest records on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	Default().ObserveRequest(method, path, status, duration)
}
