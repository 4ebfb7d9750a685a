package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bagurumba/internal/api"
	"bagurumba/internal/observability/logging"
	"bagurumba/internal/observability/metrics"
	"bagurumba/internal/serverutil"
)

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type Config struct {
	Addr        string
	TLS         TLSConfig
	CORS        CORSConfig
	Security    SecurityConfig
	RateLimit   RateLimitConfig
	Logger      *slog.Logger
	AuditLogger *slog.Logger
	Metrics     *metrics.Recorder
	// ShutdownTimeout bounds the graceful drain in Run.
	ShutdownTimeout time.Duration
}

type Server struct {
	httpServer      *http.Server
	logger          *slog.Logger
	rateLimiter     *rateLimiter
	tls             TLSConfig
	shutdownTimeout time.Duration
}

// publicAPIPaths are served without a bearer token.
var publicAPIPaths = map[string]struct{}{
	"/api/health":                {},
	"/api/videos/all":            {},
	"/api/videos/webhook/status": {},
}

func New(handler *api.Handler, cfg Config) (*Server, error) {
	if handler == nil {
		return nil, errors.New("server: handler is required")
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	policy, err := newCORSPolicy(cfg.CORS)
	if err != nil {
		return nil, fmt.Errorf("cors: %w", err)
	}
	rl, err := newRateLimiter(cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	resolver, err := newClientIPResolver(cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handler.Health)
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/api/health", handler.APIHealth)
	mux.HandleFunc("/api/videos/upload-url", handler.UploadURL)
	mux.HandleFunc("/api/videos/save", handler.SaveVideo)
	mux.HandleFunc("/api/videos/my-videos", handler.MyVideos)
	mux.HandleFunc("/api/videos/status/", handler.VideoStatus)
	mux.HandleFunc("/api/videos/all", handler.AllVideos)
	mux.HandleFunc("/api/videos/webhook/status", handler.WebhookStatus)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeMiddlewareError(w, http.StatusNotFound, "not found")
	})

	handlerChain := http.Handler(mux)
	handlerChain = uploadLimitMiddleware(rl, resolver, logger, handlerChain)
	handlerChain = authMiddleware(handler, resolver, logger, handlerChain)
	handlerChain = rateLimitMiddleware(rl, resolver, logger, handlerChain)
	handlerChain = securityHeadersMiddleware(cfg.Security, handlerChain)
	handlerChain = corsMiddleware(policy, logger, handlerChain)
	handlerChain = metrics.HTTPMiddleware(recorder, handlerChain)
	handlerChain = auditMiddleware(cfg.AuditLogger, resolver, handlerChain)
	handlerChain = logging.RequestLogger(logging.RequestLoggerConfig{
		Logger:            logger,
		DisableRemoteAddr: true,
		QuietPaths:        []string{"/healthz", "/metrics", "/api/health"},
		AdditionalFields: func(r *http.Request, _ int, _ time.Duration) []any {
			ip, _ := resolveClientIP(r, resolver)
			return []any{"remote_ip", ip}
		},
	})(handlerChain)
	handlerChain = requestIDMiddleware(logger, handlerChain)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlerChain,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	srv := &Server{
		httpServer:  httpServer,
		logger:      logger,
		rateLimiter: rl,
		tls: TLSConfig{
			CertFile: strings.TrimSpace(cfg.TLS.CertFile),
			KeyFile:  strings.TrimSpace(cfg.TLS.KeyFile),
		},
		shutdownTimeout: cfg.ShutdownTimeout,
	}
	if srv.tls.CertFile != "" && srv.tls.KeyFile != "" {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return srv, nil
}

// Handler exposes the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is cancelled and then drains in-flight requests.
// onListen, when set, receives the bound address.
func (s *Server) Run(ctx context.Context, onListen func(net.Addr)) error {
	return serverutil.Run(ctx, serverutil.Config{
		Server:          s.httpServer,
		TLS:             serverutil.TLSConfig{CertFile: s.tls.CertFile, KeyFile: s.tls.KeyFile},
		ShutdownTimeout: s.shutdownTimeout,
		Logger:          s.logger,
		OnListen:        onListen,
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

func rateLimitMiddleware(rl *rateLimiter, resolver *clientIPResolver, logger *slog.Logger, next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.AllowRequest() {
			if reqLogger := loggingWithRequest(logger, resolver, r); reqLogger != nil {
				reqLogger.Warn("global rate limit exceeded")
			}
			writeMiddlewareError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// uploadLimitMiddleware throttles upload-session minting per caller. It runs
// after authentication so the key is the user id when one is known.
func uploadLimitMiddleware(rl *rateLimiter, resolver *clientIPResolver, logger *slog.Logger, next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/videos/upload-url" {
			next.ServeHTTP(w, r)
			return
		}
		var key string
		if user, ok := api.UserFromContext(r.Context()); ok {
			key = "user:" + user.ID
		} else {
			ip, _ := resolveClientIP(r, resolver)
			key = "ip:" + ip
		}
		allowed, retryAfter, err := rl.AllowUpload(r.Context(), key)
		if err != nil {
			if reqLogger := loggingWithRequest(logger, resolver, r); reqLogger != nil {
				reqLogger.Error("rate limiter failure", "error", err)
			}
			writeMiddlewareError(w, http.StatusServiceUnavailable, "rate limit unavailable")
			return
		}
		if !allowed {
			if retryAfter > 0 {
				seconds := int(retryAfter.Round(time.Second) / time.Second)
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
			}
			writeMiddlewareError(w, http.StatusTooManyRequests, "too many upload requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type auditSubjectKey struct{}

// auditSubject is filled in by authMiddleware so the outer audit middleware
// can attribute the request.
type auditSubject struct {
	userID string
}

func auditMiddleware(logger *slog.Logger, resolver *clientIPResolver, next http.Handler) http.Handler {
	if logger == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !shouldAudit(r) {
			next.ServeHTTP(w, r)
			return
		}
		subject := &auditSubject{}
		r = r.WithContext(context.WithValue(r.Context(), auditSubjectKey{}, subject))
		sr := newStatusRecorder(w)
		start := time.Now()
		next.ServeHTTP(sr, r)

		ip, _ := resolveClientIP(r, resolver)
		fields := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", sr.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_ip", ip,
		}
		if requestID, ok := logging.RequestIDFromContext(r.Context()); ok {
			fields = append(fields, "request_id", requestID)
		}
		if subject.userID != "" {
			fields = append(fields, "user_id", subject.userID)
		}
		logger.Info("audit", fields...)
	})
}

func shouldAudit(r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
		return false
	}
	return strings.HasPrefix(r.URL.Path, "/api/")
}

func requiresAuth(path string) bool {
	if !strings.HasPrefix(path, "/api/") {
		return false
	}
	_, public := publicAPIPaths[path]
	return !public
}

func authMiddleware(handler *api.Handler, resolver *clientIPResolver, logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || !requiresAuth(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		user, err := handler.AuthenticateRequest(r)
		if err != nil {
			var reqErr api.RequestError
			if !errors.As(err, &reqErr) {
				reqErr = api.RequestError{Status: http.StatusUnauthorized, Message: "authentication required"}
			}
			if reqLogger := loggingWithRequest(logger, resolver, r); reqLogger != nil {
				reqLogger.Debug("request not authenticated", "status", reqErr.Status, "reason", reqErr.Message)
			}
			api.WriteRequestError(w, reqErr)
			return
		}
		ctx := api.ContextWithUser(r.Context(), user)
		ctx = logging.ContextWithUserID(ctx, user.ID)
		if subject, ok := ctx.Value(auditSubjectKey{}).(*auditSubject); ok {
			subject.userID = user.ID
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
