package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/schedkit/exchange-bridge/internal/exchange"
	"github.com/schedkit/exchange-bridge/internal/instrumentation"
	"github.com/schedkit/exchange-bridge/internal/logging"
	"github.com/schedkit/exchange-bridge/internal/store"
)

const (
	// DefaultAddr is the default address for the API server.
	DefaultAddr = ":8080"

	// DefaultReadHeaderTimeout bounds header reads on the API server.
	DefaultReadHeaderTimeout = 10 * time.Second

	// DefaultIdleTimeout is the default idle timeout for the API server.
	DefaultIdleTimeout = 60 * time.Second

	// maxBodyBytes bounds request body size.
	maxBodyBytes = 1 << 20
)

// calendarService is the adapter surface the handlers need. Narrowed to an
// interface so tests can substitute fakes without a remote server.
type calendarService interface {
	CreateEvent(ctx context.Context, event exchange.CalendarEvent) (*exchange.NewCalendarEvent, error)
	UpdateEvent(ctx context.Context, uid string, event exchange.CalendarEvent) (*exchange.NewCalendarEvent, error)
	DeleteEvent(ctx context.Context, uid string) error
	ListCalendars(ctx context.Context) ([]exchange.IntegrationCalendar, error)
	GetAvailability(ctx context.Context, dateFrom, dateTo time.Time, selectedCalendars []string) ([]exchange.EventBusyDate, error)
	Cleanup()
}

// Config holds configuration for the API server.
type Config struct {
	// Addr is the address to bind the API server to (e.g., ":8080").
	Addr string

	// EncryptionKey is the process-wide credential encryption key.
	EncryptionKey []byte
}

// Server is the bridge's HTTP API server. It owns the credential store and
// a cache of one calendar adapter per stored credential.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	metrics *instrumentation.Metrics
	audit   *instrumentation.AuditLogger
	store   *store.Store
	health  *HealthChecker

	// newService builds an adapter from a decoded configuration. Tests
	// substitute this to avoid remote calls.
	newService func(cfg exchange.Config) calendarService

	mu       sync.Mutex
	services map[string]calendarService

	httpServer *http.Server
	shutdown   atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics attaches an HTTP metrics recorder.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithAuditLogger attaches a credential audit logger.
func WithAuditLogger(audit *instrumentation.AuditLogger) Option {
	return func(s *Server) {
		s.audit = audit
	}
}

// withServiceFactory substitutes the adapter constructor. Tests use it to
// inject fakes.
func withServiceFactory(factory func(cfg exchange.Config) calendarService) Option {
	return func(s *Server) {
		s.newService = factory
	}
}

// NewServer creates the API server. The encryption key is required: without
// it stored credentials could never be decrypted again.
func NewServer(cfg Config, credentials *store.Store, opts ...Option) (*Server, error) {
	if len(cfg.EncryptionKey) == 0 {
		return nil, fmt.Errorf("server: encryption key is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if credentials == nil {
		credentials = store.NewStore()
	}

	s := &Server{
		cfg:      cfg,
		logger:   slog.Default(),
		store:    credentials,
		services: make(map[string]calendarService),
	}
	s.newService = func(cfg exchange.Config) calendarService {
		return exchange.NewCalendarServiceFromConfig(cfg,
			exchange.WithLogger(s.logger),
			exchange.WithMetrics(s.metrics),
		)
	}
	for _, opt := range opts {
		opt(s)
	}
	s.health = NewHealthChecker(s.shutdown.Load)
	credentials.SetLogger(s.logger)

	return s, nil
}

// Handler returns the API server's routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.health.RegisterHealthEndpoints(mux)

	mux.Handle("POST /api/v1/exchange/validate", s.instrument("/api/v1/exchange/validate", s.handleValidate))
	mux.Handle("POST /api/v1/exchange/credentials", s.instrument("/api/v1/exchange/credentials", s.handleSaveCredentials))
	mux.Handle("PUT /api/v1/exchange/credentials/{id}", s.instrument("/api/v1/exchange/credentials/{id}", s.handleUpdateCredentials))
	mux.Handle("DELETE /api/v1/exchange/credentials/{id}", s.instrument("/api/v1/exchange/credentials/{id}", s.handleDeleteCredentials))
	mux.Handle("GET /api/v1/exchange/credentials/{id}/calendars", s.instrument("/api/v1/exchange/credentials/{id}/calendars", s.handleListCalendars))
	mux.Handle("POST /api/v1/exchange/credentials/{id}/availability", s.instrument("/api/v1/exchange/credentials/{id}/availability", s.handleAvailability))
	mux.Handle("POST /api/v1/exchange/credentials/{id}/events", s.instrument("/api/v1/exchange/credentials/{id}/events", s.handleCreateEvent))
	mux.Handle("PUT /api/v1/exchange/credentials/{id}/events/{uid}", s.instrument("/api/v1/exchange/credentials/{id}/events/{uid}", s.handleUpdateEvent))
	mux.Handle("DELETE /api/v1/exchange/credentials/{id}/events/{uid}", s.instrument("/api/v1/exchange/credentials/{id}/events/{uid}", s.handleDeleteEvent))

	return mux
}

// Start starts the API server in a blocking manner.
// Call this in a goroutine if you need non-blocking operation.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		IdleTimeout:       DefaultIdleTimeout,
	}

	s.logger.Info("starting API server", "addr", s.cfg.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the API server and tears down all cached
// adapters.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdown.Store(true)
	s.health.SetReady(false)

	s.mu.Lock()
	for id, svc := range s.services {
		svc.Cleanup()
		delete(s.services, id)
	}
	s.mu.Unlock()

	if s.httpServer != nil {
		s.logger.Info("shutting down API server")
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Health returns the server's health checker.
func (s *Server) Health() *HealthChecker {
	return s.health
}

// serviceFor returns the cached adapter for a stored credential, building
// it on first use.
func (s *Server) serviceFor(id string) (calendarService, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if svc, ok := s.services[id]; ok {
		return svc, nil
	}

	cred, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}

	cfg, err := exchange.DecodeConfig(cred.Blob, s.cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}

	svc := s.newService(*cfg)
	s.services[id] = svc
	return svc, nil
}

// dropService removes and tears down the cached adapter for a credential.
func (s *Server) dropService(id string) {
	s.mu.Lock()
	svc, ok := s.services[id]
	delete(s.services, id)
	s.mu.Unlock()

	if ok {
		svc.Cleanup()
	}
}

// instrument wraps a handler with request logging and metrics. The route
// pattern, not the raw path, is used as the metrics label to keep
// cardinality bounded.
func (s *Server) instrument(pattern string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := instrumentation.StartSpan(r.Context(), r.Method+" "+pattern,
			attribute.String("http.route", pattern),
			attribute.String("http.method", r.Method),
		)
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		h(rec, r.WithContext(ctx))

		duration := time.Since(start)
		span.SetAttributes(attribute.Int("http.status_code", rec.status))
		if rec.status >= http.StatusInternalServerError {
			instrumentation.SetSpanError(span, fmt.Errorf("status %d", rec.status))
		}
		s.metrics.RecordHTTPRequest(ctx, r.Method, pattern, rec.status, duration)
		s.logger.Info("request handled",
			"method", r.Method,
			"path", pattern,
			"status", rec.status,
			logging.KeyDuration, duration,
		)
	})
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
