package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	applog "fieldservice/internal/log"
	"fieldservice/internal/middleware/ratelimit"
	"fieldservice/internal/middleware/security"
	"fieldservice/internal/middleware/trace"
	"fieldservice/internal/services"
)

// Options configures NewServer. Zero values are usable.
type Options struct {
	// Ready reports whether storage can serve requests; nil means always ready.
	Ready          func(ctx context.Context) error
	WriteRateLimit int
	TrustedProxies []string
	Logger         *applog.Logger
}

// Server exposes the ledger as a JSON API.
type Server struct {
	http.Server
	ledger   *services.LedgerService
	ready    func(ctx context.Context) error
	logger   *applog.Logger
	events   *applog.StructuredLogger
	validate *validator.Validate

	clientIP *security.ClientIPResolver
	trace    *trace.Middleware
	limiter  *ratelimit.Limiter
	started  time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, ledger *services.LedgerService, opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	logger = logger.WithComponent(applog.ComponentHTTP)

	resolver, err := security.NewClientIPResolver(opts.TrustedProxies...)
	if err != nil {
		return nil, err
	}

	s := &Server{
		ledger:   ledger,
		ready:    opts.Ready,
		logger:   logger,
		events:   applog.NewStructuredLogger(logger),
		validate: newValidator(),
		clientIP: resolver,
		trace:    trace.NewMiddleware(logger, resolver.ClientIP),
		limiter:  ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.WriteRateLimit}),
		started:  time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("GET /api/publishers", s.handleListPublishers)
	mux.HandleFunc("POST /api/publishers", s.handleRegisterPublisher)

	mux.HandleFunc("POST /api/months", s.handleOpenMonth)
	mux.HandleFunc("GET /api/months/active", s.handleActiveMonth)
	mux.HandleFunc("GET /api/months/{id}", s.handleGetMonth)
	mux.HandleFunc("GET /api/months/{id}/overview", s.handleOverview)
	mux.HandleFunc("GET /api/months/{id}/preview", s.handlePreview)
	mux.HandleFunc("GET /api/months/{id}/export.xlsx", s.handleMonthExport)
	mux.HandleFunc("PUT /api/months/{id}/reports/{publisherID}", s.handleUpsertReport)
	mux.HandleFunc("PUT /api/months/{id}/meetings/{group}", s.handleSetMeetingSeries)
	mux.HandleFunc("PUT /api/months/{id}/meetings/{group}/{kind}/{index}", s.handleSetMeetingCell)
	mux.HandleFunc("POST /api/months/{id}/close", s.handleCloseMonth)

	mux.HandleFunc("GET /api/years/{year}/report", s.handleYearReport)
	mux.HandleFunc("GET /api/years/{year}/export.xlsx", s.handleYearExport)
	mux.HandleFunc("POST /api/years/{year}/history", s.handleAddYearEvent)

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	limit := s.limiter.Middleware(resolver.ClientIP, ratelimit.WritesOnly, s.writeRateLimited)

	// Outermost first.
	s.Handler = chain(mux,
		s.trace.Middleware,
		headers.Middleware,
		applog.Middleware(logger),
		applog.RequestIDMiddleware(trace.RequestID),
		limit,
	)
	s.Addr = addr
	s.ReadHeaderTimeout = 10 * time.Second
	return s, nil
}

func chain(h http.Handler, middleware ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}
	return h
}

// Shutdown gracefully shuts down the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
