// Package http provides the HTTP server and handlers of the openEO API.
package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/jobrunner/geodb-openeo/internal/config"
	"github.com/jobrunner/geodb-openeo/internal/ports/input"
)

// Services bundles the primary ports served over HTTP.
type Services struct {
	Catalog      input.CatalogService
	Processing   input.ProcessingService
	Capabilities input.CapabilitiesService
	Health       input.HealthChecker
}

// Metrics instruments requests and exposes the collected metrics.
type Metrics interface {
	Middleware(next http.Handler) http.Handler
	Handler() http.Handler
}

// Config holds the settings the HTTP layer reads.
type Config struct {
	Server      config.ServerConfig
	STAC        config.STACConfig
	Auth        config.AuthConfig
	MetricsPath string
}

// Server routes openEO API requests to the application services.
type Server struct {
	router       *mux.Router
	handler      http.Handler
	catalog      input.CatalogService
	processing   input.ProcessingService
	capabilities input.CapabilitiesService
	health       input.HealthChecker
	metrics      Metrics
	limiters     *expirable.LRU[string, *rate.Limiter]
	logger       *slog.Logger
	config       Config
}

// NewServer creates the router. metrics may be nil.
func NewServer(cfg Config, services Services, metrics Metrics, logger *slog.Logger) *Server {
	s := &Server{
		catalog:      services.Catalog,
		processing:   services.Processing,
		capabilities: services.Capabilities,
		health:       services.Health,
		metrics:      metrics,
		logger:       logger,
		config:       cfg,
	}
	if cfg.Server.RateLimit.Enabled {
		s.limiters = expirable.NewLRU[string, *rate.Limiter](10000, nil, time.Hour)
	}

	s.router = s.setupRoutes()
	s.handler = s.router
	if cfg.Server.CORS.Enabled() {
		s.handler = s.corsMiddleware(s.router)
	}
	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	// Add middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}
	if s.limiters != nil {
		r.Use(s.rateLimitMiddleware)
	}

	// Health endpoints
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/live", s.handleLiveness).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", s.handleReadiness).Methods(http.MethodGet)

	if s.metrics != nil {
		path := s.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, s.metrics.Handler()).Methods(http.MethodGet)
	}

	// Discovery
	r.HandleFunc("/", s.handleCapabilities).Methods(http.MethodGet)
	r.HandleFunc("/.well-known/openeo", s.handleWellKnown).Methods(http.MethodGet)
	r.HandleFunc("/credentials/oidc", s.handleOIDCProviders).Methods(http.MethodGet)
	r.HandleFunc("/conformance", s.handleConformance).Methods(http.MethodGet)
	r.HandleFunc("/processes", s.handleProcesses).Methods(http.MethodGet)
	r.HandleFunc("/file_formats", s.handleFileFormats).Methods(http.MethodGet)

	// OpenAPI spec and Swagger UI
	r.HandleFunc("/openapi.json", s.handleOpenAPI).Methods(http.MethodGet)
	r.HandleFunc("/openapi.yaml", s.handleOpenAPIYAML).Methods(http.MethodGet)
	r.HandleFunc("/docs", s.handleSwaggerUI).Methods(http.MethodGet)
	r.Handle("/api.html", http.RedirectHandler("/docs", http.StatusMovedPermanently)).Methods(http.MethodGet)

	// Data access needs an access token
	api := r.NewRoute().Subrouter()
	api.Use(s.authMiddleware)

	for _, suffix := range []string{"", "/"} {
		api.HandleFunc("/collections"+suffix, s.handleCollections).Methods(http.MethodGet)
		api.HandleFunc("/collections/{collection_id}"+suffix, s.handleCollection).Methods(http.MethodGet)
		api.HandleFunc("/collections/{collection_id}/items"+suffix, s.handleItems).Methods(http.MethodGet)
	}
	api.HandleFunc("/collections/{collection_id}/items/{item_id}", s.handleItem).Methods(http.MethodGet)
	api.HandleFunc("/result", s.handleResult).Methods(http.MethodPost)

	return r
}

// Router returns the mux router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

type contextKey int

const (
	tokenKey contextKey = iota
	requestIDKey
)

// tokenFromContext returns the access token resolved by authMiddleware.
func tokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey).(string)
	return token
}

// RequestID returns the id assigned to the request carrying ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// requestIDMiddleware keeps a client supplied X-Request-ID or assigns one.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// loggingMiddleware logs incoming requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
			"request_id", RequestID(r.Context()),
		)
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered", "error", err, "path", r.URL.Path)
				s.writeError(w, http.StatusInternalServerError, "Internal Server Error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware applies a token bucket per client address.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter(clientAddress(r)).Allow() {
			w.Header().Set("Retry-After", "1")
			s.writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limiter(client string) *rate.Limiter {
	if l, ok := s.limiters.Get(client); ok {
		return l
	}
	cfg := s.config.Server.RateLimit
	l := rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst)
	s.limiters.Add(client, l)
	return l
}

func clientAddress(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// authMiddleware resolves the access token of a request. Without a token
// the configured static token is used; if none is configured and
// authentication is required, the request is rejected.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := requestToken(r)
		if token == "" {
			token = s.config.Auth.StaticToken
		}
		if token == "" && s.config.Auth.Required {
			w.Header().Set("WWW-Authenticate", `Bearer realm="openEO"`)
			s.writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tokenKey, token)))
	})
}

// requestToken reads the bearer token or the access_token cookie. openEO
// clients send "oidc/<provider>/<token>" or "basic//<token>".
func requestToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, value, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return unwrapOpenEOToken(strings.TrimSpace(value))
		}
	}
	if cookie, err := r.Cookie("access_token"); err == nil {
		return cookie.Value
	}
	return ""
}

func unwrapOpenEOToken(value string) string {
	if strings.HasPrefix(value, "oidc/") || strings.HasPrefix(value, "basic/") {
		parts := strings.SplitN(value, "/", 3)
		if len(parts) == 3 {
			return parts[2]
		}
	}
	return value
}

// baseURL returns the configured public URL or the one the client used.
func (s *Server) baseURL(r *http.Request) string {
	if s.config.Server.BaseURL != "" {
		return strings.TrimSuffix(s.config.Server.BaseURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = fwd
	}
	return scheme + "://" + host
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
