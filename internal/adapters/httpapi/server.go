// Package httpapi exposes the ledger service over HTTP. Mutating routes read
// the caller identity from a request header; the server stamps call times.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/poudelalish/blockchain-inventory/internal/core"
)

// DefaultCallerHeader carries the caller identity. By default the server
// believes whatever the client puts there; see WithAuthenticator.
const DefaultCallerHeader = "X-Caller-Address"

// Server routes HTTP requests to a ledger service.
type Server struct {
	svc          *core.Service
	logger       zerolog.Logger
	callerHeader string
	authenticate Authenticator
	corsOrigins  []string
	gatherer     prometheus.Gatherer
	registerer   prometheus.Registerer
	router       *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithCallerHeader overrides the caller identity header.
func WithCallerHeader(header string) Option {
	return func(s *Server) {
		if header != "" {
			s.callerHeader = header
		}
	}
}

// WithAuthenticator replaces the default HeaderAuthenticator, for example
// with TrustedProxyAuthenticator or a token check.
func WithAuthenticator(auth Authenticator) Option {
	return func(s *Server) { s.authenticate = auth }
}

// WithCORSOrigins allows browser dashboards on origins to call the API.
func WithCORSOrigins(origins ...string) Option {
	return func(s *Server) { s.corsOrigins = append(s.corsOrigins, origins...) }
}

// WithMetrics records request metrics on reg and serves gatherer at /metrics.
func WithMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.registerer = reg
		s.gatherer = gatherer
	}
}

// New builds the router.
func New(svc *core.Service, opts ...Option) (*Server, error) {
	s := &Server{
		svc:          svc,
		logger:       zerolog.Nop(),
		callerHeader: DefaultCallerHeader,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.authenticate == nil {
		s.authenticate = HeaderAuthenticator(s.callerHeader)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(s.logger))
	if s.registerer != nil {
		m, err := newHTTPMetrics(s.registerer)
		if err != nil {
			return nil, err
		}
		r.Use(m.middleware())
	}
	if len(s.corsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: s.corsOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost},
			AllowHeaders: []string{"Origin", "Content-Type", s.callerHeader},
			MaxAge:       12 * time.Hour,
		}))
	}
	s.router = r
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	r := s.router
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/v1")
	v1.GET("/owner", s.getOwner)
	v1.GET("/counts", s.getCounts)

	v1.GET("/roles/:kind", s.listRoles)
	v1.GET("/roles/:kind/:id", s.getRole)
	v1.POST("/roles/:kind", s.requireCaller, s.registerRole)

	v1.GET("/products", s.listProducts)
	v1.POST("/products", s.requireCaller, s.createProduct)
	v1.GET("/products/:id", s.getProduct)
	v1.GET("/products/:id/stage", s.getStage)
	v1.GET("/products/:id/timestamps", s.getTimestamps)
	v1.POST("/products/:id/:op", s.requireCaller, s.transition)
}

// RequestLogger logs one event per request, at warn for 4xx and error for
// 5xx responses.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		event := logger.Info()
		if status >= 500 {
			event = logger.Error()
		} else if status >= 400 {
			event = logger.Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Str("caller", c.GetString(callerKey)).
			Int("bytes", c.Writer.Size()).
			Msg("http_request")
	}
}
