package api

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telekom/mail-sms-gateway/pkg/config"
	"github.com/telekom/mail-sms-gateway/pkg/metrics"
	"github.com/telekom/mail-sms-gateway/pkg/ratelimit"
	"github.com/telekom/mail-sms-gateway/pkg/system"
)

// RequestIDHeader is echoed on every response.
const RequestIDHeader = "X-Request-ID"

type APIController interface {
	BasePath() string
	Register(rg *gin.RouterGroup) error
	Handlers() []gin.HandlerFunc
}

type Server struct {
	gin             *gin.Engine
	config          config.Server
	log             *zap.Logger
	limiter         *ratelimit.AuthenticatedRateLimiter
	apiMiddleware   []gin.HandlerFunc
	shutdownTimeout time.Duration
}

func NewServer(log *zap.Logger, cfg config.Server, debug bool) *Server {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		log.Warn("Invalid trusted proxies, trusting none", zap.Strings("trustedProxies", cfg.TrustedProxies), zap.Error(err))
		_ = engine.SetTrustedProxies(nil)
	}
	engine.Use(
		ginzap.Ginzap(log, time.RFC3339, true),
		ginzap.RecoveryWithZap(log, true),
		requestLogger(log.Sugar()),
		requestMetrics(),
	)
	engine.Use(cors.New(corsConfig(cfg.AllowedOrigins)))

	limits := ratelimit.DefaultAuthenticatedAPIConfig()
	if cfg.RateLimit.RequestsPerSecond > 0 {
		limits.Unauthenticated.Rate = cfg.RateLimit.RequestsPerSecond
		limits.Authenticated.Rate = cfg.RateLimit.RequestsPerSecond
	}
	if cfg.RateLimit.Burst > 0 {
		limits.Unauthenticated.Burst = cfg.RateLimit.Burst
		limits.Authenticated.Burst = cfg.RateLimit.Burst
	}
	limiter := ratelimit.NewAuthenticated(limits)

	s := &Server{
		gin:             engine,
		config:          cfg,
		log:             log,
		limiter:         limiter,
		shutdownTimeout: cfg.ShutdownTimeoutDuration(log.Sugar()),
	}
	if cfg.Auth.JWTSecret != "" {
		s.apiMiddleware = append(s.apiMiddleware, NewJWTMiddleware([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, log.Sugar()))
	}
	// limits apply per subject, so the limiter runs after authentication
	s.apiMiddleware = append(s.apiMiddleware, limiter.Middleware())

	engine.GET("/health", s.health)
	engine.GET("/metrics", gin.WrapH(metrics.MetricsHandler()))

	return s
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Authorization", "Content-Type", RequestIDHeader},
		ExposeHeaders: []string{RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

// requestLogger stores a request-scoped logger carrying the request id.
func requestLogger(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)
		c.Set(system.ReqLoggerKey, log.With("request_id", id))
		c.Next()
	}
}

func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.APIRequests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

func (s *Server) RegisterAll(controllers []APIController) error {
	r := s.gin.Group("api", s.apiMiddleware...)
	for _, c := range controllers {
		if err := c.Register(r.Group(c.BasePath(), c.Handlers()...)); err != nil {
			return err
		}
	}
	return nil
}

// Handler returns the configured router.
func (s *Server) Handler() http.Handler {
	return s.gin
}

// Listen serves until ctx is cancelled and then shuts the server down
// gracefully. It returns early if the listener fails.
func (s *Server) Listen(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.ListenAddress,
		Handler:           s.gin,
		ReadHeaderTimeout: 10 * time.Second,
	}
	defer s.limiter.Stop()

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.config.TLSCertFile != "" && s.config.TLSKeyFile != "" {
			err = srv.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("HTTP server listening", zap.String("address", s.config.ListenAddress))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	s.log.Info("Shutting down HTTP server", zap.Duration("timeout", s.shutdownTimeout))
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

type healthResponse struct {
	Status string `json:"status"`
	Msg    string `json:"msg"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{Status: "OK", Msg: "API is up"})
}
