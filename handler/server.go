package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"forge-coach/internal/observability"
	"forge-coach/internal/usecase"
)

const correlationKey = "correlation_id"

// RouterConfig configures the standalone HTTP server. A non-positive
// RateLimit disables per-IP limiting.
type RouterConfig struct {
	CORSOrigins []string
	RateLimit   float64
	RateBurst   int
	Metrics     *observability.HTTPMetrics
	Gatherer    prometheus.Gatherer
}

// NewRouter builds the gin engine serving the banner, health, forge and
// metrics routes.
func NewRouter(h *Handler, rc RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(correlationMiddleware())
	r.Use(loggingMiddleware(h.logger, rc.Metrics, []string{"/health", "/metrics"}))
	r.Use(cors.New(corsConfig(rc.CORSOrigins)))
	r.Use(rateLimitMiddleware(rc.RateLimit, rc.RateBurst, []string{"/health", "/metrics"}))

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, banner)
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, healthResponse{OK: true})
	})
	r.POST("/forge", h.serveForge)
	if rc.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(rc.Gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

func (h *Handler) serveForge(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.bodyLimit))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			c.JSON(http.StatusRequestEntityTooLarge, tooLarge(h.bodyLimit))
			return
		}
		c.JSON(http.StatusBadRequest, errorResponse{
			Error:   string(usecase.ErrorInvalidInput),
			Details: "read body: " + err.Error(),
		})
		return
	}

	status, payload := h.forge(c.Request.Context(), c.GetString(correlationKey), body)
	c.JSON(status, payload)
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", correlationHeader},
		ExposeHeaders: []string{correlationHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}

// correlationMiddleware propagates or generates the correlation id.
func correlationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(correlationHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(correlationKey, id)
		c.Header(correlationHeader, id)
		c.Next()
	}
}

// loggingMiddleware logs each request and records HTTP metrics. Paths in
// skipPaths are excluded from logging but still recorded in metrics.
func loggingMiddleware(logger *zap.Logger, metrics *observability.HTTPMetrics, skipPaths []string) gin.HandlerFunc {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()

		if !skip[path] {
			logger.Info("http request",
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.Int("status", status),
				zap.Duration("duration", duration),
				zap.String("remote", c.ClientIP()),
				zap.String("correlation_id", c.GetString(correlationKey)),
			)
		}
		metrics.ObserveHTTP(c.Request.Method, path, status, duration)
	}
}

// rateLimitMiddleware enforces per-IP rate limiting. A non-positive rps
// disables it.
func rateLimitMiddleware(rps float64, burst int, skipPaths []string) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst < 1 {
		burst = 1
	}
	rl := &ipRateLimiter{rateVal: rate.Limit(rps), burst: burst}
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}
		if !rl.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{
				Error:   codeRateLimited,
				Details: "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// ipRateLimiter tracks per-IP token-bucket rate limiters.
type ipRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rateLimitEntry
	rateVal  rate.Limit
	burst    int
}

type rateLimitEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func (l *ipRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.limiters == nil {
		l.limiters = make(map[string]*rateLimitEntry)
	}

	e, ok := l.limiters[ip]
	if !ok {
		if len(l.limiters) >= 10000 {
			l.cleanup()
		}
		e = &rateLimitEntry{limiter: rate.NewLimiter(l.rateVal, l.burst)}
		l.limiters[ip] = e
	}
	e.lastSeen = time.Now()

	return e.limiter.Allow()
}

// cleanup removes entries not seen in the last 10 minutes.
// Must be called with l.mu held.
func (l *ipRateLimiter) cleanup() {
	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
		}
	}
}
