package server

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Quertz/joker/internal/logging"
)

const (
	requestIDHeader = "X-Request-ID"
	ctxRequestID    = "requestID"
)

// requestID tags each request with an ID, reusing a sane incoming one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(requestIDHeader, id)

		logger := logging.WithRequest(log, id)
		c.Request = c.Request.WithContext(logging.NewContext(c.Request.Context(), logger))
		c.Next()
	}
}

// requestLogger logs one line per request and records HTTP metrics.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		status := c.Writer.Status()
		route := c.FullPath()
		if s.metrics != nil {
			s.metrics.ObserveRequest(route, status, elapsed)
		}

		logger := logging.FromContext(c.Request.Context())
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"clientIp", c.ClientIP(),
			logging.KeyDurationMs, elapsed.Milliseconds(),
		}
		switch {
		case status >= 500:
			logger.Error("request", attrs...)
		case status >= 400:
			logger.Warn("request", attrs...)
		default:
			logger.Debug("request", attrs...)
		}
	}
}

// recovery turns a handler panic into a JSON 500.
func recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logging.FromContext(c.Request.Context()).Error("handler panicked", "panic", r, "path", c.Request.URL.Path)
				c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody(
					"Internal server error",
					"Something went wrong. Contact the administrator.",
				))
			}
		}()
		c.Next()
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		h.Set("Content-Security-Policy", "default-src 'self'")
		c.Next()
	}
}

// cors allows GET and OPTIONS from the configured origins. "*" allows any
// origin; credentials are never allowed.
func cors(origins []string) gin.HandlerFunc {
	allowAll := slices.Contains(origins, "*")
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			h := c.Writer.Header()
			switch {
			case allowAll:
				h.Set("Access-Control-Allow-Origin", "*")
			case slices.Contains(origins, origin):
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			default:
				c.Next()
				return
			}
			h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			h.Set("Access-Control-Expose-Headers", "Content-Type")
			h.Set("Access-Control-Max-Age", strconv.Itoa(3600))
		}

		if c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != "" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// limit enforces r per client IP for one route.
func (s *Server) limit(route string, r Rate) gin.HandlerFunc {
	store := newLimiterStore(r)
	s.limiters[route] = store
	return func(c *gin.Context) {
		ok, wait := store.allow(c.ClientIP())
		if ok {
			c.Next()
			return
		}
		logging.FromContext(c.Request.Context()).Warn("rate limit exceeded", "clientIp", c.ClientIP(), "route", route, "limit", r.String())
		c.Header("Retry-After", retryAfterSeconds(wait))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody(
			"Too many requests",
			"You have exceeded the request limit ("+r.String()+"). Try again later.",
		))
	}
}

func errorBody(errMsg, message string) gin.H {
	return gin.H{"error": errMsg, "message": message}
}

// normalizeParam lower-cases and trims a query value, falling back to def.
func normalizeParam(c *gin.Context, key, def string) string {
	v := strings.ToLower(strings.TrimSpace(c.Query(key)))
	if v == "" {
		return def
	}
	return v
}
