package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Quertz/joker/internal/content"
	"github.com/Quertz/joker/internal/health"
)

func (s *Server) routes() error {
	rateFor := func(route string) (Rate, error) {
		limit, ok := routeRates[route]
		if !ok {
			return s.defaultRate, nil
		}
		return ParseRate(limit)
	}

	handlers := []struct {
		path    string
		handler gin.HandlerFunc
		exempt  bool
	}{
		{"/", s.handleInfo, false},
		{"/joke", s.handleJoke, false},
		{"/languages", s.handleLanguages, false},
		{"/categories", s.handleCategories, false},
		{"/stats", s.handleStats, false},
		{"/health", s.handleHealth, true},
		{"/update-status", s.handleUpdateStatus, false},
	}
	for _, h := range handlers {
		if h.exempt {
			s.router.GET(h.path, h.handler)
			continue
		}
		r, err := rateFor(h.path)
		if err != nil {
			return fmt.Errorf("route %s: %w", h.path, err)
		}
		s.router.GET(h.path, s.limit(h.path, r), h.handler)
	}

	if s.metrics != nil {
		s.router.GET("/metrics", s.limit("/metrics", s.defaultRate), gin.WrapH(s.metrics.Handler()))
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorBody(
			"Endpoint not found",
			"The requested endpoint does not exist. Use GET / for the list of endpoints.",
		))
	})
	return nil
}

func (s *Server) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func (s *Server) handleInfo(c *gin.Context) {
	langs := s.store.Languages()
	cats := s.store.Categories()

	c.JSON(http.StatusOK, gin.H{
		"name":        "Joker API",
		"version":     s.version,
		"description": "Random jokes by language and category",
		"service":     ServiceName,
		"standalone":  true,
		"endpoints": gin.H{
			"/":              "API information",
			"/joke":          "Random joke",
			"/languages":     "Supported languages",
			"/categories":    "Supported categories",
			"/health":        "Health check",
			"/stats":         "Joke statistics",
			"/update-status": "Auto-update status",
		},
		"parameters": gin.H{
			"lang":     fmt.Sprintf("Joke language (%s), default: %s", strings.Join(langs, ", "), s.cfg.DefaultLanguage),
			"category": fmt.Sprintf("Joke category (%s), default: %s", strings.Join(cats, ", "), s.cfg.DefaultCategory),
		},
		"examples": gin.H{
			"default":  "/joke",
			"explicit": "/joke?lang=" + s.cfg.DefaultLanguage + "&category=explicit",
			"language": "/joke?lang=" + langs[len(langs)-1] + "&category=" + s.cfg.DefaultCategory,
		},
		"rate_limit": s.defaultRate.String(),
	})
}

func (s *Server) handleJoke(c *gin.Context) {
	lang := normalizeParam(c, "lang", s.cfg.DefaultLanguage)
	category := normalizeParam(c, "category", s.cfg.DefaultCategory)
	logger := requestLog(c)

	if !s.store.SupportsLanguage(lang) {
		logger.Warn("unsupported language requested", "lang", lang, "clientIp", c.ClientIP())
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Unsupported language",
			"message":   "Supported languages: " + strings.Join(s.store.Languages(), ", "),
			"requested": lang,
		})
		return
	}
	if !s.store.SupportsCategory(category) {
		logger.Warn("unsupported category requested", "category", category, "clientIp", c.ClientIP())
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Unsupported category",
			"message":   "Supported categories: " + strings.Join(s.store.Categories(), ", "),
			"requested": category,
		})
		return
	}

	// Random only fails for unsupported keys, checked above.
	joke, ok, _ := s.store.Random(lang, category)
	if !ok {
		logger.Error("no jokes available", "lang", lang, "category", category)
		c.JSON(http.StatusNotFound, gin.H{
			"error":    "No jokes available",
			"message":  fmt.Sprintf("No jokes are available for language %q and category %q.", lang, category),
			"language": lang,
			"category": category,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"joke":      joke,
		"language":  lang,
		"category":  category,
		"timestamp": s.timestamp(),
		"service":   ServiceName,
	})
}

func (s *Server) handleLanguages(c *gin.Context) {
	langs := s.store.Languages()
	c.JSON(http.StatusOK, gin.H{"success": true, "languages": langs, "count": len(langs)})
}

func (s *Server) handleCategories(c *gin.Context) {
	cats := s.store.Categories()
	c.JSON(http.StatusOK, gin.H{"success": true, "categories": cats, "count": len(cats)})
}

func (s *Server) handleStats(c *gin.Context) {
	st := s.store.Stats()
	c.JSON(http.StatusOK, gin.H{
		"success":            true,
		"total_languages":    st.TotalLanguages,
		"total_categories":   st.TotalCategories,
		"jokes_per_language": st.JokesPerLanguage,
		"total_jokes":        st.TotalJokes,
	})
}

// handleHealth reports healthy while the default language and category have
// jokes. It is exempt from rate limiting so monitors can poll freely.
func (s *Server) handleHealth(c *gin.Context) {
	lang, category := s.cfg.DefaultLanguage, s.cfg.DefaultCategory
	if s.store.Count(lang, category) > 0 {
		s.health.Update(health.ComponentContent, health.Healthy, "")
	} else {
		s.health.Update(health.ComponentContent, health.Unhealthy, "no jokes available for "+content.Key(lang, category))
	}

	report := s.health.Snapshot()
	body := gin.H{
		"status":     report.Status,
		"service":    ServiceName,
		"timestamp":  s.timestamp(),
		"version":    s.version,
		"cache_size": s.store.CacheSize(),
		"components": report.Components,
	}
	if stats, ok := s.processStats(); ok {
		body["process"] = stats
	}

	code := http.StatusOK
	if report.Status == health.Unhealthy || report.Status == health.Unknown {
		code = http.StatusServiceUnavailable
		if check, ok := s.health.Get(health.ComponentContent); ok && check.Status != health.Healthy {
			body["error"] = check.Message
		}
	}
	c.JSON(code, body)
}

func (s *Server) handleUpdateStatus(c *gin.Context) {
	if s.updater == nil {
		c.JSON(http.StatusOK, gin.H{
			"success":   false,
			"message":   "Auto-update service is not initialized",
			"timestamp": s.timestamp(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"auto_update": s.updater.Status(),
		"timestamp":   s.timestamp(),
	})
}
