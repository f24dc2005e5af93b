package dashboard

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/docsync/docsync/internal/record"
	"github.com/docsync/docsync/internal/relation"
	dsync "github.com/docsync/docsync/internal/sync"
)

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// Handler returns the HTTP routes of the server.
//
//	GET  /health
//	GET  /ws
//	GET  /api/:backend/:table            ?where=field=value&deleted=true&with=preset
//	GET  /api/:backend/:table/:id        ?with=preset
//	POST /api/sync/:direction/:owner
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	r.GET("/health", s.handleHealth)
	r.GET("/ws", s.handleWebSocket)

	api := r.Group("/api")
	{
		api.POST("/sync/:direction/:owner", s.handleSync)
		api.GET("/:backend/:table", s.handleList)
		api.GET("/:backend/:table/:id", s.handleGet)
	}
	return r
}

// accessLog logs each request at debug level.
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"clients":  s.ClientCount(),
		"backends": s.backendNames(),
		"sync":     s.syncer != nil,
	})
}

func (s *Server) handleList(c *gin.Context) {
	reader, ok := s.backends[c.Param("backend")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown backend"})
		return
	}
	specs, ok := s.lookupPreset(c)
	if !ok {
		return
	}
	filter, err := record.ParseFilter(c.QueryArray("where"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if c.Query("deleted") == "true" {
		filter = filter.IncludingDeleted()
	}

	table := c.Param("table")
	rows, err := reader.GetAllByField(c.Request.Context(), table, filter)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if len(specs) > 0 {
		rows, err = relation.New(reader, s.logger).ResolveAll(c.Request.Context(), rows, specs)
		if err != nil {
			s.writeError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"table": table, "count": len(rows), "records": rows})
}

func (s *Server) handleGet(c *gin.Context) {
	reader, ok := s.backends[c.Param("backend")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown backend"})
		return
	}
	specs, ok := s.lookupPreset(c)
	if !ok {
		return
	}
	rec, err := relation.New(reader, s.logger).Get(c.Request.Context(), c.Param("table"), c.Param("id"), specs)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleSync(c *gin.Context) {
	if s.syncer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sync is not configured"})
		return
	}
	dir, ok := dsync.ParseDirection(c.Param("direction"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "direction must be import or export"})
		return
	}

	run := s.syncer.Import
	if dir == dsync.DirectionExport {
		run = s.syncer.Export
	}
	report, err := run(c.Request.Context(), c.Param("owner"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "report": report})
		return
	}
	c.JSON(http.StatusOK, report)
}

// lookupPreset resolves ?with=; it writes the error response itself.
func (s *Server) lookupPreset(c *gin.Context) ([]relation.Spec, bool) {
	name := c.Query("with")
	if name == "" {
		return nil, true
	}
	specs, err := s.presets.Lookup(name)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	return specs, true
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": record.KindOf(err).String()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, record.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, record.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, record.ErrBackend):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
