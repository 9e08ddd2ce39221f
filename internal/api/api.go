// Package api exposes the recall engine over HTTP. Handlers are thin:
// they decode parameters, call the recall service, and map the error
// taxonomy onto status codes. All payload shapes come from pkg/types.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AvaPrime/recall-engine/internal/ranker"
	"github.com/AvaPrime/recall-engine/internal/recall"
	"github.com/AvaPrime/recall-engine/internal/storage"
	"github.com/AvaPrime/recall-engine/pkg/types"
)

// Server binds the recall service to HTTP routes
type Server struct {
	service *recall.Service
}

// NewServer creates an HTTP server facade over the recall service
func NewServer(service *recall.Service) *Server {
	return &Server{service: service}
}

// Router builds the gin engine with all routes registered
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.POST("/search", s.handleSearch)
	router.POST("/rag/query", s.handleRAGQuery)
	router.POST("/consolidation/run", s.handleConsolidationRun)
	router.GET("/consolidation/clusters", s.handleClusters)
	router.GET("/consolidation/concept-evolution", s.handleConceptEvolution)
	router.GET("/stats", s.handleStats)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return router
}

// requestLogger emits one structured line per request
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// timeRange is the optional creation-time window on search requests
type timeRange struct {
	From *time.Time `json:"from"`
	To   *time.Time `json:"to"`
}

type searchRequest struct {
	Q      string     `json:"q" binding:"required"`
	Kind   string     `json:"kind"`
	K      int        `json:"k"`
	Alpha  *float64   `json:"alpha"`
	Time   *timeRange `json:"time"`
	Tags   []string   `json:"tags"`
	Thread string     `json:"thread_id"`
	Fresh  bool       `json:"fresh"`
}

func (s *Server) handleSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params := recall.SearchParams{
		Query:  req.Q,
		Kind:   types.RecordKind(req.Kind),
		K:      req.K,
		Alpha:  ranker.DefaultAlpha,
		Bypass: req.Fresh,
	}
	if req.Alpha != nil {
		params.Alpha = *req.Alpha
	}
	if req.Time != nil || len(req.Tags) > 0 || req.Thread != "" {
		filters := &storage.SearchFilters{ThreadID: req.Thread, Tags: req.Tags}
		if req.Time != nil {
			if req.Time.From != nil {
				filters.From = *req.Time.From
			}
			if req.Time.To != nil {
				filters.To = *req.Time.To
			}
		}
		params.Filters = filters
	}

	result, err := s.service.Search(c.Request.Context(), params)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type ragRequest struct {
	Q         string   `json:"q" binding:"required"`
	K         int      `json:"k"`
	Alpha     *float64 `json:"alpha"`
	MaxTokens int      `json:"max_tokens"`
	Fresh     bool     `json:"fresh"`
}

func (s *Server) handleRAGQuery(c *gin.Context) {
	var req ragRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params := recall.AssembleParams{
		Query:     req.Q,
		K:         req.K,
		Alpha:     ranker.DefaultAlpha,
		MaxTokens: req.MaxTokens,
		Bypass:    req.Fresh,
	}
	if req.Alpha != nil {
		params.Alpha = *req.Alpha
	}

	assembly, err := s.service.Assemble(c.Request.Context(), params)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, assembly)
}

type clustersQuery struct {
	Generation int64  `form:"generation"`
	After      string `form:"after"`
	Limit      int    `form:"limit"`
}

func (s *Server) handleClusters(c *gin.Context) {
	var query clustersQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	clusters, err := s.service.Clusters(c.Request.Context(), recall.ClustersParams{
		Generation: query.Generation,
		AfterID:    query.After,
		Limit:      query.Limit,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	next := ""
	if len(clusters) > 0 {
		next = clusters[len(clusters)-1].ID
	}
	c.JSON(http.StatusOK, gin.H{"clusters": clusters, "next": next})
}

type conceptQuery struct {
	Concept       string `form:"concept" binding:"required"`
	TimeframeDays int    `form:"timeframe_days"`
}

func (s *Server) handleConceptEvolution(c *gin.Context) {
	var query conceptQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	timeline, err := s.service.ConceptTimeline(c.Request.Context(), query.Concept, query.TimeframeDays)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, timeline)
}

func (s *Server) handleConsolidationRun(c *gin.Context) {
	run, err := s.service.Consolidate(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.service.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// writeError maps the error taxonomy onto HTTP status codes
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrInvalidParameter):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrRecallUnavailable):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
