package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"promptcompiler/internal/analyzer"
	"promptcompiler/internal/dynamics"
	"promptcompiler/internal/model"
	"promptcompiler/pkg/promptcompiler"
)

var errUpstream = errors.New("upstream llm failure")

type analyzeRequest struct {
	Prompt string `json:"prompt" binding:"required"`
	Task   string `json:"task"`
	Learn  bool   `json:"learn"`
}

type compareRequest struct {
	PromptA string `json:"prompt_a" binding:"required"`
	PromptB string `json:"prompt_b" binding:"required"`
	Task    string `json:"task"`
}

type optimizeRequest struct {
	Prompt   string `json:"prompt" binding:"required"`
	Task     string `json:"task"`
	MaxSteps int    `json:"max_steps"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) info(c *gin.Context) {
	enc := s.client.Encoder()
	body := gin.H{
		"name":       "promptc",
		"version":    s.cfg.Version,
		"rule":       s.client.Rule(),
		"dynamics":   s.client.Config(),
		"prompt_dim": enc.PromptDim(),
		"task_dim":   enc.TaskDim(),
		"chat":       s.llm != nil,
		"cache":      s.cache != nil,
	}
	if s.llm != nil {
		body["model"] = s.llm.Model()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) analyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	result, err := s.client.Analyze(c.Request.Context(), promptcompiler.AnalyzeRequest{
		Prompt: req.Prompt,
		Task:   req.Task,
		Learn:  req.Learn,
	})
	if err != nil {
		s.fail(c, statusFor(err), err)
		return
	}
	s.metrics.ObserveAnalysis(string(model.KindAnalysis), result.Analysis.EffectivenessScore)
	c.JSON(http.StatusOK, result)
}

func (s *Server) compare(c *gin.Context) {
	var req compareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	result, err := s.client.Compare(c.Request.Context(), promptcompiler.CompareRequest{
		PromptA: req.PromptA,
		PromptB: req.PromptB,
		Task:    req.Task,
	})
	if err != nil {
		s.fail(c, statusFor(err), err)
		return
	}
	s.metrics.ObserveAnalysis(string(model.KindComparison), result.Comparison.PromptAScore)
	s.metrics.ObserveAnalysis(string(model.KindComparison), result.Comparison.PromptBScore)
	c.JSON(http.StatusOK, result)
}

func (s *Server) optimize(c *gin.Context) {
	var req optimizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	result, err := s.client.Optimize(c.Request.Context(), promptcompiler.OptimizeRequest{
		Prompt:   req.Prompt,
		Task:     req.Task,
		MaxSteps: req.MaxSteps,
	})
	if err != nil {
		s.fail(c, statusFor(err), err)
		return
	}
	for _, step := range result.History.Steps {
		s.metrics.ObserveAnalysis(string(model.KindOptimization), step.Analysis.EffectivenessScore)
	}
	s.metrics.ObserveConvergence(result.History.Converged)
	c.JSON(http.StatusOK, result)
}

func (s *Server) sequence(c *gin.Context) {
	var req analyzer.TrajectoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	result, err := s.client.Trajectory(c.Request.Context(), req)
	if err != nil {
		s.fail(c, statusFor(err), err)
		return
	}
	s.metrics.ObserveConvergence(result.Convergence.IsConverged)
	c.JSON(http.StatusOK, result)
}

func (s *Server) listRecords(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.fail(c, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}
	records, err := s.client.Records(c.Request.Context(), promptcompiler.RecordsRequest{
		Kind:  c.Query("kind"),
		Limit: limit,
	})
	if err != nil {
		s.fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (s *Server) getRecord(c *gin.Context) {
	record, err := s.client.Record(c.Request.Context(), c.Param("kind"), c.Param("id"))
	if err != nil {
		s.fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) cacheStats(c *gin.Context) {
	st, err := s.cache.Stats()
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"hits":     st.Hits,
		"misses":   st.Misses,
		"entries":  st.Entries,
		"hit_rate": st.HitRate(),
		"ttl":      s.cache.TTL().String(),
	})
}

func (s *Server) cacheClear(c *gin.Context) {
	if err := s.cache.Clear(); err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	s.logger.Info("response cache cleared")
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func (s *Server) fail(c *gin.Context, status int, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, promptcompiler.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, analyzer.ErrInvalidInput),
		errors.Is(err, dynamics.ErrInvalidConfig),
		errors.Is(err, dynamics.ErrInvalidDimension),
		errors.Is(err, dynamics.ErrDimensionMismatch):
		return http.StatusBadRequest
	case errors.Is(err, dynamics.ErrNumerical):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
