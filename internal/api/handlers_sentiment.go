package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"trading-analytics/internal/sentiment"
)

func (s *Server) handleSentimentStatus(c *gin.Context) {
	status, err := s.sentiment.GetStatus(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

type forceAnalysisRequest struct {
	Model string `json:"model,omitempty"`
	Days  int    `json:"days,omitempty"`
}

// handleForceAnalysis runs one scan plus one forced analysis. The
// debounce still applies, so rapid repeat calls collapse to a single
// analysis. The optional body overrides the model and the snapshot
// window for this cycle only.
func (s *Server) handleForceAnalysis(c *gin.Context) {
	var req forceAnalysisRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, "invalid body: "+err.Error())
			return
		}
	}
	if req.Days < 0 {
		respondBadRequest(c, "days must not be negative")
		return
	}

	ctx := c.Request.Context()
	if err := s.sentiment.Scan(ctx); err != nil {
		respondError(c, err)
		return
	}

	analyzed := true
	err := s.sentiment.AnalyzeWith(ctx, sentiment.AnalyzeOptions{
		Force: true,
		Model: req.Model,
		Days:  req.Days,
	})
	if err != nil {
		if !errors.Is(err, sentiment.ErrAnalysisSkipped) {
			respondError(c, err)
			return
		}
		analyzed = false
	}
	c.JSON(http.StatusOK, gin.H{"scanned": true, "analyzed": analyzed})
}

func (s *Server) handleForceScan(c *gin.Context) {
	if err := s.sentiment.Scan(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scanned": true})
}

func (s *Server) handleConfidenceHistory(c *gin.Context) {
	since := time.Now().UTC().AddDate(0, 0, -30)
	history, err := s.db.ConfidenceHistory(c.Request.Context(), since)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"since": since, "history": history})
}

func (s *Server) handleBootstrap(c *gin.Context) {
	if err := s.sentiment.Bootstrap(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bootstrap": "completed"})
}
