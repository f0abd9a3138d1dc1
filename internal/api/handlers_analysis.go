package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"trading-analytics/internal/ai/llm"
	"trading-analytics/internal/database"
	"trading-analytics/internal/trades"
)

// maxImageBytes caps uploaded chart images at 8 MiB
const maxImageBytes = 8 << 20

// analyzeContext is the caller-supplied context JSON on the analyze
// endpoint
type analyzeContext struct {
	Timeframe    string  `json:"timeframe"`
	CurrentPrice float64 `json:"current_price"`
	Model        string  `json:"model,omitempty"`
}

func (s *Server) handleAnalyzeChart(c *gin.Context) {
	ticker := strings.ToUpper(strings.TrimSpace(c.PostForm("ticker")))
	if ticker == "" {
		respondBadRequest(c, "ticker is required")
		return
	}

	var reqCtx analyzeContext
	if raw := c.PostForm("context"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &reqCtx); err != nil {
			respondBadRequest(c, "context must be valid JSON: "+err.Error())
			return
		}
	}
	timeframe := database.Timeframe(reqCtx.Timeframe)
	if reqCtx.Timeframe == "" {
		timeframe = database.Timeframe1h
	}
	if !timeframe.Valid() {
		respondBadRequest(c, "invalid timeframe "+reqCtx.Timeframe)
		return
	}

	fileHeader, err := c.FormFile("image")
	if err != nil {
		respondBadRequest(c, "image file is required")
		return
	}
	if fileHeader.Size > maxImageBytes {
		respondBadRequest(c, "image exceeds size limit")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		respondError(c, err)
		return
	}
	defer file.Close()
	image, err := io.ReadAll(io.LimitReader(file, maxImageBytes+1))
	if err != nil {
		respondError(c, err)
		return
	}

	hashBytes := sha256.Sum256(image)
	imageHash := hex.EncodeToString(hashBytes[:])

	ctx := c.Request.Context()

	// Macro context for the prompt, best effort
	var regime, permission string
	if status, err := s.sentiment.GetStatus(ctx); err == nil && status.LatestVerdict != nil {
		regime = string(status.LatestVerdict.MarketRegime)
		permission = string(status.LatestVerdict.TradePermission)
	}

	promptInput, err := s.trades.BuildContext(ctx, ticker, timeframe, reqCtx.CurrentPrice, regime, permission)
	if err != nil {
		respondError(c, err)
		return
	}

	prompt := llm.BuildAnalysisPrompt(*promptInput)
	raw, err := s.ai.AnalyzeWithImages(ctx, prompt, [][]byte{image}, reqCtx.Model)
	if err != nil {
		respondError(c, err)
		return
	}

	rec, err := llm.ParseRecommendation(raw)
	if err != nil {
		respondError(c, err)
		return
	}

	model := reqCtx.Model
	if model == "" {
		model = s.ai.Model()
	}
	analysis := &database.Analysis{
		Ticker:            ticker,
		Timeframe:         timeframe,
		AnalysisTimestamp: time.Now().UTC(),
		Confidence:        rec.Confidence,
		Action:            rec.Action,
		EntryPrice:        rec.EntryPrice,
		TargetPrice:       rec.TargetPrice,
		StopLoss:          rec.StopLoss,
		Reasoning:         rec.Reasoning,
		DetailedAnalysis:  rec.DetailedAnalysis,
		ContextAssessment: rec.ContextAssessment,
		ImageHash:         &imageHash,
		ModelUsed:         &model,
	}
	if err := s.db.InsertAnalysis(ctx, analysis); err != nil {
		respondError(c, err)
		return
	}

	// Drive the trade lifecycle; a refused creation is part of the
	// normal flow, not an endpoint failure.
	tradeOutcome := "none"
	var trade *database.Trade
	trade, err = s.trades.ApplyAIDecision(ctx, analysis, rec)
	switch {
	case err == nil && trade != nil:
		tradeOutcome = string(trade.Status)
	case errors.Is(err, trades.ErrMaintainBlocked):
		tradeOutcome = "maintained"
	case errors.Is(err, trades.ErrNotActionable):
		tradeOutcome = "not_actionable"
	case errors.Is(err, trades.ErrPermissionDenied):
		tradeOutcome = "permission_denied"
	case errors.Is(err, database.ErrDuplicateActiveTrade):
		tradeOutcome = "duplicate"
	case err != nil:
		s.log.Error().Err(err).Str("ticker", ticker).Msg("trade decision failed")
		tradeOutcome = "error"
	}

	c.JSON(http.StatusOK, gin.H{
		"analysis":      analysis,
		"trade_outcome": tradeOutcome,
		"trade":         trade,
	})
}

func (s *Server) handleGetAnalysis(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respondBadRequest(c, "invalid analysis id")
		return
	}
	analysis, err := s.db.GetAnalysis(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"analysis": analysis})
}

func (s *Server) handleAnalysisHistory(c *gin.Context) {
	ticker := strings.ToUpper(strings.TrimSpace(c.Param("ticker")))
	if ticker == "" {
		respondBadRequest(c, "ticker is required")
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondBadRequest(c, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	analyses, err := s.db.ListAnalyses(c.Request.Context(), ticker, time.Time{}, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticker": ticker, "analyses": analyses})
}

func (s *Server) handleDeleteAnalysis(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondBadRequest(c, "id must be an integer")
		return
	}
	force := c.Query("force") == "true"

	if err := s.db.DeleteAnalysis(c.Request.Context(), id, force); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}
