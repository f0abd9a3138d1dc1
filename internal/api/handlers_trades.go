package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleOpenTrades(c *gin.Context) {
	trades, err := s.db.ListOpenTrades(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleTradeHistory(c *gin.Context) {
	trades, err := s.db.ListAllTrades(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleTradeUpdates(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respondBadRequest(c, "invalid trade id")
		return
	}

	if _, err := s.db.GetTrade(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	updates, err := s.db.ListTradeUpdates(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trade_id": id, "updates": updates})
}

type closeTradeRequest struct {
	Ticker string  `json:"ticker"`
	Price  float64 `json:"price"`
	Note   string  `json:"note"`
}

func (s *Server) handleCloseTrade(c *gin.Context) {
	var req closeTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Ticker) == "" {
		respondBadRequest(c, "ticker is required")
		return
	}
	if req.Price < 0 {
		respondBadRequest(c, "price must not be negative")
		return
	}

	closed, err := s.trades.CloseByTicker(c.Request.Context(), req.Ticker, req.Price, req.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"closed": closed})
}
