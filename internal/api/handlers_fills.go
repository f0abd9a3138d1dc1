package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleListFills(c *gin.Context) {
	accountType := strings.TrimSpace(c.Query("account_type"))
	wallet := strings.TrimSpace(c.Query("wallet"))
	if accountType == "" {
		respondBadRequest(c, "account_type is required")
		return
	}
	if wallet == "" {
		respondBadRequest(c, "wallet is required")
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondBadRequest(c, "limit must be a positive integer")
			return
		}
		limit = n
	}

	fills, err := s.db.ListFills(c.Request.Context(), accountType, wallet, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fills": fills})
}
