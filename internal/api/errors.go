package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"trading-analytics/internal/ai/llm"
	"trading-analytics/internal/database"
	"trading-analytics/internal/trades"
)

// errorBody is the structured error envelope every failing endpoint
// returns. Successful responses never carry an error field.
type errorBody struct {
	Error  string `json:"error"`
	Code   int    `json:"code"`
	Detail string `json:"detail,omitempty"`
}

// respondError maps typed internal errors onto HTTP status codes
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.Is(err, database.ErrNotFound):
		status = http.StatusNotFound
		message = "not found"
	case errors.Is(err, database.ErrReferenced),
		errors.Is(err, database.ErrDuplicateActiveTrade),
		errors.Is(err, database.ErrStaleUpdate),
		errors.Is(err, trades.ErrMaintainBlocked):
		status = http.StatusConflict
		message = "conflict"
	case errors.Is(err, database.ErrValidation),
		errors.Is(err, trades.ErrNotActionable),
		errors.Is(err, trades.ErrPermissionDenied):
		status = http.StatusBadRequest
		message = "validation failed"
	case errors.Is(err, llm.ErrParse):
		status = http.StatusUnprocessableEntity
		message = "unprocessable response"
	}

	c.JSON(status, errorBody{Error: message, Code: status, Detail: err.Error()})
}

// respondBadRequest reports malformed caller input
func respondBadRequest(c *gin.Context, detail string) {
	c.JSON(http.StatusBadRequest, errorBody{
		Error:  "validation failed",
		Code:   http.StatusBadRequest,
		Detail: detail,
	})
}
