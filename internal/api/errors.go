package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"campaign-dispatch/internal/apperrors"

	"github.com/gin-gonic/gin"
)

// respondError maps the error taxonomy to a status code.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case apperrors.IsValidation(err),
		errors.Is(err, apperrors.ErrInvalidCredentials),
		errors.Is(err, apperrors.ErrUnsupportedProvider),
		errors.Is(err, apperrors.ErrUnsupportedExportFormat):
		status = http.StatusBadRequest
	case errors.Is(err, apperrors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperrors.ErrCampaignTerminal):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}

func queryInt(c *gin.Context, name string) int {
	n, _ := strconv.Atoi(c.Query(name))
	return n
}

func queryUint(c *gin.Context, name string) uint {
	n, _ := strconv.ParseUint(c.Query(name), 10, 64)
	return uint(n)
}
