package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jonesrussell/reply-agent/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// parseUUID parses a UUID from a gin.Context parameter
func parseUUID(c *gin.Context, paramName, entityType string) (uuid.UUID, bool) {
	idParam := c.Param(paramName)
	id, err := uuid.Parse(idParam)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid " + entityType + " ID format",
		})
		return uuid.Nil, false
	}
	return id, true
}

// parseLimit reads a bounded "limit" query parameter
func parseLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)))
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// handleRepositoryError handles common repository errors
func handleRepositoryError(c *gin.Context, err error, entityType, operation string) {
	if errors.Is(err, domain.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": entityType + " not found",
		})
		return
	}
	if errors.Is(err, domain.ErrTerminalDecision) {
		c.JSON(http.StatusConflict, gin.H{
			"error": entityType + " is already terminal",
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": "Failed to " + operation + " " + entityType,
	})
}
