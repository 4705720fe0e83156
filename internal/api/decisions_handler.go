package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jonesrussell/reply-agent/internal/domain"
	"github.com/jonesrussell/reply-agent/internal/logger"
)

// listDecisions returns the most recent decisions
func (r *Router) listDecisions(c *gin.Context) {
	decisions, err := r.decisions.ListRecent(c.Request.Context(), parseLimit(c))
	if err != nil {
		handleRepositoryError(c, err, "decisions", "list")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"decisions": decisions,
		"count":     len(decisions),
	})
}

// getDecision returns a single decision
func (r *Router) getDecision(c *gin.Context) {
	id, ok := parseUUID(c, "id", "decision")
	if !ok {
		return
	}

	decision, err := r.decisions.GetByID(c.Request.Context(), id)
	if err != nil {
		handleRepositoryError(c, err, "decision", "get")
		return
	}
	c.JSON(http.StatusOK, decision)
}

// listDecisionOverrides returns the override audit trail for a decision
func (r *Router) listDecisionOverrides(c *gin.Context) {
	id, ok := parseUUID(c, "id", "decision")
	if !ok {
		return
	}

	overrides, err := r.overrides.ListByDecision(c.Request.Context(), id)
	if err != nil {
		handleRepositoryError(c, err, "overrides", "list")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"overrides": overrides,
		"count":     len(overrides),
	})
}

// overrideRequest is the body for a manual decision override
type overrideRequest struct {
	Actor  string `json:"actor" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

// overrideDecision manually kills an in-flight decision: it revokes any
// active permit, forces the decision to failed, and writes an audit row.
// Terminal decisions cannot be overridden.
func (r *Router) overrideDecision(c *gin.Context) {
	id, ok := parseUUID(c, "id", "decision")
	if !ok {
		return
	}

	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "actor and reason are required",
		})
		return
	}

	ctx := c.Request.Context()

	decision, err := r.decisions.GetByID(ctx, id)
	if err != nil {
		handleRepositoryError(c, err, "decision", "get")
		return
	}
	if decision.Status.IsTerminal() {
		c.JSON(http.StatusConflict, gin.H{
			"error": "decision is already terminal",
		})
		return
	}

	override := &domain.DecisionOverride{
		ID:         uuid.New(),
		DecisionID: id,
		Actor:      req.Actor,
		Reason:     req.Reason,
		CreatedAt:  time.Now().UTC(),
	}

	// Revoke the active permit first so a concurrent publish attempt fails
	// its pre-action verification.
	permit, err := r.permits.ActiveForDecision(ctx, id)
	switch {
	case err == nil:
		if revokeErr := r.permits.Revoke(ctx, permit.PermitID, "override: "+req.Reason); revokeErr != nil && !errors.Is(revokeErr, domain.ErrNotFound) {
			handleRepositoryError(c, revokeErr, "permit", "revoke")
			return
		}
		override.PermitID = &permit.PermitID
	case !errors.Is(err, domain.ErrNotFound):
		handleRepositoryError(c, err, "permit", "get")
		return
	}

	if err := r.decisions.MarkFailed(ctx, id, "override: "+req.Reason); err != nil {
		handleRepositoryError(c, err, "decision", "override")
		return
	}

	if err := r.overrides.Insert(ctx, override); err != nil {
		handleRepositoryError(c, err, "override", "record")
		return
	}

	r.logger.Warn("decision overridden",
		logger.String("decision_id", id.String()),
		logger.String("actor", req.Actor),
		logger.String("reason", req.Reason),
	)

	c.JSON(http.StatusOK, override)
}
