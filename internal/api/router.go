// Package api exposes the agent's ops HTTP surface.
package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/reply-agent/internal/config"
	"github.com/jonesrussell/reply-agent/internal/domain"
	"github.com/jonesrussell/reply-agent/internal/logger"
	"github.com/jonesrussell/reply-agent/internal/metrics"
)

const (
	httpStatusOK         = 200
	healthStatusHealthy  = "healthy"
	healthStatusDegraded = "degraded"
	healthCheckTimeout   = 2 * time.Second
	serviceVersion       = "1.0.0"
)

// DecisionStore is the decision access the API needs
type DecisionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Decision, error)
	ListRecent(ctx context.Context, limit int) ([]domain.Decision, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	Stats(ctx context.Context) (*domain.DecisionStats, error)
}

// OverrideStore persists manual override audit rows
type OverrideStore interface {
	Insert(ctx context.Context, o *domain.DecisionOverride) error
	ListByDecision(ctx context.Context, decisionID uuid.UUID) ([]domain.DecisionOverride, error)
}

// PermitManager revokes permits during overrides
type PermitManager interface {
	ActiveForDecision(ctx context.Context, decisionID uuid.UUID) (*domain.Permit, error)
	Revoke(ctx context.Context, permitID uuid.UUID, reason string) error
}

// SlotStore reads the scheduling audit log
type SlotStore interface {
	ListRecent(ctx context.Context, limit int) ([]domain.SlotEvent, error)
	StatsSince(ctx context.Context, since time.Time) (*domain.SlotStats, error)
}

// QueueReader reads candidate queue statistics
type QueueReader interface {
	Stats(ctx context.Context) (*domain.QueueStats, error)
}

// SlotMetrics reads the Redis-backed slot counters and recent posts
type SlotMetrics interface {
	GetStats(ctx context.Context) (*metrics.Stats, error)
	GetRecentPosts(ctx context.Context, limit int) ([]metrics.RecentPost, error)
}

// BudgetReader reads the remaining budget for the overview endpoint
type BudgetReader interface {
	Remaining(ctx context.Context) (int64, error)
}

// Pinger checks database connectivity for the health endpoint
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Router holds the API dependencies
type Router struct {
	decisions   DecisionStore
	overrides   OverrideStore
	permits     PermitManager
	slots       SlotStore
	queue       QueueReader
	slotMetrics SlotMetrics
	budget      BudgetReader
	db          Pinger
	redisClient *redis.Client
	cfg         *config.Config
	logger      logger.Logger
}

// NewRouter creates a new API router
func NewRouter(
	decisions DecisionStore,
	overrides OverrideStore,
	permits PermitManager,
	slots SlotStore,
	queue QueueReader,
	slotMetrics SlotMetrics,
	budget BudgetReader,
	db Pinger,
	redisClient *redis.Client,
	cfg *config.Config,
	log logger.Logger,
) *Router {
	return &Router{
		decisions:   decisions,
		overrides:   overrides,
		permits:     permits,
		slots:       slots,
		queue:       queue,
		slotMetrics: slotMetrics,
		budget:      budget,
		db:          db,
		redisClient: redisClient,
		cfg:         cfg,
		logger:      log,
	}
}

// SetupRoutes builds the gin engine with all routes and middleware
func (r *Router) SetupRoutes() *gin.Engine {
	if !r.cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(r.cfg.Server.CORSOrigins))

	// Health check (public)
	router.GET("/health", r.healthCheck)

	v1 := router.Group("/api/v1")

	decisions := v1.Group("/decisions")
	decisions.GET("", r.listDecisions)
	decisions.GET("/:id", r.getDecision)
	decisions.GET("/:id/overrides", r.listDecisionOverrides)
	decisions.POST("/:id/override", r.overrideDecision)

	slots := v1.Group("/slots")
	slots.GET("", r.listSlotEvents)
	slots.GET("/stats", r.getSlotStats)

	stats := v1.Group("/stats")
	stats.GET("/overview", r.getOverview)
	stats.GET("/queue", r.getQueueStats)

	posts := v1.Group("/posts")
	posts.GET("/recent", r.getRecentPosts)

	return router
}

// healthCheck returns the service health status
func (r *Router) healthCheck(c *gin.Context) {
	health := gin.H{
		"status":  healthStatusHealthy,
		"service": "reply-agent",
		"version": serviceVersion,
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	dbConnected := true
	if err := r.db.PingContext(ctx); err != nil {
		dbConnected = false
		health["status"] = healthStatusDegraded
	}
	health["database"] = gin.H{
		"connected": dbConnected,
	}

	redisHealth := r.checkRedisHealth(ctx)
	health["redis"] = redisHealth

	if connected, ok := redisHealth["connected"].(bool); ok && !connected {
		if health["status"] == healthStatusHealthy {
			health["status"] = healthStatusDegraded
		}
	}

	c.JSON(httpStatusOK, health)
}

// checkRedisHealth checks Redis connection and returns health info
func (r *Router) checkRedisHealth(ctx context.Context) gin.H {
	if r.redisClient == nil {
		return gin.H{
			"connected": false,
			"error":     "Redis client not initialized",
		}
	}

	if err := r.redisClient.Ping(ctx).Err(); err != nil {
		return gin.H{
			"connected": false,
			"error":     err.Error(),
		}
	}
	return gin.H{"connected": true}
}
