package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/market-insight/retriever/internal/storage/models"
	"github.com/market-insight/retriever/pkg/circuitbreaker"
	"github.com/market-insight/retriever/pkg/logger"
)

const maxRunsLimit = 200

type BreakerSnapshotter interface {
	Snapshot() map[string]circuitbreaker.State
}

// RunStore is the relational store as seen by the ops endpoints.
type RunStore interface {
	Ping(ctx context.Context) error
	RecentRuns(ctx context.Context, limit int) ([]models.RetrievalRun, error)
}

type RouteCache interface {
	InvalidateRoutes(ctx context.Context) (int, error)
}

type OpsHandler struct {
	breakers BreakerSnapshotter
	store    RunStore
	cache    RouteCache
	timeout  time.Duration
}

// NewOpsHandler accepts a nil cache when the route cache is disabled.
func NewOpsHandler(breakers BreakerSnapshotter, store RunStore, cache RouteCache) *OpsHandler {
	return &OpsHandler{
		breakers: breakers,
		store:    store,
		cache:    cache,
		timeout:  2 * time.Second,
	}
}

func (h *OpsHandler) Register(router fiber.Router) {
	router.Get("/health", h.Health)
	router.Get("/ready", h.Ready)
	router.Get("/runs", h.RecentRuns)
	router.Delete("/cache/routes", h.InvalidateRouteCache)
}

func (h *OpsHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// Ready fails only when the relational store is unreachable. An open
// breaker is reported as degraded since retrieval still answers.
func (h *OpsHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	breakers := make(map[string]string)
	status := "ready"
	for key, state := range h.breakers.Snapshot() {
		breakers[key] = state.String()
		if state == circuitbreaker.StateOpen {
			status = "degraded"
		}
	}

	if err := h.store.Ping(ctx); err != nil {
		logger.Warn("Readiness check failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":   "not_ready",
			"error":    "relational store unreachable",
			"breakers": breakers,
		})
	}

	return c.JSON(fiber.Map{
		"status":   status,
		"breakers": breakers,
	})
}

func (h *OpsHandler) RecentRuns(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > maxRunsLimit {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "limit must be between 1 and 200",
		})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	runs, err := h.store.RecentRuns(ctx, limit)
	if err != nil {
		logger.Error("Failed to list retrieval runs", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list retrieval runs",
		})
	}
	if runs == nil {
		runs = []models.RetrievalRun{}
	}

	return c.JSON(fiber.Map{
		"runs":  runs,
		"count": len(runs),
	})
}

func (h *OpsHandler) InvalidateRouteCache(c *fiber.Ctx) error {
	if h.cache == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "route cache is disabled",
		})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	removed, err := h.cache.InvalidateRoutes(ctx)
	if err != nil {
		logger.Error("Failed to invalidate route cache", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to invalidate route cache",
		})
	}

	logger.Info("Route cache invalidated", zap.Int("removed", removed))
	return c.JSON(fiber.Map{
		"removed": removed,
	})
}
