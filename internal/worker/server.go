package worker

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/patchflow/worker/internal/idempotency"
)

// Server is the worker's HTTP surface: push ingress, scheduled maintenance,
// introspection, metrics and health.
type Server struct {
	echo      *echo.Echo
	processor *Processor
	store     idempotency.Store
	metrics   *Metrics
	logger    *zap.SugaredLogger

	mode          string
	maxConcurrent int
	sem           *semaphore.Weighted

	cleanupMu sync.Mutex
}

func NewServer(
	processor *Processor,
	store idempotency.Store,
	metrics *Metrics,
	logger *zap.SugaredLogger,
	mode string,
	maxConcurrent int,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	s := &Server{
		echo:          e,
		processor:     processor,
		store:         store,
		metrics:       metrics,
		logger:        logger,
		mode:          mode,
		maxConcurrent: maxConcurrent,
		sem:           semaphore.NewWeighted(int64(maxConcurrent)),
	}

	e.POST("/push", s.handlePush)
	e.POST("/cleanup", s.handleCleanup)
	e.GET("/stats", s.handleStats)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	e.GET("/healthz", s.handleHealthz)

	return s
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Echo exposes the router for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// handlePush processes one push-delivered message synchronously. Any
// terminal outcome answers 200 so the broker stops redelivering; transient
// failures answer 503 so the broker retries under its own backoff.
func (s *Server) handlePush(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "unreadable body"})
	}
	msg, err := DecodePushRequest(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": err.Error()})
	}

	// The broker's flow control is advisory; the ceiling is enforced here.
	// A saturated worker sheds the delivery for redelivery instead of
	// queueing it.
	if !s.sem.TryAcquire(1) {
		s.logger.Warnw("Push rejected, concurrency ceiling reached",
			"message_id", msg.ID,
			"max_concurrent", s.maxConcurrent,
		)
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status":    "retry",
			"messageId": msg.ID,
			"error":     "worker at capacity",
		})
	}
	defer s.sem.Release(1)

	res, err := s.processor.Process(c.Request().Context(), msg)
	if err != nil {
		s.logger.Warnw("Push processing failed, signalling redelivery",
			"message_id", msg.ID,
			"error", err,
		)
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status":    "retry",
			"messageId": msg.ID,
			"error":     err.Error(),
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status":    res.Status,
		"messageId": msg.ID,
		"result":    res,
	})
}

// handleCleanup drains expired idempotency records in bounded batches.
// Serialized so overlapping scheduler triggers don't contend on the same
// rows; every call is safe to repeat.
func (s *Server) handleCleanup(c echo.Context) error {
	s.cleanupMu.Lock()
	defer s.cleanupMu.Unlock()

	start := time.Now()
	report, err := idempotency.RunCleanup(c.Request().Context(), s.store)
	if err != nil {
		s.logger.Errorw("Cleanup failed", "error", err, "deleted_so_far", report.TotalDeleted)
		return c.JSON(http.StatusInternalServerError, map[string]any{
			"status": "error",
			"error":  err.Error(),
		})
	}

	s.metrics.cleanupDeleted.Add(float64(report.TotalDeleted))
	s.logger.Infow("Cleanup finished",
		"total_deleted", report.TotalDeleted,
		"batch_count", report.BatchCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return c.JSON(http.StatusOK, map[string]any{
		"status":       "ok",
		"totalDeleted": report.TotalDeleted,
		"batchCount":   report.BatchCount,
		"durationMs":   time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"inFlight":      s.processor.InFlight(),
		"maxConcurrent": s.maxConcurrent,
		"mode":          s.mode,
	})
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"status": "ok"})
}
