package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cuongbtq/stylize-service/internal/api/dto"
	"github.com/cuongbtq/stylize-service/internal/events"
	"github.com/cuongbtq/stylize-service/internal/jobs"
	"github.com/cuongbtq/stylize-service/internal/ledger"
	"github.com/cuongbtq/stylize-service/internal/manager"
	"github.com/gin-gonic/gin"
)

// DefaultMaxUploadBytes bounds the multipart body of a submission
const DefaultMaxUploadBytes int64 = 32 << 20

// JobService is the job manager as seen by the HTTP surface
type JobService interface {
	Submit(ctx context.Context, req manager.SubmitRequest) (string, error)
	Poll(id string) (jobs.View, error)
	Cancel(id string) (jobs.View, error)
	Stats() manager.Stats
}

// StyleLister exposes the style catalog
type StyleLister interface {
	Names() []string
	Default() string
	DisplayName(name string) string
}

// HistoryReader returns the recorded transitions of a job
type HistoryReader interface {
	History(ctx context.Context, jobID string) ([]ledger.Record, error)
}

// QueueInfo reports worker pool occupancy
type QueueInfo interface {
	QueueDepth() int
	Concurrency() int
}

// EventStats reports event bus delivery counters
type EventStats interface {
	Stats() events.Stats
}

// HealthChecker probes a backing service
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger         *slog.Logger
	Jobs           JobService
	Styles         StyleLister
	History        HistoryReader // optional
	Queue          QueueInfo     // optional
	Events         EventStats    // optional
	Database       HealthChecker // optional
	MaxUploadBytes int64
}

// StylizeHandler handles the stylize job endpoints
type StylizeHandler struct {
	logger         *slog.Logger
	jobs           JobService
	styles         StyleLister
	history        HistoryReader
	queue          QueueInfo
	events         EventStats
	database       HealthChecker
	maxUploadBytes int64
}

// NewStylizeHandler creates a new StylizeHandler instance
func NewStylizeHandler(deps *Dependencies) *StylizeHandler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxUpload := deps.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	return &StylizeHandler{
		logger:         logger,
		jobs:           deps.Jobs,
		styles:         deps.Styles,
		history:        deps.History,
		queue:          deps.Queue,
		events:         deps.Events,
		database:       deps.Database,
		maxUploadBytes: maxUpload,
	}
}

// HasHistory reports whether the history endpoint can be served
func (h *StylizeHandler) HasHistory() bool {
	return h.history != nil
}

// respondError maps the job error taxonomy to HTTP status codes
func (h *StylizeHandler) respondError(c *gin.Context, err error) {
	var verr *jobs.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: verr.Error(), Field: verr.Field})
	case errors.Is(err, jobs.ErrInvalidParams):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, jobs.ErrNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "job not found"})
	case errors.Is(err, jobs.ErrJobFinished):
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, jobs.ErrResourceExhausted):
		c.Header("Retry-After", strconv.Itoa(5))
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "service is at capacity, retry later"})
	default:
		h.logger.Error("Unhandled request error",
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal server error"})
	}
}
