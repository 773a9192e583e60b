package dto

import (
	"time"

	"github.com/cuongbtq/stylize-service/internal/jobs"
)

// SubmitJobRequest is the multipart form of POST /stylize besides the image files
type SubmitJobRequest struct {
	Style   string `form:"style"`
	MaxSide int    `form:"max_side"`
	Model   string `form:"model"`
}

// SubmitJobResponse is returned when a job is accepted
type SubmitJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// JobStatusResponse is returned while a job is not done, or when it failed
type JobStatusResponse struct {
	JobID       string     `json:"job_id"`
	Status      string     `json:"status"`
	Message     string     `json:"message,omitempty"`
	Style       string     `json:"style"`
	Model       string     `json:"model"`
	MaxSide     int        `json:"max_side"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  int64      `json:"duration_ms,omitempty"`
}

// ErrorResponse is the body of every non-2xx JSON answer
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// StyleDTO describes one style of the catalog
type StyleDTO struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Default     bool   `json:"default"`
}

// StylesResponse lists the available styles
type StylesResponse struct {
	Default string     `json:"default"`
	Styles  []StyleDTO `json:"styles"`
}

// JobEventDTO is one entry of a job's recorded history
type JobEventDTO struct {
	From       string    `json:"from,omitempty"`
	To         string    `json:"to"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// JobHistoryResponse lists the recorded transitions of a job
type JobHistoryResponse struct {
	JobID  string        `json:"job_id"`
	Events []JobEventDTO `json:"events"`
}

// NewJobStatusResponse converts a job snapshot to its JSON form
func NewJobStatusResponse(v jobs.View) JobStatusResponse {
	resp := JobStatusResponse{
		JobID:     v.ID,
		Status:    string(v.Status),
		Message:   v.ErrorDetail,
		Style:     v.Params.Style,
		Model:     string(v.Params.Variant),
		MaxSide:   v.Params.MaxSide,
		CreatedAt: v.CreatedAt,
	}
	if !v.StartedAt.IsZero() {
		t := v.StartedAt
		resp.StartedAt = &t
	}
	if !v.CompletedAt.IsZero() {
		t := v.CompletedAt
		resp.CompletedAt = &t
	}
	if d := v.Duration(); d > 0 {
		resp.DurationMS = d.Milliseconds()
	}
	return resp
}
