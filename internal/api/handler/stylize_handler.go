package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/cuongbtq/stylize-service/internal/api/dto"
	"github.com/cuongbtq/stylize-service/internal/jobs"
	"github.com/cuongbtq/stylize-service/internal/manager"
	"github.com/gin-gonic/gin"
)

// Submit handles POST /stylize
// Accepts a multipart form and queues a stylize job without waiting for inference
func (h *StylizeHandler) Submit(c *gin.Context) {
	if c.Request.ContentLength > h.maxUploadBytes {
		h.tooLarge(c)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	var form dto.SubmitJobRequest
	if err := c.ShouldBind(&form); err != nil {
		if isTooLarge(err) {
			h.tooLarge(c)
			return
		}
		h.logger.Debug("Invalid submit form", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid form: " + err.Error()})
		return
	}

	content, err := readFormFile(c, "content_image")
	if err != nil {
		if isTooLarge(err) {
			h.tooLarge(c)
			return
		}
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "content_image is required", Field: "content_image"})
		return
	}

	styleImage, err := readFormFile(c, "style_image")
	if err != nil && !errors.Is(err, http.ErrMissingFile) {
		if isTooLarge(err) {
			h.tooLarge(c)
			return
		}
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "style_image could not be read", Field: "style_image"})
		return
	}

	jobID, err := h.jobs.Submit(c.Request.Context(), manager.SubmitRequest{
		Content:    content,
		StyleImage: styleImage,
		Style:      form.Style,
		MaxSide:    form.MaxSide,
		Variant:    form.Model,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.SubmitJobResponse{
		JobID:  jobID,
		Status: string(jobs.StatusQueued),
	})
}

// Poll handles GET /stylize/:job_id
// Returns the image bytes once done, otherwise the job status as JSON
func (h *StylizeHandler) Poll(c *gin.Context) {
	view, err := h.jobs.Poll(c.Param("job_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	if view.Status == jobs.StatusDone && view.Result != nil {
		contentType := view.Result.ContentType
		if contentType == "" {
			contentType = http.DetectContentType(view.Result.Data)
		}
		c.Header("X-Job-Id", view.ID)
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, contentType, view.Result.Data)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, dto.NewJobStatusResponse(view))
}

// Cancel handles POST /stylize/:job_id/cancel
func (h *StylizeHandler) Cancel(c *gin.Context) {
	view, err := h.jobs.Cancel(c.Param("job_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewJobStatusResponse(view))
}

// History handles GET /stylize/:job_id/history
// Lists the transitions recorded in the ledger
func (h *StylizeHandler) History(c *gin.Context) {
	jobID := c.Param("job_id")
	records, err := h.history.History(c.Request.Context(), jobID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if len(records) == 0 {
		h.respondError(c, jobs.ErrNotFound)
		return
	}

	resp := dto.JobHistoryResponse{JobID: jobID, Events: make([]dto.JobEventDTO, 0, len(records))}
	for _, r := range records {
		resp.Events = append(resp.Events, dto.JobEventDTO{
			From:       r.FromStatus,
			To:         r.ToStatus,
			Detail:     r.Detail,
			OccurredAt: r.OccurredAt,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (h *StylizeHandler) tooLarge(c *gin.Context) {
	c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{
		Error: fmt.Sprintf("request body exceeds %d bytes", h.maxUploadBytes),
	})
}

func readFormFile(c *gin.Context, field string) ([]byte, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, err
	}
	return readFileHeader(fh)
}

func readFileHeader(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
	}
	return data, nil
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
