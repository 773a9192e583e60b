package handler

import (
	"html/template"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/stylize-service/internal/api/dto"
	"github.com/gin-gonic/gin"
)

// IndexTemplateName is the template rendered by Index
const IndexTemplateName = "index.html"

// IndexTemplate is the landing page listing the available styles
var IndexTemplate = template.Must(template.New(IndexTemplateName).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Neural Style Transfer</title>
</head>
<body>
<h1>Neural Style Transfer</h1>
<form action="/stylize" method="post" enctype="multipart/form-data">
  <label>Content image <input type="file" name="content_image" accept="image/*" required></label>
  <label>Style image (optional) <input type="file" name="style_image" accept="image/*"></label>
  <label>Style
    <select name="style">
    {{- range .Styles}}
      <option value="{{.Name}}"{{if .Default}} selected{{end}}>{{.DisplayName}}</option>
    {{- end}}
    </select>
  </label>
  <label>Model
    <select name="model">
      <option value="fast" selected>Fast</option>
      <option value="slow">Slow</option>
    </select>
  </label>
  <label>Max side <input type="number" name="max_side" min="64" placeholder="default"></label>
  <button type="submit">Stylize</button>
</form>
<p>Submitting returns a job id. Poll <code>GET /stylize/{job_id}</code> until the image is returned.</p>
</body>
</html>
`))

// Ping handles GET /ping
func (h *StylizeHandler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Index handles GET /
func (h *StylizeHandler) Index(c *gin.Context) {
	c.HTML(http.StatusOK, IndexTemplateName, h.styleList())
}

// Styles handles GET /styles
func (h *StylizeHandler) Styles(c *gin.Context) {
	c.JSON(http.StatusOK, h.styleList())
}

// Stats handles GET /stats
func (h *StylizeHandler) Stats(c *gin.Context) {
	stats := h.jobs.Stats()
	resp := gin.H{
		"capacity":  stats.Capacity,
		"live":      stats.Live,
		"by_status": stats.ByStatus,
	}
	if h.queue != nil {
		resp["queue_depth"] = h.queue.QueueDepth()
		resp["concurrency"] = h.queue.Concurrency()
	}
	if h.events != nil {
		resp["events"] = h.events.Stats()
	}
	if h.database != nil {
		status := "ok"
		if err := h.database.HealthCheck(c.Request.Context()); err != nil {
			h.logger.Warn("Database health check failed", slog.String("error", err.Error()))
			status = "unavailable"
		}
		resp["database"] = status
	}
	c.JSON(http.StatusOK, resp)
}

func (h *StylizeHandler) styleList() dto.StylesResponse {
	def := h.styles.Default()
	names := h.styles.Names()
	resp := dto.StylesResponse{Default: def, Styles: make([]dto.StyleDTO, 0, len(names))}
	for _, name := range names {
		resp.Styles = append(resp.Styles, dto.StyleDTO{
			Name:        name,
			DisplayName: h.styles.DisplayName(name),
			Default:     name == def,
		})
	}
	return resp
}
