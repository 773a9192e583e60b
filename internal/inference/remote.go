package inference

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/stylize-service/internal/jobs"
)

const (
	defaultRemoteTimeout = 120 * time.Second
	maxRemoteResponse    = 64 << 20
	errorSnippetLen      = 512
)

// RemoteOptions configures a RemoteEngine
type RemoteOptions struct {
	BaseURL    string
	Path       string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// RemoteEngine forwards jobs to an external model server over HTTP. The server receives
// the same multipart form the public API accepts and must answer with image bytes.
type RemoteEngine struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewRemoteEngine creates a remote engine
func NewRemoteEngine(opts RemoteOptions) (*RemoteEngine, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("remote inference base url is required")
	}
	path := opts.Path
	if path == "" {
		path = "/infer"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultRemoteTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &RemoteEngine{
		endpoint: base + path,
		client:   client,
		logger:   logger,
	}, nil
}

// Stylize implements Engine
func (e *RemoteEngine) Stylize(ctx context.Context, params jobs.Params, input jobs.Input) (*jobs.Result, error) {
	body, contentType, err := encodeForm(params, input)
	if err != nil {
		return nil, jobs.InferenceError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, body)
	if err != nil {
		return nil, jobs.InferenceError(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "image/*")

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, jobs.InferenceError(fmt.Errorf("model server request failed: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteResponse+1))
	if err != nil {
		return nil, jobs.InferenceError(fmt.Errorf("failed to read model server response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, jobs.InferenceError(fmt.Errorf("model server returned %d: %s", resp.StatusCode, snippet(data)))
	}
	if len(data) > maxRemoteResponse {
		return nil, jobs.InferenceError(fmt.Errorf("model server response exceeds %d bytes", maxRemoteResponse))
	}

	ctype := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ctype, "image/") {
		ctype = http.DetectContentType(data)
	}
	if !strings.HasPrefix(ctype, "image/") {
		return nil, jobs.InferenceError(fmt.Errorf("model server returned non-image content %q", ctype))
	}

	e.logger.Debug("Remote stylize finished",
		slog.String("endpoint", e.endpoint),
		slog.String("style", params.Style),
		slog.Duration("latency", time.Since(start)),
		slog.Int("bytes", len(data)),
	)

	return &jobs.Result{Data: data, ContentType: ctype}, nil
}

func encodeForm(params jobs.Params, input jobs.Input) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := map[string]string{
		"style":    params.Style,
		"max_side": strconv.Itoa(params.MaxSide),
		"model":    string(params.Variant),
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}

	if err := writeFile(w, "content_image", "content", input.Content); err != nil {
		return nil, "", err
	}
	if len(input.Style) > 0 {
		if err := writeFile(w, "style_image", "style", input.Style); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func writeFile(w *multipart.Writer, field, filename string, data []byte) error {
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		return fmt.Errorf("failed to create form file %s: %w", field, err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("failed to write form file %s: %w", field, err)
	}
	return nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > errorSnippetLen {
		s = s[:errorSnippetLen] + "..."
	}
	return s
}

var _ Engine = (*RemoteEngine)(nil)
