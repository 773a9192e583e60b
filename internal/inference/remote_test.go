package inference

import (
	"context"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuongbtq/stylize-service/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRemoteEngine_RequiresBaseURL(t *testing.T) {
	_, err := NewRemoteEngine(RemoteOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base url is required")
}

func TestRemoteEngine_Stylize(t *testing.T) {
	content := makeJPEG(t, 16, 16, color.RGBA{R: 100, G: 50, B: 25, A: 255})
	output := makeJPEG(t, 8, 8, color.RGBA{R: 10, G: 200, B: 30, A: 255})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/infer", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "candy", r.FormValue("style"))
		assert.Equal(t, "320", r.FormValue("max_side"))
		assert.Equal(t, "fast", r.FormValue("model"))

		file, _, err := r.FormFile("content_image")
		if !assert.NoError(t, err) {
			return
		}
		got, err := io.ReadAll(file)
		assert.NoError(t, err)
		assert.Equal(t, content, got)

		_, _, err = r.FormFile("style_image")
		assert.ErrorIs(t, err, http.ErrMissingFile)

		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(output)
	}))
	defer server.Close()

	engine, err := NewRemoteEngine(RemoteOptions{BaseURL: server.URL + "/"})
	require.NoError(t, err)

	result, err := engine.Stylize(context.Background(),
		jobs.Params{Style: "candy", MaxSide: 320, Variant: jobs.VariantFast},
		jobs.Input{Content: content},
	)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", result.ContentType)
	assert.Equal(t, output, result.Data)
}

func TestRemoteEngine_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr string
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "model crashed", http.StatusInternalServerError)
			},
			wantErr: "model server returned 500: model crashed",
		},
		{
			name: "non image response",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"status":"busy"}`))
			},
			wantErr: "non-image content",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			engine, err := NewRemoteEngine(RemoteOptions{BaseURL: server.URL})
			require.NoError(t, err)

			_, err = engine.Stylize(context.Background(),
				jobs.Params{Style: "mosaic", MaxSide: 64, Variant: jobs.VariantFast},
				jobs.Input{Content: []byte("x")},
			)
			require.Error(t, err)
			assert.ErrorIs(t, err, jobs.ErrInferenceFailure)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
