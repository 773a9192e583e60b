package inference

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/draw"
)

func TestProbe(t *testing.T) {
	info, err := Probe(makeJPEG(t, 40, 20, color.RGBA{R: 1, G: 2, B: 3, A: 255}))
	require.NoError(t, err)
	assert.Equal(t, ImageInfo{Width: 40, Height: 20, Format: "jpeg"}, info)

	_, err = Probe(nil)
	assert.Error(t, err)

	_, err = Probe([]byte("plain text"))
	assert.Error(t, err)
}

func TestFitWithin(t *testing.T) {
	tests := []struct {
		name    string
		w, h    int
		maxSide int
		wantW   int
		wantH   int
	}{
		{name: "landscape", w: 400, h: 200, maxSide: 100, wantW: 100, wantH: 50},
		{name: "portrait", w: 200, h: 400, maxSide: 100, wantW: 50, wantH: 100},
		{name: "already fits", w: 80, h: 60, maxSide: 100, wantW: 80, wantH: 60},
		{name: "no limit", w: 80, h: 60, maxSide: 0, wantW: 80, wantH: 60},
		{name: "thin strip keeps one pixel", w: 1000, h: 1, maxSide: 10, wantW: 10, wantH: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := image.NewRGBA(image.Rect(0, 0, tt.w, tt.h))
			out := FitWithin(src, tt.maxSide, draw.ApproxBiLinear)
			assert.Equal(t, tt.wantW, out.Bounds().Dx())
			assert.Equal(t, tt.wantH, out.Bounds().Dy())
		})
	}
}

func TestIsBlank(t *testing.T) {
	black := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			black.SetRGBA(x, y, color.RGBA{A: 255})
		}
	}
	assert.True(t, IsBlank(black))

	black.SetRGBA(2, 2, color.RGBA{R: 90, G: 90, B: 90, A: 255})
	assert.False(t, IsBlank(black))
}
