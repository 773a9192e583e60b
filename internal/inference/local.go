package inference

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"sort"

	"github.com/cuongbtq/stylize-service/internal/jobs"
	"golang.org/x/image/draw"
)

const (
	groutShade      = 0.6
	paletteFromRefs = 8
)

// LocalEngine is an in-process procedural stylizer: the image is cut into cells, each cell
// is pulled towards the nearest colour of the style palette. The slow variant uses finer
// cells and a higher quality resampler. A supplied style image replaces the named
// style's palette with one extracted from the reference.
type LocalEngine struct {
	catalog *Catalog
	logger  *slog.Logger
}

// NewLocalEngine creates a local engine over the given catalog
func NewLocalEngine(catalog *Catalog, logger *slog.Logger) *LocalEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalEngine{catalog: catalog, logger: logger}
}

// Stylize implements Engine
func (e *LocalEngine) Stylize(ctx context.Context, params jobs.Params, input jobs.Input) (*jobs.Result, error) {
	style, ok := e.catalog.Lookup(params.Style)
	if !ok {
		return nil, jobs.InferenceError(fmt.Errorf("unknown style %q", params.Style))
	}

	src, _, err := Decode(input.Content)
	if err != nil {
		return nil, jobs.InferenceError(err)
	}

	var scaler draw.Scaler = draw.ApproxBiLinear
	tile := style.Tile
	strength := style.Strength
	if params.Variant == jobs.VariantSlow {
		scaler = draw.CatmullRom
		tile = max(2, tile/2)
		strength = min(1, strength+0.1)
	}

	palette := style.Palette
	if len(input.Style) > 0 {
		ref, _, err := Decode(input.Style)
		if err != nil {
			return nil, jobs.InferenceError(fmt.Errorf("style image: %w", err))
		}
		if extracted := extractPalette(ref, paletteFromRefs); len(extracted) > 0 {
			palette = extracted
		}
	}

	canvas := FitWithin(src, params.MaxSide, scaler)
	if err := paint(ctx, canvas, palette, tile, strength, style.Grout); err != nil {
		return nil, err
	}

	data, err := EncodeJPEG(canvas)
	if err != nil {
		return nil, jobs.InferenceError(err)
	}

	e.logger.Debug("Local stylize finished",
		slog.String("style", style.Name),
		slog.String("variant", string(params.Variant)),
		slog.Int("width", canvas.Bounds().Dx()),
		slog.Int("height", canvas.Bounds().Dy()),
		slog.Int("bytes", len(data)),
	)

	return &jobs.Result{Data: data, ContentType: "image/jpeg"}, nil
}

// paint applies the cell/palette transform in place. It checks ctx once per row of cells.
func paint(ctx context.Context, img *image.RGBA, palette []color.RGBA, tile int, strength float64, grout bool) error {
	b := img.Bounds()
	for y0 := b.Min.Y; y0 < b.Max.Y; y0 += tile {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("stylize interrupted: %w", err)
		}
		for x0 := b.Min.X; x0 < b.Max.X; x0 += tile {
			cell := image.Rect(x0, y0, min(x0+tile, b.Max.X), min(y0+tile, b.Max.Y))
			target := nearest(palette, average(img, cell))

			for y := cell.Min.Y; y < cell.Max.Y; y++ {
				for x := cell.Min.X; x < cell.Max.X; x++ {
					px := img.RGBAAt(x, y)
					out := color.RGBA{
						R: lerp(px.R, target.R, strength),
						G: lerp(px.G, target.G, strength),
						B: lerp(px.B, target.B, strength),
						A: 255,
					}
					if grout && tile > 3 && (x == cell.Min.X || y == cell.Min.Y) {
						out = shade(out, groutShade)
					}
					img.SetRGBA(x, y, out)
				}
			}
		}
	}
	return nil
}

func average(img *image.RGBA, r image.Rectangle) color.RGBA {
	var sr, sg, sb, n int
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			px := img.RGBAAt(x, y)
			sr += int(px.R)
			sg += int(px.G)
			sb += int(px.B)
			n++
		}
	}
	if n == 0 {
		return color.RGBA{A: 255}
	}
	return color.RGBA{R: uint8(sr / n), G: uint8(sg / n), B: uint8(sb / n), A: 255}
}

func nearest(palette []color.RGBA, c color.RGBA) color.RGBA {
	best := palette[0]
	bestDist := -1
	for _, p := range palette {
		dr := int(p.R) - int(c.R)
		dg := int(p.G) - int(c.G)
		db := int(p.B) - int(c.B)
		d := dr*dr + dg*dg + db*db
		if bestDist < 0 || d < bestDist {
			best, bestDist = p, d
		}
	}
	return best
}

// extractPalette returns up to n dominant colours of img, quantized to 4 bits per channel
func extractPalette(img image.Image, n int) []color.RGBA {
	small := FitWithin(img, 64, draw.ApproxBiLinear)
	counts := make(map[color.RGBA]int)
	b := small.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			px := small.RGBAAt(x, y)
			q := color.RGBA{R: px.R&0xf0 | 0x08, G: px.G&0xf0 | 0x08, B: px.B&0xf0 | 0x08, A: 255}
			counts[q]++
		}
	}

	type bucket struct {
		c     color.RGBA
		count int
	}
	buckets := make([]bucket, 0, len(counts))
	for c, count := range counts {
		buckets = append(buckets, bucket{c: c, count: count})
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].count != buckets[j].count {
			return buckets[i].count > buckets[j].count
		}
		// Deterministic order for equal counts
		a, c := buckets[i].c, buckets[j].c
		return uint32(a.R)<<16|uint32(a.G)<<8|uint32(a.B) < uint32(c.R)<<16|uint32(c.G)<<8|uint32(c.B)
	})

	out := make([]color.RGBA, 0, n)
	for i := 0; i < len(buckets) && i < n; i++ {
		out = append(out, buckets[i].c)
	}
	return out
}

func lerp(a, b uint8, t float64) uint8 {
	v := float64(a) + (float64(b)-float64(a))*t
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}

func shade(c color.RGBA, f float64) color.RGBA {
	return color.RGBA{
		R: uint8(float64(c.R) * f),
		G: uint8(float64(c.G) * f),
		B: uint8(float64(c.B) * f),
		A: c.A,
	}
}

var _ Engine = (*LocalEngine)(nil)
