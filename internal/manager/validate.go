package manager

import (
	"strings"

	"github.com/cuongbtq/stylize-service/internal/inference"
	"github.com/cuongbtq/stylize-service/internal/jobs"
)

const (
	defaultFastMaxSide  = 640
	defaultSlowMaxSide  = 1024
	defaultMaxSideLimit = 2048
	defaultMaxPixels    = 40_000_000
)

// Limits bounds what a submission may ask for
type Limits struct {
	FastMaxSide  int // default max side of the fast variant
	SlowMaxSide  int // default max side of the slow variant
	MaxSideLimit int // largest max_side a client may request
	MaxPixels    int // largest decoded content image, in pixels
}

func (l Limits) withDefaults() Limits {
	if l.FastMaxSide <= 0 {
		l.FastMaxSide = defaultFastMaxSide
	}
	if l.SlowMaxSide <= 0 {
		l.SlowMaxSide = defaultSlowMaxSide
	}
	if l.MaxSideLimit <= 0 {
		l.MaxSideLimit = defaultMaxSideLimit
	}
	if l.MaxPixels <= 0 {
		l.MaxPixels = defaultMaxPixels
	}
	return l
}

// Validate normalises a submission into job parameters without touching the store
func (m *Manager) Validate(req SubmitRequest) (jobs.Params, error) {
	info, err := inference.Probe(req.Content)
	if err != nil {
		return jobs.Params{}, jobs.NewValidationError("content_image", "%v", err)
	}
	if info.Width*info.Height > m.limits.MaxPixels {
		return jobs.Params{}, jobs.NewValidationError("content_image",
			"%dx%d exceeds %d pixels", info.Width, info.Height, m.limits.MaxPixels)
	}

	if len(req.StyleImage) > 0 {
		if _, err := inference.Probe(req.StyleImage); err != nil {
			return jobs.Params{}, jobs.NewValidationError("style_image", "%v", err)
		}
	}

	style := strings.ToLower(strings.TrimSpace(req.Style))
	if style == "" {
		style = m.styles.Default()
	}
	if !m.styles.Has(style) {
		return jobs.Params{}, jobs.NewValidationError("style", "unknown style %q", req.Style)
	}

	variant := jobs.Variant(strings.ToLower(strings.TrimSpace(req.Variant)))
	if variant == "" {
		variant = jobs.VariantFast
	}
	if !variant.IsValid() {
		return jobs.Params{}, jobs.NewValidationError("model", "must be %q or %q", jobs.VariantFast, jobs.VariantSlow)
	}

	maxSide := req.MaxSide
	if maxSide == 0 {
		maxSide = m.limits.FastMaxSide
		if variant == jobs.VariantSlow {
			maxSide = m.limits.SlowMaxSide
		}
	}
	if maxSide < jobs.MinSide || maxSide > m.limits.MaxSideLimit {
		return jobs.Params{}, jobs.NewValidationError("max_side",
			"%d is outside [%d, %d]", maxSide, jobs.MinSide, m.limits.MaxSideLimit)
	}

	return jobs.Params{Style: style, MaxSide: maxSide, Variant: variant}, nil
}
