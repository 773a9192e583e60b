// Package inference holds the style-transfer engines the worker pool runs jobs against.
// Engines are synchronous from the caller's point of view and should honour ctx where
// they can; the worker pool never assumes they do.
package inference

import (
	"context"

	"github.com/cuongbtq/stylize-service/internal/jobs"
)

// Engine performs one style-transfer forward pass
type Engine interface {
	Stylize(ctx context.Context, params jobs.Params, input jobs.Input) (*jobs.Result, error)
}

// EngineFunc adapts a function to Engine
type EngineFunc func(ctx context.Context, params jobs.Params, input jobs.Input) (*jobs.Result, error)

func (f EngineFunc) Stylize(ctx context.Context, params jobs.Params, input jobs.Input) (*jobs.Result, error) {
	return f(ctx, params, input)
}
