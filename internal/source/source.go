// Package source supplies sequential frames from a directory of images or an
// MJPEG network camera.
package source

import (
	"context"
	"fmt"

	"github.com/crowdvision/people-counter/internal/config"
	"github.com/crowdvision/people-counter/pkg/types"
)

// Source supplies sequential frames to the pipeline.
type Source interface {
	// Next blocks until the next frame is available or ctx is done.
	Next(ctx context.Context) (types.Frame, error)

	// Close releases the underlying input.
	Close() error
}

// New creates the configured frame source.
func New(cfg config.SourceConfig) (Source, error) {
	switch cfg.Kind {
	case "dir":
		return NewDirSource(cfg.Path, cfg.FPS)
	case "mjpeg":
		return NewMJPEGSource(cfg.URL), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}
