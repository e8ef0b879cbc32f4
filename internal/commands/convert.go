package commands

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aryankumar/tilebatch/internal/config"
	"github.com/aryankumar/tilebatch/internal/job"
	"github.com/aryankumar/tilebatch/internal/tile"
	"github.com/aryankumar/tilebatch/internal/tiledir"
	"github.com/aryankumar/tilebatch/internal/util"
)

// ConvertOptions configures Convert
type ConvertOptions struct {
	Source string
	Output string
	// Format of the output tiles; guessed from Output, else the source format
	Format string

	Zoom   *tile.ZoomLevels
	Bounds *tile.Bounds
	Point  *Point
	Tile   *tile.Tile

	Overwrite    bool
	Multi        int
	MaxChunksize int
	Scheduler    string

	MessageFunc MessageFunc
	Logger      *slog.Logger
}

// Convert returns a Job re-encoding the tiles of a tile directory into a new
// one, optionally clipped to Bounds. Bounds outside the source give an
// empty Job.
func Convert(ctx context.Context, opts ConvertOptions) (*job.Job, error) {
	logger := loggerOrDefault(opts.Logger)
	if opts.Output == "" {
		return nil, util.NewValidationError("output", "", "output path is required")
	}

	src, err := tiledir.Open(opts.Source)
	if err != nil {
		return nil, err
	}
	meta := src.Metadata()

	area := src.Pyramid().Bounds()
	if meta.Bounds != nil {
		if b, ok := tile.Intersection(area, *meta.Bounds); ok {
			area = b
		}
	}
	if opts.Bounds != nil {
		if _, ok := tile.Intersection(area, *opts.Bounds); !ok {
			logger.Debug("bounds do not intersect source", "bounds", opts.Bounds.String(), "source", area.String())
			return job.Empty(nil), nil
		}
	}

	var zoom tile.ZoomLevels
	switch {
	case opts.Zoom != nil:
		zoom = *opts.Zoom
	case opts.Tile != nil:
		zoom = tile.SingleZoom(opts.Tile.Zoom)
	case meta.ZoomLevels != nil:
		zoom = *meta.ZoomLevels
	default:
		return nil, util.NewValidationError("zoom", nil, "zoom levels required, source has none")
	}

	format := opts.Format
	if format == "" {
		if f, ok := tiledir.FormatFromPath(opts.Output); ok {
			format = string(f)
		} else {
			format = string(meta.Format)
		}
	}

	input, err := filepath.Abs(src.Path())
	if err != nil {
		return nil, err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	cfg := &config.ProcessConfig{
		Process: "convert",
		Params:  map[string]any{"input": input},
		Pyramid: config.PyramidConfig{
			Grid:       string(meta.Pyramid.Grid),
			Metatiling: meta.Pyramid.Metatiling,
		},
		ZoomLevels: config.ZoomConfig{Min: zoom.Min, Max: zoom.Max},
		Bounds:     area.Slice(),
		Output:     config.OutputConfig{Path: opts.Output, Format: format},
		ConfigDir:  cwd,
	}

	return Execute(ctx, ExecuteOptions{
		ProcessConfig: cfg,
		Bounds:        opts.Bounds,
		Point:         opts.Point,
		Tile:          opts.Tile,
		Overwrite:     opts.Overwrite,
		Multi:         opts.Multi,
		MaxChunksize:  opts.MaxChunksize,
		Scheduler:     opts.Scheduler,
		MessageFunc:   opts.MessageFunc,
		Logger:        logger,
	})
}
