package commands

import (
	"context"
	"iter"
	"log/slog"

	"github.com/aryankumar/tilebatch/internal/config"
	"github.com/aryankumar/tilebatch/internal/executor"
	"github.com/aryankumar/tilebatch/internal/job"
	"github.com/aryankumar/tilebatch/internal/process"
	"github.com/aryankumar/tilebatch/internal/tile"
	"github.com/aryankumar/tilebatch/internal/util"
)

// Point is an x, y coordinate in the process CRS
type Point struct {
	X, Y float64
}

// ExecuteOptions configures Execute
type ExecuteOptions struct {
	// Config is the path of a process configuration file. Ignored when
	// ProcessConfig is set.
	Config        string
	ProcessConfig *config.ProcessConfig

	// Zoom restricts the zoom levels
	Zoom *tile.ZoomLevels
	// Bounds restricts the process area
	Bounds *tile.Bounds
	// Point restricts the area to the tile containing it at the highest zoom
	Point *Point
	// Tile processes exactly one tile; Zoom, Bounds and Point are ignored
	Tile *tile.Tile

	Overwrite bool
	Mode      process.Mode

	// Multi is the worker count (default: number of CPUs)
	Multi        int
	MaxChunksize int
	// Scheduler is the address of a distributed scheduler
	Scheduler string

	MessageFunc MessageFunc
	Logger      *slog.Logger
}

// Execute opens the process configuration and returns a Job processing
// every selected tile. The Job owns the opened process and closes it when
// iteration ends.
func Execute(ctx context.Context, opts ExecuteOptions) (*job.Job, error) {
	logger := loggerOrDefault(opts.Logger)

	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	mode := opts.Mode
	if opts.Overwrite {
		mode = process.ModeOverwrite
	}
	multi := opts.Multi
	if multi <= 0 {
		multi = DefaultWorkers()
	}

	popts := []process.Option{process.WithMode(mode), process.WithLogger(logger)}
	switch {
	case opts.Tile != nil:
		pyramid, err := cfg.NewPyramid()
		if err != nil {
			return nil, err
		}
		t, err := pyramid.Tile(opts.Tile.Zoom, opts.Tile.Row, opts.Tile.Col)
		if err != nil {
			return nil, err
		}
		popts = append(popts, process.WithZoom(tile.SingleZoom(t.Zoom)), process.WithBounds(pyramid.TileBounds(t)))
	default:
		if opts.Zoom != nil {
			popts = append(popts, process.WithZoom(*opts.Zoom))
		}
		bounds, err := boundsFromOptions(cfg, opts)
		if err != nil {
			return nil, err
		}
		if bounds != nil {
			popts = append(popts, process.WithBounds(*bounds))
		}
	}

	p, err := process.Open(cfg, popts...)
	if err != nil {
		return nil, err
	}
	// past this point the process must be closed on every error
	ok := false
	defer func() {
		if !ok {
			if err := p.Close(); err != nil {
				logger.Warn("failed to close process", "error", err)
			}
		}
	}()

	total := p.CountTiles()
	var batch process.BatchOptions
	if opts.Tile != nil {
		t := *opts.Tile
		batch.Tile = &t
		total = 1
		opts.MessageFunc.send("processing 1 tile")
	} else {
		opts.MessageFunc.send("processing %d tile(s) on %d worker(s)", total, multi)
	}

	concurrency := SelectConcurrency(total, multi, opts.Scheduler != "")
	logger.Debug("execute",
		"process", cfg.Process,
		"tiles", total,
		"mode", p.Mode(),
		"concurrency", concurrency,
	)

	gen := func(ctx context.Context, ex executor.Executor) iter.Seq2[job.ProcessInfo, error] {
		return p.BatchProcessor(ctx, ex, batch)
	}

	j := job.New(withMessages(gen, opts.MessageFunc),
		job.WithTotal(total),
		job.WithConcurrency(concurrency),
		job.WithExecutorOptions(executorOptions(multi, opts.MaxChunksize, opts.Scheduler)...),
		job.WithCloser(p),
		job.WithLogger(logger),
	)
	ok = true
	return j, nil
}

func loadConfig(opts ExecuteOptions) (*config.ProcessConfig, error) {
	if opts.ProcessConfig != nil {
		cfg := opts.ProcessConfig.Clone()
		cfg.ApplyDefaults()
		return cfg, cfg.Validate()
	}
	if opts.Config == "" {
		return nil, util.NewValidationError("config", "", "process configuration is required")
	}
	return config.NewManager(opts.Config).Load()
}

// boundsFromOptions resolves the bounds filter from Bounds or Point
func boundsFromOptions(cfg *config.ProcessConfig, opts ExecuteOptions) (*tile.Bounds, error) {
	switch {
	case opts.Bounds != nil:
		b := *opts.Bounds
		if !b.Valid() {
			return nil, util.NewValidationError("bounds", b.String(), "left must be below right and bottom below top")
		}
		return &b, nil
	case opts.Point != nil:
		pyramid, err := cfg.NewPyramid()
		if err != nil {
			return nil, err
		}
		zoom := cfg.Zoom().Max
		if opts.Zoom != nil {
			zoom = opts.Zoom.Max
		}
		t, err := pyramid.TileFromPoint(opts.Point.X, opts.Point.Y, zoom)
		if err != nil {
			return nil, err
		}
		b := pyramid.TileBounds(t)
		return &b, nil
	}
	return nil, nil
}
