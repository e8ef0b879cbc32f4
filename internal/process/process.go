// Package process implements the processing context behind execute: it
// resolves which tiles a process configuration covers, runs the process
// function for each of them through an executor and writes the results to
// the output tile directory.
package process

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"

	"github.com/aryankumar/tilebatch/internal/config"
	"github.com/aryankumar/tilebatch/internal/executor"
	"github.com/aryankumar/tilebatch/internal/job"
	"github.com/aryankumar/tilebatch/internal/tile"
	"github.com/aryankumar/tilebatch/internal/tiledir"
	"github.com/aryankumar/tilebatch/internal/util"
)

// Mode controls how existing output is treated
type Mode string

const (
	// ModeContinue skips tiles whose output already exists
	ModeContinue Mode = "continue"
	// ModeOverwrite processes every tile and replaces existing output
	ModeOverwrite Mode = "overwrite"
	// ModeReadonly never writes
	ModeReadonly Mode = "readonly"
)

// ParseMode validates a mode name; an empty name means continue
func ParseMode(name string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(name))); m {
	case "":
		return ModeContinue, nil
	case ModeContinue, ModeOverwrite, ModeReadonly:
		return m, nil
	default:
		return "", util.NewValidationError("mode", name, "must be one of continue, overwrite, readonly")
	}
}

// ErrClosed is returned when a closed Process is used
var ErrClosed = errors.New("process is closed")

type options struct {
	mode   Mode
	zoom   *tile.ZoomLevels
	bounds *tile.Bounds
	logger *slog.Logger
}

// Option configures Open
type Option func(*options)

// WithMode sets the output mode (default continue)
func WithMode(m Mode) Option {
	return func(o *options) {
		if m != "" {
			o.mode = m
		}
	}
}

// WithZoom restricts processing to levels within the configured zoom range
func WithZoom(z tile.ZoomLevels) Option {
	return func(o *options) {
		o.zoom = &z
	}
}

// WithBounds restricts processing to an area within the configured bounds
func WithBounds(b tile.Bounds) Option {
	return func(o *options) {
		o.bounds = &b
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Process is an opened processing context. It must be closed.
type Process struct {
	cfg     *config.ProcessConfig
	mode    Mode
	pyramid *tile.Pyramid
	zoom    tile.ZoomLevels
	area    tile.Bounds
	empty   bool
	output  *tiledir.Directory
	logger  *slog.Logger

	mu      sync.Mutex
	closed  bool
	onClose []func() error
}

// Open validates cfg, applies the zoom and bounds filters and opens the
// output tile directory
func Open(cfg *config.ProcessConfig, opts ...Option) (*Process, error) {
	if cfg == nil {
		return nil, util.NewValidationError("config", nil, "process configuration is required")
	}
	o := &options{mode: ModeContinue, logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	if _, err := ParseMode(string(o.mode)); err != nil {
		return nil, err
	}

	cfg = cfg.Clone()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, ok := LookupFunc(cfg.Process); !ok {
		return nil, util.NewValidationError("process", cfg.Process,
			fmt.Sprintf("unknown process, available: %s", strings.Join(Funcs(), ", ")))
	}

	pyramid, err := cfg.NewPyramid()
	if err != nil {
		return nil, err
	}
	area, err := cfg.Area()
	if err != nil {
		return nil, err
	}

	p := &Process{
		cfg:     cfg,
		mode:    o.mode,
		pyramid: pyramid,
		zoom:    cfg.Zoom(),
		area:    area,
		logger:  o.logger,
	}

	if o.zoom != nil {
		z, ok := p.zoom.Intersect(*o.zoom)
		if !ok {
			return nil, util.NewValidationError("zoom", o.zoom.String(),
				fmt.Sprintf("outside of process zoom levels %s", p.zoom))
		}
		p.zoom = z
	}
	if o.bounds != nil {
		b, ok := tile.Intersection(p.area, *o.bounds)
		if ok {
			p.area = b
		} else {
			p.empty = true
			p.logger.Debug("bounds do not intersect process area", "bounds", o.bounds.String(), "area", p.area.String())
		}
	}

	if err := p.openOutput(); err != nil {
		return nil, err
	}

	p.logger.Debug("process opened",
		"process", cfg.Process,
		"mode", p.mode,
		"grid", pyramid.Grid(),
		"zoom", p.zoom.String(),
		"output", cfg.OutputPath(),
	)
	return p, nil
}

func (p *Process) openOutput() error {
	path := p.cfg.OutputPath()
	if p.mode == ModeReadonly {
		d, err := tiledir.Open(path)
		if err != nil {
			if errors.Is(err, util.ErrInvalidConfig) {
				p.logger.Debug("no output to read", "output", path)
				return nil
			}
			return err
		}
		p.output = d
		return nil
	}

	meta, err := p.cfg.OutputMetadata()
	if err != nil {
		return err
	}
	d, err := tiledir.Create(path, meta)
	if err != nil {
		return fmt.Errorf("failed to open output %s: %w", path, err)
	}
	p.output = d
	return nil
}

// Config returns the effective configuration
func (p *Process) Config() *config.ProcessConfig {
	return p.cfg
}

// Mode returns the output mode
func (p *Process) Mode() Mode {
	return p.mode
}

// Pyramid returns the process pyramid
func (p *Process) Pyramid() *tile.Pyramid {
	return p.pyramid
}

// Zoom returns the effective zoom range
func (p *Process) Zoom() tile.ZoomLevels {
	return p.zoom
}

// Area returns the effective process area
func (p *Process) Area() tile.Bounds {
	return p.area
}

// Output returns the output tile directory; nil for readonly processes
// without existing output
func (p *Process) Output() *tiledir.Directory {
	return p.output
}

// CountTiles returns the number of process tiles without materializing them
func (p *Process) CountTiles() int {
	if p.empty {
		return 0
	}
	return p.pyramid.CountTiles(p.area, p.zoom)
}

// Tiles yields every process tile, highest zoom level first
func (p *Process) Tiles() iter.Seq[tile.Tile] {
	if p.empty {
		return func(func(tile.Tile) bool) {}
	}
	return p.pyramid.Tiles(p.area, p.zoom)
}

// TilesAt yields the process tiles of one zoom level
func (p *Process) TilesAt(zoom int) iter.Seq[tile.Tile] {
	if p.empty || !p.zoom.Contains(zoom) {
		return func(func(tile.Tile) bool) {}
	}
	return p.pyramid.TilesFromBounds(p.area, zoom)
}

// Tile returns the process tile at zoom, row and col
func (p *Process) Tile(zoom, row, col int) (tile.Tile, error) {
	return p.pyramid.Tile(zoom, row, col)
}

// Read returns the existing output of t
func (p *Process) Read(t tile.Tile) (any, error) {
	if p.output == nil {
		return nil, fmt.Errorf("%w: no output at %s", util.ErrTileNotFound, p.cfg.OutputPath())
	}
	return p.output.Read(t)
}

// BatchOptions selects what BatchProcessor runs
type BatchOptions struct {
	// Zoom limits processing to one zoom level
	Zoom *int
	// Tile processes exactly one tile
	Tile *tile.Tile
}

// BatchProcessor runs the process function for every selected tile on ex
// and yields one record per finished tile, in completion order
func (p *Process) BatchProcessor(ctx context.Context, ex executor.Executor, opts BatchOptions) iter.Seq2[job.ProcessInfo, error] {
	return func(yield func(job.ProcessInfo, error) bool) {
		if p.isClosed() {
			yield(job.ProcessInfo{}, ErrClosed)
			return
		}

		var tiles iter.Seq[tile.Tile]
		switch {
		case opts.Tile != nil:
			tiles = func(yield func(tile.Tile) bool) { yield(*opts.Tile) }
		case opts.Zoom != nil:
			tiles = p.TilesAt(*opts.Zoom)
		default:
			tiles = p.Tiles()
		}

		fn, ok := executor.Lookup(TaskName)
		if !ok {
			yield(job.ProcessInfo{}, fmt.Errorf("%w: %s", util.ErrUnregisteredFunc, TaskName))
			return
		}

		kw := map[string]any{
			"config": *p.cfg,
			"mode":   string(p.mode),
		}
		if p.output != nil {
			kw["output"] = p.output.Metadata()
		}
		kwargs := executor.WithKwargs(kw)
		for f := range ex.AsCompleted(ctx, fn, executor.FromSeq(tiles), kwargs) {
			info, err := p.info(f)
			if !yield(info, err) {
				return
			}
		}
	}
}

// info converts a finished future into a ProcessInfo
func (p *Process) info(f *executor.Future) (job.ProcessInfo, error) {
	var t tile.Tile
	if err := executor.Decode(f.Item(), &t); err != nil {
		id := fmt.Sprintf("task %d", f.ID())
		return job.ProcessInfo{ID: id, Duration: f.Duration()}, util.WrapTaskError(id, fmt.Errorf("invalid tile: %w", err))
	}
	info := job.ProcessInfo{ID: t.String(), Duration: f.Duration()}

	v, err := f.Result()
	if err != nil {
		info.ProcessMsg = "failed"
		info.WriteMsg = "nothing written"
		// report the tile instead of the future ID
		var te *util.TaskError
		if errors.As(err, &te) {
			err = te.Err
		}
		return info, util.WrapTaskError(t.String(), err)
	}

	var r TileResult
	if err := executor.Decode(v, &r); err != nil {
		return info, util.WrapTaskError(t.String(), err)
	}
	info.Processed = r.Processed
	info.ProcessMsg = r.ProcessMsg
	info.Written = r.Written
	info.WriteMsg = r.WriteMsg
	return info, nil
}

// OnClose registers fn to run when the Process is closed, in reverse order
// of registration
func (p *Process) OnClose(fn func() error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onClose = append(p.onClose, fn)
}

func (p *Process) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close runs the registered close hooks. Closing twice is a no-op.
func (p *Process) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	hooks := p.onClose
	p.onClose = nil
	p.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i](); err != nil {
			errs = append(errs, err)
		}
	}

	p.logger.Debug("process closed", "process", p.cfg.Process)
	return util.CombineErrors(errs...)
}
