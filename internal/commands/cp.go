package commands

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"path/filepath"
	"slices"

	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/aryankumar/tilebatch/internal/executor"
	"github.com/aryankumar/tilebatch/internal/job"
	"github.com/aryankumar/tilebatch/internal/tile"
	"github.com/aryankumar/tilebatch/internal/tiledir"
	"github.com/aryankumar/tilebatch/internal/util"
)

// CopyTaskName is the executor function copying one tile
const CopyTaskName = "commands.copy_tile"

func init() {
	executor.Register(CopyTaskName, copyTile)
}

// CopyOptions configures Copy
type CopyOptions struct {
	Source      string
	Destination string

	// Zoom is required
	Zoom   *tile.ZoomLevels
	Bounds *tile.Bounds

	Overwrite bool

	// Workers bounds the existence checks and the copy workers
	// (default: number of CPUs)
	Workers int
	// Concurrency defaults to threads
	Concurrency executor.Concurrency
	Scheduler   string

	MessageFunc MessageFunc
	Logger      *slog.Logger
}

// copyItem is the unit of work of one copied tile
type copyItem struct {
	Tile      tile.Tile `json:"tile"`
	SrcExists bool      `json:"src_exists"`
	DstExists bool      `json:"dst_exists"`
}

type copyResult struct {
	Copied bool   `json:"copied"`
	Msg    string `json:"msg"`
}

// Copy returns a Job copying the tiles of one tile directory into another.
// The destination gets the source metadata if it has none yet; existing
// destination tiles are kept unless Overwrite is set.
func Copy(ctx context.Context, opts CopyOptions) (*job.Job, error) {
	logger := loggerOrDefault(opts.Logger)
	if opts.Zoom == nil {
		return nil, util.NewValidationError("zoom", nil, "zoom level(s) required")
	}
	if err := opts.Zoom.Validate(); err != nil {
		return nil, err
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	concurrency := opts.Concurrency
	if concurrency == "" {
		concurrency = executor.ConcurrencyThreads
	}

	src, err := tiledir.Open(opts.Source)
	if err != nil {
		return nil, err
	}

	dstMeta := filepath.Join(opts.Destination, tiledir.MetadataFile)
	if _, err := tiledir.ReadMetadata(opts.Destination); err != nil {
		msg := fmt.Sprintf("copy %s to %s", filepath.Join(opts.Source, tiledir.MetadataFile), dstMeta)
		logger.Debug(msg)
		opts.MessageFunc.send("%s", msg)
	}
	dst, err := tiledir.Create(opts.Destination, src.Metadata())
	if err != nil {
		return nil, err
	}

	pyramid := src.Pyramid()
	area := pyramid.Bounds()
	if b := src.Metadata().Bounds; b != nil {
		if clipped, ok := tile.Intersection(area, *b); ok {
			area = clipped
		}
	}
	if opts.Bounds != nil {
		clipped, ok := tile.Intersection(area, *opts.Bounds)
		if !ok {
			logger.Debug("bounds do not intersect source", "bounds", opts.Bounds.String(), "source", area.String())
			return job.Empty(nil), nil
		}
		area = clipped
	}
	zoom := *opts.Zoom

	gen := func(ctx context.Context, ex executor.Executor) iter.Seq2[job.ProcessInfo, error] {
		return func(yield func(job.ProcessInfo, error) bool) {
			kwargs := executor.WithKwargs(map[string]any{
				"src":       src.Path(),
				"dst":       dst.Path(),
				"overwrite": opts.Overwrite,
			})

			for _, z := range zoom.Levels() {
				opts.MessageFunc.send("copy tiles for zoom %d...", z)
				tiles := slices.Collect(pyramid.TilesFromBounds(area, z))

				logger.Debug("looking for existing tiles", "zoom", z, "tiles", len(tiles))
				srcExisting, err := existingTiles(ctx, src, tiles, workers)
				if err != nil {
					yield(job.ProcessInfo{}, err)
					return
				}
				dstExisting, err := existingTiles(ctx, dst, tiles, workers)
				if err != nil {
					yield(job.ProcessInfo{}, err)
					return
				}

				items := make([]copyItem, len(tiles))
				for i, t := range tiles {
					items[i] = copyItem{Tile: t, SrcExists: srcExisting.Has(t), DstExists: dstExisting.Has(t)}
				}

				copied := 0
				for f := range ex.AsCompleted(ctx, copyTile, executor.Items(items), kwargs) {
					info, err := copyInfo(f)
					if info.Written {
						copied++
					}
					if !yield(info, err) {
						return
					}
				}
				opts.MessageFunc.send("%d tiles copied", copied)
			}
		}
	}

	return job.New(gen,
		job.WithTotal(pyramid.CountTiles(area, zoom)),
		job.WithConcurrency(concurrency),
		job.WithExecutorOptions(executorOptions(workers, 0, opts.Scheduler)...),
		job.WithLogger(logger),
	), nil
}

// existingTiles checks which of tiles exist in d, running up to workers
// checks at once
func existingTiles(ctx context.Context, d *tiledir.Directory, tiles []tile.Tile, workers int) (sets.Set[tile.Tile], error) {
	found := make([]bool, len(tiles))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, t := range tiles {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ok, err := d.Exists(t)
			if err != nil {
				return fmt.Errorf("failed to check tile %s in %s: %w", t, d.Path(), err)
			}
			found[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	existing := sets.New[tile.Tile]()
	for i, t := range tiles {
		if found[i] {
			existing.Insert(t)
		}
	}
	return existing, nil
}

func copyInfo(f *executor.Future) (job.ProcessInfo, error) {
	var item copyItem
	if err := executor.Decode(f.Item(), &item); err != nil {
		id := fmt.Sprintf("task %d", f.ID())
		return job.ProcessInfo{ID: id, Duration: f.Duration()}, util.WrapTaskError(id, fmt.Errorf("invalid copy item: %w", err))
	}
	info := job.ProcessInfo{ID: item.Tile.String(), Duration: f.Duration(), ProcessMsg: "copy"}

	v, err := f.Result()
	if err != nil {
		info.WriteMsg = "nothing written"
		return info, util.WrapTaskError(item.Tile.String(), err)
	}
	var r copyResult
	if err := executor.Decode(v, &r); err != nil {
		return info, util.WrapTaskError(item.Tile.String(), err)
	}
	info.Written = r.Copied
	info.WriteMsg = r.Msg
	return info, nil
}

// copyTile copies one tile file. Directories are reopened per worker from
// their paths so the task runs under every backend.
func copyTile(ctx context.Context, v any, p executor.Params) (any, error) {
	var item copyItem
	if err := executor.Decode(v, &item); err != nil {
		return nil, fmt.Errorf("invalid copy item: %w", err)
	}
	src, err := tiledir.Open(p.String("src", ""))
	if err != nil {
		return nil, err
	}
	dst, err := tiledir.Open(p.String("dst", ""))
	if err != nil {
		return nil, err
	}

	srcPath := src.TilePath(item.Tile)
	switch {
	case !item.SrcExists:
		return copyResult{Msg: fmt.Sprintf("source tile (%s) does not exist", srcPath)}, nil
	case item.DstExists && !p.Bool("overwrite", false):
		return copyResult{Msg: "destination tile exists"}, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := src.ReadRaw(item.Tile)
	if err != nil {
		return nil, err
	}
	if err := dst.WriteRaw(item.Tile, data); err != nil {
		return nil, err
	}
	return copyResult{Copied: true, Msg: fmt.Sprintf("copy %s to %s", srcPath, dst.TilePath(item.Tile))}, nil
}
