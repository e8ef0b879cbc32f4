package process

import (
	"context"
	"fmt"
	"time"

	"github.com/aryankumar/tilebatch/internal/config"
	"github.com/aryankumar/tilebatch/internal/executor"
	"github.com/aryankumar/tilebatch/internal/tile"
	"github.com/aryankumar/tilebatch/internal/tiledir"
)

// TaskName is the executor function processing one tile. Its item is a
// tile.Tile; keyword arguments "config" and "mode" carry the process setup
// and "output" the metadata of the opened output directory.
const TaskName = "process.tile"

func init() {
	executor.Register(TaskName, runTile)
}

// TileResult is what the tile task returns
type TileResult struct {
	Tile       tile.Tile `json:"tile"`
	Processed  bool      `json:"processed"`
	ProcessMsg string    `json:"process_msg"`
	Written    bool      `json:"written"`
	WriteMsg   string    `json:"write_msg"`
}

func runTile(ctx context.Context, item any, p executor.Params) (any, error) {
	var t tile.Tile
	if err := executor.Decode(item, &t); err != nil {
		return nil, fmt.Errorf("invalid tile: %w", err)
	}
	var cfg config.ProcessConfig
	if err := p.Decode("config", &cfg); err != nil {
		return nil, fmt.Errorf("invalid process config: %w", err)
	}
	mode, err := ParseMode(p.String("mode", string(ModeContinue)))
	if err != nil {
		return nil, err
	}

	var out *tiledir.Directory
	if mode != ModeReadonly {
		var meta tiledir.Metadata
		if err := p.Decode("output", &meta); err != nil {
			return nil, fmt.Errorf("invalid output metadata: %w", err)
		}
		if out, err = tiledir.Attach(cfg.OutputPath(), meta); err != nil {
			return nil, err
		}
	}

	return processTile(ctx, &cfg, mode, out, t)
}

// processTile runs the process function for t and writes its output to out
// according to mode. out is only read in readonly mode and may be nil there.
func processTile(ctx context.Context, cfg *config.ProcessConfig, mode Mode, out *tiledir.Directory, t tile.Tile) (TileResult, error) {
	res := TileResult{Tile: t}

	fn, ok := LookupFunc(cfg.Process)
	if !ok {
		return res, fmt.Errorf("process %q is not registered in this worker", cfg.Process)
	}
	pyramid, err := cfg.NewPyramid()
	if err != nil {
		return res, err
	}
	if _, err := pyramid.Tile(t.Zoom, t.Row, t.Col); err != nil {
		return res, err
	}

	if mode == ModeContinue {
		exists, err := out.Exists(t)
		if err != nil {
			return res, err
		}
		if exists {
			res.ProcessMsg = "output already exists"
			res.WriteMsg = "nothing written"
			return res, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}

	start := time.Now()
	data, err := fn(ctx, Input{
		Tile:   t,
		Bounds: pyramid.TileBounds(t),
		CRS:    pyramid.CRS(),
		Params: cfg.Params,
	})
	if err != nil {
		return res, err
	}
	res.Processed = true
	res.ProcessMsg = fmt.Sprintf("processed in %s", time.Since(start).Round(time.Millisecond))

	switch {
	case mode == ModeReadonly:
		res.WriteMsg = "output is readonly, nothing written"
		return res, nil
	case data == nil:
		if mode == ModeOverwrite {
			if err := out.Remove(t); err != nil {
				return res, err
			}
		}
		res.WriteMsg = "output empty, nothing written"
		return res, nil
	}

	start = time.Now()
	if err := out.Write(t, data); err != nil {
		return res, err
	}
	res.Written = true
	res.WriteMsg = fmt.Sprintf("output written in %s", time.Since(start).Round(time.Millisecond))
	return res, nil
}
