package process

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/spf13/cast"

	"github.com/aryankumar/tilebatch/internal/tile"
	"github.com/aryankumar/tilebatch/internal/tiledir"
	"github.com/aryankumar/tilebatch/internal/util"
)

// Input is what a process function receives for one tile
type Input struct {
	Tile   tile.Tile
	Bounds tile.Bounds
	CRS    string
	Params map[string]any
}

// Param returns a parameter or def when it is not set
func (in Input) Param(key string, def any) any {
	if v, ok := in.Params[key]; ok {
		return v
	}
	return def
}

// Func computes the data of one tile. A nil result means the tile is empty
// and nothing gets written.
type Func func(ctx context.Context, in Input) (any, error)

var funcs = struct {
	sync.RWMutex
	byName map[string]Func
}{byName: make(map[string]Func)}

// RegisterFunc makes a process function available under name. Like task
// functions it must be registered in every process, usually from init.
func RegisterFunc(name string, fn Func) {
	if fn == nil {
		panic("process: RegisterFunc with nil function")
	}
	funcs.Lock()
	defer funcs.Unlock()
	if _, dup := funcs.byName[name]; dup {
		panic("process: RegisterFunc called twice for " + name)
	}
	funcs.byName[name] = fn
}

// LookupFunc returns the process function registered under name
func LookupFunc(name string) (Func, bool) {
	funcs.RLock()
	defer funcs.RUnlock()
	fn, ok := funcs.byName[name]
	return fn, ok
}

// Funcs returns the registered process names, sorted
func Funcs() []string {
	funcs.RLock()
	defer funcs.RUnlock()
	names := make([]string, 0, len(funcs.byName))
	for name := range funcs.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	RegisterFunc("bounds", boundsFunc)
	RegisterFunc("constant", constantFunc)
	RegisterFunc("fail", failFunc)
	RegisterFunc("convert", convertFunc)
}

// boundsFunc describes the tile itself
func boundsFunc(ctx context.Context, in Input) (any, error) {
	return map[string]any{
		"tile":   in.Tile.String(),
		"crs":    in.CRS,
		"bounds": in.Bounds.Slice(),
	}, nil
}

// constantFunc fills a size×size grid with value. Param empty_zoom marks a
// zoom level whose tiles come out empty.
func constantFunc(ctx context.Context, in Input) (any, error) {
	if z, err := cast.ToIntE(in.Param("empty_zoom", -1)); err == nil && z == in.Tile.Zoom {
		return nil, nil
	}

	size := cast.ToInt(in.Param("size", 4))
	if size <= 0 || size > 1024 {
		return nil, fmt.Errorf("size must be between 1 and 1024, got %d", size)
	}
	value := cast.ToFloat64(in.Param("value", 0))

	grid := make([][]float64, size)
	for i := range grid {
		row := make([]float64, size)
		for j := range row {
			row[j] = value
		}
		grid[i] = row
	}
	return map[string]any{
		"tile":   in.Tile.String(),
		"bounds": in.Bounds.Slice(),
		"data":   grid,
	}, nil
}

// failFunc errors for tiles at zoom param zoom (default: every tile) and
// otherwise behaves like boundsFunc
func failFunc(ctx context.Context, in Input) (any, error) {
	zoom := cast.ToInt(in.Param("zoom", -1))
	if zoom < 0 || zoom == in.Tile.Zoom {
		return nil, fmt.Errorf("process failed on tile %s", in.Tile)
	}
	return boundsFunc(ctx, in)
}

var inputs sync.Map

// convertFunc returns the tile of the tile directory at param input. Missing
// source tiles come out empty.
func convertFunc(ctx context.Context, in Input) (any, error) {
	path := cast.ToString(in.Param("input", ""))
	if path == "" {
		return nil, errors.New("param input is required")
	}

	var src *tiledir.Directory
	if d, ok := inputs.Load(path); ok {
		src = d.(*tiledir.Directory)
	} else {
		d, err := tiledir.Open(path)
		if err != nil {
			return nil, err
		}
		actual, _ := inputs.LoadOrStore(path, d)
		src = actual.(*tiledir.Directory)
	}

	v, err := src.Read(in.Tile)
	if errors.Is(err, util.ErrTileNotFound) {
		return nil, nil
	}
	return v, err
}
