package cli

import (
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/pflag"

	"github.com/aryankumar/tilebatch/internal/commands"
	"github.com/aryankumar/tilebatch/internal/tile"
	"github.com/aryankumar/tilebatch/internal/util"
)

// selectionFlags narrow a run down to part of the pyramid
type selectionFlags struct {
	zoom   string
	bounds string
	point  string
	tile   string
}

func (s *selectionFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&s.zoom, "zoom", "z", "", "single zoom level or min,max")
	fs.StringVarP(&s.bounds, "bounds", "b", "", "left,bottom,right,top in pyramid CRS")
	fs.StringVarP(&s.point, "point", "p", "", "x,y; only the tile containing it at the highest zoom")
	fs.StringVarP(&s.tile, "tile", "t", "", "single tile as zoom/row/col")
}

// selection is the parsed form of selectionFlags; unset fields are nil
type selection struct {
	Zoom   *tile.ZoomLevels
	Bounds *tile.Bounds
	Point  *commands.Point
	Tile   *tile.Tile
}

func (s *selectionFlags) parse() (selection, error) {
	var sel selection
	if s.zoom != "" {
		z, err := tile.ParseZoom(s.zoom)
		if err != nil {
			return sel, err
		}
		sel.Zoom = &z
	}
	if s.bounds != "" && s.point != "" {
		return sel, util.NewValidationError("point", s.point, "--point and --bounds are mutually exclusive")
	}
	if s.bounds != "" {
		b, err := tile.ParseBounds(s.bounds)
		if err != nil {
			return sel, err
		}
		sel.Bounds = &b
	}
	if s.point != "" {
		p, err := parsePoint(s.point)
		if err != nil {
			return sel, err
		}
		sel.Point = &p
	}
	if s.tile != "" {
		t, err := tile.ParseTile(s.tile)
		if err != nil {
			return sel, err
		}
		sel.Tile = &t
	}
	return sel, nil
}

// parsePoint parses "x,y"
func parsePoint(s string) (commands.Point, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return commands.Point{}, util.NewValidationError("point", s, "expected x,y")
	}
	x, err := cast.ToFloat64E(strings.TrimSpace(parts[0]))
	if err != nil {
		return commands.Point{}, util.NewValidationError("point", s, "coordinates must be numbers")
	}
	y, err := cast.ToFloat64E(strings.TrimSpace(parts[1]))
	if err != nil {
		return commands.Point{}, util.NewValidationError("point", s, "coordinates must be numbers")
	}
	return commands.Point{X: x, Y: y}, nil
}

// workerFlags tune the executor backing a run
type workerFlags struct {
	multi        int
	maxChunksize int
}

func (w *workerFlags) register(fs *pflag.FlagSet) {
	fs.IntVarP(&w.multi, "multi", "m", commands.DefaultWorkers(), "number of concurrent workers")
	fs.IntVar(&w.maxChunksize, "max-chunksize", 1, "maximum number of tiles sent to a worker at once")
}
