// Package tile implements the tile pyramid geometry used to resolve a work
// set: tiles per zoom level, their bounds, and the tiles covering an area.
//
// Two grids are supported. The geodetic grid covers EPSG:4326 with two tiles
// at zoom 0, the mercator grid covers EPSG:3857 with a single tile. Each zoom
// level doubles rows and columns. Metatiling groups metatiling×metatiling
// tiles into one process tile, clipped to the grid bounds.
package tile

import (
	"fmt"
	"iter"
	"math"
	"strings"

	"github.com/aryankumar/tilebatch/internal/util"
)

// Grid names a tile grid
type Grid string

const (
	Geodetic Grid = "geodetic"
	Mercator Grid = "mercator"
)

// MaxMetatiling is the largest supported metatiling factor
const MaxMetatiling = 16

const mercatorExtent = 20037508.3427892

// snapTolerance is the fraction of a tile within which a coordinate is
// treated as lying on the tile edge
const snapTolerance = 1e-6

// gridSpec describes the zoom 0 layout of a grid
type gridSpec struct {
	crs    string
	bounds Bounds
	cols   int
	rows   int
}

var grids = map[Grid]gridSpec{
	Geodetic: {crs: "EPSG:4326", bounds: Bounds{-180, -90, 180, 90}, cols: 2, rows: 1},
	Mercator: {crs: "EPSG:3857", bounds: Bounds{-mercatorExtent, -mercatorExtent, mercatorExtent, mercatorExtent}, cols: 1, rows: 1},
}

// ParseGrid validates a grid name
func ParseGrid(name string) (Grid, error) {
	g := Grid(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := grids[g]; !ok {
		return "", util.NewValidationError("grid", name, "must be one of geodetic, mercator")
	}
	return g, nil
}

// Pyramid is a tile grid at a given metatiling
type Pyramid struct {
	grid       Grid
	spec       gridSpec
	metatiling int
}

// NewPyramid returns the pyramid for grid at the given metatiling
func NewPyramid(grid Grid, metatiling int) (*Pyramid, error) {
	spec, ok := grids[grid]
	if !ok {
		return nil, util.NewValidationError("grid", string(grid), "must be one of geodetic, mercator")
	}
	if metatiling == 0 {
		metatiling = 1
	}
	if metatiling < 1 || metatiling > MaxMetatiling || metatiling&(metatiling-1) != 0 {
		return nil, util.NewValidationError("metatiling", metatiling, "must be one of 1, 2, 4, 8, 16")
	}
	return &Pyramid{grid: grid, spec: spec, metatiling: metatiling}, nil
}

// Grid returns the grid name
func (p *Pyramid) Grid() Grid {
	return p.grid
}

// CRS returns the grid's coordinate reference system
func (p *Pyramid) CRS() string {
	return p.spec.crs
}

// Metatiling returns the metatiling factor
func (p *Pyramid) Metatiling() int {
	return p.metatiling
}

// Bounds returns the full grid extent
func (p *Pyramid) Bounds() Bounds {
	return p.spec.bounds
}

// MatrixWidth returns the number of tile columns at zoom
func (p *Pyramid) MatrixWidth(zoom int) int {
	return ceilDiv(p.spec.cols<<zoom, p.metatiling)
}

// MatrixHeight returns the number of tile rows at zoom
func (p *Pyramid) MatrixHeight(zoom int) int {
	return ceilDiv(p.spec.rows<<zoom, p.metatiling)
}

// TileSize returns the unclipped width and height of a tile at zoom
func (p *Pyramid) TileSize(zoom int) (float64, float64) {
	b := p.spec.bounds
	w := b.Width() / float64(p.spec.cols<<zoom) * float64(p.metatiling)
	h := b.Height() / float64(p.spec.rows<<zoom) * float64(p.metatiling)
	return w, h
}

// Tile returns the tile at zoom, row and col, or ErrTileNotFound when it lies
// outside the grid
func (p *Pyramid) Tile(zoom, row, col int) (Tile, error) {
	t := Tile{Zoom: zoom, Row: row, Col: col}
	if zoom < 0 || zoom > MaxZoom {
		return Tile{}, fmt.Errorf("%w: zoom %d out of range", util.ErrTileNotFound, zoom)
	}
	if row < 0 || row >= p.MatrixHeight(zoom) || col < 0 || col >= p.MatrixWidth(zoom) {
		return Tile{}, fmt.Errorf("%w: %s is outside the %s grid", util.ErrTileNotFound, t, p.grid)
	}
	return t, nil
}

// TileBounds returns the extent of t clipped to the grid
func (p *Pyramid) TileBounds(t Tile) Bounds {
	w, h := p.TileSize(t.Zoom)
	grid := p.spec.bounds

	left := grid.Left + float64(t.Col)*w
	top := grid.Top - float64(t.Row)*h
	return Bounds{
		Left:   left,
		Bottom: math.Max(top-h, grid.Bottom),
		Right:  math.Min(left+w, grid.Right),
		Top:    top,
	}
}

// TileFromPoint returns the tile at zoom containing the point x, y
func (p *Pyramid) TileFromPoint(x, y float64, zoom int) (Tile, error) {
	grid := p.spec.bounds
	if x < grid.Left || x > grid.Right || y < grid.Bottom || y > grid.Top {
		return Tile{}, fmt.Errorf("%w: point (%g, %g) is outside the %s grid", util.ErrTileNotFound, x, y, p.grid)
	}

	w, h := p.TileSize(zoom)
	col := min(max(floorSnap((x-grid.Left)/w), 0), p.MatrixWidth(zoom)-1)
	row := min(max(floorSnap((grid.Top-y)/h), 0), p.MatrixHeight(zoom)-1)
	return p.Tile(zoom, row, col)
}

// span returns the row and column ranges of tiles overlapping b at zoom.
// Tiles only touching b are excluded.
func (p *Pyramid) span(b Bounds, zoom int) (minRow, maxRow, minCol, maxCol int, ok bool) {
	clipped, ok := Intersection(b, p.spec.bounds)
	if !ok {
		return 0, 0, 0, 0, false
	}

	grid := p.spec.bounds
	w, h := p.TileSize(zoom)

	minCol = max(floorSnap((clipped.Left-grid.Left)/w), 0)
	maxCol = min(ceilSnap((clipped.Right-grid.Left)/w)-1, p.MatrixWidth(zoom)-1)
	minRow = max(floorSnap((grid.Top-clipped.Top)/h), 0)
	maxRow = min(ceilSnap((grid.Top-clipped.Bottom)/h)-1, p.MatrixHeight(zoom)-1)
	return minRow, maxRow, minCol, maxCol, minRow <= maxRow && minCol <= maxCol
}

// floorSnap rounds a position in tile units down, treating values just
// below an edge as on it
func floorSnap(v float64) int {
	return int(math.Floor(v + snapTolerance))
}

// ceilSnap rounds a position in tile units up, treating values just above
// an edge as on it
func ceilSnap(v float64) int {
	return int(math.Ceil(v - snapTolerance))
}

// TilesFromBounds yields the tiles at zoom overlapping b, row by row
func (p *Pyramid) TilesFromBounds(b Bounds, zoom int) iter.Seq[Tile] {
	return func(yield func(Tile) bool) {
		minRow, maxRow, minCol, maxCol, ok := p.span(b, zoom)
		if !ok {
			return
		}
		for row := minRow; row <= maxRow; row++ {
			for col := minCol; col <= maxCol; col++ {
				if !yield(Tile{Zoom: zoom, Row: row, Col: col}) {
					return
				}
			}
		}
	}
}

// CountTiles returns the number of tiles overlapping b over all levels
// without materializing them
func (p *Pyramid) CountTiles(b Bounds, levels ZoomLevels) int {
	total := 0
	for _, z := range levels.Levels() {
		minRow, maxRow, minCol, maxCol, ok := p.span(b, z)
		if !ok {
			continue
		}
		total += (maxRow - minRow + 1) * (maxCol - minCol + 1)
	}
	return total
}

// Tiles yields the tiles overlapping b over all levels, highest zoom first
func (p *Pyramid) Tiles(b Bounds, levels ZoomLevels) iter.Seq[Tile] {
	return func(yield func(Tile) bool) {
		for _, z := range levels.Descending() {
			for t := range p.TilesFromBounds(b, z) {
				if !yield(t) {
					return
				}
			}
		}
	}
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
