package tile

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/aryankumar/tilebatch/internal/util"
)

// MaxZoom is the highest zoom level a pyramid accepts
const MaxZoom = 24

// Tile identifies one process tile
type Tile struct {
	Zoom int `json:"zoom" yaml:"zoom"`
	Row  int `json:"row" yaml:"row"`
	Col  int `json:"col" yaml:"col"`
}

// String returns the tile ID as zoom/row/col
func (t Tile) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Zoom, t.Row, t.Col)
}

// ParseTile parses "zoom/row/col" or "zoom,row,col"
func ParseTile(s string) (Tile, error) {
	parts := splitList(s, "/")
	if len(parts) != 3 {
		return Tile{}, util.NewValidationError("tile", s, "expected zoom/row/col")
	}
	var v [3]int
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return Tile{}, util.NewValidationError("tile", s, "indexes must be non-negative integers")
		}
		v[i] = n
	}
	return Tile{Zoom: v[0], Row: v[1], Col: v[2]}, nil
}

// Bounds is a rectangle in grid coordinates
type Bounds struct {
	Left   float64 `json:"left" yaml:"left"`
	Bottom float64 `json:"bottom" yaml:"bottom"`
	Right  float64 `json:"right" yaml:"right"`
	Top    float64 `json:"top" yaml:"top"`
}

// Width returns the horizontal extent
func (b Bounds) Width() float64 {
	return b.Right - b.Left
}

// Height returns the vertical extent
func (b Bounds) Height() float64 {
	return b.Top - b.Bottom
}

// Area returns Width times Height, or 0 for an empty rectangle
func (b Bounds) Area() float64 {
	if b.Width() <= 0 || b.Height() <= 0 {
		return 0
	}
	return b.Width() * b.Height()
}

// Valid reports whether the rectangle has a positive area
func (b Bounds) Valid() bool {
	return b.Area() > 0 && !math.IsNaN(b.Left+b.Bottom+b.Right+b.Top)
}

// Slice returns left, bottom, right, top
func (b Bounds) Slice() []float64 {
	return []float64{b.Left, b.Bottom, b.Right, b.Top}
}

// String formats the bounds as "left,bottom,right,top"
func (b Bounds) String() string {
	return fmt.Sprintf("%g,%g,%g,%g", b.Left, b.Bottom, b.Right, b.Top)
}

// BoundsFromSlice builds Bounds from left, bottom, right, top
func BoundsFromSlice(v []float64) (Bounds, error) {
	if len(v) != 4 {
		return Bounds{}, util.NewValidationError("bounds", v, "expected left, bottom, right, top")
	}
	b := Bounds{Left: v[0], Bottom: v[1], Right: v[2], Top: v[3]}
	if !b.Valid() {
		return Bounds{}, util.NewValidationError("bounds", v, "left must be smaller than right and bottom smaller than top")
	}
	return b, nil
}

// ParseBounds parses "left,bottom,right,top"
func ParseBounds(s string) (Bounds, error) {
	parts := splitList(s, ",")
	v := make([]float64, 0, len(parts))
	for _, part := range parts {
		f, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return Bounds{}, util.NewValidationError("bounds", s, "coordinates must be numbers")
		}
		v = append(v, f)
	}
	return BoundsFromSlice(v)
}

// Intersection returns the overlap of a and b. ok is false when they do not
// overlap or only touch.
func Intersection(a, b Bounds) (Bounds, bool) {
	out := Bounds{
		Left:   math.Max(a.Left, b.Left),
		Bottom: math.Max(a.Bottom, b.Bottom),
		Right:  math.Min(a.Right, b.Right),
		Top:    math.Min(a.Top, b.Top),
	}
	if !out.Valid() {
		return Bounds{}, false
	}
	return out, true
}

// ZoomLevels is an inclusive range of zoom levels
type ZoomLevels struct {
	Min int `json:"min" yaml:"min" mapstructure:"min"`
	Max int `json:"max" yaml:"max" mapstructure:"max"`
}

// SingleZoom returns the range containing only zoom
func SingleZoom(zoom int) ZoomLevels {
	return ZoomLevels{Min: zoom, Max: zoom}
}

// ParseZoom parses "5" or "2,5" (in either order)
func ParseZoom(s string) (ZoomLevels, error) {
	parts := splitList(s, ",")
	if len(parts) == 0 || len(parts) > 2 {
		return ZoomLevels{}, util.NewValidationError("zoom", s, "expected one zoom level or min,max")
	}
	levels := make([]int, 0, 2)
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return ZoomLevels{}, util.NewValidationError("zoom", s, "zoom levels must be integers")
		}
		levels = append(levels, n)
	}
	z := ZoomLevels{Min: slices.Min(levels), Max: slices.Max(levels)}
	return z, z.Validate()
}

// Validate checks the range against MaxZoom
func (z ZoomLevels) Validate() error {
	if z.Min < 0 || z.Max > MaxZoom {
		return util.NewValidationError("zoom", z.String(), fmt.Sprintf("zoom levels must be between 0 and %d", MaxZoom))
	}
	if z.Min > z.Max {
		return util.NewValidationError("zoom", z.String(), "min must not exceed max")
	}
	return nil
}

// Contains reports whether zoom lies in the range
func (z ZoomLevels) Contains(zoom int) bool {
	return zoom >= z.Min && zoom <= z.Max
}

// Levels returns the zoom levels in ascending order
func (z ZoomLevels) Levels() []int {
	if z.Min > z.Max {
		return nil
	}
	out := make([]int, 0, z.Max-z.Min+1)
	for i := z.Min; i <= z.Max; i++ {
		out = append(out, i)
	}
	return out
}

// Descending returns the zoom levels from highest to lowest
func (z ZoomLevels) Descending() []int {
	out := z.Levels()
	slices.Reverse(out)
	return out
}

// Intersect returns the levels present in both ranges
func (z ZoomLevels) Intersect(o ZoomLevels) (ZoomLevels, bool) {
	out := ZoomLevels{Min: max(z.Min, o.Min), Max: min(z.Max, o.Max)}
	return out, out.Min <= out.Max
}

func (z ZoomLevels) String() string {
	if z.Min == z.Max {
		return strconv.Itoa(z.Min)
	}
	return fmt.Sprintf("%d-%d", z.Min, z.Max)
}

func splitList(s, sep string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if sep == "/" && !strings.Contains(s, "/") {
		sep = ","
	}
	parts := strings.Split(s, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
