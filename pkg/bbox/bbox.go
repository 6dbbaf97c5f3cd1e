// Package bbox packs the rectangle of 1°×1° tiles that an OSM element
// touches into a single 32-bit value.
//
// The upper 16 bits hold the south-west cell and the lower 16 bits the
// north-east cell. Each cell is (lon+181) + (lat+90)*362: longitude carries
// one padding tile past ±180 so elements hugging the date line never go
// negative. The padding tile is folded back when a tile file name is derived.
package bbox

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// BBox is a packed tile rectangle, or Empty.
type BBox uint32

// Empty is the bbox of an element that touches no tile. No real encoding
// reaches it because cells are bounded by 180*362+361 < 0xFFFF.
const Empty BBox = 0xFFFFFFFF

const (
	lonPad    = 181
	latPad    = 90
	rowStride = 362

	// MinLon and MaxLon bound the tile longitudes a bbox can carry.
	// 181 is not representable: with a 362 stride it would alias the
	// first column of the next row.
	MinLon = -181
	MaxLon = 180
	MinLat = -90
	MaxLat = 90
)

// Rect is a decoded bbox. All four edges are inclusive tile indices.
type Rect struct {
	West, South, East, North int
}

// Contains reports whether tile (x, y) lies inside r.
func (r Rect) Contains(x, y int) bool {
	return x >= r.West && x <= r.East && y >= r.South && y <= r.North
}

// Cells returns the number of tiles covered by r.
func (r Rect) Cells() int {
	return (r.East - r.West + 1) * (r.North - r.South + 1)
}

// Bound returns the degree extent of the tiles in r.
func (r Rect) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{float64(r.West), float64(r.South)},
		Max: orb.Point{float64(r.East + 1), float64(r.North + 1)},
	}
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

func cell(lon, lat int) uint32 {
	return uint32(clamp(lon, MinLon, MaxLon)+lonPad) + uint32(clamp(lat, MinLat, MaxLat)+latPad)*rowStride
}

// Make encodes the tile rectangle [west,south]..[east,north]. Inputs are
// clamped independently to the representable range; Make never fails.
func Make(west, south, east, north int) BBox {
	return BBox(cell(west, south)<<16 | cell(east, north))
}

// IsEmpty reports whether b is the Empty sentinel.
func (b BBox) IsEmpty() bool {
	return b == Empty
}

// Decode unpacks b. ok is false for Empty.
func (b BBox) Decode() (r Rect, ok bool) {
	if b == Empty {
		return Rect{}, false
	}
	sw := uint32(b) >> 16
	ne := uint32(b) & 0xFFFF
	return Rect{
		West:  int(sw%rowStride) - lonPad,
		South: int(sw/rowStride) - latPad,
		East:  int(ne%rowStride) - lonPad,
		North: int(ne/rowStride) - latPad,
	}, true
}

// tileOf returns ceil(v)-1 clamped to [lo,hi]. A coordinate sitting on an
// integer boundary belongs to the tile below it, so -180 lands in the
// padding column and 90 stays in the last row.
func tileOf(v float64, lo, hi int) int {
	t := math.Ceil(v) - 1
	if t < float64(lo) {
		return lo
	}
	if t > float64(hi) {
		return hi
	}
	return int(t)
}

// ForPoint returns the single-tile bbox holding (lon, lat).
func ForPoint(lon, lat float64) BBox {
	x := tileOf(lon, MinLon, MaxLon)
	y := tileOf(lat, MinLat, MaxLat)
	return Make(x, y, x, y)
}

// ForOrbPoint is ForPoint for an orb.Point.
func ForOrbPoint(p orb.Point) BBox {
	return ForPoint(p.Lon(), p.Lat())
}

// Union returns the smallest bbox covering a and b.
func Union(a, b BBox) BBox {
	ra, ok := a.Decode()
	if !ok {
		return b
	}
	rb, ok := b.Decode()
	if !ok {
		return a
	}
	return Make(
		min(ra.West, rb.West),
		min(ra.South, rb.South),
		max(ra.East, rb.East),
		max(ra.North, rb.North))
}

func (b BBox) String() string {
	r, ok := b.Decode()
	if !ok {
		return "empty"
	}
	return fmt.Sprintf("[%d,%d..%d,%d]", r.West, r.South, r.East, r.North)
}
