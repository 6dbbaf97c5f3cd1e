package tiler

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"

	"osm_tiler/pkg/bbox"
)

const (
	cols = 360
	rows = 180

	// Ext is the suffix of every tile file.
	Ext = ".osm.gz"
)

// Tile names the 1°×1° tile whose south-west corner is (X, Y) degrees.
// X is in [-180,180) and Y in [-90,90).
type Tile struct {
	X, Y int
}

// Normalize folds a bbox column into [-180,180). ok is false for rows
// outside [-90,90).
func Normalize(x, y int) (t Tile, ok bool) {
	if y < -90 || y >= 90 {
		return Tile{}, false
	}
	if x < -180 {
		x += 360
	} else if x >= 180 {
		x -= 360
	}
	return Tile{X: x, Y: y}, true
}

func (t Tile) cell() int {
	return (t.X + 180) + (t.Y+90)*cols
}

// Name returns the tile file name, e.g. "+05+005.osm.gz".
func (t Tile) Name() string {
	return fmt.Sprintf("%+03d%+04d%s", t.Y, t.X, Ext)
}

// Bound returns the degree extent of the tile.
func (t Tile) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{float64(t.X), float64(t.Y)},
		Max: orb.Point{float64(t.X + 1), float64(t.Y + 1)},
	}
}

func (t Tile) String() string {
	return fmt.Sprintf("(%d,%d)", t.X, t.Y)
}

// Tiles yields every tile of r south to north, west to east. Columns are
// normalised into [-180,180). A rect wider than the globe is cut to 360
// columns starting at its west edge so no tile is visited twice; the
// padding column on the far side is then dropped, which is a known
// date-line limitation.
func Tiles(r bbox.Rect) iter.Seq[Tile] {
	return func(yield func(Tile) bool) {
		east := min(r.East, r.West+cols-1)
		for y := r.South; y <= r.North; y++ {
			for x := r.West; x <= east; x++ {
				t, ok := Normalize(x, y)
				if !ok {
					continue
				}
				if !yield(t) {
					return
				}
			}
		}
	}
}

// Opener creates the output stream of a tile.
type Opener interface {
	Create(t Tile) (io.WriteCloser, error)
}

// DirOpener writes gzip compressed tile files into Dir. The gzip header
// carries no name or timestamp, so identical input gives identical bytes.
type DirOpener struct {
	Dir string
}

// Create truncates any existing file for t.
func (o DirOpener) Create(t Tile) (io.WriteCloser, error) {
	f, err := os.Create(filepath.Join(o.Dir, t.Name()))
	if err != nil {
		return nil, err
	}
	zw := gzip.NewWriter(f)
	return &gzipFile{f: f, zw: zw, bw: bufio.NewWriterSize(zw, 64<<10)}, nil
}

type gzipFile struct {
	f  *os.File
	zw *gzip.Writer
	bw *bufio.Writer
}

func (g *gzipFile) Write(p []byte) (int, error) {
	return g.bw.Write(p)
}

func (g *gzipFile) Close() error {
	err := g.bw.Flush()
	if cerr := g.zw.Close(); err == nil {
		err = cerr
	}
	if cerr := g.f.Close(); err == nil {
		err = cerr
	}
	return errors.Wrapf(err, "close %s", g.f.Name())
}
