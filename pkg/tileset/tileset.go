// Package tileset reads back a directory of tile files written by the
// export engine.
package tileset

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/hilbert"
	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	"github.com/tidwall/rtree"

	"osm_tiler/pkg/tiler"
)

// ManifestName is the file WriteManifest creates in the tile directory.
const ManifestName = "tiles.txt"

// hilbertSide is the smallest power of two covering 360 columns.
const hilbertSide = 512

// ErrBadName is returned for a file name that does not parse as a tile.
var ErrBadName = errors.New("tileset: not a tile file name")

// ParseName is the inverse of tiler.Tile.Name.
func ParseName(name string) (tiler.Tile, error) {
	base, ok := strings.CutSuffix(name, tiler.Ext)
	// "+05" + "+005"
	if !ok || len(base) != 7 {
		return tiler.Tile{}, errors.Wrapf(ErrBadName, "%q", name)
	}
	y, yerr := parseSigned(base[:3])
	x, xerr := parseSigned(base[3:])
	if yerr != nil || xerr != nil {
		return tiler.Tile{}, errors.Wrapf(ErrBadName, "%q", name)
	}
	t, ok := tiler.Normalize(x, y)
	if !ok || t.X != x {
		return tiler.Tile{}, errors.Wrapf(ErrBadName, "%q out of range", name)
	}
	return t, nil
}

func parseSigned(s string) (int, error) {
	if s[0] != '+' && s[0] != '-' {
		return 0, errors.Errorf("missing sign in %q", s)
	}
	return strconv.Atoi(s)
}

// Set is the tiles present in a directory.
type Set struct {
	dir   string
	tiles []tiler.Tile
	tree  rtree.RTreeG[tiler.Tile]
}

// Open lists the tile files in dir. Other files are ignored; a file with
// the tile extension but a malformed name is an error.
func Open(dir string) (*Set, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read tile dir %s", dir)
	}
	s := &Set{dir: dir}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), tiler.Ext) {
			continue
		}
		t, err := ParseName(e.Name())
		if err != nil {
			return nil, err
		}
		s.add(t)
	}
	return s, nil
}

// New returns a set of the given tiles, as if written to dir.
func New(dir string, tiles []tiler.Tile) *Set {
	s := &Set{dir: dir}
	for _, t := range tiles {
		s.add(t)
	}
	return s
}

func (s *Set) add(t tiler.Tile) {
	s.tiles = append(s.tiles, t)
	b := t.Bound()
	s.tree.Insert([2]float64{b.Min.X(), b.Min.Y()}, [2]float64{b.Max.X(), b.Max.Y()}, t)
}

// Len returns the number of tiles.
func (s *Set) Len() int {
	return len(s.tiles)
}

// Path returns the file path of t.
func (s *Set) Path(t tiler.Tile) string {
	return filepath.Join(s.dir, t.Name())
}

// Search returns the tiles intersecting b, including tiles that only touch
// its edges, west to east then south to north. Bounds reaching past ±180
// wrap around to the other side of the date line.
func (s *Set) Search(b orb.Bound) []tiler.Tile {
	seen := make(map[tiler.Tile]struct{})
	var out []tiler.Tile
	query := func(minX, maxX float64) {
		s.tree.Search([2]float64{minX, b.Min.Y()}, [2]float64{maxX, b.Max.Y()},
			func(_, _ [2]float64, t tiler.Tile) bool {
				if _, ok := seen[t]; !ok {
					seen[t] = struct{}{}
					out = append(out, t)
				}
				return true
			})
	}

	query(b.Min.X(), b.Max.X())
	if b.Min.X() < -180 {
		query(b.Min.X()+360, 180)
	}
	if b.Max.X() > 180 {
		query(-180, b.Max.X()-360)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Y != out[j].Y {
			return out[i].Y < out[j].Y
		}
		return out[i].X < out[j].X
	})
	return out
}

// Hilbert returns every tile ordered along a Hilbert curve, so tiles next
// to each other in the list are next to each other on the map.
func (s *Set) Hilbert() ([]tiler.Tile, error) {
	h, err := hilbert.NewHilbert(hilbertSide)
	if err != nil {
		return nil, errors.Wrap(err, "hilbert curve")
	}
	type keyed struct {
		d int
		t tiler.Tile
	}
	ks := make([]keyed, len(s.tiles))
	for i, t := range s.tiles {
		d, err := h.MapInverse(t.X+180, t.Y+90)
		if err != nil {
			return nil, errors.Wrapf(err, "hilbert index of %s", t)
		}
		ks[i] = keyed{d: d, t: t}
	}
	sort.Slice(ks, func(i, j int) bool { return ks[i].d < ks[j].d })
	out := make([]tiler.Tile, len(ks))
	for i, k := range ks {
		out[i] = k.t
	}
	return out, nil
}

// WriteManifest writes the tile file names in Hilbert order, one per line,
// to ManifestName in the tile directory.
func (s *Set) WriteManifest() (string, error) {
	order, err := s.Hilbert()
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, ManifestName)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", errors.Wrap(err, "create manifest")
	}
	defer os.Remove(tmp)

	w := bufio.NewWriter(f)
	for _, t := range order {
		w.WriteString(t.Name())
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return "", errors.Wrap(err, "write manifest")
	}
	if err := f.Close(); err != nil {
		return "", errors.Wrap(err, "close manifest")
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", errors.Wrap(err, "rename manifest")
	}
	return path, nil
}
