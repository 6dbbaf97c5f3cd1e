// Package osm decodes tile files back into OSM objects.
package osm

import (
	"compress/gzip"
	"context"
	"io"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmxml"
	"github.com/pkg/errors"
)

// Tile holds the objects of one tile file in file order.
type Tile struct {
	Nodes []*osm.Node
	Ways  []*osm.Way
}

// ReadTile decodes a gzip compressed tile file.
func ReadTile(ctx context.Context, path string) (*Tile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open tile")
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "gunzip %s", path)
	}
	defer zr.Close()

	t, err := Read(ctx, zr)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return t, nil
}

// Read decodes uncompressed OSM XML.
func Read(ctx context.Context, r io.Reader) (*Tile, error) {
	scanner := osmxml.New(ctx, r)
	defer scanner.Close()

	t := &Tile{}
	for scanner.Scan() {
		switch o := scanner.Object().(type) {
		case *osm.Node:
			t.Nodes = append(t.Nodes, o)
		case *osm.Way:
			t.Ways = append(t.Ways, o)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

// Bound returns the extent of the tile's nodes.
func (t *Tile) Bound() orb.Bound {
	if len(t.Nodes) == 0 {
		return orb.Bound{}
	}
	b := t.Nodes[0].Point().Bound()
	for _, n := range t.Nodes[1:] {
		b = b.Extend(n.Point())
	}
	return b
}

// MissingRefs lists, per way, the referenced nodes the tile does not
// carry. A tile written from a complete index has none.
func (t *Tile) MissingRefs() map[osm.WayID][]osm.NodeID {
	have := make(map[osm.NodeID]struct{}, len(t.Nodes))
	for _, n := range t.Nodes {
		have[n.ID] = struct{}{}
	}
	var missing map[osm.WayID][]osm.NodeID
	for _, w := range t.Ways {
		for _, wn := range w.Nodes {
			if _, ok := have[wn.ID]; ok {
				continue
			}
			if missing == nil {
				missing = make(map[osm.WayID][]osm.NodeID)
			}
			missing[w.ID] = append(missing[w.ID], wn.ID)
		}
	}
	return missing
}
