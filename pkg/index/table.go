package index

import (
	"github.com/paulmach/osm"
	"github.com/pkg/errors"

	"osm_tiler/pkg/bbox"
)

// ErrIDOutOfRange is returned when an id falls outside a table.
var ErrIDOutOfRange = errors.New("index: id out of range")

// Table is a dense bbox array indexed by element id. Every access is
// bounds checked.
type Table[K ~int64] struct {
	cells []bbox.BBox
}

// NewTable allocates a table for ids 0..maxID, all Empty.
func NewTable[K ~int64](maxID K) *Table[K] {
	t := &Table[K]{cells: make([]bbox.BBox, int(maxID)+1)}
	t.Clear()
	return t
}

// Len returns the number of slots.
func (t *Table[K]) Len() int {
	return len(t.cells)
}

// Clear sets every slot to Empty.
func (t *Table[K]) Clear() {
	for i := range t.cells {
		t.cells[i] = bbox.Empty
	}
}

func (t *Table[K]) slot(id K) (int, error) {
	if id < 0 || int64(id) >= int64(len(t.cells)) {
		return 0, errors.Wrapf(ErrIDOutOfRange, "id %d not in [0,%d]", id, len(t.cells)-1)
	}
	return int(id), nil
}

// Get returns the bbox stored for id.
func (t *Table[K]) Get(id K) (bbox.BBox, error) {
	i, err := t.slot(id)
	if err != nil {
		return bbox.Empty, err
	}
	return t.cells[i], nil
}

// Set stores b for id.
func (t *Table[K]) Set(id K, b bbox.BBox) error {
	i, err := t.slot(id)
	if err != nil {
		return err
	}
	t.cells[i] = b
	return nil
}

// Union widens the bbox for id to cover b and returns the result.
func (t *Table[K]) Union(id K, b bbox.BBox) (bbox.BBox, error) {
	i, err := t.slot(id)
	if err != nil {
		return bbox.Empty, err
	}
	t.cells[i] = bbox.Union(t.cells[i], b)
	return t.cells[i], nil
}

// Index holds the spatial index for every node and way.
type Index struct {
	Nodes *Table[osm.NodeID]
	Ways  *Table[osm.WayID]
}

// New allocates an index for the given highest ids.
func New(maxNode osm.NodeID, maxWay osm.WayID) *Index {
	return &Index{
		Nodes: NewTable(maxNode),
		Ways:  NewTable(maxWay),
	}
}

// Lookup returns the bbox of a node or way.
func (idx *Index) Lookup(kind osm.Type, id int64) (bbox.BBox, error) {
	switch kind {
	case osm.TypeNode:
		return idx.Nodes.Get(osm.NodeID(id))
	case osm.TypeWay:
		return idx.Ways.Get(osm.WayID(id))
	}
	return bbox.Empty, errors.Errorf("index: %s elements are not indexed", kind)
}
