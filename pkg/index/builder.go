// Package index builds the node and way spatial index in four passes over
// an OSM XML stream.
//
//  1. count: highest node and way ids, so the tables can be sized
//  2. nodes: the tile holding each node's coordinate
//  3. ways:  the union of the tiles of each way's nodes
//  4. nodes again: each way's bbox is unioned back into its nodes
//
// The last pass makes a node used by a way present in every tile that way
// touches, so a consumer cropping the way at a tile edge always has a
// vertex on the far side of the cut. Nodes used by no way keep the single
// tile from pass 2.
package index

import (
	"math"

	"github.com/paulmach/osm"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"osm_tiler/pkg/bbox"
	"osm_tiler/pkg/xmltag"
)

// DefaultMaxID bounds the ids the count pass accepts. Tables are sized by
// the highest id, so a corrupt id would otherwise trigger a huge allocation.
const DefaultMaxID = 1 << 34

// ErrIDTooLarge is returned by the count pass for ids above the bound.
var ErrIDTooLarge = errors.New("index: id exceeds sanity bound")

// Counts summarises the count pass.
type Counts struct {
	Nodes     int64
	Ways      int64
	MaxNodeID osm.NodeID
	MaxWayID  osm.WayID
}

// Options configures a Builder.
type Options struct {
	MaxID  int64       // ids above this abort the build; 0 means DefaultMaxID
	Logger *zap.Logger // nil means no logging

	// OnPass, if set, is called with the pass name before each pass.
	OnPass func(name string)
}

// Builder runs the index passes over a tag source.
type Builder struct {
	src      xmltag.Source
	opt      Options
	log      *zap.Logger
	warnings int
}

// NewBuilder returns a Builder reading src.
func NewBuilder(src xmltag.Source, opts ...Options) *Builder {
	var opt Options
	if len(opts) > 0 {
		opt = opts[0]
	}
	if opt.MaxID <= 0 {
		opt.MaxID = DefaultMaxID
	}
	log := opt.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Builder{src: src, opt: opt, log: log}
}

// Warnings returns the number of data-integrity warnings so far.
func (b *Builder) Warnings() int {
	return b.warnings
}

func (b *Builder) warn(msg string, fields ...zap.Field) {
	b.warnings++
	b.log.Warn(msg, fields...)
}

// Kind maps a tag to the element kind it carries.
func Kind(tag xmltag.Tag) (osm.Type, bool) {
	switch {
	case tag.Is("node"):
		return osm.TypeNode, true
	case tag.Is("way"):
		return osm.TypeWay, true
	}
	return "", false
}

// elementID reads the id attribute. Missing, malformed and negative ids
// are warned about by the count pass only; later passes skip them quietly.
func (b *Builder) elementID(kind osm.Type, tag xmltag.Tag, warn bool) (int64, bool) {
	id, err := tag.AttrInt("id")
	if err == nil && id < 0 {
		err = errors.Errorf("negative id %d", id)
	}
	if err != nil {
		if warn {
			b.warn("skipping element with bad id", zap.String("kind", string(kind)), zap.Error(err))
		}
		return 0, false
	}
	return id, true
}

// pass rewinds the source and feeds every tag to fn.
func (b *Builder) pass(name string, fn func(tag xmltag.Tag) error) error {
	if b.opt.OnPass != nil {
		b.opt.OnPass(name)
	}
	if err := b.src.Reset(); err != nil {
		return errors.Wrapf(err, "%s pass", name)
	}
	for b.src.Next() {
		if err := fn(b.src.Tag()); err != nil {
			return errors.Wrapf(err, "%s pass", name)
		}
	}
	if err := b.src.Err(); err != nil {
		return errors.Wrapf(err, "%s pass", name)
	}
	return nil
}

// Build runs all four passes.
func (b *Builder) Build() (*Index, Counts, error) {
	b.log.Info("counting nodes and ways")
	counts, err := b.Count()
	if err != nil {
		return nil, counts, err
	}
	b.log.Info("count complete",
		zap.Int64("nodes", counts.Nodes), zap.Int64("ways", counts.Ways),
		zap.Int64("max_node_id", int64(counts.MaxNodeID)), zap.Int64("max_way_id", int64(counts.MaxWayID)))

	idx := New(counts.MaxNodeID, counts.MaxWayID)

	b.log.Info("building node spatial index")
	if err := b.IndexNodes(idx); err != nil {
		return nil, counts, err
	}
	b.log.Info("building way spatial index")
	if err := b.IndexWays(idx); err != nil {
		return nil, counts, err
	}
	b.log.Info("rebuilding node spatial index")
	if err := b.ReindexNodes(idx); err != nil {
		return nil, counts, err
	}
	return idx, counts, nil
}

// Count scans every element for totals and highest ids.
func (b *Builder) Count() (Counts, error) {
	var c Counts
	err := b.pass("count", func(tag xmltag.Tag) error {
		kind, ok := Kind(tag)
		if !ok {
			return nil
		}
		id, ok := b.elementID(kind, tag, true)
		if !ok {
			return nil
		}
		if id > b.opt.MaxID {
			return errors.Wrapf(ErrIDTooLarge, "%s %d above %d", kind, id, b.opt.MaxID)
		}
		if kind == osm.TypeNode {
			c.Nodes++
			c.MaxNodeID = max(c.MaxNodeID, osm.NodeID(id))
		} else {
			c.Ways++
			c.MaxWayID = max(c.MaxWayID, osm.WayID(id))
		}
		return nil
	})
	return c, err
}

// IndexNodes stores the tile of every node's coordinate.
func (b *Builder) IndexNodes(idx *Index) error {
	return b.pass("node", func(tag xmltag.Tag) error {
		if !tag.Is("node") {
			return nil
		}
		id, ok := b.elementID(osm.TypeNode, tag, false)
		if !ok {
			return nil
		}
		lat, err := tag.AttrFloat("lat")
		if err != nil {
			b.warn("skipping node with bad coordinate", zap.Int64("id", id), zap.String("attr", "lat"), zap.Error(err))
			return nil
		}
		lon, err := tag.AttrFloat("lon")
		if err != nil {
			b.warn("skipping node with bad coordinate", zap.Int64("id", id), zap.String("attr", "lon"), zap.Error(err))
			return nil
		}
		if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
			b.warn("skipping node with non-finite coordinate", zap.Int64("id", id))
			return nil
		}
		if err := idx.Nodes.Set(osm.NodeID(id), bbox.ForPoint(lon, lat)); err != nil {
			b.warn("skipping node outside index", zap.Int64("id", id), zap.Error(err))
		}
		return nil
	})
}

// eachRef calls fn for every valid node ref of a way tag. Bad refs are
// warned about only when warn is set, so the same problem is not reported
// by both way passes.
func (b *Builder) eachRef(wayID int64, tag xmltag.Tag, warn bool, fn func(ref osm.NodeID)) {
	for ref, err := range tag.Refs() {
		if err != nil {
			if warn {
				b.warn("skipping malformed node ref", zap.Int64("way", wayID), zap.Error(err))
			}
			continue
		}
		fn(osm.NodeID(ref))
	}
}

// IndexWays unions the current bbox of each referenced node into its way.
func (b *Builder) IndexWays(idx *Index) error {
	return b.pass("way", func(tag xmltag.Tag) error {
		if !tag.Is("way") {
			return nil
		}
		id, ok := b.elementID(osm.TypeWay, tag, false)
		if !ok {
			return nil
		}
		wayID := osm.WayID(id)
		b.eachRef(id, tag, true, func(ref osm.NodeID) {
			nb, err := idx.Nodes.Get(ref)
			if err != nil {
				b.warn("way references node outside index", zap.Int64("way", id), zap.Int64("ref", int64(ref)))
				return
			}
			if _, err := idx.Ways.Union(wayID, nb); err != nil {
				b.warn("skipping way outside index", zap.Int64("way", id), zap.Error(err))
			}
		})
		return nil
	})
}

// ReindexNodes unions each finished way bbox back into its nodes.
func (b *Builder) ReindexNodes(idx *Index) error {
	return b.pass("node re-index", func(tag xmltag.Tag) error {
		if !tag.Is("way") {
			return nil
		}
		id, ok := b.elementID(osm.TypeWay, tag, false)
		if !ok {
			return nil
		}
		wb, err := idx.Ways.Get(osm.WayID(id))
		if err != nil || wb.IsEmpty() {
			return nil
		}
		b.eachRef(id, tag, false, func(ref osm.NodeID) {
			// Out of range refs were reported by the way pass.
			idx.Nodes.Union(ref, wb)
		})
		return nil
	})
}
