package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/osm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"osm_tiler/internal/fixture"
	"osm_tiler/pkg/bbox"
	"osm_tiler/pkg/scanner"
	"osm_tiler/pkg/xmltag"
)

func openSource(t *testing.T, path string, capacity int) xmltag.Source {
	t.Helper()
	s, err := scanner.Open(path, capacity)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	x, err := xmltag.NewExtractor(s)
	require.NoError(t, err)
	return x
}

func rect(t *testing.T, b bbox.BBox) bbox.Rect {
	t.Helper()
	r, ok := b.Decode()
	require.True(t, ok, "bbox is empty")
	return r
}

func TestTable(t *testing.T) {
	tbl := NewTable(osm.NodeID(3))
	assert.Equal(t, 4, tbl.Len())

	b, err := tbl.Get(3)
	require.NoError(t, err)
	assert.Equal(t, bbox.Empty, b)

	require.NoError(t, tbl.Set(2, bbox.ForPoint(0.5, 0.5)))
	got, err := tbl.Union(2, bbox.ForPoint(1.5, 0.5))
	require.NoError(t, err)
	assert.Equal(t, bbox.Rect{West: 0, South: 0, East: 1, North: 0}, rect(t, got))

	for _, id := range []osm.NodeID{-1, 4, 1 << 40} {
		_, err := tbl.Get(id)
		assert.ErrorIs(t, err, ErrIDOutOfRange)
		assert.ErrorIs(t, tbl.Set(id, bbox.Empty), ErrIDOutOfRange)
		_, err = tbl.Union(id, bbox.Empty)
		assert.ErrorIs(t, err, ErrIDOutOfRange)
	}

	tbl.Clear()
	b, _ = tbl.Get(2)
	assert.Equal(t, bbox.Empty, b)
}

func TestLookup(t *testing.T) {
	idx := New(1, 1)
	require.NoError(t, idx.Nodes.Set(1, bbox.Make(1, 1, 1, 1)))
	require.NoError(t, idx.Ways.Set(1, bbox.Make(2, 2, 2, 2)))

	b, err := idx.Lookup(osm.TypeNode, 1)
	require.NoError(t, err)
	assert.Equal(t, bbox.Make(1, 1, 1, 1), b)

	b, err = idx.Lookup(osm.TypeWay, 1)
	require.NoError(t, err)
	assert.Equal(t, bbox.Make(2, 2, 2, 2), b)

	_, err = idx.Lookup(osm.TypeRelation, 1)
	assert.Error(t, err)
}

func TestBuildCrossTile(t *testing.T) {
	dir := t.TempDir()
	doc := fixture.CrossTile()

	tests := []struct {
		name     string
		file     string
		capacity int
	}{
		{name: "plain large window", file: "in.osm", capacity: 1 << 20},
		{name: "gzip large window", file: "in.osm.gz", capacity: 1 << 20},
		{name: "gzip small window", file: "small.osm.gz", capacity: 128},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := fixture.Write(t, dir, tt.file, doc)
			var passes []string
			b := NewBuilder(openSource(t, path, tt.capacity), Options{
				OnPass: func(name string) { passes = append(passes, name) },
			})

			idx, counts, err := b.Build()
			require.NoError(t, err)
			assert.Equal(t, []string{"count", "node", "way", "node re-index"}, passes)
			assert.Equal(t, Counts{Nodes: 3, Ways: 1, MaxNodeID: 3, MaxWayID: 10}, counts)
			assert.Equal(t, 0, b.Warnings())

			both := bbox.Rect{West: 0, South: 0, East: 1, North: 0}

			way, err := idx.Ways.Get(10)
			require.NoError(t, err)
			assert.Equal(t, both, rect(t, way))

			for _, id := range []osm.NodeID{1, 2} {
				nb, err := idx.Nodes.Get(id)
				require.NoError(t, err)
				assert.Equal(t, both, rect(t, nb), "node %d spans both tiles after re-indexing", id)
			}

			poi, err := idx.Nodes.Get(3)
			require.NoError(t, err)
			assert.Equal(t, bbox.Rect{West: 5, South: 5, East: 5, North: 5}, rect(t, poi))

			unused, err := idx.Nodes.Get(0)
			require.NoError(t, err)
			assert.True(t, unused.IsEmpty())
		})
	}
}

func TestWayPassUsesNodeBBoxes(t *testing.T) {
	dir := t.TempDir()
	path := fixture.Write(t, dir, "in.osm", fixture.CrossTile())
	b := NewBuilder(openSource(t, path, 1<<20))

	counts, err := b.Count()
	require.NoError(t, err)
	idx := New(counts.MaxNodeID, counts.MaxWayID)
	require.NoError(t, b.IndexNodes(idx))

	// Before the way passes each node has only its own tile.
	n1, _ := idx.Nodes.Get(1)
	assert.Equal(t, bbox.Rect{West: 0, South: 0, East: 0, North: 0}, rect(t, n1))

	require.NoError(t, b.IndexWays(idx))
	n1, _ = idx.Nodes.Get(1)
	assert.Equal(t, bbox.Rect{West: 0, South: 0, East: 0, North: 0}, rect(t, n1), "way pass does not touch nodes")

	require.NoError(t, b.ReindexNodes(idx))
	n1, _ = idx.Nodes.Get(1)
	assert.Equal(t, bbox.Rect{West: 0, South: 0, East: 1, North: 0}, rect(t, n1))
}

func TestBuildBadRef(t *testing.T) {
	dir := t.TempDir()
	doc := fixture.Doc{
		Nodes: []fixture.Node{{ID: 1, Lat: 0.5, Lon: 0.5}},
		Ways: []fixture.Way{
			{ID: 7, Refs: []int64{1, 999999}},
		},
		Extra: "  <way id=\"8\">\n    <nd ref=\"oops\"/>\n    <nd ref=\"1\"/>\n  </way>\n",
	}
	path := fixture.Write(t, dir, "in.osm", doc)

	core, logs := observer.New(zapcore.WarnLevel)
	b := NewBuilder(openSource(t, path, 1<<20), Options{Logger: zap.New(core)})

	idx, _, err := b.Build()
	require.NoError(t, err)

	way, err := idx.Ways.Get(7)
	require.NoError(t, err)
	assert.Equal(t, bbox.Rect{West: 0, South: 0, East: 0, North: 0}, rect(t, way))

	way8, err := idx.Ways.Get(8)
	require.NoError(t, err)
	assert.Equal(t, bbox.Rect{West: 0, South: 0, East: 0, North: 0}, rect(t, way8))

	refWarnings := logs.FilterMessage("way references node outside index").All()
	require.Len(t, refWarnings, 1, "reported once, by the way pass")
	assert.Equal(t, int64(999999), refWarnings[0].ContextMap()["ref"])
	assert.Equal(t, int64(7), refWarnings[0].ContextMap()["way"])

	assert.Equal(t, 1, logs.FilterMessage("skipping malformed node ref").Len())
	assert.Equal(t, 2, b.Warnings())
}

func TestBuildBadAttributes(t *testing.T) {
	dir := t.TempDir()
	doc := fixture.Doc{
		Nodes: []fixture.Node{{ID: 1, Lat: 0.5, Lon: 0.5}},
		Extra: "  <node id=\"2\" lat=\"north\" lon=\"1.5\"/>\n" +
			"  <node id=\"3\" lon=\"1.5\"/>\n" +
			"  <node lat=\"1\" lon=\"1\"/>\n" +
			"  <node id=\"-4\" lat=\"1\" lon=\"1\"/>\n" +
			"  <node id=\"5\" lat=\"NaN\" lon=\"1\"/>\n",
	}
	path := fixture.Write(t, dir, "in.osm", doc)

	core, logs := observer.New(zapcore.WarnLevel)
	b := NewBuilder(openSource(t, path, 1<<20), Options{Logger: zap.New(core)})

	idx, counts, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, osm.NodeID(5), counts.MaxNodeID)
	assert.Equal(t, int64(4), counts.Nodes)

	for _, id := range []osm.NodeID{2, 3, 5} {
		nb, err := idx.Nodes.Get(id)
		require.NoError(t, err)
		assert.True(t, nb.IsEmpty(), "node %d", id)
	}

	badCoord := logs.FilterMessage("skipping node with bad coordinate").All()
	require.Len(t, badCoord, 2)
	assert.Equal(t, "lat", badCoord[0].ContextMap()["attr"])
	assert.Equal(t, int64(2), badCoord[0].ContextMap()["id"])
	assert.Equal(t, "lat", badCoord[1].ContextMap()["attr"])
	assert.Equal(t, int64(3), badCoord[1].ContextMap()["id"])

	assert.Equal(t, 2, logs.FilterMessage("skipping element with bad id").Len())
	assert.Equal(t, 1, logs.FilterMessage("skipping node with non-finite coordinate").Len())
	assert.Equal(t, 5, b.Warnings())
}

func TestBuildIDTooLarge(t *testing.T) {
	dir := t.TempDir()
	doc := fixture.Doc{Nodes: []fixture.Node{{ID: 1}, {ID: 101}}}
	path := fixture.Write(t, dir, "in.osm", doc)

	b := NewBuilder(openSource(t, path, 1<<20), Options{MaxID: 100})
	_, _, err := b.Build()
	assert.ErrorIs(t, err, ErrIDTooLarge)
	assert.Contains(t, err.Error(), "node 101")
}

func TestBinaryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := fixture.Write(t, dir, "in.osm.gz", fixture.CrossTile())
	idx, counts, err := NewBuilder(openSource(t, path, 1<<20)).Build()
	require.NoError(t, err)

	fp, err := FingerprintFile(path, DefaultMaxID)
	require.NoError(t, err)
	meta := Meta{Input: fp, Warnings: 3}

	snap := filepath.Join(dir, "index.bin")
	require.NoError(t, WriteBinary(snap, idx, counts, meta))
	_, err = os.Stat(snap + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file removed")

	loaded, loadedCounts, loadedMeta, err := ReadBinary(snap)
	require.NoError(t, err)
	assert.Equal(t, counts, loadedCounts)
	assert.Equal(t, meta, loadedMeta)
	assert.Equal(t, idx.Nodes.cells, loaded.Nodes.cells)
	assert.Equal(t, idx.Ways.cells, loaded.Ways.cells)
}

func TestBinaryCorruption(t *testing.T) {
	dir := t.TempDir()
	idx := New(2, 2)
	require.NoError(t, idx.Nodes.Set(1, bbox.Make(1, 2, 3, 4)))
	snap := filepath.Join(dir, "index.bin")
	require.NoError(t, WriteBinary(snap, idx, Counts{Nodes: 1}, Meta{}))

	data, err := os.ReadFile(snap)
	require.NoError(t, err)

	flipped := append([]byte(nil), data...)
	flipped[len(flipped)-6] ^= 0xFF
	require.NoError(t, os.WriteFile(snap, flipped, 0644))
	_, _, _, err = ReadBinary(snap)
	assert.ErrorContains(t, err, "CRC32 mismatch")

	badMagic := append([]byte(nil), data...)
	badMagic[0] = 'X'
	require.NoError(t, os.WriteFile(snap, badMagic, 0644))
	_, _, _, err = ReadBinary(snap)
	assert.ErrorContains(t, err, "invalid magic")

	require.NoError(t, os.WriteFile(snap, data[:10], 0644))
	_, _, _, err = ReadBinary(snap)
	assert.Error(t, err)

	_, _, _, err = ReadBinary(filepath.Join(dir, "missing.bin"))
	assert.Error(t, err)
}

func TestFingerprintFile(t *testing.T) {
	dir := t.TempDir()
	a := fixture.Write(t, dir, "a.osm", fixture.CrossTile())
	b := fixture.Write(t, dir, "b.osm", fixture.Doc{
		Nodes: []fixture.Node{{ID: 1, Lat: 7.5, Lon: 7.5}, {ID: 2, Lat: 7.5, Lon: 8.5}},
	})

	fa, err := FingerprintFile(a, 100)
	require.NoError(t, err)
	again, err := FingerprintFile(a, 100)
	require.NoError(t, err)
	assert.Equal(t, fa, again)

	other, err := FingerprintFile(a, 200)
	require.NoError(t, err)
	assert.NotEqual(t, fa, other, "id bound is part of the fingerprint")

	fb, err := FingerprintFile(b, 100)
	require.NoError(t, err)
	assert.NotEqual(t, fa, fb)
	assert.NotEqual(t, fa.Head, fb.Head)
	assert.Contains(t, fa.String(), "max-id=100")

	_, err = FingerprintFile(filepath.Join(dir, "missing.osm"), 100)
	assert.Error(t, err)
}
