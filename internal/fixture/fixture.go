// Package fixture writes small synthetic OSM XML documents for tests.
package fixture

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// Header is the document prolog written before the elements.
const Header = "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n<osm version=\"0.6\" generator=\"fixture\">\n"

// Footer closes the document.
const Footer = "</osm>\n"

// Tag is a k/v pair on an element.
type Tag struct{ K, V string }

// Node is a <node> element.
type Node struct {
	ID       int64
	Lat, Lon float64
	Tags     []Tag
}

// Way is a <way> element.
type Way struct {
	ID   int64
	Refs []int64
	Tags []Tag
}

// Doc is a whole document. Elements are written nodes first, then ways,
// then any Extra text verbatim.
type Doc struct {
	Nodes []Node
	Ways  []Way
	Extra string
}

func writeTags(sb *strings.Builder, tags []Tag) {
	for _, t := range tags {
		fmt.Fprintf(sb, "\n    <tag k=%q v=%q/>", t.K, t.V)
	}
}

// XML returns the element text as it appears in the document.
func (n Node) XML() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `<node id="%d" lat="%s" lon="%s"`, n.ID,
		strconv.FormatFloat(n.Lat, 'f', -1, 64), strconv.FormatFloat(n.Lon, 'f', -1, 64))
	if len(n.Tags) == 0 {
		sb.WriteString("/>")
		return sb.String()
	}
	sb.WriteString(">")
	writeTags(&sb, n.Tags)
	sb.WriteString("\n  </node>")
	return sb.String()
}

// XML returns the element text as it appears in the document.
func (w Way) XML() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `<way id="%d">`, w.ID)
	for _, ref := range w.Refs {
		fmt.Fprintf(&sb, "\n    <nd ref=\"%d\"/>", ref)
	}
	writeTags(&sb, w.Tags)
	sb.WriteString("\n  </way>")
	return sb.String()
}

// Bytes renders the document.
func (d Doc) Bytes() []byte {
	var sb strings.Builder
	sb.WriteString(Header)
	for _, n := range d.Nodes {
		sb.WriteString("  " + n.XML() + "\n")
	}
	for _, w := range d.Ways {
		sb.WriteString("  " + w.XML() + "\n")
	}
	sb.WriteString(d.Extra)
	sb.WriteString(Footer)
	return []byte(sb.String())
}

// Write stores the document under dir and returns its path. Names ending
// in ".gz" are gzip compressed.
func Write(t testing.TB, dir, name string, d Doc) string {
	t.Helper()
	data := d.Bytes()
	if strings.HasSuffix(name, ".gz") {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			t.Fatalf("gzip %s: %v", name, err)
		}
		if err := zw.Close(); err != nil {
			t.Fatalf("gzip %s: %v", name, err)
		}
		data = buf.Bytes()
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// CrossTile is two nodes in tiles (0,0) and (1,0) joined by one way, plus a
// point of interest alone in tile (5,5).
func CrossTile() Doc {
	return Doc{
		Nodes: []Node{
			{ID: 1, Lat: 0.5, Lon: 0.5},
			{ID: 2, Lat: 0.5, Lon: 1.5},
			{ID: 3, Lat: 5.5, Lon: 5.5, Tags: []Tag{{K: "amenity", V: "cafe"}}},
		},
		Ways: []Way{
			{ID: 10, Refs: []int64{1, 2}, Tags: []Tag{{K: "highway", V: "residential"}}},
		},
	}
}
