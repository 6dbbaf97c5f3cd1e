package index

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"unsafe"

	"github.com/paulmach/osm"
	"github.com/pkg/errors"

	"osm_tiler/pkg/bbox"
)

const (
	magicBytes = "OSMTIDX\x00"
	version    = uint32(2)
	maxCells   = DefaultMaxID + 1
)

// fileHeader is the snapshot header.
type fileHeader struct {
	Magic        [8]byte
	Version      uint32
	InputSize    int64
	InputModTime int64
	InputHead    uint32
	MaxID        int64
	Warnings     int64
	NodeCount    int64
	WayCount     int64
	NumNodeCells uint64
	NumWayCells  uint64
}

// Meta is what a snapshot records besides the tables.
type Meta struct {
	Input    Fingerprint // the input the index was built from
	Warnings int         // index pass warnings, replayed in later reports
}

// WriteBinary saves a finished index so a later run over the same input can
// skip the index passes. The file is written beside path and renamed into
// place.
func WriteBinary(path string, idx *Index, counts Counts, meta Meta) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer func() {
		f.Close()
		os.Remove(tmpPath) // clean up on error
	}()

	crcWriter := crc32Writer{w: f, hash: crc32.NewIEEE()}
	w := &crcWriter

	hdr := fileHeader{
		Version:      version,
		InputSize:    meta.Input.Size,
		InputModTime: meta.Input.ModTime,
		InputHead:    meta.Input.Head,
		MaxID:        meta.Input.MaxID,
		Warnings:     int64(meta.Warnings),
		NodeCount:    counts.Nodes,
		WayCount:     counts.Ways,
		NumNodeCells: uint64(idx.Nodes.Len()),
		NumWayCells:  uint64(idx.Ways.Len()),
	}
	copy(hdr.Magic[:], magicBytes)
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return errors.Wrap(err, "write header")
	}

	if err := writeBBoxSlice(w, idx.Nodes.cells); err != nil {
		return errors.Wrap(err, "write nodes")
	}
	if err := writeBBoxSlice(w, idx.Ways.cells); err != nil {
		return errors.Wrap(err, "write ways")
	}

	checksum := crcWriter.hash.Sum32()
	if err := binary.Write(f, binary.LittleEndian, checksum); err != nil {
		return errors.Wrap(err, "write CRC32")
	}

	if err := f.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return errors.Wrap(err, "rename")
	}
	return nil
}

// ReadBinary loads an index written by WriteBinary. Callers compare
// meta.Input with the current input before trusting it.
func ReadBinary(path string) (*Index, Counts, Meta, error) {
	var counts Counts
	var meta Meta

	f, err := os.Open(path)
	if err != nil {
		return nil, counts, meta, errors.Wrap(err, "open")
	}
	defer f.Close()

	crcReader := crc32Reader{r: f, hash: crc32.NewIEEE()}
	r := &crcReader

	var hdr fileHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, counts, meta, errors.Wrap(err, "read header")
	}
	if string(hdr.Magic[:]) != magicBytes {
		return nil, counts, meta, errors.Errorf("invalid magic bytes: %q", hdr.Magic)
	}
	if hdr.Version != version {
		return nil, counts, meta, errors.Errorf("unsupported version: %d", hdr.Version)
	}
	if hdr.NumNodeCells == 0 || hdr.NumNodeCells > maxCells || hdr.NumWayCells == 0 || hdr.NumWayCells > maxCells {
		return nil, counts, meta, errors.Errorf("table sizes %d/%d outside [1,%d]", hdr.NumNodeCells, hdr.NumWayCells, uint64(maxCells))
	}

	nodes, err := readBBoxSlice(r, int(hdr.NumNodeCells))
	if err != nil {
		return nil, counts, meta, errors.Wrap(err, "read nodes")
	}
	ways, err := readBBoxSlice(r, int(hdr.NumWayCells))
	if err != nil {
		return nil, counts, meta, errors.Wrap(err, "read ways")
	}

	expectedCRC := crcReader.hash.Sum32()
	var storedCRC uint32
	if err := binary.Read(f, binary.LittleEndian, &storedCRC); err != nil {
		return nil, counts, meta, errors.Wrap(err, "read CRC32")
	}
	if storedCRC != expectedCRC {
		return nil, counts, meta, errors.Errorf("CRC32 mismatch: stored=%08x computed=%08x", storedCRC, expectedCRC)
	}

	idx := &Index{Nodes: &Table[osm.NodeID]{cells: nodes}, Ways: &Table[osm.WayID]{cells: ways}}
	counts = Counts{
		Nodes:     hdr.NodeCount,
		Ways:      hdr.WayCount,
		MaxNodeID: osm.NodeID(len(nodes) - 1),
		MaxWayID:  osm.WayID(len(ways) - 1),
	}
	meta = Meta{
		Input: Fingerprint{
			Size:    hdr.InputSize,
			ModTime: hdr.InputModTime,
			Head:    hdr.InputHead,
			MaxID:   hdr.MaxID,
		},
		Warnings: int(hdr.Warnings),
	}
	return idx, counts, meta, nil
}

// Zero-copy I/O helpers using unsafe.Slice. Snapshots are host-endian.

func writeBBoxSlice(w io.Writer, s []bbox.BBox) error {
	if len(s) == 0 {
		return nil
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*4)
	_, err := w.Write(b)
	return err
}

func readBBoxSlice(r io.Reader, n int) ([]bbox.BBox, error) {
	s := make([]bbox.BBox, n)
	b := unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), n*4)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return s, nil
}

// CRC32 wrapping writers/readers.

type crc32Hash interface {
	Write([]byte) (int, error)
	Sum32() uint32
}

type crc32Writer struct {
	w    io.Writer
	hash crc32Hash
}

func (cw *crc32Writer) Write(p []byte) (int, error) {
	cw.hash.Write(p)
	return cw.w.Write(p)
}

type crc32Reader struct {
	r    io.Reader
	hash crc32Hash
}

func (cr *crc32Reader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.hash.Write(p[:n])
	}
	return n, err
}
