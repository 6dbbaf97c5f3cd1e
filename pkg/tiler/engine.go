// Package tiler copies indexed elements into per-tile output files while
// holding at most a fixed number of files open.
//
// Every export pass rescans the whole input. A tile is opened the first
// time an element needs it and the pool has room, receives every matching
// element for the rest of that pass, and is closed at the end of the pass
// for good. Elements for tiles that did not fit are dropped for this pass
// and picked up by a later one, so a tile's records are always written
// together, in input order.
package tiler

import (
	"io"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"osm_tiler/pkg/index"
	"osm_tiler/pkg/xmltag"
)

// Header and Footer wrap the records of every tile file.
const (
	Header = "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n<osm version=\"0.5\" generator=\"JOSM\">\n"
	Footer = "</osm>\n"
)

// ErrCreateTile is returned when a tile file cannot be created or written.
var ErrCreateTile = errors.New("tiler: cannot write tile file")

// Tile states. Positive values are 1 + the slot in the open pool.
const (
	unopened int32 = 0
	closed   int32 = -1
)

// Config configures an Engine.
type Config struct {
	MaxOpen int    // open tile limit, at least 1
	Opener  Opener // where tiles are written

	// Header and Footer default to the package constants.
	Header, Footer string

	Logger *zap.Logger

	// OnPassStart is called with the 1-based pass number before each scan.
	OnPassStart func(pass int)
	// OnPassDone receives the tiles closed by a pass. An error aborts the run.
	OnPassDone func(pass int, closed []Tile) error
}

// Stats summarises a run.
type Stats struct {
	Passes      int
	TilesClosed int
	Records     int64
}

type handle struct {
	tile Tile
	w    io.WriteCloser
}

// Engine holds the tile states of one export run.
type Engine struct {
	cfg Config
	src xmltag.Source
	idx *index.Index
	log *zap.Logger

	status []int32
	open   []handle
	short  bool
	stats  Stats
}

// NewEngine returns an engine exporting the elements of src placed by idx.
func NewEngine(src xmltag.Source, idx *index.Index, cfg Config) (*Engine, error) {
	if cfg.MaxOpen < 1 {
		return nil, errors.Errorf("tiler: max open files must be at least 1, got %d", cfg.MaxOpen)
	}
	if cfg.Opener == nil {
		return nil, errors.New("tiler: no opener")
	}
	if cfg.Header == "" {
		cfg.Header = Header
	}
	if cfg.Footer == "" {
		cfg.Footer = Footer
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		cfg:    cfg,
		src:    src,
		idx:    idx,
		log:    log,
		status: make([]int32, cols*rows),
		open:   make([]handle, 0, cfg.MaxOpen),
	}, nil
}

// MarkClosed records tiles finished by an earlier run so they are not
// rewritten.
func (e *Engine) MarkClosed(tiles []Tile) {
	for _, t := range tiles {
		if t, ok := Normalize(t.X, t.Y); ok {
			e.status[t.cell()] = closed
		}
	}
}

// Stats returns the totals so far.
func (e *Engine) Stats() Stats {
	return e.stats
}

// Run repeats export passes until one finishes without running out of
// handles.
func (e *Engine) Run() (Stats, error) {
	for {
		more, err := e.Pass()
		if err != nil {
			return e.stats, err
		}
		if !more {
			return e.stats, nil
		}
	}
}

// Pass runs one export pass. more reports whether some tile was skipped
// because the pool was full.
func (e *Engine) Pass() (more bool, err error) {
	e.stats.Passes++
	pass := e.stats.Passes
	e.short = false
	if e.cfg.OnPassStart != nil {
		e.cfg.OnPassStart(pass)
	}

	if err := e.scan(); err != nil {
		e.abort()
		return false, errors.Wrapf(err, "export pass %d", pass)
	}

	done, err := e.closeAll()
	if err != nil {
		return false, errors.Wrapf(err, "export pass %d", pass)
	}
	e.log.Info("export pass complete",
		zap.Int("pass", pass),
		zap.Int("closed", len(done)),
		zap.Int("tiles_closed", e.stats.TilesClosed),
		zap.Bool("more", e.short))
	if e.cfg.OnPassDone != nil {
		if err := e.cfg.OnPassDone(pass, done); err != nil {
			return false, errors.Wrapf(err, "export pass %d", pass)
		}
	}
	return e.short, nil
}

// scan writes every indexed element to its tiles. Elements with a bad id
// were reported by the index passes and are skipped here without a warning.
func (e *Engine) scan() error {
	if err := e.src.Reset(); err != nil {
		return err
	}
	for e.src.Next() {
		tag := e.src.Tag()
		kind, ok := index.Kind(tag)
		if !ok {
			continue
		}
		id, err := tag.AttrInt("id")
		if err != nil || id < 0 {
			continue
		}
		b, err := e.idx.Lookup(kind, id)
		if err != nil {
			e.log.Debug("skipping element outside index", zap.String("kind", string(kind)), zap.Int64("id", id))
			continue
		}
		r, ok := b.Decode()
		if !ok {
			// Nodes without a coordinate and ways without usable refs.
			continue
		}
		for t := range Tiles(r) {
			if err := e.write(t, tag.Raw()); err != nil {
				return err
			}
		}
	}
	return e.src.Err()
}

func (e *Engine) write(t Tile, raw []byte) error {
	c := t.cell()
	st := e.status[c]
	switch {
	case st == closed:
		return nil
	case st == unopened:
		if len(e.open) == e.cfg.MaxOpen {
			e.short = true
			return nil
		}
		w, err := e.cfg.Opener.Create(t)
		if err != nil {
			return errors.Wrapf(ErrCreateTile, "%s: %v", t.Name(), err)
		}
		e.open = append(e.open, handle{tile: t, w: w})
		st = int32(len(e.open))
		e.status[c] = st
		if _, err := io.WriteString(w, e.cfg.Header); err != nil {
			return errors.Wrapf(ErrCreateTile, "%s: %v", t.Name(), err)
		}
	}

	w := e.open[st-1].w
	if err := writeRecord(w, raw); err != nil {
		return errors.Wrapf(ErrCreateTile, "%s: %v", t.Name(), err)
	}
	e.stats.Records++
	return nil
}

func writeRecord(w io.Writer, raw []byte) error {
	if _, err := io.WriteString(w, "  "); err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// closeAll finishes every open tile.
func (e *Engine) closeAll() ([]Tile, error) {
	done := make([]Tile, 0, len(e.open))
	var first error
	for _, h := range e.open {
		e.status[h.tile.cell()] = closed
		_, err := io.WriteString(h.w, e.cfg.Footer)
		if cerr := h.w.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			if first == nil {
				first = errors.Wrapf(ErrCreateTile, "%s: %v", h.tile.Name(), err)
			}
			continue
		}
		done = append(done, h.tile)
	}
	e.open = e.open[:0]
	e.stats.TilesClosed += len(done)
	return done, first
}

// abort closes open tiles without a footer after a fatal error. They are
// left unopened so a resumed run rewrites them.
func (e *Engine) abort() {
	for _, h := range e.open {
		h.w.Close()
		e.status[h.tile.cell()] = unopened
	}
	e.open = e.open[:0]
}
