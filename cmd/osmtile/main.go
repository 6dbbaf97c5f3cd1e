// Command osmtile splits an OSM XML extract into gzip compressed 1°×1° tile
// files.
//
//	osmtile [flags] max_open_files input.osm[.gz]
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"osm_tiler/pkg/index"
	"osm_tiler/pkg/scanner"
	"osm_tiler/pkg/tiler"
	"osm_tiler/pkg/tileset"
	"osm_tiler/pkg/xmltag"
)

type config struct {
	maxOpen  int
	input    string
	out      string
	buffer   int
	maxID    int64
	index    string
	resume   bool
	manifest bool
	progress bool
}

func parseArgs(args []string, stderr io.Writer) (config, error) {
	var cfg config
	fs := flag.NewFlagSet("osmtile", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.out, "out", ".", "Output directory for tile files")
	fs.IntVar(&cfg.buffer, "buffer", scanner.DefaultCapacity, "Input window size in bytes; must exceed the largest element")
	fs.Int64Var(&cfg.maxID, "max-id", index.DefaultMaxID, "Abort if a node or way id exceeds this")
	fs.StringVar(&cfg.index, "index", "", "Index snapshot path: loaded if present, written after the index passes")
	fs.BoolVar(&cfg.resume, "resume", false, "Skip tiles recorded as finished in the output journal")
	fs.BoolVar(&cfg.manifest, "manifest", false, "Write "+tileset.ManifestName+" listing tiles in Hilbert order")
	fs.BoolVar(&cfg.progress, "progress", true, "Show a progress bar per pass")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: osmtile [flags] max_open_files input.osm[.gz]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return cfg, errors.New("expected max_open_files and input path")
	}
	n, err := strconv.Atoi(fs.Arg(0))
	if err != nil || n < 1 {
		return cfg, errors.Errorf("max_open_files must be a positive integer, got %q", fs.Arg(0))
	}
	cfg.maxOpen = n
	cfg.input = fs.Arg(1)
	return cfg, nil
}

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := parseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		logger.Error("invalid arguments", zap.Error(err))
		logger.Sync()
		os.Exit(2)
	}
	if err := run(cfg, logger); err != nil {
		logger.Error("tiling failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

// passBars starts a fresh byte counter for every pass over the input.
type passBars struct {
	s   *scanner.Scanner
	on  bool
	bar *progressbar.ProgressBar
}

func (p *passBars) start(desc string) {
	p.finish()
	if !p.on {
		return
	}
	p.bar = progressbar.DefaultBytes(-1, desc)
	p.s.SetProgress(p.bar)
}

func (p *passBars) finish() {
	if p.bar != nil {
		p.bar.Finish()
		p.bar = nil
	}
	p.s.SetProgress(nil)
}

func run(cfg config, logger *zap.Logger) error {
	start := time.Now()

	if n, capped := tiler.ClampOpen(cfg.maxOpen); capped {
		logger.Info("max open files capped at descriptor limit", zap.Int("requested", cfg.maxOpen), zap.Int("limit", n))
		cfg.maxOpen = n
	}
	if err := os.MkdirAll(cfg.out, 0755); err != nil {
		return errors.Wrap(err, "create output directory")
	}

	s, err := scanner.Open(cfg.input, cfg.buffer)
	if err != nil {
		return err
	}
	defer s.Close()
	src, err := xmltag.NewExtractor(s)
	if err != nil {
		return errors.Wrapf(err, "read %s", cfg.input)
	}
	fp, err := index.FingerprintFile(cfg.input, cfg.maxID)
	if err != nil {
		return err
	}
	bars := &passBars{s: s, on: cfg.progress}
	defer bars.finish()

	idx, counts, warnings, err := loadOrBuild(cfg, fp, src, bars, logger)
	if err != nil {
		return err
	}

	var done []tiler.Tile
	if cfg.resume {
		done, err = tileset.Resume(cfg.out, fp.String())
		if err != nil {
			return err
		}
		logger.Info("resuming export", zap.Int("finished_tiles", len(done)))
	} else if err := tileset.Reset(cfg.out); err != nil {
		return err
	}
	journal, err := tileset.OpenJournal(cfg.out, fp.String())
	if err != nil {
		return err
	}
	defer journal.Close()

	engine, err := tiler.NewEngine(src, idx, tiler.Config{
		MaxOpen: cfg.maxOpen,
		Opener:  tiler.DirOpener{Dir: cfg.out},
		Logger:  logger,
		OnPassStart: func(pass int) {
			bars.start(fmt.Sprintf("export pass %d", pass))
		},
		OnPassDone: func(_ int, closed []tiler.Tile) error {
			return journal.Append(closed)
		},
	})
	if err != nil {
		return err
	}
	engine.MarkClosed(done)

	stats, err := engine.Run()
	bars.finish()
	if err != nil {
		return err
	}

	if cfg.manifest {
		set, err := tileset.Open(cfg.out)
		if err != nil {
			return err
		}
		path, err := set.WriteManifest()
		if err != nil {
			return err
		}
		logger.Info("wrote manifest", zap.String("path", path), zap.Int("tiles", set.Len()))
	}

	logger.Info("done",
		zap.Duration("elapsed", time.Since(start).Round(time.Millisecond)),
		zap.Int64("nodes", counts.Nodes),
		zap.Int64("ways", counts.Ways),
		zap.Int("passes", stats.Passes),
		zap.Int("tiles", stats.TilesClosed+len(done)),
		zap.Int64("records", stats.Records),
		zap.Int("warnings", warnings))
	if warnings > 0 {
		logger.Warn("input had data problems; affected elements were skipped", zap.Int("warnings", warnings))
	}
	return nil
}

// loadOrBuild reads the index snapshot if one exists and was built from the
// same input, otherwise runs the index passes and writes the snapshot when a
// path was given. The returned warning count covers the index passes,
// including those replayed from a snapshot.
func loadOrBuild(cfg config, fp index.Fingerprint, src xmltag.Source, bars *passBars, logger *zap.Logger) (*index.Index, index.Counts, int, error) {
	if cfg.index != "" {
		if _, err := os.Stat(cfg.index); err == nil {
			idx, counts, meta, err := index.ReadBinary(cfg.index)
			if err != nil {
				return nil, counts, 0, errors.Wrapf(err, "load index %s", cfg.index)
			}
			if meta.Input == fp {
				logger.Info("loaded index snapshot", zap.String("path", cfg.index),
					zap.Int64("nodes", counts.Nodes), zap.Int64("ways", counts.Ways),
					zap.Int("warnings", meta.Warnings))
				return idx, counts, meta.Warnings, nil
			}
			logger.Info("index snapshot does not match input; rebuilding", zap.String("path", cfg.index),
				zap.Stringer("snapshot", meta.Input), zap.Stringer("input", fp))
		}
	}

	b := index.NewBuilder(src, index.Options{
		MaxID:  cfg.maxID,
		Logger: logger,
		OnPass: func(name string) { bars.start(name + " pass") },
	})
	idx, counts, err := b.Build()
	bars.finish()
	if err != nil {
		return nil, counts, 0, err
	}

	if cfg.index != "" {
		meta := index.Meta{Input: fp, Warnings: b.Warnings()}
		if err := index.WriteBinary(cfg.index, idx, counts, meta); err != nil {
			return nil, counts, 0, errors.Wrapf(err, "write index %s", cfg.index)
		}
		logger.Info("wrote index snapshot", zap.String("path", cfg.index))
	}
	return idx, counts, b.Warnings(), nil
}
