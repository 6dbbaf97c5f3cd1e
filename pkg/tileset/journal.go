package tileset

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"osm_tiler/pkg/tiler"
)

// JournalName is the file in the tile directory listing finished tiles.
const JournalName = ".osmtile-journal"

// inputPrefix starts the journal's first line, which names the input the
// listed tiles were cut from.
const inputPrefix = "# input "

// ErrJournalInput is returned when a journal belongs to another input.
var ErrJournalInput = errors.New("tileset: journal was written for a different input")

// Journal appends the names of closed tiles so an interrupted export can
// resume without rewriting them.
type Journal struct {
	f *os.File
}

// OpenJournal opens the journal of dir for appending, creating it if
// needed. A new journal starts with a line naming input.
func OpenJournal(dir, input string) (*Journal, error) {
	f, err := os.OpenFile(filepath.Join(dir, JournalName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "open journal")
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "open journal")
	}
	if fi.Size() == 0 {
		if _, err := f.WriteString(inputPrefix + input + "\n"); err != nil {
			f.Close()
			return nil, errors.Wrap(err, "write journal header")
		}
	}
	return &Journal{f: f}, nil
}

// Append records tiles and syncs the file. Tiles are written only after
// their footer, so a listed tile is always complete.
func (j *Journal) Append(tiles []tiler.Tile) error {
	if len(tiles) == 0 {
		return nil
	}
	var sb strings.Builder
	for _, t := range tiles {
		sb.WriteString(t.Name())
		sb.WriteByte('\n')
	}
	if _, err := j.f.WriteString(sb.String()); err != nil {
		return errors.Wrap(err, "append journal")
	}
	return errors.Wrap(j.f.Sync(), "sync journal")
}

// Close closes the journal.
func (j *Journal) Close() error {
	return j.f.Close()
}

// ReadJournal returns the input named by dir's journal and the tiles it
// records. A missing journal is empty. A final line without a newline was
// cut short by a crash and is ignored.
func ReadJournal(dir string) (input string, tiles []tiler.Tile, err error) {
	data, err := os.ReadFile(filepath.Join(dir, JournalName))
	if os.IsNotExist(err) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, errors.Wrap(err, "read journal")
	}

	sc := bufio.NewScanner(strings.NewReader(string(data)))
	complete := strings.Count(string(data), "\n")
	for line := 0; sc.Scan() && line < complete; line++ {
		text := sc.Text()
		if line == 0 {
			if v, ok := strings.CutPrefix(text, inputPrefix); ok {
				input = v
				continue
			}
		}
		name := strings.TrimSpace(text)
		if name == "" {
			continue
		}
		t, err := ParseName(name)
		if err != nil {
			return "", nil, errors.Wrapf(err, "journal line %d", line+1)
		}
		tiles = append(tiles, t)
	}
	if err := sc.Err(); err != nil {
		return "", nil, errors.Wrap(err, "read journal")
	}
	return input, tiles, nil
}

// Resume returns the tiles dir's journal lists as finished for input. It
// fails with ErrJournalInput when the journal lists tiles cut from
// anything else. A journal for another input that lists no tiles is
// removed so the next OpenJournal starts it afresh.
func Resume(dir, input string) ([]tiler.Tile, error) {
	got, tiles, err := ReadJournal(dir)
	if err != nil {
		return nil, err
	}
	if got == input {
		return tiles, nil
	}
	if len(tiles) > 0 {
		return nil, errors.Wrapf(ErrJournalInput, "journal has %q, input is %q", got, input)
	}
	return nil, Reset(dir)
}

// Reset removes dir's journal before a fresh export.
func Reset(dir string) error {
	err := os.Remove(filepath.Join(dir, JournalName))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove journal")
	}
	return nil
}
