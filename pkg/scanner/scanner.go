// Package scanner pages a plain or gzip compressed stream through a fixed
// in-memory window, so inputs far larger than memory can be scanned with
// simple byte-slice searches.
//
// Callers hold an integer cursor into Bytes(). Advance slides the bytes
// from the cursor down to offset zero and refills the free space behind
// them, returning the cursor's new position.
package scanner

import (
	"bufio"
	"compress/gzip"
	"io"
	"os"

	"github.com/pkg/errors"
)

// DefaultCapacity is the window size used when none is given.
const DefaultCapacity = 64 << 20

var gzipMagic = []byte{0x1f, 0x8b}

// Progress receives the number of decompressed bytes read into the window.
// *progressbar.ProgressBar satisfies it.
type Progress interface {
	Add(num int) error
}

// Scanner is a rewindable window over a byte stream.
type Scanner struct {
	rs     io.ReadSeeker
	gz     *gzip.Reader
	r      io.Reader
	closer io.Closer

	buf []byte
	end int
	eof bool
	err error

	progress Progress
}

// Open opens path for scanning. Gzip input is detected by its magic bytes.
func Open(path string, capacity int) (*Scanner, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	s, err := New(f, capacity)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "scan %s", path)
	}
	s.closer = f
	return s, nil
}

// New wraps rs, which must be positioned at its start.
func New(rs io.ReadSeeker, capacity int) (*Scanner, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &Scanner{rs: rs, buf: make([]byte, capacity)}

	var magic [2]byte
	n, err := io.ReadFull(rs, magic[:])
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, errors.Wrap(err, "read magic")
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "seek to start")
	}

	if n == 2 && magic[0] == gzipMagic[0] && magic[1] == gzipMagic[1] {
		s.gz, err = gzip.NewReader(bufio.NewReader(rs))
		if err != nil {
			return nil, errors.Wrap(err, "gzip header")
		}
		s.r = s.gz
	} else {
		s.r = rs
	}

	s.fill()
	return s, nil
}

// SetProgress installs a byte counter that is fed on every refill.
func (s *Scanner) SetProgress(p Progress) {
	s.progress = p
}

// Bytes returns the valid part of the window. The slice is only valid
// until the next Advance or Reset.
func (s *Scanner) Bytes() []byte {
	return s.buf[:s.end]
}

// Len returns the number of valid bytes in the window.
func (s *Scanner) Len() int {
	return s.end
}

// Cap returns the window capacity.
func (s *Scanner) Cap() int {
	return len(s.buf)
}

// EOF reports whether the underlying stream is exhausted.
func (s *Scanner) EOF() bool {
	return s.eof
}

// Err returns the first read error, if any. A read error ends the stream.
func (s *Scanner) Err() error {
	return s.err
}

func (s *Scanner) fill() int {
	if s.eof || s.end == len(s.buf) {
		return 0
	}
	n, err := io.ReadFull(s.r, s.buf[s.end:])
	s.end += n
	switch {
	case err == io.EOF || err == io.ErrUnexpectedEOF:
		s.eof = true
	case err != nil:
		s.err = errors.Wrap(err, "read")
		s.eof = true
	}
	if n > 0 && s.progress != nil {
		s.progress.Add(n)
	}
	return n
}

// Advance pages the window forward without losing cursor. Bytes before
// cursor are discarded, the rest moves to offset zero and the free space is
// refilled from the stream. It returns the cursor's new position and
// whether anything changed; false means no forward progress is possible:
// the stream is exhausted and the cursor was already at the window start,
// or the window is full and the cursor pins it.
func (s *Scanner) Advance(cursor int) (int, bool) {
	cursor = min(max(cursor, 0), s.end)
	moved := false
	if cursor > 0 {
		copy(s.buf, s.buf[cursor:s.end])
		s.end -= cursor
		cursor = 0
		moved = true
	}
	n := s.fill()
	return cursor, moved || n > 0
}

// Reset rewinds the stream to its start and refills the window.
func (s *Scanner) Reset() error {
	if _, err := s.rs.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "rewind")
	}
	if s.gz != nil {
		if err := s.gz.Reset(bufio.NewReader(s.rs)); err != nil {
			return errors.Wrap(err, "rewind gzip")
		}
	}
	s.end = 0
	s.eof = false
	s.err = nil
	s.fill()
	return s.err
}

// Close releases the stream. Scanners built with New leave the caller's
// reader open.
func (s *Scanner) Close() error {
	if s.gz != nil {
		s.gz.Close()
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
