// Package xmltag finds markup tags in a scanner window without parsing the
// document. It is not a validating XML parser: it looks for '<', reads the
// tag name, and either stops at the head's '>' or searches for the literal
// "</name>" that closes it. Entities are never decoded.
package xmltag

import (
	"bytes"
	"io"

	"github.com/pkg/errors"

	"osm_tiler/pkg/scanner"
)

// SkipPoint is how close to the end of the window a scan may get before the
// window is paged forward.
const SkipPoint = 64 << 10

var (
	ErrBadHeader   = errors.New("xmltag: unexpected document header")
	ErrTagTooLarge = errors.New("xmltag: tag does not fit in the scanner window")
	ErrTruncated   = errors.New("xmltag: input ends inside a tag")
)

// Source is a restartable sequence of tags. Tags returned by Tag alias
// internal buffers and are only valid until the next call to Next.
type Source interface {
	// Reset rewinds to the first element after the document header.
	Reset() error
	Next() bool
	Tag() Tag
	Err() error
}

func overflow(s *scanner.Scanner) error {
	if s.EOF() {
		return ErrTruncated
	}
	return ErrTagTooLarge
}

func isNameEnd(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '/', '>':
		return true
	}
	return false
}

// FindNext locates the next tag at or after pos and returns its span in
// s.Bytes(). The window may be paged while searching, so pos is invalid
// afterwards and only the returned offsets may be used.
//
// The span ends after the head's '>' when the head ends in "/>" or "?>",
// when it is a declaration, comment or closing tag, or when noClose is set.
// Otherwise it ends after the matching "</name>". io.EOF means the input
// holds no further tags.
func FindNext(s *scanner.Scanner, pos int, noClose bool) (start, end int, err error) {
	var ok bool
	for {
		if s.Len()-pos < SkipPoint {
			pos, _ = s.Advance(pos)
		}
		if i := bytes.IndexByte(s.Bytes()[pos:], '<'); i >= 0 {
			start = pos + i
			break
		}
		if pos, ok = s.Advance(s.Len()); !ok {
			return 0, 0, io.EOF
		}
	}

	// Head: everything up to the first '>'.
	headLen := 0
	for from := 1; ; {
		buf := s.Bytes()
		if i := bytes.IndexByte(buf[start+from:], '>'); i >= 0 {
			headLen = from + i + 1
			break
		}
		from = len(buf) - start
		if start, ok = s.Advance(start); !ok {
			return 0, 0, overflow(s)
		}
	}

	buf := s.Bytes()
	head := buf[start : start+headLen]
	if noClose || len(head) < 3 {
		return start, start + headLen, nil
	}
	switch head[1] {
	case '/', '!', '?':
		return start, start + headLen, nil
	}
	if c := head[len(head)-2]; c == '/' || c == '?' {
		return start, start + headLen, nil
	}

	nameEnd := 1
	for nameEnd < len(head) && !isNameEnd(head[nameEnd]) {
		nameEnd++
	}
	closeSeq := make([]byte, 0, nameEnd+2)
	closeSeq = append(closeSeq, '<', '/')
	closeSeq = append(closeSeq, head[1:nameEnd]...)
	closeSeq = append(closeSeq, '>')

	for from := headLen; ; {
		buf := s.Bytes()
		if k := bytes.Index(buf[start+from:], closeSeq); k >= 0 {
			return start, start + from + k + len(closeSeq), nil
		}
		from = max(from, len(buf)-start-len(closeSeq)+1)
		if start, ok = s.Advance(start); !ok {
			return 0, 0, overflow(s)
		}
	}
}

// Extractor is a Source over an OSM XML document held by a scanner.
type Extractor struct {
	s   *scanner.Scanner
	pos int
	tag Tag
	err error
}

// NewExtractor returns an Extractor positioned after the document header.
func NewExtractor(s *scanner.Scanner) (*Extractor, error) {
	x := &Extractor{s: s}
	if err := x.readHeader(); err != nil {
		return nil, err
	}
	return x, nil
}

// readHeader consumes the "<?xml ...?>" declaration and the "<osm ...>" root
// head without looking for the root's close.
func (x *Extractor) readHeader() error {
	for _, prefix := range []string{"<?xml", "<osm"} {
		start, end, err := FindNext(x.s, x.pos, true)
		if err == io.EOF {
			return errors.Wrapf(ErrBadHeader, "missing %s", prefix)
		}
		if err != nil {
			return err
		}
		if !bytes.HasPrefix(x.s.Bytes()[start:end], []byte(prefix)) {
			return errors.Wrapf(ErrBadHeader, "want %s, got %.20q", prefix, x.s.Bytes()[start:end])
		}
		x.pos = end
	}
	return nil
}

// Reset rewinds the scanner and skips the header again.
func (x *Extractor) Reset() error {
	if err := x.s.Reset(); err != nil {
		return err
	}
	x.pos = 0
	x.tag = Tag{}
	x.err = nil
	return x.readHeader()
}

// Next advances to the next tag.
func (x *Extractor) Next() bool {
	if x.err != nil {
		return false
	}
	start, end, err := FindNext(x.s, x.pos, false)
	if err != nil {
		if err != io.EOF {
			x.err = err
		}
		x.tag = Tag{}
		return false
	}
	x.tag = NewTag(x.s.Bytes()[start:end])
	x.pos = end
	return true
}

// Tag returns the current tag.
func (x *Extractor) Tag() Tag {
	return x.tag
}

// Err returns the error that stopped the sequence, if any.
func (x *Extractor) Err() error {
	if x.err != nil {
		return x.err
	}
	return x.s.Err()
}
