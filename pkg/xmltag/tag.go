package xmltag

import (
	"bytes"
	"iter"
	"strconv"

	"github.com/pkg/errors"
)

// ErrAttrMissing is returned when a tag head has no such attribute.
var ErrAttrMissing = errors.New("xmltag: attribute not found")

var ndRef = []byte(`<nd ref="`)

// Tag is one located element: its head and, unless self-closing, its body
// and closing tag.
type Tag struct {
	raw     []byte
	headLen int
	nameEnd int
}

// NewTag wraps a span returned by FindNext.
func NewTag(raw []byte) Tag {
	t := Tag{raw: raw, headLen: len(raw)}
	if i := bytes.IndexByte(raw, '>'); i >= 0 {
		t.headLen = i + 1
	}
	t.nameEnd = 1
	if len(raw) > 1 && (raw[1] == '/' || raw[1] == '!' || raw[1] == '?') {
		t.nameEnd = 2
	}
	for t.nameEnd < t.headLen && !isNameEnd(raw[t.nameEnd]) {
		t.nameEnd++
	}
	return t
}

// Raw returns the full span of the tag.
func (t Tag) Raw() []byte { return t.raw }

// Head returns the opening tag, through its '>'.
func (t Tag) Head() []byte { return t.raw[:t.headLen] }

// Name returns the element name.
func (t Tag) Name() string {
	if len(t.raw) == 0 {
		return ""
	}
	return string(t.raw[1:t.nameEnd])
}

// Is reports whether the element is named name.
func (t Tag) Is(name string) bool {
	return len(t.raw) > 0 && string(t.raw[1:t.nameEnd]) == name
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

// Attr returns the raw value of name="..." in the tag head. The match must
// start a whitespace-separated attribute, so "id" never matches "uid".
func (t Tag) Attr(name string) ([]byte, bool) {
	head := t.Head()
	n := len(name)
	for i := t.nameEnd; i+n+2 <= len(head); i++ {
		if !isSpace(head[i-1]) || string(head[i:i+n]) != name || head[i+n] != '=' || head[i+n+1] != '"' {
			continue
		}
		v := head[i+n+2:]
		if j := bytes.IndexByte(v, '"'); j >= 0 {
			return v[:j], true
		}
		return nil, false
	}
	return nil, false
}

// AttrString is Attr as a string.
func (t Tag) AttrString(name string) (string, bool) {
	v, ok := t.Attr(name)
	return string(v), ok
}

// AttrInt parses an integer attribute.
func (t Tag) AttrInt(name string) (int64, error) {
	v, ok := t.Attr(name)
	if !ok {
		return 0, errors.Wrap(ErrAttrMissing, name)
	}
	n, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "attribute %s", name)
	}
	return n, nil
}

// AttrFloat parses a floating point attribute.
func (t Tag) AttrFloat(name string) (float64, error) {
	v, ok := t.Attr(name)
	if !ok {
		return 0, errors.Wrap(ErrAttrMissing, name)
	}
	f, err := strconv.ParseFloat(string(v), 64)
	if err != nil {
		return 0, errors.Wrapf(err, "attribute %s", name)
	}
	return f, nil
}

// Refs yields the ids of every <nd ref="..."> inside the tag, in order.
// A ref that does not parse is yielded with its error and iteration goes on.
func (t Tag) Refs() iter.Seq2[int64, error] {
	return func(yield func(int64, error) bool) {
		body := t.raw
		for {
			i := bytes.Index(body, ndRef)
			if i < 0 {
				return
			}
			body = body[i+len(ndRef):]
			j := bytes.IndexByte(body, '"')
			if j < 0 {
				yield(0, errors.Errorf("unterminated nd ref %.20q", body))
				return
			}
			id, err := strconv.ParseInt(string(body[:j]), 10, 64)
			if err != nil {
				err = errors.Wrapf(err, "nd ref")
			}
			if !yield(id, err) {
				return
			}
			body = body[j+1:]
		}
	}
}
