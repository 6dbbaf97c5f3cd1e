package index

import (
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/pkg/errors"
)

// headBytes is how much of the input the fingerprint checksums.
const headBytes = 64 << 10

// Fingerprint identifies the input an index was built from, together with
// the id bound it was built under.
type Fingerprint struct {
	Size    int64
	ModTime int64 // unix nanoseconds
	Head    uint32
	MaxID   int64
}

// FingerprintFile fingerprints the file at path. Head is the CRC32 of its
// first 64 KiB as stored, compressed or not.
func FingerprintFile(path string, maxID int64) (Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return Fingerprint{}, errors.Wrap(err, "fingerprint input")
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return Fingerprint{}, errors.Wrap(err, "fingerprint input")
	}
	h := crc32.NewIEEE()
	if _, err := io.CopyN(h, f, headBytes); err != nil && err != io.EOF {
		return Fingerprint{}, errors.Wrap(err, "fingerprint input")
	}
	return Fingerprint{
		Size:    fi.Size(),
		ModTime: fi.ModTime().UnixNano(),
		Head:    h.Sum32(),
		MaxID:   maxID,
	}, nil
}

func (fp Fingerprint) String() string {
	return fmt.Sprintf("size=%d mtime=%d head=%08x max-id=%d", fp.Size, fp.ModTime, fp.Head, fp.MaxID)
}
