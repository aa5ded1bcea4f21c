package table

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// Table magic numbers, stored in the trailing 8 bytes of a file footer,
// little endian.
const (
	BlockBasedMagic       uint64 = 0x88e241b785f4cff7
	LegacyBlockBasedMagic uint64 = 0xdb4775248b80fb57
	PlainMagic            uint64 = 0x8242229663bf9564
	LegacyPlainMagic      uint64 = 0x4f3418eb7a8f13b8
	CuckooMagic           uint64 = 0x926789d0c5f17873
)

const footerMagicLen = 8

// Reader is a table reader handed out by a factory. The formats
// themselves are external collaborators; the dispatch layer only cares
// that a reader exists per format.
type Reader interface {
	Format() string
	Close() error
}

// Writer builds a table file. Close finishes the footer.
type Writer interface {
	Format() string
	Close() error
}

// Factory creates readers and writers for one table format.
type Factory interface {
	Name() string
	NewReader(f io.ReaderAt, size int64) (Reader, error)
	NewWriter(w io.Writer) (Writer, error)
}

// ReadFooterMagic reads the table magic from the end of a file.
func ReadFooterMagic(f io.ReaderAt, size int64) (uint64, error) {
	if size < footerMagicLen {
		return 0, fmt.Errorf("table: file too small for a footer: %d bytes", size)
	}
	var buf [footerMagicLen]byte
	if _, err := f.ReadAt(buf[:], size-footerMagicLen); err != nil {
		return 0, fmt.Errorf("table: read footer: %w", err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

var (
	magicNamesOnce sync.Once
	magicNames     map[uint64]string
)

// FormatName resolves a magic number to its format name for
// diagnostics. The table is process-wide, initialized once on first
// use.
func FormatName(magic uint64) string {
	magicNamesOnce.Do(func() {
		magicNames = map[uint64]string{
			BlockBasedMagic:       "block-based",
			LegacyBlockBasedMagic: "block-based (legacy)",
			PlainMagic:            "plain",
			LegacyPlainMagic:      "plain (legacy)",
			CuckooMagic:           "cuckoo",
		}
	})
	if name, ok := magicNames[magic]; ok {
		return name
	}
	return "unknown"
}
