package table

import (
	"encoding/binary"
	"fmt"
	"io"
)

// The builtin factories implement the dispatch contract only: readers
// verify the footer magic, writers emit it. Block layout, indexes and
// filters belong to the format implementations plugged in by the
// engine.

type builtinFactory struct {
	name   string
	magic  uint64 // written into new files
	accept []uint64
}

func NewBlockBasedFactory() Factory {
	return &builtinFactory{
		name:   "block-based",
		magic:  BlockBasedMagic,
		accept: []uint64{BlockBasedMagic, LegacyBlockBasedMagic},
	}
}

func NewPlainFactory() Factory {
	return &builtinFactory{
		name:   "plain",
		magic:  PlainMagic,
		accept: []uint64{PlainMagic, LegacyPlainMagic},
	}
}

func NewCuckooFactory() Factory {
	return &builtinFactory{
		name:   "cuckoo",
		magic:  CuckooMagic,
		accept: []uint64{CuckooMagic},
	}
}

func (f *builtinFactory) Name() string { return f.name }

func (f *builtinFactory) NewReader(r io.ReaderAt, size int64) (Reader, error) {
	magic, err := ReadFooterMagic(r, size)
	if err != nil {
		return nil, err
	}
	known := false
	for _, m := range f.accept {
		if magic == m {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("table: %s reader opened on %s file",
			f.name, FormatName(magic))
	}
	return &builtinReader{format: f.name}, nil
}

func (f *builtinFactory) NewWriter(w io.Writer) (Writer, error) {
	return &builtinWriter{format: f.name, magic: f.magic, w: w}, nil
}

type builtinReader struct {
	format string
}

func (r *builtinReader) Format() string { return r.format }
func (r *builtinReader) Close() error   { return nil }

type builtinWriter struct {
	format string
	magic  uint64
	w      io.Writer
	closed bool
}

func (w *builtinWriter) Format() string { return w.format }

// Close finishes the file with the format's footer magic.
func (w *builtinWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	var buf [footerMagicLen]byte
	binary.LittleEndian.PutUint64(buf[:], w.magic)
	_, err := w.w.Write(buf[:])
	return err
}
