package table

import (
	"fmt"
	"io"

	"hyperdb/pkg/dberrors"
)

// AdaptiveFactory reads the file footer and routes to the right reader
// factory by table magic. Writes always delegate to the single
// configured writer factory.
type AdaptiveFactory struct {
	write      Factory
	blockBased Factory
	plain      Factory
	cuckoo     Factory
}

// NewAdaptiveFactory fills nil slots with the builtin factories; a nil
// write factory defaults to the block-based one.
func NewAdaptiveFactory(write, blockBased, plain, cuckoo Factory) *AdaptiveFactory {
	if blockBased == nil {
		blockBased = NewBlockBasedFactory()
	}
	if plain == nil {
		plain = NewPlainFactory()
	}
	if cuckoo == nil {
		cuckoo = NewCuckooFactory()
	}
	if write == nil {
		write = blockBased
	}
	return &AdaptiveFactory{
		write:      write,
		blockBased: blockBased,
		plain:      plain,
		cuckoo:     cuckoo,
	}
}

func (a *AdaptiveFactory) Name() string { return "adaptive" }

func (a *AdaptiveFactory) NewReader(f io.ReaderAt, size int64) (Reader, error) {
	magic, err := ReadFooterMagic(f, size)
	if err != nil {
		return nil, err
	}
	switch magic {
	case PlainMagic, LegacyPlainMagic:
		return a.plain.NewReader(f, size)
	case BlockBasedMagic, LegacyBlockBasedMagic:
		return a.blockBased.NewReader(f, size)
	case CuckooMagic:
		return a.cuckoo.NewReader(f, size)
	default:
		return nil, fmt.Errorf("%w: magic %#x", dberrors.ErrUnsupportedTableFormat, magic)
	}
}

func (a *AdaptiveFactory) NewWriter(w io.Writer) (Writer, error) {
	return a.write.NewWriter(w)
}
