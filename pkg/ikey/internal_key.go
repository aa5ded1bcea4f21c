package ikey

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"hyperdb/pkg/types"
)

// An internal key is the user key followed by an 8-byte trailer packing
// the sequence number (high 56 bits) and the key kind (low 8 bits),
// little endian. Newer sequences order before older ones for the same
// user key.
const trailerLen = 8

// InternalKey is an encoded (user key, sequence, kind) triple.
type InternalKey []byte

func packTrailer(seq types.SequenceNumber, kind types.KeyKind) uint64 {
	return uint64(seq)<<8 | uint64(kind)
}

// Encode appends the trailer for (seq, kind) to ukey.
func Encode(ukey types.Key, seq types.SequenceNumber, kind types.KeyKind) InternalKey {
	ik := make([]byte, 0, len(ukey)+trailerLen)
	ik = append(ik, ukey...)
	ik = binary.LittleEndian.AppendUint64(ik, packTrailer(seq, kind))
	return ik
}

func (ik InternalKey) UserKey() types.Key {
	return ik[:len(ik)-trailerLen]
}

func (ik InternalKey) trailer() uint64 {
	return binary.LittleEndian.Uint64(ik[len(ik)-trailerLen:])
}

func (ik InternalKey) Seq() types.SequenceNumber {
	return types.SequenceNumber(ik.trailer() >> 8)
}

func (ik InternalKey) Kind() types.KeyKind {
	return types.KeyKind(ik.trailer() & 0xff)
}

// Parse splits an internal key, rejecting keys too short to carry a
// trailer.
func Parse(ik InternalKey) (ukey types.Key, seq types.SequenceNumber, kind types.KeyKind, err error) {
	if len(ik) < trailerLen {
		return nil, 0, 0, fmt.Errorf("internal key too short: %d bytes", len(ik))
	}
	return ik.UserKey(), ik.Seq(), ik.Kind(), nil
}

// Compare orders internal keys by ascending user key, then by
// descending sequence so the newest entry for a user key sorts first.
func Compare(a, b InternalKey) int {
	if r := bytes.Compare(a.UserKey(), b.UserKey()); r != 0 {
		return r
	}
	ta, tb := a.trailer(), b.trailer()
	switch {
	case ta > tb:
		return -1
	case ta < tb:
		return 1
	}
	return 0
}

// A memtable entry is a varint-length-prefixed internal key followed by
// a varint-length-prefixed value. The memtable itself treats entries as
// opaque and goes through EntryComparator for ordering and hashing.

// EncodeEntry builds a memtable entry for (ik, value).
func EncodeEntry(ik InternalKey, value types.Value) []byte {
	buf := make([]byte, 0, len(ik)+len(value)+2*binary.MaxVarintLen32)
	buf = binary.AppendUvarint(buf, uint64(len(ik)))
	buf = append(buf, ik...)
	buf = binary.AppendUvarint(buf, uint64(len(value)))
	buf = append(buf, value...)
	return buf
}

// EntryLen returns the encoded size of an entry for an internal key of
// ikLen bytes and a value of valLen bytes.
func EntryLen(ikLen, valLen int) int {
	return uvarintLen(uint64(ikLen)) + ikLen + uvarintLen(uint64(valLen)) + valLen
}

func uvarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// PutEntry encodes (ik, value) into dst, which must be EntryLen bytes.
func PutEntry(dst []byte, ik InternalKey, value types.Value) {
	n := binary.PutUvarint(dst, uint64(len(ik)))
	n += copy(dst[n:], ik)
	n += binary.PutUvarint(dst[n:], uint64(len(value)))
	copy(dst[n:], value)
}

// DecodeEntry splits an entry into its internal key and value.
func DecodeEntry(entry []byte) (ik InternalKey, value types.Value) {
	klen, n := binary.Uvarint(entry)
	ik = InternalKey(entry[n : n+int(klen)])
	rest := entry[n+int(klen):]
	vlen, n := binary.Uvarint(rest)
	return ik, rest[n : n+int(vlen)]
}

// EntryComparator is the comparator a memtable is built around. It
// understands the entry encoding above.
type EntryComparator struct{}

// Compare orders two encoded entries by their internal keys.
func (EntryComparator) Compare(a, b []byte) int {
	ka, _ := DecodeEntry(a)
	kb, _ := DecodeEntry(b)
	return Compare(ka, kb)
}

// CompareKey orders an encoded entry against a bare internal key.
func (EntryComparator) CompareKey(entry []byte, key []byte) int {
	ke, _ := DecodeEntry(entry)
	return Compare(ke, InternalKey(key))
}

// UserKey extracts the user key of an encoded entry, used for bucket
// hashing.
func (EntryComparator) UserKey(entry []byte) types.Key {
	ik, _ := DecodeEntry(entry)
	return ik.UserKey()
}

// InternalKey extracts the bare internal key of an encoded entry.
func (EntryComparator) InternalKey(entry []byte) []byte {
	ik, _ := DecodeEntry(entry)
	return ik
}

// UserKeyFromKey extracts the user key of a bare internal key.
func (EntryComparator) UserKeyFromKey(key []byte) []byte {
	return InternalKey(key).UserKey()
}

// LookupKey is the internal key a point lookup probes with: the user
// key at the highest visible sequence.
func LookupKey(ukey types.Key, seq types.SequenceNumber) InternalKey {
	return Encode(ukey, seq, types.KindValue)
}
