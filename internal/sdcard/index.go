package sdcard

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// Index record layout, little-endian, matching the packed struct written by
// earlier firmware:
//
//	0   photo_count    u16
//	2   last_path      [100]byte, NUL terminated
//	102 padding        [2]byte
//	104 last_timestamp u32
//	108 crc32          u32 over bytes 0..107
const (
	IndexSize   = 112
	PathSize    = 100
	crcOffset   = 108
	tsOffset    = 104
	pathOffset  = 2
	countOffset = 0
)

var (
	// ErrIndexSize is returned when the record has the wrong length
	ErrIndexSize = errors.New("photo index has wrong size")
	// ErrIndexChecksum is returned when the stored CRC does not match
	ErrIndexChecksum = errors.New("photo index checksum mismatch")
)

// Index summarises the photos on the card
type Index struct {
	Count         uint16
	LastPath      string
	LastTimestamp uint32 // unix seconds, 0 if the clock was unsynced
	CRC           uint32
}

// payload serialises everything but the CRC
func (idx Index) payload() []byte {
	buf := make([]byte, IndexSize)
	binary.LittleEndian.PutUint16(buf[countOffset:], idx.Count)
	path := idx.LastPath
	if len(path) > PathSize-1 {
		path = path[:PathSize-1]
	}
	copy(buf[pathOffset:pathOffset+PathSize], path)
	binary.LittleEndian.PutUint32(buf[tsOffset:], idx.LastTimestamp)
	return buf
}

// Checksum computes the CRC over the record payload
func (idx Index) Checksum() uint32 {
	return crc32.ChecksumIEEE(idx.payload()[:crcOffset])
}

// Valid reports whether the stored CRC matches the content
func (idx Index) Valid() bool {
	return idx.CRC == idx.Checksum()
}

// Seal returns a copy with a fresh CRC and the path truncated to fit
func (idx Index) Seal() Index {
	if len(idx.LastPath) > PathSize-1 {
		idx.LastPath = idx.LastPath[:PathSize-1]
	}
	idx.CRC = idx.Checksum()
	return idx
}

// EncodeIndex serialises idx with a freshly computed CRC
func EncodeIndex(idx Index) []byte {
	buf := idx.payload()
	binary.LittleEndian.PutUint32(buf[crcOffset:], crc32.ChecksumIEEE(buf[:crcOffset]))
	return buf
}

// DecodeIndex parses a record and verifies its CRC. On a checksum mismatch
// the parsed fields are still returned for inspection.
func DecodeIndex(data []byte) (Index, error) {
	if len(data) != IndexSize {
		return Index{}, fmt.Errorf("%w: %d bytes", ErrIndexSize, len(data))
	}
	idx := Index{
		Count:         binary.LittleEndian.Uint16(data[countOffset:]),
		LastTimestamp: binary.LittleEndian.Uint32(data[tsOffset:]),
		CRC:           binary.LittleEndian.Uint32(data[crcOffset:]),
	}
	path := data[pathOffset : pathOffset+PathSize]
	if n := bytes.IndexByte(path, 0); n >= 0 {
		path = path[:n]
	}
	idx.LastPath = string(path)

	if sum := crc32.ChecksumIEEE(data[:crcOffset]); sum != idx.CRC {
		return idx, fmt.Errorf("%w: stored %08x, computed %08x", ErrIndexChecksum, idx.CRC, sum)
	}
	return idx, nil
}
