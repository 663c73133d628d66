package directory_service

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/AnishMulay/simplefs/internal/volume"
)

const headerSize = 8

type Kind int

const (
	KindEntry Kind = iota
	KindEnd
)

// Record is one decoded directory record. Offset is its byte position in the directory region.
type Record struct {
	Kind     Kind
	Offset   int
	Inode    uint32
	RecLen   uint16
	FileType uint8
	Name     string
}

// RecordLength is the span of a real record holding a name of nameLen bytes plus its NUL.
func RecordLength(nameLen int) uint16 {
	return uint16(headerSize + volume.RoundUp(nameLen+1, 4))
}

// EndRecordSize is the room an end marker needs after the last entry.
const EndRecordSize = headerSize

func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, "/\x00"):
		return fmt.Errorf("%w: %q contains a separator or NUL", ErrInvalidName, name)
	case len(name) > volume.MaxNameLen:
		return fmt.Errorf("%w: %d bytes, limit %d", ErrNameTooLong, len(name), volume.MaxNameLen)
	}
	return nil
}

// DecodeRecord reads the record at off, checking every length against the region.
func DecodeRecord(region []byte, off int) (Record, error) {
	if off < 0 || off+headerSize > len(region) {
		return Record{}, fmt.Errorf("%w: record header at %d runs past the directory", ErrCorrupt, off)
	}

	le := binary.LittleEndian
	rec := Record{
		Offset:   off,
		Inode:    le.Uint32(region[off:]),
		RecLen:   le.Uint16(region[off+4:]),
		FileType: region[off+7],
	}
	nameLen := int(region[off+6])

	if rec.RecLen >= volume.EndMarkerRecLen {
		if rec.Inode != 0 {
			return Record{}, fmt.Errorf("%w: end marker at %d carries inode %d", ErrCorrupt, off, rec.Inode)
		}
		rec.Kind = KindEnd
		return rec, nil
	}

	switch {
	case rec.Inode == 0:
		return Record{}, fmt.Errorf("%w: entry at %d has no inode", ErrCorrupt, off)
	case nameLen == 0:
		return Record{}, fmt.Errorf("%w: entry at %d has an empty name", ErrCorrupt, off)
	case rec.RecLen < RecordLength(nameLen) || rec.RecLen%4 != 0:
		return Record{}, fmt.Errorf("%w: entry at %d has record length %d for a %d-byte name", ErrCorrupt, off, rec.RecLen, nameLen)
	case off+int(rec.RecLen) > len(region):
		return Record{}, fmt.Errorf("%w: entry at %d runs past the directory", ErrCorrupt, off)
	}

	rec.Kind = KindEntry
	rec.Name = string(region[off+headerSize : off+headerSize+nameLen])
	return rec, nil
}

// EncodeEntry writes a real record at off. The caller guarantees room for it.
func EncodeEntry(region []byte, off int, inode uint32, fileType uint8, name string) uint16 {
	recLen := RecordLength(len(name))
	span := region[off : off+int(recLen)]
	clear(span)

	le := binary.LittleEndian
	le.PutUint32(span[0:], inode)
	le.PutUint16(span[4:], recLen)
	span[6] = uint8(len(name))
	span[7] = fileType
	copy(span[headerSize:], name)
	return recLen
}

func EncodeEnd(region []byte, off int) {
	span := region[off : off+EndRecordSize]
	clear(span)
	binary.LittleEndian.PutUint16(span[4:], volume.EndMarkerRecLen)
}

// Walk visits every entry in order and returns the end marker. A region with no reachable end
// marker is corrupt.
func Walk(region []byte, visit func(Record) bool) (Record, error) {
	off := 0
	for {
		rec, err := DecodeRecord(region, off)
		if err != nil {
			return Record{}, err
		}
		if rec.Kind == KindEnd {
			return rec, nil
		}
		if visit != nil && !visit(rec) {
			return rec, nil
		}
		off += int(rec.RecLen)
	}
}
