// Package ftab parses and composes the tagged firmware table container
// used by the Rose and Timer payloads: a 4-byte container tag followed by
// a sequence of entries individually addressable by their own 4-byte tag.
package ftab

import (
	"encoding/binary"
	"fmt"

	"github.com/stek29/idevicerestore/internal/logger"
)

// ExpectedContainerTag is the tag a well-formed boot-RTKit FTAB carries; a
// mismatch is logged as a warning, not treated as an error.
const ExpectedContainerTag = "rkos"

// RecoveryEntryTag is the entry copied out of a companion recovery FTAB
// when composing the base FTAB for a restore.
const RecoveryEntryTag = "rrko"

const (
	headerSize     = 8 // container tag (4) + entry count (4)
	entryHeaderLen = 12 // tag (4) + offset (4) + length (4)
)

// Entry is one tagged payload within an FTAB container.
type Entry struct {
	Tag  string
	Data []byte
}

// FTAB is a parsed tagged firmware table.
type FTAB struct {
	ContainerTag string
	entries      []Entry
	byTag        map[string]int
}

// Parse decodes an FTAB container from data.
func Parse(data []byte) (*FTAB, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("ftab: truncated header (%d bytes)", len(data))
	}

	containerTag := string(data[0:4])
	count := binary.LittleEndian.Uint32(data[4:8])

	if containerTag != ExpectedContainerTag {
		logger.Warn("ftab container tag mismatch", logger.Tag(containerTag))
	}

	f := &FTAB{ContainerTag: containerTag, byTag: map[string]int{}}

	tableOff := headerSize
	for i := uint32(0); i < count; i++ {
		recOff := tableOff + int(i)*entryHeaderLen
		if recOff+entryHeaderLen > len(data) {
			return nil, fmt.Errorf("ftab: truncated entry table at index %d", i)
		}

		tag := string(data[recOff : recOff+4])
		entryOff := binary.LittleEndian.Uint32(data[recOff+4 : recOff+8])
		entryLen := binary.LittleEndian.Uint32(data[recOff+8 : recOff+12])

		if uint64(entryOff)+uint64(entryLen) > uint64(len(data)) {
			return nil, fmt.Errorf("ftab: entry %q range [%d:%d] out of bounds", tag, entryOff, entryOff+entryLen)
		}

		payload := make([]byte, entryLen)
		copy(payload, data[entryOff:entryOff+entryLen])

		f.byTag[tag] = len(f.entries)
		f.entries = append(f.entries, Entry{Tag: tag, Data: payload})
	}

	return f, nil
}

// Get returns the entry with the given tag, if present.
func (f *FTAB) Get(tag string) ([]byte, bool) {
	idx, ok := f.byTag[tag]
	if !ok {
		return nil, false
	}
	return f.entries[idx].Data, true
}

// Put replaces the entry with the given tag, or appends a new one if
// absent.
func (f *FTAB) Put(tag string, data []byte) {
	if idx, ok := f.byTag[tag]; ok {
		f.entries[idx].Data = data
		return
	}
	f.byTag[tag] = len(f.entries)
	f.entries = append(f.entries, Entry{Tag: tag, Data: data})
}

// ComposeWithRecovery builds a new FTAB from base, additionally copying
// recovery's RecoveryEntryTag entry into it when recovery is non-nil and
// carries that entry -- matching the driver's "base FTAB plus companion
// recovery FTAB's rrko entry" composition rule.
func ComposeWithRecovery(base *FTAB, recovery *FTAB) *FTAB {
	if recovery == nil {
		return base
	}
	if data, ok := recovery.Get(RecoveryEntryTag); ok {
		base.Put(RecoveryEntryTag, data)
	}
	return base
}

// Serialize writes the FTAB back out to its binary container format.
func (f *FTAB) Serialize() []byte {
	tableSize := len(f.entries) * entryHeaderLen
	dataOff := headerSize + tableSize

	var data []byte
	table := make([]byte, tableSize)

	offsets := make([]uint32, len(f.entries))
	cursor := dataOff
	for i, e := range f.entries {
		offsets[i] = uint32(cursor)
		data = append(data, e.Data...)
		cursor += len(e.Data)
	}

	for i, e := range f.entries {
		recOff := i * entryHeaderLen
		copy(table[recOff:recOff+4], []byte(e.Tag))
		binary.LittleEndian.PutUint32(table[recOff+4:recOff+8], offsets[i])
		binary.LittleEndian.PutUint32(table[recOff+8:recOff+12], uint32(len(e.Data)))
	}

	out := make([]byte, 0, dataOff+len(data))
	header := make([]byte, headerSize)
	copy(header[0:4], []byte(f.ContainerTag))
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(f.entries)))

	out = append(out, header...)
	out = append(out, table...)
	out = append(out, data...)
	return out
}
