package baseband

import (
	"encoding/binary"
	"fmt"
)

// FLS modules are a sequence of tagged, length-prefixed entries: a 4-byte
// ASCII tag, a 4-byte little-endian length, and the entry's payload. The
// packager only needs to find, replace, and insert entries by tag; it
// does not otherwise interpret entry contents.
type flsEntry struct {
	tag  string
	data []byte
}

// FLSImage is a parsed FLS-format baseband module.
type FLSImage struct {
	entries []flsEntry
}

const flsEntryHeaderSize = 8

// ParseFLS parses an FLS-format baseband module into its tagged entries.
func ParseFLS(data []byte) (*FLSImage, error) {
	var entries []flsEntry
	off := 0
	for off < len(data) {
		if off+flsEntryHeaderSize > len(data) {
			return nil, fmt.Errorf("fls: truncated entry header at offset %d", off)
		}
		tag := string(data[off : off+4])
		length := binary.LittleEndian.Uint32(data[off+4 : off+8])
		off += flsEntryHeaderSize

		if uint64(off)+uint64(length) > uint64(len(data)) {
			return nil, fmt.Errorf("fls: entry %q length %d exceeds remaining data", tag, length)
		}

		payload := make([]byte, length)
		copy(payload, data[off:off+int(length)])
		entries = append(entries, flsEntry{tag: tag, data: payload})
		off += int(length)
	}
	return &FLSImage{entries: entries}, nil
}

// UpdateSignatureBlob replaces the entry tagged "SIGN" with sig, or
// appends a new one if absent.
func (f *FLSImage) UpdateSignatureBlob(sig []byte) error {
	return f.setEntry("SIGN", sig)
}

// InsertTicket replaces (or appends) the entry tagged "TCKT" with the
// ticket blob, used on the baseband nonce-present FLS code path.
func (f *FLSImage) InsertTicket(ticket []byte) error {
	return f.setEntry("TCKT", ticket)
}

func (f *FLSImage) setEntry(tag string, data []byte) error {
	if len(tag) != 4 {
		return fmt.Errorf("fls: tag %q must be exactly 4 bytes", tag)
	}
	for i := range f.entries {
		if f.entries[i].tag == tag {
			f.entries[i].data = data
			return nil
		}
	}
	f.entries = append(f.entries, flsEntry{tag: tag, data: data})
	return nil
}

// Size returns the serialized image's current length.
func (f *FLSImage) Size() int {
	return len(f.Bytes())
}

// Bytes serializes the image's entries back to their tagged wire format.
func (f *FLSImage) Bytes() []byte {
	var out []byte
	for _, e := range f.entries {
		var header [8]byte
		copy(header[:4], []byte(e.tag))
		binary.LittleEndian.PutUint32(header[4:8], uint32(len(e.data)))
		out = append(out, header[:]...)
		out = append(out, e.data...)
	}
	return out
}
