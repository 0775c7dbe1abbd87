package baseband

import (
	"encoding/binary"
	"fmt"
)

// mbnHeaderSize is the fixed-width MBN container header: nine little-endian
// uint32 fields locating the signed image and its signature blob within
// the file.
const mbnHeaderSize = 9 * 4

// MBNImage is a parsed MBN-format baseband image: the signature blob
// location within an otherwise-opaque backing buffer.
type MBNImage struct {
	buf           []byte
	signaturePtr  uint32
	signatureSize uint32
}

// ParseMBN parses an MBN-format baseband module.
func ParseMBN(data []byte) (*MBNImage, error) {
	if len(data) < mbnHeaderSize {
		return nil, fmt.Errorf("mbn: truncated header (%d bytes)", len(data))
	}

	signaturePtr := binary.LittleEndian.Uint32(data[20:24])
	signatureSize := binary.LittleEndian.Uint32(data[24:28])

	if uint64(signaturePtr)+uint64(signatureSize) > uint64(len(data)) {
		return nil, fmt.Errorf("mbn: signature region [%d:%d] out of bounds (len %d)", signaturePtr, signaturePtr+signatureSize, len(data))
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	return &MBNImage{buf: buf, signaturePtr: signaturePtr, signatureSize: signatureSize}, nil
}

// UpdateSignatureBlob replaces the image's signature blob with sig,
// growing or shrinking the backing buffer and rewriting the header's
// SignatureSize field as needed.
func (m *MBNImage) UpdateSignatureBlob(sig []byte) error {
	before := m.buf[:m.signaturePtr]
	after := m.buf[uint64(m.signaturePtr)+uint64(m.signatureSize):]

	newBuf := make([]byte, 0, len(before)+len(sig)+len(after))
	newBuf = append(newBuf, before...)
	newBuf = append(newBuf, sig...)
	newBuf = append(newBuf, after...)

	binary.LittleEndian.PutUint32(newBuf[24:28], uint32(len(sig)))

	m.buf = newBuf
	m.signatureSize = uint32(len(sig))
	return nil
}

// Size returns the serialized image's current length.
func (m *MBNImage) Size() int { return len(m.buf) }

// Bytes returns the image's current backing buffer.
func (m *MBNImage) Bytes() []byte { return m.buf }
