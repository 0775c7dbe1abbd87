package baseband

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildMBN constructs an MBN file: header + bodyLen zero bytes + a
// sigSize-byte signature (filled with 0xAA) + trailing. The header's
// signature pointer/size fields are set to the signature's actual
// absolute offset and length.
func buildMBN(t *testing.T, bodyLen int, sigSize uint32, trailing []byte) []byte {
	t.Helper()

	sigPtr := uint32(mbnHeaderSize + bodyLen)

	buf := make([]byte, mbnHeaderSize)
	binary.LittleEndian.PutUint32(buf[20:24], sigPtr)
	binary.LittleEndian.PutUint32(buf[24:28], sigSize)

	body := make([]byte, bodyLen)
	sig := make([]byte, sigSize)
	for i := range sig {
		sig[i] = 0xAA
	}

	out := append([]byte{}, buf...)
	out = append(out, body...)
	out = append(out, sig...)
	out = append(out, trailing...)
	return out
}

func TestParseMBNRejectsTruncatedHeader(t *testing.T) {
	t.Parallel()
	_, err := ParseMBN([]byte{0x01, 0x02})
	assert.Error(t, err)
}

func TestParseMBNRejectsOutOfBoundsSignature(t *testing.T) {
	t.Parallel()
	data := make([]byte, mbnHeaderSize)
	binary.LittleEndian.PutUint32(data[20:24], 1000)
	binary.LittleEndian.PutUint32(data[24:28], 10)
	_, err := ParseMBN(data)
	assert.Error(t, err)
}

func TestMBNUpdateSignatureBlobPreservesTrailingData(t *testing.T) {
	t.Parallel()

	trailing := []byte{0xde, 0xad}
	data := buildMBN(t, 0, 4, trailing)

	m, err := ParseMBN(data)
	require.NoError(t, err)

	newSig := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	require.NoError(t, m.UpdateSignatureBlob(newSig))

	out := m.Bytes()
	sizeField := binary.LittleEndian.Uint32(out[24:28])
	assert.Equal(t, uint32(len(newSig)), sizeField)

	assert.Equal(t, newSig, out[mbnHeaderSize:mbnHeaderSize+len(newSig)])
	assert.Equal(t, trailing, out[mbnHeaderSize+len(newSig):])
	assert.Equal(t, mbnHeaderSize+len(newSig)+len(trailing), m.Size())
}
