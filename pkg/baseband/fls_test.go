package baseband

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFLSRoundTrip(t *testing.T) {
	t.Parallel()

	img := &FLSImage{}
	require.NoError(t, img.setEntry("HDR1", []byte{0x01, 0x02}))
	require.NoError(t, img.setEntry("BODY", []byte{0x03}))

	reparsed, err := ParseFLS(img.Bytes())
	require.NoError(t, err)
	require.Len(t, reparsed.entries, 2)
	assert.Equal(t, "HDR1", reparsed.entries[0].tag)
	assert.Equal(t, []byte{0x01, 0x02}, reparsed.entries[0].data)
	assert.Equal(t, "BODY", reparsed.entries[1].tag)
}

func TestParseFLSRejectsTruncatedHeader(t *testing.T) {
	t.Parallel()
	_, err := ParseFLS([]byte{0x01, 0x02, 0x03})
	assert.Error(t, err)
}

func TestParseFLSRejectsOversizedEntry(t *testing.T) {
	t.Parallel()

	data := []byte{'T', 'A', 'G', '1', 0xFF, 0xFF, 0x00, 0x00}
	_, err := ParseFLS(data)
	assert.Error(t, err)
}

func TestFLSUpdateSignatureBlobReplacesExistingEntry(t *testing.T) {
	t.Parallel()

	img := &FLSImage{}
	require.NoError(t, img.UpdateSignatureBlob([]byte{0x01}))
	require.NoError(t, img.UpdateSignatureBlob([]byte{0x02, 0x03}))

	require.Len(t, img.entries, 1)
	assert.Equal(t, "SIGN", img.entries[0].tag)
	assert.Equal(t, []byte{0x02, 0x03}, img.entries[0].data)
}

func TestFLSInsertTicketAppendsNewEntry(t *testing.T) {
	t.Parallel()

	img := &FLSImage{}
	require.NoError(t, img.setEntry("DATA", []byte{0x01}))
	require.NoError(t, img.InsertTicket([]byte{0xaa, 0xbb}))

	require.Len(t, img.entries, 2)
	assert.Equal(t, "TCKT", img.entries[1].tag)
	assert.Equal(t, []byte{0xaa, 0xbb}, img.entries[1].data)
}

func TestFLSSetEntryRejectsWrongTagLength(t *testing.T) {
	t.Parallel()

	img := &FLSImage{}
	err := img.setEntry("short", []byte{0x01})
	assert.Error(t, err)
}

func TestFLSSizeMatchesBytesLength(t *testing.T) {
	t.Parallel()

	img := &FLSImage{}
	require.NoError(t, img.setEntry("ABCD", []byte{0x01, 0x02, 0x03}))
	assert.Equal(t, len(img.Bytes()), img.Size())
}
