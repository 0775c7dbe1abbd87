package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildZIP(t *testing.T, files map[string][]byte) string {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	path := filepath.Join(t.TempDir(), "firmware.ipsw")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0600))
	return path
}

func TestOpenExtractToMemory(t *testing.T) {
	t.Parallel()

	path := buildZIP(t, map[string][]byte{
		"BuildManifest.plist": []byte("<plist></plist>"),
		"iBSS.im4p":           {0x01, 0x02, 0x03},
	})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	assert.True(t, r.Exists("BuildManifest.plist"))
	assert.False(t, r.Exists("missing.plist"))

	data, err := r.ExtractToMemory(context.Background(), "BuildManifest.plist")
	require.NoError(t, err)
	assert.Equal(t, "<plist></plist>", string(data))
}

func TestExtractToMemoryMissingEntry(t *testing.T) {
	t.Parallel()

	path := buildZIP(t, map[string][]byte{"a.txt": []byte("x")})
	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.ExtractToMemory(context.Background(), "b.txt")
	assert.Error(t, err)
}

func TestOpenEntryStreamsContent(t *testing.T) {
	t.Parallel()

	path := buildZIP(t, map[string][]byte{"blob.bin": {0xaa, 0xbb, 0xcc}})
	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	rc, err := r.OpenEntry("blob.bin")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xaa, 0xbb, 0xcc}, data)
}

func TestExtractToFileWritesLocalCopy(t *testing.T) {
	t.Parallel()

	path := buildZIP(t, map[string][]byte{"blob.bin": {0x01, 0x02}})
	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, r.ExtractToFile(context.Background(), "blob.bin", dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, data)
}

func TestListVisitsEveryEntry(t *testing.T) {
	t.Parallel()

	path := buildZIP(t, map[string][]byte{
		"a.txt": []byte("1"),
		"b.txt": []byte("22"),
	})
	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	seen := map[string]int64{}
	err = r.List(func(stat EntryStat) error {
		seen[stat.Name] = stat.Size
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), seen["a.txt"])
	assert.Equal(t, int64(2), seen["b.txt"])
}

func TestListPropagatesVisitorError(t *testing.T) {
	t.Parallel()

	path := buildZIP(t, map[string][]byte{"a.txt": []byte("1")})
	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	sentinel := assert.AnError
	err = r.List(func(stat EntryStat) error { return sentinel })
	assert.ErrorIs(t, err, sentinel)
}

func TestDigestMatchesSHA256(t *testing.T) {
	t.Parallel()

	content := []byte("firmware-bytes")
	path := buildZIP(t, map[string][]byte{"a.bin": content})
	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	digest, err := r.Digest(context.Background(), "a.bin")
	require.NoError(t, err)

	sum := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(sum[:]), digest)
}

func TestOpenFromReaderAtUsesArbitraryBackend(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("entry.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	ra := bytes.NewReader(buf.Bytes())
	r, err := OpenFromReaderAt(ra, int64(buf.Len()), nil)
	require.NoError(t, err)

	data, err := r.ExtractToMemory(context.Background(), "entry.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}
