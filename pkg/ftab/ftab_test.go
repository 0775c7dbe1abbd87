package ftab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildContainer(t *testing.T, containerTag string, entries []Entry) []byte {
	t.Helper()

	f := &FTAB{ContainerTag: containerTag, byTag: map[string]int{}}
	for _, e := range entries {
		f.Put(e.Tag, e.Data)
	}
	return f.Serialize()
}

func TestParseSerializeRoundTrip(t *testing.T) {
	t.Parallel()

	raw := buildContainer(t, ExpectedContainerTag, []Entry{
		{Tag: "rkos", Data: []byte{0x01, 0x02, 0x03}},
		{Tag: "rrko", Data: []byte{0xaa, 0xbb}},
	})

	f, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, ExpectedContainerTag, f.ContainerTag)

	data, ok := f.Get("rkos")
	require.True(t, ok)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, data)

	data, ok = f.Get("rrko")
	require.True(t, ok)
	assert.Equal(t, []byte{0xaa, 0xbb}, data)

	reparsed, err := Parse(f.Serialize())
	require.NoError(t, err)
	assert.Equal(t, f.ContainerTag, reparsed.ContainerTag)
	for _, tag := range []string{"rkos", "rrko"} {
		want, _ := f.Get(tag)
		got, ok := reparsed.Get(tag)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestGetMissingTag(t *testing.T) {
	t.Parallel()

	raw := buildContainer(t, ExpectedContainerTag, []Entry{{Tag: "rkos", Data: []byte{0x01}}})
	f, err := Parse(raw)
	require.NoError(t, err)

	_, ok := f.Get("zzzz")
	assert.False(t, ok)
}

func TestPutReplacesExistingEntry(t *testing.T) {
	t.Parallel()

	f := &FTAB{ContainerTag: ExpectedContainerTag, byTag: map[string]int{}}
	f.Put("rkos", []byte{0x01})
	f.Put("rkos", []byte{0x02, 0x03})

	data, ok := f.Get("rkos")
	require.True(t, ok)
	assert.Equal(t, []byte{0x02, 0x03}, data)
}

func TestParseTruncatedHeader(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte{0x01, 0x02, 0x03})
	assert.Error(t, err)
}

func TestParseTruncatedEntryTable(t *testing.T) {
	t.Parallel()

	raw := buildContainer(t, ExpectedContainerTag, []Entry{{Tag: "rkos", Data: []byte{0x01}}})
	_, err := Parse(raw[:headerSize+4])
	assert.Error(t, err)
}

func TestParseEntryOutOfBounds(t *testing.T) {
	t.Parallel()

	raw := buildContainer(t, ExpectedContainerTag, []Entry{{Tag: "rkos", Data: []byte{0x01, 0x02}}})
	// Truncate the payload region while leaving the entry table intact.
	truncated := raw[:headerSize+entryHeaderLen]
	_, err := Parse(truncated)
	assert.Error(t, err)
}

func TestComposeWithRecoveryCopiesRRKOEntry(t *testing.T) {
	t.Parallel()

	base, err := Parse(buildContainer(t, ExpectedContainerTag, []Entry{
		{Tag: "rkos", Data: []byte{0x10}},
	}))
	require.NoError(t, err)

	recovery, err := Parse(buildContainer(t, ExpectedContainerTag, []Entry{
		{Tag: "rkos", Data: []byte{0x20}},
		{Tag: RecoveryEntryTag, Data: []byte{0x30, 0x40}},
	}))
	require.NoError(t, err)

	composed := ComposeWithRecovery(base, recovery)

	rrko, ok := composed.Get(RecoveryEntryTag)
	require.True(t, ok)
	assert.Equal(t, []byte{0x30, 0x40}, rrko)

	// The base's own entries are untouched.
	rkos, ok := composed.Get("rkos")
	require.True(t, ok)
	assert.Equal(t, []byte{0x10}, rkos)
}

func TestComposeWithRecoveryNilRecovery(t *testing.T) {
	t.Parallel()

	base, err := Parse(buildContainer(t, ExpectedContainerTag, []Entry{
		{Tag: "rkos", Data: []byte{0x10}},
	}))
	require.NoError(t, err)

	composed := ComposeWithRecovery(base, nil)
	assert.Same(t, base, composed)
}

func TestComposeWithRecoveryMissingRRKOEntry(t *testing.T) {
	t.Parallel()

	base, err := Parse(buildContainer(t, ExpectedContainerTag, []Entry{
		{Tag: "rkos", Data: []byte{0x10}},
	}))
	require.NoError(t, err)

	recovery, err := Parse(buildContainer(t, ExpectedContainerTag, []Entry{
		{Tag: "rkos", Data: []byte{0x20}},
	}))
	require.NoError(t, err)

	composed := ComposeWithRecovery(base, recovery)
	_, ok := composed.Get(RecoveryEntryTag)
	assert.False(t, ok)
}
