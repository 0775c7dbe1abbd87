package cpio

import (
	"bytes"
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type parsedRecord struct {
	name     string
	filesize uint32
	mode     uint32
	data     []byte
}

func parseODCStream(t *testing.T, r io.Reader) []parsedRecord {
	t.Helper()

	var records []parsedRecord
	for {
		fixed := make([]byte, 76)
		_, err := io.ReadFull(r, fixed)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.Equal(t, odcMagic, string(fixed[:6]))

		mode, err := strconv.ParseUint(string(fixed[18:24]), 8, 32)
		require.NoError(t, err)
		namesize, err := strconv.ParseUint(string(fixed[59:65]), 8, 32)
		require.NoError(t, err)
		filesize, err := strconv.ParseUint(string(fixed[65:76]), 8, 32)
		require.NoError(t, err)

		nameBuf := make([]byte, namesize)
		_, err = io.ReadFull(r, nameBuf)
		require.NoError(t, err)
		name := string(bytes.TrimRight(nameBuf, "\x00"))

		data := make([]byte, filesize)
		if filesize > 0 {
			_, err = io.ReadFull(r, data)
			require.NoError(t, err)
		}

		records = append(records, parsedRecord{name: name, filesize: uint32(filesize), mode: uint32(mode), data: data})

		if name == trailerName {
			break
		}
	}
	return records
}

func openerFor(data []byte) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
}

func TestStreamBootabilityBundleEmitsTransformedEntries(t *testing.T) {
	t.Parallel()

	serverConn, clientConn := net.Pipe()
	streamer := FromConn(serverConn)

	entries := []SourceEntry{
		{Path: bootabilityPrefix + "foo/bar.bin", Size: 3, ModTime: time.Unix(100, 0), Open: openerFor([]byte{0x01, 0x02, 0x03})},
		{Path: trustcacheSrc, Size: 2, ModTime: time.Unix(100, 0), Open: openerFor([]byte{0xaa, 0xbb})},
		{Path: "SomeUnrelatedEntry/not-kept.txt", Size: 1, ModTime: time.Unix(100, 0), Open: openerFor([]byte{0x01})},
		{Path: bootabilityPrefix + "adir", IsDir: true},
	}

	done := make(chan error, 1)
	go func() {
		err := streamer.StreamBootabilityBundle(context.Background(), entries)
		streamer.Close()
		done <- err
	}()

	records := parseODCStream(t, clientConn)
	require.NoError(t, <-done)

	require.Len(t, records, 3)
	assert.Equal(t, "foo/bar.bin", records[0].name)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, records[0].data)

	assert.Equal(t, trustcacheDst, records[1].name)
	assert.Equal(t, []byte{0xaa, 0xbb}, records[1].data)

	assert.Equal(t, trailerName, records[2].name)
	assert.Equal(t, uint32(0), records[2].filesize)
}

func TestStreamBootabilityBundleSkipsUnmatchedAndDirEntries(t *testing.T) {
	t.Parallel()

	serverConn, clientConn := net.Pipe()
	streamer := FromConn(serverConn)

	entries := []SourceEntry{
		{Path: "NotBootability/file.txt", Size: 1, Open: openerFor([]byte{0x01})},
		{Path: bootabilityPrefix + "dir", IsDir: true},
	}

	done := make(chan error, 1)
	go func() {
		err := streamer.StreamBootabilityBundle(context.Background(), entries)
		streamer.Close()
		done <- err
	}()

	records := parseODCStream(t, clientConn)
	require.NoError(t, <-done)

	require.Len(t, records, 1)
	assert.Equal(t, trailerName, records[0].name)
}

func TestStreamBootabilityBundleSymlinkMode(t *testing.T) {
	t.Parallel()

	serverConn, clientConn := net.Pipe()
	streamer := FromConn(serverConn)

	entries := []SourceEntry{
		{Path: bootabilityPrefix + "link", IsSymlink: true, Size: 4, Open: openerFor([]byte("/tmp"))},
	}

	done := make(chan error, 1)
	go func() {
		err := streamer.StreamBootabilityBundle(context.Background(), entries)
		streamer.Close()
		done <- err
	}()

	records := parseODCStream(t, clientConn)
	require.NoError(t, <-done)

	require.Len(t, records, 2)
	assert.Equal(t, uint32(0120777), records[0].mode)
}

func TestDialRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	s, err := Dial(context.Background(), ln.Addr().String(), 3, 10*time.Millisecond)
	require.NoError(t, err)
	s.Close()
}

func TestDialExhaustsAttempts(t *testing.T) {
	t.Parallel()

	_, err := Dial(context.Background(), "127.0.0.1:1", 2, 5*time.Millisecond)
	assert.Error(t, err)
}

func TestDialConnRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	conn, err := DialConn(context.Background(), ln.Addr().String(), 3, 10*time.Millisecond)
	require.NoError(t, err)
	conn.Close()
}
