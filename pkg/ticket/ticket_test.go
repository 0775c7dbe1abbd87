package ticket

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"howett.net/plist"
)

func plistResponse(t *testing.T, v map[string]interface{}) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := plist.NewEncoder(&buf)
	require.NoError(t, enc.Encode(v))
	return buf.Bytes()
}

func TestClientRequestSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Write(plistResponse(t, map[string]interface{}{
			"STATUS":      int64(0),
			KeyAPTicket:   []byte{0x01, 0x02, 0x03},
		}))
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	resp, err := c.Request(context.Background(), "ap", Request{"ApECID": "1234"})
	require.NoError(t, err)
	assert.True(t, resp.HasKey(KeyAPTicket))

	data, ok := resp.Bytes(KeyAPTicket)
	require.True(t, ok)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, data)
}

func TestClientRequestNonZeroStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(plistResponse(t, map[string]interface{}{
			"STATUS":  int64(94),
			"MESSAGE": "could not locate record",
		}))
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	_, err := c.Request(context.Background(), "ap", Request{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "94")
}

func TestClientRequestHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	_, err := c.Request(context.Background(), "ap", Request{})
	assert.Error(t, err)
}

func TestClientRequestMalformedBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not a plist"))
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	_, err := c.Request(context.Background(), "ap", Request{})
	assert.Error(t, err)
}

func TestResponseDictHandlesBothMapShapes(t *testing.T) {
	t.Parallel()

	r := Response{
		"nested":    Response{"inner": "value"},
		"nestedRaw": map[string]interface{}{"inner": "value2"},
	}

	d, ok := r.Dict("nested")
	require.True(t, ok)
	assert.Equal(t, "value", d["inner"])

	d, ok = r.Dict("nestedRaw")
	require.True(t, ok)
	assert.Equal(t, "value2", d["inner"])

	_, ok = r.Dict("missing")
	assert.False(t, ok)
}

func TestBuilderAPIncludesIdentityAndCommonTags(t *testing.T) {
	t.Parallel()

	b := NewBuilder(DeviceIdentity{
		ECID:    1234,
		ChipID:  0x8010,
		BoardID: 0x04,
		Serial:  "ABC123",
		ApNonce: []byte{0xde, 0xad},
	}, Request{"UniqueBuildID": []byte{0x01}})

	req := b.AP(Request{"ApProductionMode": true})

	assert.Equal(t, "1234", req["ApECID"])
	assert.Equal(t, uint64(0x8010), req["ApChipID"])
	assert.Equal(t, "ABC123", req["SerialNumber"])
	assert.Equal(t, []byte{0xde, 0xad}, req["ApNonce"])
	assert.Equal(t, []byte{0x01}, req["UniqueBuildID"])
	assert.Equal(t, true, req["ApProductionMode"])
}

func TestBuilderBasebandIncludesBBFields(t *testing.T) {
	t.Parallel()

	b := NewBuilder(DeviceIdentity{ECID: 1}, Request{})
	req := b.Baseband(0x01, 0x02, []byte{0xaa}, []byte{0xbb}, Request{"BbProvisioningManifestKeyHash": []byte{0xcc}})

	assert.Equal(t, uint64(0x01), req["BbChipID"])
	assert.Equal(t, uint64(0x02), req["BbGoldCertId"])
	assert.Equal(t, []byte{0xaa}, req["BbSNUM"])
	assert.Equal(t, []byte{0xbb}, req["BbNonce"])
	assert.Equal(t, []byte{0xcc}, req["BbProvisioningManifestKeyHash"])
}

func TestBuilderTimerInterpolatesTagNumber(t *testing.T) {
	t.Parallel()

	b := NewBuilder(DeviceIdentity{ECID: 1}, Request{})
	req := b.Timer(2, Request{"ChipID": uint64(0x05)})

	assert.Equal(t, uint64(0x05), req["Timer,ChipID,2"])
	assert.Equal(t, "Timer,Ticket,2", TimerTicketKey(2))
}

func TestBuilderSubsystemMergesTagsWithoutMutatingBuilderState(t *testing.T) {
	t.Parallel()

	b := NewBuilder(DeviceIdentity{ECID: 1}, Request{"common": "x"})
	first := b.Subsystem(Request{"a": 1})
	second := b.Subsystem(Request{"b": 2})

	_, hasB := first["b"]
	assert.False(t, hasB)
	_, hasA := second["a"]
	assert.False(t, hasA)
	assert.Equal(t, "x", first["common"])
	assert.Equal(t, "x", second["common"])
}
