package personalize

import (
	"context"
	"encoding/asn1"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stek29/idevicerestore/pkg/ticket"
)

func TestPersonalizeWrapsPayloadInIMG4Container(t *testing.T) {
	t.Parallel()

	p := New(true, false)
	raw := []byte{0xde, 0xad, 0xbe, 0xef}
	manifest := []byte{0x01, 0x02, 0x03}

	out, err := p.Personalize(context.Background(), "iBSS", raw, manifest)
	require.NoError(t, err)
	assert.NotEmpty(t, out)

	var container img4
	_, err = asn1.Unmarshal(out, &container)
	require.NoError(t, err)
	assert.Equal(t, "IMG4", container.Tag)

	var payload im4p
	_, err = asn1.Unmarshal(container.Payload.FullBytes, &payload)
	require.NoError(t, err)
	assert.Equal(t, "ibss", payload.Tag)
	assert.Equal(t, raw, payload.Data)
}

func TestPersonalizeUsesFallbackTagForUnknownComponent(t *testing.T) {
	t.Parallel()

	p := New(true, false)
	out, err := p.Personalize(context.Background(), "SomeWeirdThing", []byte{0x01}, []byte{0x02})
	require.NoError(t, err)

	var container img4
	_, err = asn1.Unmarshal(out, &container)
	require.NoError(t, err)

	var payload im4p
	_, err = asn1.Unmarshal(container.Payload.FullBytes, &payload)
	require.NoError(t, err)
	assert.Equal(t, "Some", payload.Tag)
}

func TestPersonalizeFallbackTagPadsShortNames(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ab__", tagFor("ab"))
}

func TestPersonalizeRequiresTicketDataUnlessCustom(t *testing.T) {
	t.Parallel()

	p := New(true, false)
	_, err := p.Personalize(context.Background(), "iBSS", []byte{0x01}, nil)
	assert.Error(t, err)
}

func TestPersonalizeCustomBypassReturnsRawBytes(t *testing.T) {
	t.Parallel()

	p := New(true, true)
	raw := []byte{0x01, 0x02, 0x03}
	out, err := p.Personalize(context.Background(), "iBSS", raw, nil)
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}

func TestPersonalizeCustomStillPersonalizesWhenManifestProvided(t *testing.T) {
	t.Parallel()

	p := New(true, true)
	out, err := p.Personalize(context.Background(), "iBSS", []byte{0x01}, []byte{0x02})
	require.NoError(t, err)
	assert.NotEqual(t, []byte{0x01}, out)
}

func TestTicketSlotSelection(t *testing.T) {
	t.Parallel()

	p := New(true, false)
	assert.Equal(t, ticket.KeyAPTicket, p.TicketSlot())

	p = New(false, false)
	assert.Equal(t, ticket.KeyLegacyAPTicket, p.TicketSlot())
}
