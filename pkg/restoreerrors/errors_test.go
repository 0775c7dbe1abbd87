package restoreerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapNilCauseReturnsNil(t *testing.T) {
	t.Parallel()
	assert.Nil(t, Wrap(TransportError, "op", nil))
}

func TestCodeOfUnwrapsChain(t *testing.T) {
	t.Parallel()

	base := NewTicketFailure("ticket.request", errors.New("boom"))
	wrapped := fmt.Errorf("context: %w", base)

	code, ok := CodeOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, TicketFailure, code)
}

func TestCodeOfNonRestoreError(t *testing.T) {
	t.Parallel()

	_, ok := CodeOf(errors.New("plain error"))
	assert.False(t, ok)
}

func TestIsMatchesCode(t *testing.T) {
	t.Parallel()

	err := NewArchiveFailure("archive.open", errors.New("missing entry"))
	assert.True(t, Is(err, ArchiveFailure))
	assert.False(t, Is(err, ProtocolError))
}

func TestIsFatalOnlyForTransportError(t *testing.T) {
	t.Parallel()

	assert.True(t, IsFatal(NewTransportError("session.dial", errors.New("refused"))))
	assert.False(t, IsFatal(NewProtocolError("codec.receive", errors.New("bad frame"))))
	assert.False(t, IsFatal(errors.New("unrelated")))
}

func TestErrorMessageIncludesCause(t *testing.T) {
	t.Parallel()

	err := NewProtocolError("codec.receive", errors.New("short frame"))
	assert.Contains(t, err.Error(), "ProtocolError")
	assert.Contains(t, err.Error(), "codec.receive")
	assert.Contains(t, err.Error(), "short frame")
}

func TestErrorMessageWithoutCause(t *testing.T) {
	t.Parallel()

	err := New(ConfigurationError, "config.load")
	assert.Equal(t, "ConfigurationError: config.load", err.Error())
}

func TestNewRemoteFailureFormatsStatusCode(t *testing.T) {
	t.Parallel()

	err := NewRemoteFailure("driver.status", -5)
	assert.Equal(t, RemoteFailure, err.Code)
	assert.Contains(t, err.Error(), "-5")
}

func TestNewConfigurationErrorCarriesMessage(t *testing.T) {
	t.Parallel()

	err := NewConfigurationError("config.validate", "missing archive path")
	assert.Equal(t, ConfigurationError, err.Code)
	assert.Contains(t, err.Error(), "missing archive path")
}

func TestErrorCodeStringUnknown(t *testing.T) {
	t.Parallel()

	var unknown ErrorCode = 99
	assert.Equal(t, "Unknown(99)", unknown.String())
}

func TestErrorCodeStringKnownValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code ErrorCode
		want string
	}{
		{TransportError, "TransportError"},
		{ProtocolError, "ProtocolError"},
		{RemoteFailure, "RemoteFailure"},
		{TicketFailure, "TicketFailure"},
		{ArchiveFailure, "ArchiveFailure"},
		{PersonalizationFailure, "PersonalizationFailure"},
		{LocalIOFailure, "LocalIOFailure"},
		{ConfigurationError, "ConfigurationError"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.code.String())
	}
}
