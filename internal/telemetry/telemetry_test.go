package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "idevicerestore", cfg.ServiceName)
	assert.Equal(t, "dev", cfg.ServiceVersion)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInitDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Enabled = false

	shutdown, err := Init(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	// Should be able to call shutdown without error
	err = shutdown(ctx)
	assert.NoError(t, err)

	// Should not be enabled
	assert.False(t, IsEnabled())
}

func TestTracerReturnsNoOp(t *testing.T) {
	// Reset state
	tracer = nil
	enabled = false

	// Without initialization, should return no-op tracer
	tr := Tracer()
	require.NotNil(t, tr)
}

func TestStartSpan(t *testing.T) {
	ctx := context.Background()

	// Even without initialization, StartSpan should work (no-op)
	newCtx, span := StartSpan(ctx, "test.operation")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)

	// Should be able to end the span
	span.End()
}

func TestSpanFromContext(t *testing.T) {
	ctx := context.Background()

	// Should return a span even without active span
	span := SpanFromContext(ctx)
	require.NotNil(t, span)
}

func TestAddEvent(t *testing.T) {
	ctx := context.Background()

	// Should not panic with no active span
	require.NotPanics(t, func() {
		AddEvent(ctx, "test.event")
	})
}

func TestRecordError(t *testing.T) {
	ctx := context.Background()

	// Should not panic with nil error
	require.NotPanics(t, func() {
		RecordError(ctx, nil)
	})

	// Should not panic with error
	require.NotPanics(t, func() {
		RecordError(ctx, errors.New("test error"))
	})
}

func TestSetStatus(t *testing.T) {
	ctx := context.Background()

	// Should not panic
	require.NotPanics(t, func() {
		SetStatus(ctx, codes.Ok, "success")
	})

	require.NotPanics(t, func() {
		SetStatus(ctx, codes.Error, "failed")
	})
}

func TestSetAttributes(t *testing.T) {
	ctx := context.Background()

	// Should not panic
	require.NotPanics(t, func() {
		SetAttributes(ctx, UDID("udid-1"))
	})
}

func TestTraceID(t *testing.T) {
	ctx := context.Background()

	// Without active span, should return empty string
	traceID := TraceID(ctx)
	assert.Equal(t, "", traceID)
}

func TestSpanID(t *testing.T) {
	ctx := context.Background()

	// Without active span, should return empty string
	spanID := SpanID(ctx)
	assert.Equal(t, "", spanID)
}

func TestAttributeHelpers(t *testing.T) {
	t.Run("Serial", func(t *testing.T) {
		attr := Serial("F2LABC123")
		assert.Equal(t, AttrSerial, string(attr.Key))
		assert.Equal(t, "F2LABC123", attr.Value.AsString())
	})

	t.Run("UDID", func(t *testing.T) {
		attr := UDID("udid-1")
		assert.Equal(t, AttrUDID, string(attr.Key))
		assert.Equal(t, "udid-1", attr.Value.AsString())
	})

	t.Run("Operation", func(t *testing.T) {
		attr := Operation(47)
		assert.Equal(t, AttrOperation, string(attr.Key))
		assert.Equal(t, int64(47), attr.Value.AsInt64())
	})

	t.Run("MsgType", func(t *testing.T) {
		attr := MsgType("DataRequestMsg")
		assert.Equal(t, AttrMsgType, string(attr.Key))
		assert.Equal(t, "DataRequestMsg", attr.Value.AsString())
	})

	t.Run("DataType", func(t *testing.T) {
		attr := DataType("KernelCache")
		assert.Equal(t, AttrDataType, string(attr.Key))
		assert.Equal(t, "KernelCache", attr.Value.AsString())
	})

	t.Run("Component", func(t *testing.T) {
		attr := Component("LLB")
		assert.Equal(t, AttrComponent, string(attr.Key))
		assert.Equal(t, "LLB", attr.Value.AsString())
	})

	t.Run("ArchivePath", func(t *testing.T) {
		attr := ArchivePath("Firmware/all_flash/LLB.im4p")
		assert.Equal(t, AttrArchivePath, string(attr.Key))
		assert.Equal(t, "Firmware/all_flash/LLB.im4p", attr.Value.AsString())
	})

	t.Run("Size", func(t *testing.T) {
		attr := Size(1024)
		assert.Equal(t, AttrSize, string(attr.Key))
		assert.Equal(t, int64(1024), attr.Value.AsInt64())
	})

	t.Run("Progress", func(t *testing.T) {
		attr := Progress(50)
		assert.Equal(t, AttrProgress, string(attr.Key))
		assert.Equal(t, int64(50), attr.Value.AsInt64())
	})

	t.Run("ProtoVersion", func(t *testing.T) {
		attr := ProtoVersion(15)
		assert.Equal(t, AttrProtoVersion, string(attr.Key))
		assert.Equal(t, int64(15), attr.Value.AsInt64())
	})

	t.Run("StatusCode", func(t *testing.T) {
		attr := StatusCode(0)
		assert.Equal(t, AttrStatusCode, string(attr.Key))
		assert.Equal(t, int64(0), attr.Value.AsInt64())
	})

	t.Run("Tag", func(t *testing.T) {
		attr := Tag("rrko")
		assert.Equal(t, AttrTag, string(attr.Key))
		assert.Equal(t, "rrko", attr.Value.AsString())
	})

	t.Run("Attempt", func(t *testing.T) {
		attr := Attempt(3)
		assert.Equal(t, AttrAttempt, string(attr.Key))
		assert.Equal(t, int64(3), attr.Value.AsInt64())
	})

	t.Run("MaxRetries", func(t *testing.T) {
		attr := MaxRetries(10)
		assert.Equal(t, AttrMaxRetries, string(attr.Key))
		assert.Equal(t, int64(10), attr.Value.AsInt64())
	})

	t.Run("CacheHit", func(t *testing.T) {
		attr := CacheHit(true)
		assert.Equal(t, AttrCacheHit, string(attr.Key))
		assert.True(t, attr.Value.AsBool())
	})

	t.Run("CacheSource", func(t *testing.T) {
		attr := CacheSource("dirty")
		assert.Equal(t, AttrCacheSource, string(attr.Key))
		assert.Equal(t, "dirty", attr.Value.AsString())
	})

	t.Run("Region", func(t *testing.T) {
		attr := Region("us-east-1")
		assert.Equal(t, AttrRegion, string(attr.Key))
		assert.Equal(t, "us-east-1", attr.Value.AsString())
	})

	t.Run("Bucket", func(t *testing.T) {
		attr := Bucket("my-bucket")
		assert.Equal(t, AttrBucket, string(attr.Key))
		assert.Equal(t, "my-bucket", attr.Value.AsString())
	})

	t.Run("StorageKey", func(t *testing.T) {
		attr := StorageKey("path/to/object")
		assert.Equal(t, AttrKey, string(attr.Key))
		assert.Equal(t, "path/to/object", attr.Value.AsString())
	})
}

func TestStartSessionSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartSessionSpan(ctx, SpanSessionOpen, 0x1234, "udid-1")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()

	// With empty UDID
	newCtx2, span2 := StartSessionSpan(ctx, SpanSessionClose, 0x1234, "")
	require.NotNil(t, newCtx2)
	require.NotNil(t, span2)
	span2.End()

	// With additional attributes
	newCtx3, span3 := StartSessionSpan(ctx, SpanSessionRun, 0x1234, "udid-1", Attempt(1), MaxRetries(3))
	require.NotNil(t, newCtx3)
	require.NotNil(t, span3)
	span3.End()
}

func TestStartDispatchSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartDispatchSpan(ctx, "DataRequestMsg")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()

	// With additional attributes
	newCtx2, span2 := StartDispatchSpan(ctx, "DataRequestMsg", DataType("KernelCache"), Size(1024))
	require.NotNil(t, newCtx2)
	require.NotNil(t, span2)
	span2.End()
}

func TestStartArchiveSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartArchiveSpan(ctx, "list", "firmware.ipsw")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()

	// With additional attributes
	newCtx2, span2 := StartArchiveSpan(ctx, "read", "firmware.ipsw", CacheHit(false))
	require.NotNil(t, newCtx2)
	require.NotNil(t, span2)
	span2.End()
}
