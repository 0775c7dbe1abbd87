package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for restore-session operations.
// These follow OpenTelemetry semantic conventions where applicable.
const (
	// ========================================================================
	// Device identity attributes
	// ========================================================================
	AttrECID   = "device.ecid"
	AttrUDID   = "device.udid"
	AttrSerial = "device.serial"
	AttrModel  = "device.model"

	// ========================================================================
	// Restore protocol attributes
	// ========================================================================
	AttrMsgType      = "restore.msg_type"
	AttrDataType     = "restore.data_type"
	AttrComponent    = "restore.component"
	AttrOperation    = "restore.operation"
	AttrStage        = "restore.stage"
	AttrProgress     = "restore.progress"
	AttrStatusCode   = "restore.status_code"
	AttrStatusMsg    = "restore.status_msg"
	AttrProtoVersion = "restore.proto_version"

	// ========================================================================
	// Archive / firmware attributes
	// ========================================================================
	AttrArchivePath = "archive.path"
	AttrVariant     = "build.variant"
	AttrTicketKey   = "ticket.key"
	AttrSize        = "archive.size"
	AttrElement     = "baseband.element"
	AttrFilename    = "archive.filename"
	AttrTag         = "ftab.tag"

	// ========================================================================
	// Session / connection attributes
	// ========================================================================
	AttrSessionID    = "session.id"
	AttrConnectionID = "session.connection_id"
	AttrAttempt      = "retry.attempt"
	AttrMaxRetries   = "retry.max"

	// ========================================================================
	// Storage backend attributes (archive reader sources)
	// ========================================================================
	AttrCacheHit    = "cache.hit"
	AttrCacheSource = "cache.source"
	AttrBucket      = "storage.bucket"
	AttrKey         = "storage.key"
	AttrRegion      = "storage.region"
)

// Span names for restore-session operations.
// Format: <component>.<operation>
const (
	// Root span for a restore session
	SpanSessionOpen   = "session.open"
	SpanSessionRun    = "session.run"
	SpanSessionFinish = "session.finish"
	SpanSessionClose  = "session.close"

	// Message loop / dispatch spans
	SpanMessageReceive  = "codec.receive"
	SpanMessageSend     = "codec.send"
	SpanDispatch        = "dispatch.handle"
	SpanStatusMsg       = "dispatch.status_msg"
	SpanProgressMsg     = "dispatch.progress_msg"
	SpanCheckpointMsg   = "dispatch.checkpoint_msg"
	SpanDataRequestMsg  = "dispatch.data_request_msg"
	SpanPreviousLogMsg  = "dispatch.previous_restore_log_msg"
	SpanBuildIdentityReq = "dispatch.send_build_identity"

	// Archive reader spans
	SpanArchiveList  = "archive.list"
	SpanArchiveRead  = "archive.read"
	SpanArchiveStat  = "archive.stat"
	SpanArchiveCache = "archive.cache_lookup"

	// Ticket client spans
	SpanTicketRequest = "ticket.request"
	SpanTicketParse   = "ticket.parse"

	// Personalizer spans
	SpanPersonalize = "personalize.apply"

	// Baseband packager spans
	SpanBasebandRepack  = "baseband.repack"
	SpanBasebandSighash = "baseband.sighash"

	// FTAB editor spans
	SpanFTABPatch = "ftab.patch"

	// CPIO streamer spans
	SpanCPIOStream = "cpio.stream"
	SpanCPIOWrite  = "cpio.write_entry"

	// Side-channel supervisor spans
	SpanSideChannelProxy    = "sidechannel.proxy"
	SpanSideChannelFallback = "sidechannel.fallback"

	// Build identity helper spans
	SpanBuildIdentityDecode = "buildidentity.decode"
	SpanBuildIdentitySelect = "buildidentity.select"
)

func ECID(ecid uint64) attribute.KeyValue {
	return attribute.String(AttrECID, fmt.Sprintf("0x%x", ecid))
}
func UDID(udid string) attribute.KeyValue { return attribute.String(AttrUDID, udid) }
func Serial(s string) attribute.KeyValue  { return attribute.String(AttrSerial, s) }
func Model(m string) attribute.KeyValue   { return attribute.String(AttrModel, m) }

func MsgType(t string) attribute.KeyValue   { return attribute.String(AttrMsgType, t) }
func DataType(t string) attribute.KeyValue  { return attribute.String(AttrDataType, t) }
func Component(c string) attribute.KeyValue { return attribute.String(AttrComponent, c) }
func Operation(op int) attribute.KeyValue   { return attribute.Int(AttrOperation, op) }
func Stage(s string) attribute.KeyValue     { return attribute.String(AttrStage, s) }
func Progress(p int) attribute.KeyValue     { return attribute.Int(AttrProgress, p) }
func StatusCode(c int64) attribute.KeyValue { return attribute.Int64(AttrStatusCode, c) }
func StatusMsg(msg string) attribute.KeyValue {
	return attribute.String(AttrStatusMsg, msg)
}
func ProtoVersion(v int) attribute.KeyValue { return attribute.Int(AttrProtoVersion, v) }

func ArchivePath(p string) attribute.KeyValue { return attribute.String(AttrArchivePath, p) }
func Variant(v string) attribute.KeyValue     { return attribute.String(AttrVariant, v) }
func TicketKey(k string) attribute.KeyValue   { return attribute.String(AttrTicketKey, k) }
func Size(s uint64) attribute.KeyValue        { return attribute.Int64(AttrSize, int64(s)) }
func Element(e string) attribute.KeyValue     { return attribute.String(AttrElement, e) }
func Filename(f string) attribute.KeyValue    { return attribute.String(AttrFilename, f) }
func Tag(t string) attribute.KeyValue         { return attribute.String(AttrTag, t) }

func SessionID(id string) attribute.KeyValue    { return attribute.String(AttrSessionID, id) }
func ConnectionID(id string) attribute.KeyValue { return attribute.String(AttrConnectionID, id) }
func Attempt(n int) attribute.KeyValue          { return attribute.Int(AttrAttempt, n) }
func MaxRetries(n int) attribute.KeyValue       { return attribute.Int(AttrMaxRetries, n) }

func CacheHit(hit bool) attribute.KeyValue {
	return attribute.Bool(AttrCacheHit, hit)
}
func CacheSource(source string) attribute.KeyValue {
	return attribute.String(AttrCacheSource, source)
}
func Bucket(name string) attribute.KeyValue { return attribute.String(AttrBucket, name) }
func StorageKey(key string) attribute.KeyValue {
	return attribute.String(AttrKey, key)
}
func Region(region string) attribute.KeyValue { return attribute.String(AttrRegion, region) }

// StartSessionSpan starts a span scoped to a restore session.
func StartSessionSpan(ctx context.Context, name string, ecid uint64, udid string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{ECID(ecid)}
	if udid != "" {
		allAttrs = append(allAttrs, UDID(udid))
	}
	allAttrs = append(allAttrs, attrs...)
	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}

// StartDispatchSpan starts a span for a single dispatched restore message.
func StartDispatchSpan(ctx context.Context, msgType string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{MsgType(msgType)}
	allAttrs = append(allAttrs, attrs...)
	return StartSpan(ctx, SpanDispatch, trace.WithAttributes(allAttrs...))
}

// StartArchiveSpan starts a span for an archive reader operation.
func StartArchiveSpan(ctx context.Context, operation string, path string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{ArchivePath(path)}
	allAttrs = append(allAttrs, attrs...)
	return StartSpan(ctx, "archive."+operation, trace.WithAttributes(allAttrs...))
}

// StartBasebandSpan starts a span for a baseband packager operation.
func StartBasebandSpan(ctx context.Context, operation string, element string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{Element(element)}
	allAttrs = append(allAttrs, attrs...)
	return StartSpan(ctx, "baseband."+operation, trace.WithAttributes(allAttrs...))
}
