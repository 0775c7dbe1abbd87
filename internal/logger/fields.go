package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging.
// These keys are used consistently across session, dispatch, ticket and
// personalization log statements for log aggregation and querying.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Device identity
	// ========================================================================
	KeyECID   = "ecid"   // Device exclusive chip ID
	KeyUDID   = "udid"   // Device UDID
	KeySerial = "serial" // Device serial number
	KeyModel  = "model"  // Hardware model / device class

	// ========================================================================
	// Restore protocol
	// ========================================================================
	KeyMsgType      = "msg_type"      // Top-level restored message type
	KeyDataType     = "data_type"     // DataRequestMsg DataType
	KeyComponent    = "component"     // Firmware component/image name
	KeyOperation    = "operation"     // Numeric progress operation code
	KeyStage        = "stage"         // Mapped progress stage label
	KeyProgress     = "progress"      // Progress percentage (0-100]
	KeyStatusCode   = "status_code"   // Status message status code
	KeyStatusMsg    = "status_msg"    // Human-readable status message
	KeyProtoVersion = "proto_version" // Negotiated restored protocol version

	// ========================================================================
	// Archive / firmware
	// ========================================================================
	KeyArchivePath = "archive_path" // Path within the firmware archive
	KeyVariant     = "variant"      // Build identity variant (Erase/Update)
	KeyTicketKey   = "ticket_key"   // Ticket response key being consulted
	KeySize        = "size"         // Byte size of a component/entry
	KeyElement     = "element"      // Baseband element name (DBL, PSI, ...)
	KeyFilename    = "filename"     // Filename inside the baseband archive
	KeyTag         = "tag"          // FTAB 4-byte tag

	// ========================================================================
	// Session & connection
	// ========================================================================
	KeySessionID    = "session_id"
	KeyConnectionID = "connection_id"
	KeyAttempt      = "attempt"
	KeyMaxRetries   = "max_retries"

	// ========================================================================
	// Operation metadata
	// ========================================================================
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyErrorCode  = "error_code"
	KeySource     = "source"

	// ========================================================================
	// S3-backed archive source
	// ========================================================================
	KeyBucket = "bucket"
	KeyS3Key  = "s3_key"
	KeyRegion = "region"
)

// ----------------------------------------------------------------------------
// Field constructors for type safety
// ----------------------------------------------------------------------------

func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }
func SpanID(id string) slog.Attr  { return slog.String(KeySpanID, id) }

func ECID(ecid uint64) slog.Attr { return slog.String(KeyECID, fmt.Sprintf("0x%x", ecid)) }
func UDID(udid string) slog.Attr { return slog.String(KeyUDID, udid) }
func Serial(s string) slog.Attr  { return slog.String(KeySerial, s) }
func Model(m string) slog.Attr   { return slog.String(KeyModel, m) }

func MsgType(t string) slog.Attr   { return slog.String(KeyMsgType, t) }
func DataType(t string) slog.Attr  { return slog.String(KeyDataType, t) }
func Component(c string) slog.Attr { return slog.String(KeyComponent, c) }
func Operation(op int) slog.Attr   { return slog.Int(KeyOperation, op) }
func Stage(s string) slog.Attr     { return slog.String(KeyStage, s) }
func Progress(p int) slog.Attr     { return slog.Int(KeyProgress, p) }
func StatusCode(c int64) slog.Attr { return slog.Int64(KeyStatusCode, c) }
func StatusMsg(msg string) slog.Attr {
	return slog.String(KeyStatusMsg, msg)
}
func ProtoVersion(v int) slog.Attr { return slog.Int(KeyProtoVersion, v) }

func ArchivePath(p string) slog.Attr { return slog.String(KeyArchivePath, p) }
func Variant(v string) slog.Attr     { return slog.String(KeyVariant, v) }
func TicketKey(k string) slog.Attr   { return slog.String(KeyTicketKey, k) }
func Size(s int) slog.Attr           { return slog.Int(KeySize, s) }
func Element(e string) slog.Attr     { return slog.String(KeyElement, e) }
func Filename(f string) slog.Attr    { return slog.String(KeyFilename, f) }
func Tag(t string) slog.Attr         { return slog.String(KeyTag, t) }

func SessionID(id string) slog.Attr    { return slog.String(KeySessionID, id) }
func ConnectionID(id string) slog.Attr { return slog.String(KeyConnectionID, id) }
func Attempt(n int) slog.Attr          { return slog.Int(KeyAttempt, n) }
func MaxRetries(n int) slog.Attr       { return slog.Int(KeyMaxRetries, n) }

func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
func ErrorCode(code string) slog.Attr { return slog.String(KeyErrorCode, code) }
func Source(src string) slog.Attr     { return slog.String(KeySource, src) }

func Bucket(b string) slog.Attr    { return slog.String(KeyBucket, b) }
func StorageKey(k string) slog.Attr { return slog.String(KeyS3Key, k) }
func Region(r string) slog.Attr    { return slog.String(KeyRegion, r) }

// Size64 logs a 64-bit byte size (archive/S3 objects may exceed int range
// on 32-bit platforms).
func Size64(s int64) slog.Attr { return slog.Int64(KeySize, s) }
