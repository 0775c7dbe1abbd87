// Package sidechannel supervises the device-bound reverse-proxy tunnel
// the restore daemon uses to pull host-side resources during a restore:
// starting it before start_restore, surfacing its log/status events, and
// tearing it down before the device session closes.
package sidechannel

import (
	"context"
	"fmt"

	"github.com/stek29/idevicerestore/internal/logger"
	"github.com/stek29/idevicerestore/internal/telemetry"
)

// ProtocolVersion identifies the reverse-proxy wire protocol a Proxy
// implementation speaks.
type ProtocolVersion int

const (
	// ProtocolV2 is attempted first; devices too old to understand it
	// reject the start and the supervisor falls back to ProtocolV1.
	ProtocolV2 ProtocolVersion = 2
	ProtocolV1 ProtocolVersion = 1
)

// Proxy is the reverse-proxy client library's surface: an external
// collaborator (out of scope per spec.md) that owns the actual device
// tunnel and its worker goroutine(s).
type Proxy interface {
	// StartProxy attempts to start the tunnel using version. A rejection
	// (the device does not support this protocol) is reported as an
	// error distinguishable by IsRejected.
	StartProxy(ctx context.Context, version ProtocolVersion) error
	// SetCallbacks registers the log/status event sinks. Called once,
	// before the first StartProxy attempt.
	SetCallbacks(onLog func(clientType, msg string), onStatus func(clientType string, status int, msg string))
	// Stop tears the tunnel down. Safe to call even if StartProxy never
	// succeeded.
	Stop(ctx context.Context) error
}

// RejectedError distinguishes "device rejected this protocol version"
// from any other proxy failure, so the supervisor knows whether falling
// back to the next version is meaningful.
type RejectedError struct {
	Version ProtocolVersion
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("device rejected reverse-proxy protocol version %d", e.Version)
}

// Supervisor starts the reverse-proxy client, attempting ProtocolV2 first
// and falling back to ProtocolV1 on rejection, and surfaces its events to
// the logger.
type Supervisor struct {
	Proxy Proxy

	started bool
	version ProtocolVersion
}

// New constructs a Supervisor around an already-constructed Proxy bound to
// the target device.
func New(proxy Proxy) *Supervisor {
	return &Supervisor{Proxy: proxy}
}

// Start attempts ProtocolV2, falling back to ProtocolV1 once on rejection.
// Any other failure -- or a V1 rejection -- is returned as a warning-level
// error to the caller: per spec §7, side-channel errors never abort the
// restore session, they only mean it proceeds without the tunnel.
func (s *Supervisor) Start(ctx context.Context) error {
	_, span := telemetry.StartSpan(ctx, telemetry.SpanSideChannelProxy)
	defer span.End()

	s.Proxy.SetCallbacks(s.onLog, s.onStatus)

	err := s.Proxy.StartProxy(ctx, ProtocolV2)
	if err == nil {
		s.started = true
		s.version = ProtocolV2
		logger.Info("side-channel reverse proxy started", logger.ProtoVersion(int(ProtocolV2)))
		return nil
	}

	if _, rejected := err.(*RejectedError); !rejected {
		telemetry.RecordError(ctx, err)
		return err
	}

	logger.Warn("device rejected reverse-proxy protocol v2, falling back to v1")
	_, fallbackSpan := telemetry.StartSpan(ctx, telemetry.SpanSideChannelFallback)
	defer fallbackSpan.End()

	if err := s.Proxy.StartProxy(ctx, ProtocolV1); err != nil {
		telemetry.RecordError(ctx, err)
		return err
	}

	s.started = true
	s.version = ProtocolV1
	logger.Info("side-channel reverse proxy started", logger.ProtoVersion(int(ProtocolV1)))
	return nil
}

// Stop tears down the proxy tunnel. Called before the device session is
// closed, regardless of whether Start succeeded.
func (s *Supervisor) Stop(ctx context.Context) error {
	if !s.started {
		return nil
	}
	return s.Proxy.Stop(ctx)
}

func (s *Supervisor) onLog(clientType, msg string) {
	logger.Info("reverse proxy log", logger.Component(clientType), logger.StatusMsg(msg))
}

func (s *Supervisor) onStatus(clientType string, status int, msg string) {
	logger.Info("reverse proxy status", logger.Component(clientType), logger.StatusCode(int64(status)), logger.StatusMsg(msg))
}
