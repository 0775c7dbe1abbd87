// Package session owns the lifecycle of a single restore connection: open,
// identity verification, reboot, and close.
package session

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/stek29/idevicerestore/internal/logger"
	"github.com/stek29/idevicerestore/internal/restore/codec"
	"github.com/stek29/idevicerestore/internal/telemetry"
	"github.com/stek29/idevicerestore/pkg/buildidentity"
	"github.com/stek29/idevicerestore/pkg/restoreconfig"
	"github.com/stek29/idevicerestore/pkg/restoreerrors"
)

// expectedServiceIdentity is the remote lockdown service name a restore
// endpoint must present before a session is considered opened.
const expectedServiceIdentity = "com.apple.mobile.restored"

// Dialer opens the device-specific transport for a restore session. The
// concrete implementation (USB multiplexer or TCP-over-network) is supplied
// by the caller; session only needs a net.Conn and the identity string the
// far end reports.
type Dialer interface {
	DialRestore(ctx context.Context, udid string, timeout time.Duration) (net.Conn, string, error)
}

// Flags carries the per-session feature toggles derived from restoreconfig.Options.
type Flags struct {
	Erase                  bool
	ExcludeNOR             bool
	IgnoreErrors           bool
	QuitOnFirstError       bool
	AllowUntetheredRestore bool
	Custom                 bool
}

// State is the single mutable record the whole driver shares for one
// restore attempt: device identity, negotiated protocol, selected build
// identity, cached ticket responses, feature flags, and the quit/reboot
// synchronization primitives.
type State struct {
	UDID            string
	ECID            uint64
	Serial          string
	HardwareModel   string
	Image4Supported bool
	ProtocolVersion int

	BuildIdentity *buildidentity.BuildIdentity

	Flags Flags

	mu                sync.Mutex
	basebandTicket    map[string]interface{}
	basebandTicketSet bool

	quit bool

	deviceEventMu sync.Mutex
	deviceEventCv *sync.Cond
	inRestoreMode bool
}

// CachedBasebandTicket returns the session-cached baseband ticket response
// and whether one has been recorded yet.
func (s *State) CachedBasebandTicket() (map[string]interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.basebandTicket, s.basebandTicketSet
}

// CacheBasebandTicket records the baseband ticket response for reuse by
// later BasebandData requests in the same session, per the "cached exactly
// once" invariant.
func (s *State) CacheBasebandTicket(resp map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.basebandTicketSet {
		return
	}
	s.basebandTicket = resp
	s.basebandTicketSet = true
}

// SetQuit marks the session for termination after the current message is
// handled; used by the dispatcher on a fatal per-request error.
func (s *State) SetQuit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quit = true
}

// ShouldQuit reports whether the session has been marked to terminate.
func (s *State) ShouldQuit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quit
}

// Session wraps an open restore connection: the framed message codec plus
// the shared State.
type Session struct {
	State *State
	Codec *codec.Codec
	conn  net.Conn
}

// Open dials the restore endpoint by UDID, verifies the remote service
// identity, queries the device's ECID, and matches it against opts.ECID.
// On success State.ProtocolVersion holds the ProtocolVersion reported in
// the device's hardware-info reply.
func Open(ctx context.Context, dialer Dialer, udid string, opts *restoreconfig.Options) (*Session, error) {
	ctx, span := telemetry.StartSessionSpan(ctx, telemetry.SpanSessionOpen, 0, udid)
	defer span.End()

	conn, identity, err := dialer.DialRestore(ctx, udid, opts.ConnectTimeout)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, restoreerrors.NewTransportError("session.open", err)
	}

	if identity != expectedServiceIdentity {
		conn.Close()
		err := fmt.Errorf("unexpected remote service identity %q, device may not be in restore mode", identity)
		telemetry.RecordError(ctx, err)
		return nil, restoreerrors.NewConfigurationError("session.open", err.Error())
	}

	c := codec.NewWithMaxSize(conn, opts.MaxMessageSize)

	hwMsg, err := c.Receive(opts.ConnectTimeout)
	if err != nil {
		c.Close()
		telemetry.RecordError(ctx, err)
		return nil, restoreerrors.NewTransportError("session.open", err)
	}

	hwInfo, ok := hwMsg.GetDict("HardwareInfo")
	if !ok {
		c.Close()
		return nil, restoreerrors.NewProtocolError("session.open", fmt.Errorf("handshake missing HardwareInfo"))
	}

	chipIDRaw, ok := hwInfo.GetInt64("UniqueChipID")
	if !ok {
		c.Close()
		return nil, restoreerrors.NewProtocolError("session.open", fmt.Errorf("HardwareInfo missing UniqueChipID"))
	}
	deviceECID := uint64(chipIDRaw)

	wantECID, err := restoreconfig.ParseECID(opts.ECID)
	if err != nil {
		c.Close()
		return nil, restoreerrors.NewConfigurationError("session.open", err.Error())
	}

	if deviceECID != wantECID {
		c.Close()
		err := fmt.Errorf("connected device ECID 0x%x does not match requested 0x%x", deviceECID, wantECID)
		telemetry.RecordError(ctx, err)
		return nil, restoreerrors.NewConfigurationError("session.open", err.Error())
	}

	protoVersion := 0
	if v, ok := hwMsg.GetInt64("ProtocolVersion"); ok {
		protoVersion = int(v)
	}

	serial, _ := hwInfo.GetString("SerialNumber")
	model, _ := hwInfo.GetString("ProductType")
	image4Supported, _ := hwMsg.GetBool("Image4Supported")

	state := &State{
		UDID:            udid,
		ECID:            deviceECID,
		Serial:          serial,
		HardwareModel:   model,
		Image4Supported: image4Supported,
		ProtocolVersion: protoVersion,
		Flags: Flags{
			Erase:                  opts.Variant == "Erase",
			ExcludeNOR:             opts.ExcludeNOR,
			IgnoreErrors:           opts.IgnoreErrors,
			QuitOnFirstError:       opts.QuitOnFirstError,
			AllowUntetheredRestore: opts.AllowUntetheredRestore,
		},
		inRestoreMode: true,
	}
	state.deviceEventCv = sync.NewCond(&state.deviceEventMu)

	logger.Info("restore session opened",
		logger.ECID(deviceECID), logger.UDID(udid), logger.Serial(serial),
		logger.Model(model), logger.ProtoVersion(protoVersion))

	return &Session{State: state, Codec: c, conn: conn}, nil
}

// OnDeviceEvent is the device-notification callback the caller's USB/TCP
// watcher invokes whenever the device's enumeration mode changes. A reboot
// waiter blocks on this signal to detect the device leaving restore mode.
func (s *Session) OnDeviceEvent(inRestoreMode bool) {
	st := s.State
	st.deviceEventMu.Lock()
	st.inRestoreMode = inRestoreMode
	st.deviceEventMu.Unlock()
	st.deviceEventCv.Broadcast()
}

// Reboot sends the restore daemon's reboot message, then waits up to 30s on
// the device-event condition for the device to leave restore mode. Returns
// an error if the device is still reporting restore mode once the wait
// elapses.
func (s *Session) Reboot(ctx context.Context) error {
	ctx, span := telemetry.StartSessionSpan(ctx, telemetry.SpanSessionClose, s.State.ECID, s.State.UDID)
	defer span.End()

	if err := s.Codec.Send(codec.Message{"MsgType": "RebootMsg"}); err != nil {
		telemetry.RecordError(ctx, err)
		return restoreerrors.NewTransportError("session.reboot", err)
	}

	const timeout = 30 * time.Second
	deadline := time.Now().Add(timeout)

	st := s.State
	st.deviceEventMu.Lock()
	defer st.deviceEventMu.Unlock()

	for st.inRestoreMode {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			err := fmt.Errorf("device still in restore mode %s after reboot", timeout)
			telemetry.RecordError(ctx, err)
			return restoreerrors.NewTransportError("session.reboot", err)
		}
		waitWithTimeout(st.deviceEventCv, remaining)
	}

	logger.Info("device left restore mode", logger.ECID(st.ECID), logger.UDID(st.UDID))
	return nil
}

// waitWithTimeout wraps sync.Cond.Wait with a bounded timeout: a timer
// wakes the condition after timeout elapses so the caller's loop can
// re-check its deadline. The condition's lock is held on entry and on
// return, matching sync.Cond.Wait's contract.
func waitWithTimeout(cv *sync.Cond, timeout time.Duration) {
	timer := time.AfterFunc(timeout, cv.Broadcast)
	defer timer.Stop()
	cv.Wait()
}

// Close tears down the restore channel.
func (s *Session) Close() error {
	logger.Info("closing restore session", logger.ECID(s.State.ECID), logger.UDID(s.State.UDID))
	return s.Codec.Close()
}
