// Package driver implements the Restore Driver's main loop: it opens the
// device session, seeds the restore options dictionary, pumps the message
// loop dispatching by MsgType, and tears the session down.
package driver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stek29/idevicerestore/internal/logger"
	"github.com/stek29/idevicerestore/internal/restore/codec"
	"github.com/stek29/idevicerestore/internal/restore/dispatch"
	"github.com/stek29/idevicerestore/internal/restore/progress"
	"github.com/stek29/idevicerestore/internal/restore/session"
	"github.com/stek29/idevicerestore/internal/restore/sidechannel"
	"github.com/stek29/idevicerestore/internal/telemetry"
	"github.com/stek29/idevicerestore/pkg/metrics"
	"github.com/stek29/idevicerestore/pkg/restoreerrors"
)

// State is the driver's own lifecycle state, distinct from session.State's
// device/connection fields.
type State int

const (
	Opening State = iota
	Seeding
	Running
	Finishing
	Closed
)

func (s State) String() string {
	switch s {
	case Opening:
		return "opening"
	case Seeding:
		return "seeding"
	case Running:
		return "running"
	case Finishing:
		return "finishing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// PreflightInfo is the device-reported preflight dictionary the driver
// consults when seeding the restore options: BBUpdaterState and
// BasebandNonce are copied from it. TZ0RequiredCapacity comes from the
// build identity's RestoreSEP entry, not from this dictionary.
type PreflightInfo struct {
	BBUpdaterState map[string]interface{}
	BasebandNonce  []byte
}

// checkpoint tracks the most recent CheckpointMsg name and a monotonic
// counter of checkpoints seen, per the spec's supplemented diagnostics.
type checkpoint struct {
	name    string
	counter int
}

// Driver runs one restore attempt end to end.
type Driver struct {
	Session    *session.Session
	Dispatcher *dispatch.Dispatcher
	Progress   *progress.Mapper
	SideChannel *sidechannel.Supervisor
	Metrics    metrics.RestoreMetrics

	Preflight PreflightInfo

	// RestoreBootArgs, when non-empty, is copied into the options
	// dictionary under RestoreBootArgs.
	RestoreBootArgs string

	ReceiveTimeout time.Duration

	// UUIDFunc generates the options dictionary's UUID field. Defaults to
	// a real random UUID; tests needing §8 invariant 7 (the options dict
	// is otherwise idempotent for equal inputs) inject a fixed generator
	// here, since a fresh session UUID is -- by design -- not itself
	// idempotent across builds.
	UUIDFunc func() string

	state      State
	checkpoint checkpoint
}

// New constructs a Driver from its already-opened collaborators.
func New(sess *session.Session, disp *dispatch.Dispatcher, prog *progress.Mapper, sc *sidechannel.Supervisor, m metrics.RestoreMetrics) *Driver {
	return &Driver{
		Session:        sess,
		Dispatcher:     disp,
		Progress:       prog,
		SideChannel:    sc,
		Metrics:        m,
		ReceiveTimeout: time.Second,
		UUIDFunc:       generateUUID,
		state:          Opening,
	}
}

func (d *Driver) setState(s State) {
	d.state = s
	if d.Metrics != nil {
		d.Metrics.SetSessionState(s.String())
	}
	logger.Info("driver state transition", logger.Attempt(int(s)))
}

// Run drives the full session lifecycle: Seeding (options + start_restore),
// Running (message loop), Finishing (teardown). Returns the exit code per
// spec §6: 0 success, -1 per-request fatal, -2 when the restore options
// cannot be sent or a filesystem image transfer fails, -11 transport error
// while reading, or the negated device AMRError.
func (d *Driver) Run(ctx context.Context) int {
	start := time.Now()
	d.setState(Seeding)

	options := d.buildOptions()
	options["MsgType"] = "StartRestore"
	options["ProtocolVersion"] = d.Session.State.ProtocolVersion
	if err := d.Session.Codec.Send(codec.Message(options)); err != nil {
		telemetry.RecordError(ctx, err)
		return d.finish(ctx, -2, start)
	}

	if d.SideChannel != nil {
		if err := d.SideChannel.Start(ctx); err != nil {
			logger.Warn("side-channel supervisor failed to start, proceeding without it", logger.Err(err))
		}
	}

	d.setState(Running)
	exitCode := d.messageLoop(ctx)

	return d.finish(ctx, exitCode, start)
}

func (d *Driver) finish(ctx context.Context, exitCode int, start time.Time) int {
	d.setState(Finishing)

	if d.SideChannel != nil {
		if err := d.SideChannel.Stop(ctx); err != nil {
			logger.Warn("side-channel supervisor teardown failed", logger.Err(err))
		}
	}
	if err := d.Session.Close(); err != nil {
		logger.Warn("session close failed", logger.Err(err))
	}

	outcome := "success"
	switch {
	case exitCode < 0:
		outcome = "failure"
	}
	if d.Metrics != nil {
		d.Metrics.RecordSessionOutcome(outcome, time.Since(start))
	}

	d.setState(Closed)
	return exitCode
}

// messageLoop pumps the codec's blocking receive, dispatching each message
// by MsgType, until the session's quit flag is set or a fatal receive
// error occurs.
func (d *Driver) messageLoop(ctx context.Context) int {
	for !d.Session.State.ShouldQuit() {
		msg, err := d.Session.Codec.Receive(d.ReceiveTimeout)
		if err != nil {
			if err == codec.ErrTimeout {
				continue
			}
			if rc, ok := restoreerrors.CodeOf(err); ok && rc == restoreerrors.TransportError {
				telemetry.RecordError(ctx, err)
				return -11
			}
			logger.Warn("malformed restore message, skipping", logger.Err(err))
			continue
		}

		msgType := msg.MsgType()
		msgStart := time.Now()
		exit, terminal := d.handleMessage(ctx, msg, msgType)
		if d.Metrics != nil {
			d.Metrics.RecordMessage(msgType, time.Since(msgStart), "")
		}
		if terminal {
			return exit
		}
	}
	return 0
}

// handleMessage routes one decoded message by MsgType. terminal is true
// when the loop should stop immediately and return exit.
func (d *Driver) handleMessage(ctx context.Context, msg codec.Message, msgType string) (exit int, terminal bool) {
	switch msgType {
	case "DataRequestMsg":
		rc := d.Dispatcher.Dispatch(ctx, msg)
		if rc == -2 {
			return -2, true
		}
		if rc < 0 {
			if d.Session.State.Flags.IgnoreErrors && !d.Session.State.Flags.QuitOnFirstError {
				logger.Warn("data request failed, continuing (ignore-errors)", logger.MsgType(msgType))
				return 0, false
			}
			return rc, true
		}
		return 0, false

	case "ProgressMsg":
		op, _ := msg.GetInt64("Operation")
		percent, _ := msg.GetInt64("Progress")
		d.Progress.HandleOperation(int(op), int(percent))
		return 0, false

	case "StatusMsg":
		code, _ := msg.GetInt64("Status")
		amrError, _ := msg.GetInt64("AMRError")
		finished, exitCode := d.Progress.HandleStatus(code, amrError)
		if finished {
			if err := d.Session.Codec.Send(codec.Message{"MsgType": "ReceivedFinalStatusMsg"}); err != nil {
				logger.Warn("failed to send ReceivedFinalStatusMsg", logger.Err(err))
			}
			d.Session.State.SetQuit()
			return exitCode, true
		}
		return 0, false

	case "CheckpointMsg":
		d.handleCheckpoint(msg)
		return 0, false

	case "BBUpdateStatusMsg":
		return d.handleBBUpdateStatus(msg)

	case "BasebandUpdaterOutputData":
		if err := d.Dispatcher.Dispatch(ctx, msg); err < 0 {
			return -1, true
		}
		return 0, false

	case "PreviousRestoreLogMsg":
		if restoreLog, ok := msg.GetString("RestoreLog"); ok {
			logger.Debug("previous restore log", logger.Component(restoreLog))
		}
		return 0, false

	default:
		logger.Info("unhandled restore message type, ignoring", logger.MsgType(msgType))
		return 0, false
	}
}

// handleCheckpoint records the checkpoint name/counter and logs once the
// device reports CHECKPOINT_COMPLETE.
func (d *Driver) handleCheckpoint(msg codec.Message) {
	if name, ok := msg.GetString("CHECKPOINT_ID"); ok {
		d.checkpoint.name = name
		d.checkpoint.counter++
	}
	if complete, ok := msg.GetBool("CHECKPOINT_COMPLETE"); ok && complete {
		result, _ := msg.GetString("CHECKPOINT_RESULT")
		logger.Info("checkpoint complete",
			logger.Component(d.checkpoint.name), logger.Attempt(d.checkpoint.counter), logger.StatusMsg(result))
	}
}

// handleBBUpdateStatus inspects Accepted (rejection is fatal) and
// Output.done (true concludes the baseband update), logging any reported
// IMEI.
func (d *Driver) handleBBUpdateStatus(msg codec.Message) (exit int, terminal bool) {
	if accepted, ok := msg.GetBool("Accepted"); ok && !accepted {
		logger.Warn("baseband updater rejected the request")
		d.Session.State.SetQuit()
		return -1, true
	}

	output, ok := msg.GetDict("Output")
	if !ok {
		return 0, false
	}

	if imei, ok := output.GetString("IMEI"); ok {
		logger.Info("baseband updater reported IMEI", logger.Component(imei))
	}

	provisioning, ok := output.GetDict("provisioning")
	if ok {
		if imei, ok := provisioning.GetString("IMEI"); ok {
			logger.Info("baseband updater reported provisioning IMEI", logger.Component(imei))
		}
	}

	if done, ok := output.GetBool("done"); ok && done {
		logger.Info("baseband update concluded")
	}
	return 0, false
}

// buildOptions composes the start_restore options dictionary per spec §6.
func (d *Driver) buildOptions() map[string]interface{} {
	st := d.Session.State
	bi := st.BuildIdentity

	opts := map[string]interface{}{
		"AutoBootDelay":             int64(0),
		"RootToInstall":             false,
		"CreateFilesystemPartitions": true,
		"SystemImage":               true,
		"UUID":                      d.UUIDFunc(),
		"SystemPartitionPadding":    paddingAsMap(bi.SystemPartitionPadding()),
		"SupportedDataTypes":        supportedDataTypes(),
		"SupportedMessageTypes":     supportedMessageTypes(),
	}

	if d.RestoreBootArgs != "" {
		opts["RestoreBootArgs"] = d.RestoreBootArgs
	}

	fdrEligible := bi.Info.FDRSupport
	if fdrEligible && len(d.Preflight.BBUpdaterState) > 0 {
		opts["BBUpdaterState"] = stripFusingFields(d.Preflight.BBUpdaterState)
	}
	if fdrEligible && len(d.Preflight.BasebandNonce) > 0 {
		opts["BasebandNonce"] = d.Preflight.BasebandNonce
	}
	if fdrEligible {
		if sep, ok := bi.Component("SEP"); ok && sep.Info.RequiredCapacity > 0 {
			opts["TZ0RequiredCapacity"] = sep.Info.RequiredCapacity
		}
	}

	if isDesktopVariant(bi.Info.MacOSVariant) {
		for k, v := range desktopOptions(st) {
			opts[k] = v
		}
	} else {
		for k, v := range mobileOptions() {
			opts[k] = v
		}
	}

	return opts
}

// stripFusingFields returns a shallow copy of info with FusingStatus and
// PkHash removed, per §6's BBUpdaterState sanitization.
func stripFusingFields(info map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(info))
	for k, v := range info {
		if k == "FusingStatus" || k == "PkHash" {
			continue
		}
		out[k] = v
	}
	return out
}

func isDesktopVariant(macOSVariant string) bool {
	return macOSVariant != ""
}

func desktopOptions(st *session.State) map[string]interface{} {
	return map[string]interface{}{
		"AddSystemPartitionPadding":        true,
		"AllowUntetheredRestore":           st.Flags.AllowUntetheredRestore,
		"AuthInstallEnableSso":             false,
		"AuthInstallRecoveryOSVariant":     "RecoveryOS",
		"AuthInstallRestoreBehavior":       restoreBehavior(st.Flags),
		"BasebandUpdaterOutputPath":        fmt.Sprintf("updater_output-%s.cpio", st.UDID),
		"DisableUserAuthentication":        true,
		"FitSystemPartitionToContent":      false,
		"FlashNOR":                         !st.Flags.ExcludeNOR,
		"FormatForAPFS":                    true,
		"FormatForLwVM":                    false,
		"InstallDiags":                     false,
		"InstallRecoveryOS":                true,
		"MacOSSwapPerformed":               false,
		"MacOSVariantPresent":              true,
		"MinimumBatteryVoltage":            int64(0),
		"RecoveryOSUnpack":                 true,
		"ShouldRestoreSystemImage":         true,
		"SkipPreflightPersonalization":     false,
		"UpdateBaseband":                   true,
		"recoveryOSPartitionSize":          int64(0),
		"SystemPartitionSize":              int64(0),
	}
}

func mobileOptions() map[string]interface{} {
	return map[string]interface{}{
		"BootImageType":              "UserOrInternal",
		"DFUFileType":                "RELEASE",
		"DataImage":                  false,
		"FirmwareDirectory":          ".",
		"KernelCacheType":            "Release",
		"NORImageType":               "production",
		"RestoreBundlePath":          "/tmp/Per2Device.bundle",
		"SystemImageType":            "User",
		"PersonalizedDuringPreflight": true,
	}
}

func restoreBehavior(f session.Flags) string {
	if f.Erase {
		return "Erase"
	}
	return "Update"
}

func paddingAsMap(padding map[string]int64) map[string]interface{} {
	out := make(map[string]interface{}, len(padding))
	for k, v := range padding {
		out[k] = v
	}
	return out
}

// supportedDataTypes and supportedMessageTypes are the fixed capability
// declarations every restore session advertises; spec.md treats their
// contents as opaque constants.
func supportedDataTypes() map[string]interface{} {
	names := []string{
		"BasebandBootData", "BasebandData", "BasebandUpdaterOutputData",
		"BuildIdentityDict", "DataType", "DiagData", "EANData", "FDRTrustData",
		"FUDData", "FirmwareUpdaterData", "FirmwareUpdaterPreflight",
		"GrapeFirmwareUpdaterData", "HPMFirmwareData", "KernelCache",
		"NORData", "NitrogenFirmwareData", "OpalFirmwareData",
		"OverlayRootDataCount", "OverlayRootDataForKey", "PeppyFirmwareData",
		"PersonalizedBootObjectV3", "PersonalizedData", "ProvisioningData",
		"RamdiskFirmwareData", "RecoveryOSASRImage", "RecoveryOSAppleLogo",
		"RecoveryOSDeviceTree", "RecoveryOSFileAssetImageData",
		"RecoveryOSIBEC", "RecoveryOSIBootFirmwareFile", "RecoveryOSImage",
		"RecoveryOSKernelCache", "RecoveryOSLocalPolicy",
		"RecoveryOSOverlayRootDataForKey", "RecoveryOSRootTicketData",
		"RecoveryOSStaticTrustCache", "RecoveryOSVersionData", "RootData",
		"RootTicket", "S3EDeviceTree", "S3EFirmwareData", "S3EOverlayRootDataForKey",
		"S3ERootDataForImage4", "SE,UpdatePayload", "SourceBootObjectV3",
		"SourceBootObjectV4", "SsoServiceTicket", "StockholmPostflight",
		"SystemImageCanonicalMetadata", "SystemImageData", "SystemImageRootHash",
		"USBCFirmwareData", "USBCOverlayRootDataForKey",
	}
	out := make(map[string]interface{}, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

func supportedMessageTypes() map[string]interface{} {
	names := []string{
		"BBUpdateStatusMsg", "CheckpointMsg", "DataRequestMsg", "FDRSubmit",
		"IDS", "KeepAlive", "PreviousRestoreLogMsg", "ProgressMsg",
		"ProvisioningAck", "ProvisioningInfo", "ProvisioningStatus",
		"ReceivedFinalStatusMsg", "RestoredCrash", "StatusMsg",
	}
	out := make(map[string]interface{}, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

// generateUUID returns a freshly generated restore-session UUID, re-seeded
// on every call (one per options dictionary build, matching the "always
// emitted" UUID key); §8 invariant 7 (idempotence) covers the rest of the
// dictionary, not this field.
func generateUUID() string {
	return strings.ToUpper(uuid.New().String())
}
