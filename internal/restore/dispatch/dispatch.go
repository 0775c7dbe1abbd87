// Package dispatch implements the Data-Request Dispatcher: the large
// switch on DataRequestMsg's DataType that orchestrates the archive
// reader, ticket client, personalizer, baseband packager, FTAB editor,
// CPIO streamer, and build identity helpers to compose each reply.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stek29/idevicerestore/internal/logger"
	"github.com/stek29/idevicerestore/internal/restore/codec"
	"github.com/stek29/idevicerestore/internal/restore/session"
	"github.com/stek29/idevicerestore/internal/telemetry"
	"github.com/stek29/idevicerestore/pkg/archive"
	"github.com/stek29/idevicerestore/pkg/baseband"
	"github.com/stek29/idevicerestore/pkg/buildidentity"
	"github.com/stek29/idevicerestore/pkg/cpio"
	"github.com/stek29/idevicerestore/pkg/ftab"
	"github.com/stek29/idevicerestore/pkg/metrics"
	"github.com/stek29/idevicerestore/pkg/personalize"
	"github.com/stek29/idevicerestore/pkg/restoreerrors"
	"github.com/stek29/idevicerestore/pkg/ticket"
)

const maxFileDataChunk = 8 * 1024

// DialFunc opens an outbound connection to a device-supplied data port,
// used by BootabilityBundle and BasebandUpdaterOutputData.
type DialFunc func(ctx context.Context, port uint16) (net.Conn, error)

// RootTicketOverride carries user-supplied root ticket bytes (the CUSTOM
// session path), bypassing the ticket client entirely for those two
// DataTypes.
type RootTicketOverride struct {
	RootTicket           []byte
	RecoveryOSRootTicket []byte
}

// Dispatcher composes DataRequestMsg replies from the archive, ticket,
// personalization, baseband, FTAB, and CPIO components, and sends them
// via the restore message codec.
type Dispatcher struct {
	State         *session.State
	Codec         *codec.Codec
	Archive       *archive.Reader
	TicketClient  *ticket.Client
	TicketBuilder *ticket.Builder
	Personalizer  *personalize.Personalizer
	BuildIdentity *buildidentity.BuildIdentity

	// APTicket is the AP (image4 or legacy) ticket response obtained once
	// by the driver before the message loop starts; every personalized
	// component is signed against it.
	APTicket ticket.Response

	Override RootTicketOverride

	Dial DialFunc

	UpdaterOutputDir string

	Metrics metrics.RestoreMetrics
}

// Dispatch routes a DataRequestMsg by its DataType, composing and sending
// the matching reply. Returns -2 when the filesystem transfer itself
// fails (caller treats as immediately fatal), a negative value for any
// other per-request fatal error, or 0 on success / unknown-but-ignored
// types.
func (d *Dispatcher) Dispatch(ctx context.Context, msg codec.Message) int {
	dataType, ok := msg.GetString("DataType")
	if !ok {
		logger.Warn("DataRequestMsg missing DataType, ignoring")
		return 0
	}

	ctx, span := telemetry.StartDispatchSpan(ctx, "DataRequestMsg", telemetry.DataType(dataType))
	defer span.End()

	start := time.Now()
	err := d.route(ctx, dataType, msg)
	errCode := ""
	if err != nil {
		if rc, ok := restoreerrors.CodeOf(err); ok {
			errCode = rc.String()
		}
		telemetry.RecordError(ctx, err)
	}
	if d.Metrics != nil {
		d.Metrics.RecordDataRequest(dataType, time.Since(start), errCode)
	}

	if err == nil {
		return 0
	}

	logger.Warn("data request failed", logger.DataType(dataType), logger.Err(err))
	if dataType == "SystemImageData" || dataType == "RecoveryOSASRImage" {
		return -2
	}
	if !d.State.Flags.IgnoreErrors || d.State.Flags.QuitOnFirstError {
		d.State.SetQuit()
	}
	return -1
}

func (d *Dispatcher) route(ctx context.Context, dataType string, msg codec.Message) error {
	switch dataType {
	case "SystemImageData", "RecoveryOSASRImage":
		// Filesystem image upload is driven by an ASR streamer external
		// to the restore-protocol message codec; that transport is an
		// out-of-scope collaborator (see spec's Out-of-scope list). The
		// dispatcher's responsibility ends at invoking it.
		return fmt.Errorf("filesystem image transfer requires an ASR streamer collaborator, none configured")

	case "BuildIdentityDict":
		return d.sendBuildIdentity(ctx, msg)

	case "PersonalizedBootObjectV3":
		return d.sendBootObject(ctx, msg, true)

	case "SourceBootObjectV4":
		return d.sendBootObject(ctx, msg, false)

	case "RecoveryOSLocalPolicy":
		return d.sendRecoveryOSLocalPolicy(ctx, msg)

	case "RecoveryOSRootTicketData":
		return d.sendRootTicket(ctx, "RecoveryOSRootTicketData", d.Override.RecoveryOSRootTicket)

	case "RootTicket":
		return d.sendRootTicket(ctx, "RootTicketData", d.Override.RootTicket)

	case "KernelCache":
		return d.sendComponent(ctx, "KernelCache", "KernelCache")

	case "DeviceTree":
		return d.sendComponent(ctx, "DeviceTree", "DeviceTree")

	case "SystemImageRootHash":
		return d.sendComponent(ctx, "SystemVolume", "SystemImageRootHash")

	case "SystemImageCanonicalMetadata":
		return d.sendComponent(ctx, "Ap,SystemVolumeCanonicalMetadata", "SystemImageCanonicalMetadata")

	case "NORData":
		if d.State.Flags.ExcludeNOR {
			logger.Info("NORData requested but exclude-NOR flag set, quitting")
			d.State.SetQuit()
			return nil
		}
		return d.sendNORData(ctx, msg)

	case "BasebandData":
		return d.sendBasebandData(ctx, msg)

	case "FDRTrustData":
		return d.Codec.Send(codec.Message{})

	case "FUDData":
		return d.sendImageData(ctx, msg, "FUDImageList", "IsFUDFirmware", "FUDImageData")

	case "PersonalizedData":
		return d.sendImageData(ctx, msg, "ImageList", "", "ImageData")

	case "EANData":
		return d.sendImageData(ctx, msg, "EANImageList", "IsEarlyAccessFirmware", "EANData")

	case "FirmwareUpdaterData":
		return d.sendFirmwareUpdaterData(ctx, msg)

	case "BootabilityBundle":
		return d.sendBootabilityBundle(ctx, msg)

	case "BasebandUpdaterOutputData":
		return d.drainBasebandUpdaterOutput(ctx, msg)

	default:
		logger.Info("unhandled data request type, ignoring", logger.DataType(dataType))
		return nil
	}
}

// componentPath resolves a logical component's archive path: the ticket
// response's per-entry path if present (not modeled separately here, as
// the ticket responses this driver issues do not carry path overrides),
// falling back to the build identity's manifest.
func (d *Dispatcher) componentPath(component string) (string, error) {
	entry, ok := d.BuildIdentity.Component(component)
	if !ok || entry.Info.Path == "" {
		return "", restoreerrors.NewArchiveFailure("dispatch.component_path", fmt.Errorf("no path for component %q in build identity", component))
	}
	return entry.Info.Path, nil
}

func (d *Dispatcher) extractComponent(ctx context.Context, component string) ([]byte, error) {
	path, err := d.componentPath(component)
	if err != nil {
		return nil, err
	}
	return d.Archive.ExtractToMemory(ctx, path)
}

// personalizeComponent extracts and personalizes component against the
// cached AP ticket response.
func (d *Dispatcher) personalizeComponent(ctx context.Context, component string) ([]byte, error) {
	raw, err := d.extractComponent(ctx, component)
	if err != nil {
		return nil, err
	}
	manifestData, _ := d.APTicket.Bytes(d.Personalizer.TicketSlot())
	return d.Personalizer.Personalize(ctx, component, raw, manifestData)
}

func (d *Dispatcher) sendComponent(ctx context.Context, component, replyKeyBase string) error {
	data, err := d.personalizeComponent(ctx, component)
	if err != nil {
		return err
	}
	return d.Codec.Send(codec.Message{replyKeyBase + "File": data})
}

// sendBuildIdentity replies with the active build identity and the
// requested Variant. A Variant key entirely absent from the message's
// Arguments (not merely empty) defaults to "Erase": real devices send
// both forms and the distinction matters.
func (d *Dispatcher) sendBuildIdentity(ctx context.Context, msg codec.Message) error {
	_, span := telemetry.StartSpan(ctx, telemetry.SpanBuildIdentityReq)
	defer span.End()

	variant := "Erase"
	if args, ok := msg.GetDict("Arguments"); ok {
		if v, present := args["Variant"]; present {
			if s, ok := v.(string); ok {
				variant = s
			}
		}
	}

	return d.Codec.Send(codec.Message{
		"BuildIdentityDict": d.buildIdentityAsMap(),
		"Variant":           variant,
	})
}

// buildIdentityAsMap re-projects the decoded BuildIdentity back into a
// generic map for wire transmission. The archive's original manifest
// bytes are not retained, so only the typed fields listed below are sent;
// any other manifest keys are omitted.
func (d *Dispatcher) buildIdentityAsMap() map[string]interface{} {
	info := map[string]interface{}{
		"DeviceClass":            d.BuildIdentity.Info.DeviceClass,
		"MacOSVariant":           d.BuildIdentity.Info.MacOSVariant,
		"MinimumSystemPartition": d.BuildIdentity.Info.MinimumSystemPartition,
		"FDRSupport":             d.BuildIdentity.Info.FDRSupport,
		"RestoreBehavior":        d.BuildIdentity.Info.RestoreBehavior,
		"SupportsImage4":         d.BuildIdentity.Info.SupportsImage4,
		"Variant":                d.BuildIdentity.Info.Variant,
	}
	manifest := map[string]interface{}{}
	for name, entry := range d.BuildIdentity.Manifest {
		manifest[name] = map[string]interface{}{
			"Info": map[string]interface{}{
				"Path":                       entry.Info.Path,
				"IsFirmwarePayload":          entry.Info.IsFirmwarePayload,
				"IsLoadedByiBoot":            entry.Info.IsLoadedByiBoot,
				"IsSecondaryFirmwarePayload": entry.Info.IsSecondaryFirmwarePayload,
				"IsFUDFirmware":              entry.Info.IsFUDFirmware,
				"IsEarlyAccessFirmware":      entry.Info.IsEarlyAccessFirmware,
			},
			"Digest": entry.Digest,
		}
	}
	return map[string]interface{}{"Info": info, "Manifest": manifest}
}

// sendBootObject resolves, optionally personalizes, and streams the named
// component in <=8KiB FileData chunks terminated by FileDataDone.
func (d *Dispatcher) sendBootObject(ctx context.Context, msg codec.Message, personalized bool) error {
	args, ok := msg.GetDict("Arguments")
	if !ok {
		return restoreerrors.NewProtocolError("dispatch.boot_object", fmt.Errorf("missing Arguments"))
	}
	component, ok := args.GetString("ImageName")
	if !ok {
		return restoreerrors.NewProtocolError("dispatch.boot_object", fmt.Errorf("missing ImageName"))
	}

	var data []byte
	var err error
	if personalized {
		data, err = d.personalizeComponent(ctx, component)
	} else {
		data, err = d.extractComponent(ctx, component)
	}
	if err != nil {
		return err
	}

	for off := 0; off < len(data); off += maxFileDataChunk {
		end := off + maxFileDataChunk
		if end > len(data) {
			end = len(data)
		}
		if err := d.Codec.Send(codec.Message{"FileData": data[off:end]}); err != nil {
			return restoreerrors.NewTransportError("dispatch.boot_object", err)
		}
	}
	return d.Codec.Send(codec.Message{"FileDataDone": true})
}

func (d *Dispatcher) sendRecoveryOSLocalPolicy(ctx context.Context, msg codec.Message) error {
	args, _ := msg.GetDict("Arguments")
	policyTags := ticket.Request{}
	if args != nil {
		for k, v := range args {
			policyTags[k] = v
		}
	}
	resp, err := d.TicketClient.Request(ctx, "local_policy", d.TicketBuilder.Subsystem(policyTags))
	if err != nil {
		return err
	}
	policyTemplate, err := d.extractComponent(ctx, "Ap,LocalPolicy")
	if err != nil {
		return err
	}
	manifestData, _ := resp.Bytes(d.Personalizer.TicketSlot())
	signed, err := d.Personalizer.Personalize(ctx, "Ap,LocalPolicy", policyTemplate, manifestData)
	if err != nil {
		return err
	}
	return d.Codec.Send(codec.Message{"Ap,LocalPolicy": signed})
}

// sendRootTicket replies with override bytes when the CUSTOM session flag
// provided them, else with the cached AP ticket's slot data under
// replyKey. Empty payload is tolerated only in CUSTOM mode.
func (d *Dispatcher) sendRootTicket(ctx context.Context, replyKey string, override []byte) error {
	if len(override) > 0 {
		return d.Codec.Send(codec.Message{replyKey: override})
	}

	if !d.State.Flags.Custom && d.APTicket == nil {
		return restoreerrors.NewTicketFailure("dispatch.root_ticket", fmt.Errorf("no ticket response available"))
	}

	data, ok := d.APTicket.Bytes(d.Personalizer.TicketSlot())
	if !ok || len(data) == 0 {
		if d.State.Flags.Custom {
			logger.Info("root ticket empty, sending no data (custom session)")
			return d.Codec.Send(codec.Message{})
		}
		return restoreerrors.NewTicketFailure("dispatch.root_ticket", fmt.Errorf("ticket response missing %s", d.Personalizer.TicketSlot()))
	}

	return d.Codec.Send(codec.Message{replyKey: data})
}

// sendNORData builds LlbImageData + NorImageData (array or dict keyed by
// FlashVersion1) plus optional SEPImageData/RestoreSEPImageData.
func (d *Dispatcher) sendNORData(ctx context.Context, msg codec.Message) error {
	flashVersion1 := false
	if args, ok := msg.GetDict("Arguments"); ok {
		_, flashVersion1 = args["FlashVersion1"]
	}

	llbData, err := d.personalizeComponent(ctx, "LLB")
	if err != nil {
		return err
	}

	reply := codec.Message{"LlbImageData": llbData}

	names := d.BuildIdentity.FirmwarePayloads()
	if flashVersion1 {
		norDict := map[string]interface{}{}
		for _, name := range names {
			data, err := d.personalizeComponent(ctx, name)
			if err != nil {
				return err
			}
			norDict[name] = data
		}
		reply["NorImageData"] = norDict
	} else {
		var norArray []interface{}
		var iBootData []byte
		for _, name := range names {
			data, err := d.personalizeComponent(ctx, name)
			if err != nil {
				return err
			}
			if strings.HasPrefix(name, "iBoot") {
				iBootData = data
				continue
			}
			norArray = append(norArray, data)
		}
		if iBootData != nil {
			norArray = append([]interface{}{interface{}(iBootData)}, norArray...)
		}
		reply["NorImageData"] = norArray
	}

	if _, ok := d.BuildIdentity.Component("RestoreSEP"); ok {
		data, err := d.personalizeComponent(ctx, "RestoreSEP")
		if err != nil {
			return err
		}
		reply["RestoreSEPImageData"] = data
	}
	if _, ok := d.BuildIdentity.Component("SEP"); ok {
		data, err := d.personalizeComponent(ctx, "SEP")
		if err != nil {
			return err
		}
		reply["SEPImageData"] = data
	}

	return d.Codec.Send(reply)
}

// sendBasebandData requests (or reuses the session-cached) Baseband
// ticket, repacks the baseband firmware archive, and sends the result.
func (d *Dispatcher) sendBasebandData(ctx context.Context, msg codec.Message) error {
	_, span := telemetry.StartBasebandSpan(ctx, "dispatch", "")
	defer span.End()

	var bbNonce []byte
	if args, ok := msg.GetDict("Arguments"); ok {
		bbNonce, _ = args.GetData("BbNonce")
	}

	bbResp, cached := d.State.CachedBasebandTicket()
	if !cached {
		req := d.TicketBuilder.Baseband(0, 0, nil, bbNonce, ticket.Request{})
		resp, err := d.TicketClient.Request(ctx, "baseband", req)
		if err != nil {
			return err
		}
		d.State.CacheBasebandTicket(map[string]interface{}(resp))
		bbResp = map[string]interface{}(resp)
	}

	archivePath, err := d.componentPath("BasebandFirmware")
	if err != nil {
		return err
	}
	archiveData, err := d.Archive.ExtractToMemory(ctx, archivePath)
	if err != nil {
		return err
	}

	repacked, err := baseband.Repack(ctx, archiveData, ticket.Response(bbResp), bbNonce)
	if err != nil {
		return err
	}

	return d.Codec.Send(codec.Message{"BasebandData": repacked})
}

// sendImageData implements §4.11's generic reply: with list-key=true,
// reply with matching component names; otherwise reply with personalized
// bytes for the matching component(s), keyed by data-key.
func (d *Dispatcher) sendImageData(ctx context.Context, msg codec.Message, listKey, typeFlag, dataKey string) error {
	args, _ := msg.GetDict("Arguments")

	wantList, _ := args.GetBool(listKey)
	imageName, hasImageName := args.GetString("ImageName")

	predicate := func(info buildidentity.ComponentInfo) bool {
		switch typeFlag {
		case "":
			return true
		case "IsFUDFirmware":
			return info.IsFUDFirmware
		case "IsEarlyAccessFirmware":
			return info.IsEarlyAccessFirmware
		default:
			return false
		}
	}

	if wantList {
		names := d.BuildIdentity.ComponentsWhere(predicate)
		arr := make([]interface{}, len(names))
		for i, n := range names {
			arr[i] = n
		}
		return d.Codec.Send(codec.Message{listKey: arr})
	}

	reply := codec.Message{}
	if hasImageName {
		data, err := d.personalizeComponent(ctx, imageName)
		if err != nil {
			return err
		}
		reply[dataKey] = data
		reply["ImageName"] = imageName
		return d.Codec.Send(reply)
	}

	dataDict := map[string]interface{}{}
	for _, name := range d.BuildIdentity.ComponentsWhere(predicate) {
		data, err := d.personalizeComponent(ctx, name)
		if err != nil {
			return err
		}
		dataDict[name] = data
	}
	reply[dataKey] = dataDict
	return d.Codec.Send(reply)
}

// sendFirmwareUpdaterData dispatches by MessageArgUpdaterName to the
// matching subsystem ticket helper, modeling each firmware-updater
// subsystem as a variant of one tagged UpdaterKind rather than a
// hand-written branch per vendor.
func (d *Dispatcher) sendFirmwareUpdaterData(ctx context.Context, msg codec.Message) error {
	args, ok := msg.GetDict("Arguments")
	if !ok {
		return restoreerrors.NewProtocolError("dispatch.firmware_updater", fmt.Errorf("missing Arguments"))
	}
	updaterName, ok := args.GetString("MessageArgUpdaterName")
	if !ok {
		return restoreerrors.NewProtocolError("dispatch.firmware_updater", fmt.Errorf("missing MessageArgUpdaterName"))
	}
	info, _ := args.GetDict("MessageArgInfo")

	kind, ok := updaterKinds[updaterName]
	if !ok {
		return restoreerrors.NewProtocolError("dispatch.firmware_updater", fmt.Errorf("unrecognized updater %q", updaterName))
	}

	subsystemTags := ticket.Request{}
	for k, v := range info {
		subsystemTags[k] = v
	}

	var req ticket.Request
	if kind.timerTagged {
		tagNumber := 0
		if n, ok := info.GetInt64("TagNumber"); ok {
			tagNumber = int(n)
		}
		req = d.TicketBuilder.Timer(tagNumber, subsystemTags)
	} else {
		req = d.TicketBuilder.Subsystem(subsystemTags)
	}

	resp, err := d.TicketClient.Request(ctx, kind.subsystem, req)
	if err != nil {
		return err
	}

	ticketKey := kind.ticketKey
	if kind.timerTagged {
		tagNumber := 0
		if n, ok := info.GetInt64("TagNumber"); ok {
			tagNumber = int(n)
		}
		ticketKey = ticket.TimerTicketKey(tagNumber)
	}
	if !resp.HasKey(ticketKey) {
		return restoreerrors.NewTicketFailure("dispatch.firmware_updater", fmt.Errorf("response missing %s", ticketKey))
	}

	fwData := map[string]interface{}{}
	for k, v := range resp {
		fwData[k] = v
	}
	if base, recovery, ok := kind.ftabComponents(info); ok {
		raw, err := d.composeFTABComponent(ctx, base, recovery)
		if err == nil {
			fwData["FirmwareData"] = raw
		}
	} else if component, ok := kind.firmwareComponent(info); ok {
		raw, err := d.extractComponent(ctx, component)
		if err == nil {
			fwData["FirmwareData"] = raw
		}
	}

	return d.Codec.Send(codec.Message{"FirmwareResponseData": map[string]interface{}{"FirmwareData": fwData}})
}

// composeFTABComponent extracts the base component's FTAB and, if the
// build identity also carries the companion recovery component, copies
// its RecoveryEntryTag entry into the base before re-serializing, per
// §4.8's "base FTAB plus companion recovery FTAB's rrko entry" rule.
func (d *Dispatcher) composeFTABComponent(ctx context.Context, base, recovery string) ([]byte, error) {
	_, span := telemetry.StartSpan(ctx, telemetry.SpanFTABPatch, trace.WithAttributes(telemetry.Tag(base)))
	defer span.End()

	raw, err := d.extractComponent(ctx, base)
	if err != nil {
		return nil, err
	}
	baseTab, err := ftab.Parse(raw)
	if err != nil {
		return nil, restoreerrors.NewProtocolError("dispatch.ftab", err)
	}

	if _, ok := d.BuildIdentity.Component(recovery); ok {
		rraw, err := d.extractComponent(ctx, recovery)
		if err != nil {
			return nil, err
		}
		recoveryTab, err := ftab.Parse(rraw)
		if err != nil {
			return nil, restoreerrors.NewProtocolError("dispatch.ftab", err)
		}
		baseTab = ftab.ComposeWithRecovery(baseTab, recoveryTab)
	}

	return baseTab.Serialize(), nil
}

// updaterKind is the tagged-variant description of one firmware-updater
// subsystem: its ticket request subsystem tag and expected response key.
type updaterKind struct {
	subsystem   string
	ticketKey   string
	timerTagged bool
	ftabTagged  bool
}

func (k updaterKind) firmwareComponent(info codec.Message) (string, bool) {
	if c, ok := info.GetString("FirmwarePathComponent"); ok {
		return c, true
	}
	return "", false
}

// ftabComponents returns the base/recovery component names to source an
// FTAB-composed FirmwareData from, for updater kinds tagged ftabTagged.
func (k updaterKind) ftabComponents(info codec.Message) (base, recovery string, ok bool) {
	if !k.ftabTagged {
		return "", "", false
	}
	if k.timerTagged {
		tagNumber := 0
		if n, ok := info.GetInt64("TagNumber"); ok {
			tagNumber = int(n)
		}
		return fmt.Sprintf("Timer,RTKitOS,%d", tagNumber), fmt.Sprintf("Timer,RestoreRTKitOS,%d", tagNumber), true
	}
	return "Rap,RTKitOS", "Rap,RestoreRTKitOS", true
}

var updaterKinds = map[string]updaterKind{
	"SE":                {subsystem: "se", ticketKey: ticket.KeySETicket},
	"Savage":            {subsystem: "savage", ticketKey: ticket.KeySavageTicket},
	"Rose":              {subsystem: "rose", ticketKey: ticket.KeyRoseTicket, ftabTagged: true},
	"T200":              {subsystem: "veridian", ticketKey: ticket.KeyVeridianTicket},
	"AppleTCON":         {subsystem: "baobab", ticketKey: ticket.KeyBaobabTicket},
	"AppleTypeCRetimer": {subsystem: "timer", ticketKey: "", timerTagged: true, ftabTagged: true},
}

// sendBootabilityBundle dials the device-supplied data port and streams
// the archive's BootabilityBundle entries.
func (d *Dispatcher) sendBootabilityBundle(ctx context.Context, msg codec.Message) error {
	port, err := dataPort(msg)
	if err != nil {
		return err
	}
	conn, err := d.Dial(ctx, port)
	if err != nil {
		return restoreerrors.NewTransportError("dispatch.bootability_bundle", err)
	}

	streamer := cpio.FromConn(conn)
	defer streamer.Close()

	var entries []cpio.SourceEntry
	err = d.Archive.List(func(stat archive.EntryStat) error {
		path := stat.Name
		entries = append(entries, cpio.SourceEntry{
			Path:    path,
			IsDir:   stat.IsDir,
			Size:    stat.Size,
			ModTime: stat.ModTime,
			Open: func() (io.ReadCloser, error) {
				return d.Archive.OpenEntry(path)
			},
		})
		return nil
	})
	if err != nil {
		return err
	}
	return streamer.StreamBootabilityBundle(ctx, entries)
}

// drainBasebandUpdaterOutput connects to the device's baseband updater
// output port and drains it verbatim into a local CPIO capture file.
func (d *Dispatcher) drainBasebandUpdaterOutput(ctx context.Context, msg codec.Message) error {
	port, err := dataPort(msg)
	if err != nil {
		return err
	}
	conn, err := d.Dial(ctx, port)
	if err != nil {
		return restoreerrors.NewTransportError("dispatch.baseband_updater_output", err)
	}
	defer conn.Close()

	filename := fmt.Sprintf("updater_output-%s.cpio", d.State.UDID)
	path := filename
	if d.UpdaterOutputDir != "" {
		path = filepath.Join(d.UpdaterOutputDir, filename)
	}

	f, err := os.Create(path)
	if err != nil {
		logger.Warn("could not open baseband updater output capture, discarding data", logger.Filename(path), logger.Err(err))
		_, _ = io.Copy(io.Discard, conn)
		return nil
	}
	defer f.Close()

	n, err := io.Copy(f, conn)
	if err != nil {
		return restoreerrors.NewTransportError("dispatch.baseband_updater_output", err)
	}
	logger.Info("captured baseband updater output", logger.Filename(path), logger.Size64(n))
	return nil
}

func dataPort(msg codec.Message) (uint16, error) {
	v, ok := msg.GetInt64("DataPort")
	if !ok {
		return 0, restoreerrors.NewProtocolError("dispatch.data_port", fmt.Errorf("missing DataPort"))
	}
	return uint16(v), nil
}
