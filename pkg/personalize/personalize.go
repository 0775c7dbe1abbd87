// Package personalize applies a signing ticket to a raw firmware
// component, producing the image4-formatted blob the restore daemon
// expects to receive for that component.
package personalize

import (
	"context"
	"encoding/asn1"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/stek29/idevicerestore/internal/logger"
	"github.com/stek29/idevicerestore/internal/telemetry"
	"github.com/stek29/idevicerestore/pkg/restoreerrors"
	"github.com/stek29/idevicerestore/pkg/ticket"
)

// im4p, im4m, im4r are the IMG4 container's three constituent ASN.1
// SEQUENCEs: the raw payload, the signing manifest (the ticket's content
// verbatim), and an optional restore-info blob.

type im4p struct {
	Tag    string `asn1:"ia5"`
	Type   string `asn1:"ia5"`
	Data   []byte
}

type img4 struct {
	Tag      string `asn1:"ia5"`
	Payload  asn1.RawValue
	Manifest asn1.RawValue `asn1:"tag:0"`
}

// Personalizer applies tickets to raw component bytes.
type Personalizer struct {
	// Image4Supported selects which ticket slot a component's signature
	// comes from: the per-image image4 ticket entry when true, else the
	// legacy whole-AP ticket.
	Image4Supported bool
	// Custom, per the session CUSTOM flag, lets a component with no ticket
	// data pass through unwrapped; components that do have ticket data are
	// still personalized.
	Custom bool
}

// New constructs a Personalizer for the given session flags.
func New(image4Supported, custom bool) *Personalizer {
	return &Personalizer{Image4Supported: image4Supported, Custom: custom}
}

// componentTag maps a component's logical name to this IMG4 4-character
// tag, matching the names the restore daemon recognizes on re-parse.
var componentTag = map[string]string{
	"LLB":          "illb",
	"iBoot":        "ibot",
	"iBSS":         "ibss",
	"iBEC":         "ibec",
	"KernelCache":  "krnl",
	"DeviceTree":   "dtre",
	"SEP":          "sepi",
	"RestoreSEP":   "rsep",
	"AppleLogo":    "logo",
	"RecoveryMode": "rclg",
	"BatteryCharging0": "chg0",
	"BatteryCharging1": "chg1",
	"BatteryLow0":  "glo0",
	"BatteryLow1":  "glo1",
	"BatteryFull":  "chg0",
	"NeedService":  "nsrv",
}

func tagFor(component string) string {
	if t, ok := componentTag[component]; ok {
		return t
	}
	// Fallback for less common components: the first four characters with
	// case preserved, padded with '_' when shorter, matching the restore
	// daemon's tolerant behavior for
	// image types it does not strictly validate the tag of.
	lower := []rune(component)
	n := 4
	if len(lower) < n {
		n = len(lower)
	}
	tag := string(lower[:n])
	for len(tag) < 4 {
		tag += "_"
	}
	return tag
}

// Personalize wraps raw into an image4 container for component, signed
// with manifestData (the raw ApImg4Ticket/image4-slot ticket content).
// When p.Custom is true and manifestData is empty, the component is
// returned unwrapped: a user-provided root ticket path bypasses image4
// packaging entirely.
func (p *Personalizer) Personalize(ctx context.Context, component string, raw []byte, manifestData []byte) ([]byte, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanPersonalize, trace.WithAttributes(telemetry.Component(component)))
	defer span.End()

	if p.Custom && len(manifestData) == 0 {
		logger.Debug("personalize: custom bypass, returning raw bytes", logger.Component(component))
		return raw, nil
	}

	if len(manifestData) == 0 {
		err := restoreerrors.NewPersonalizationFailure("personalize", fmt.Errorf("no ticket data available for component %q", component))
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	tag := tagFor(component)

	payload := im4p{Tag: tag, Type: "raw", Data: raw}
	payloadDER, err := asn1.Marshal(payload)
	if err != nil {
		err := restoreerrors.NewPersonalizationFailure("personalize", err)
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	container := img4{
		Tag:      "IMG4",
		Payload:  asn1.RawValue{FullBytes: payloadDER},
		Manifest: asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: manifestData},
	}

	out, err := asn1.Marshal(container)
	if err != nil {
		err := restoreerrors.NewPersonalizationFailure("personalize", err)
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	logger.Debug("personalized component", logger.Component(component), logger.Size64(int64(len(out))))
	return out, nil
}

// TicketSlot selects the ticket response field a component's manifest data
// should come from: the per-image image4 slot ("ApImg4Ticket" is itself
// the manifest-level ticket; individual image slots are addressed by tag
// under the same response) when Image4Supported, otherwise the legacy
// whole-AP ticket key.
func (p *Personalizer) TicketSlot() string {
	if p.Image4Supported {
		return ticket.KeyAPTicket
	}
	return ticket.KeyLegacyAPTicket
}

