package ticket

import "fmt"

// DeviceIdentity carries the fields every ticket request must include to
// identify the exact device and boot nonce state, regardless of subsystem.
type DeviceIdentity struct {
	ECID           uint64
	ChipID         uint64
	BoardID        uint64
	SecurityDomain uint64
	ApNonce        []byte
	SepNonce       []byte
	Serial         string
}

func (d DeviceIdentity) tags() Request {
	req := Request{
		"ApECID":           fmt.Sprintf("%d", d.ECID),
		"ApChipID":         d.ChipID,
		"ApBoardID":        d.BoardID,
		"ApSecurityDomain": d.SecurityDomain,
	}
	if len(d.ApNonce) > 0 {
		req["ApNonce"] = d.ApNonce
	}
	if len(d.SepNonce) > 0 {
		req["ApSepNonce"] = d.SepNonce
	}
	if d.Serial != "" {
		req["SerialNumber"] = d.Serial
	}
	return req
}

// Builder accumulates the manifest-derived common tags plus per-subsystem
// tags before a ticket.Client.Request call.
type Builder struct {
	identity DeviceIdentity
	common   Request
}

// NewBuilder starts a request for the given device identity, seeded with
// manifest-derived common tags (e.g. UniqueBuildID, ApProductionMode).
func NewBuilder(identity DeviceIdentity, commonTags Request) *Builder {
	b := &Builder{identity: identity, common: Request{}}
	for k, v := range commonTags {
		b.common[k] = v
	}
	return b
}

func (b *Builder) base() Request {
	req := Request{}
	for k, v := range b.common {
		req[k] = v
	}
	for k, v := range b.identity.tags() {
		req[k] = v
	}
	return req
}

// AP builds the AP (image4) ticket request, merging device-info-provided
// tags on top of the common/identity base.
func (b *Builder) AP(deviceInfoTags Request) Request {
	req := b.base()
	mergeInto(req, deviceInfoTags)
	return req
}

// Baseband builds the Baseband ticket request, additionally carrying the
// BbChipID/BbGoldCertId/BbSNUM/BbNonce fields the baseband subsystem needs.
func (b *Builder) Baseband(bbChipID, bbGoldCertID uint64, bbSNUM []byte, bbNonce []byte, deviceInfoTags Request) Request {
	req := b.base()
	req["BbChipID"] = bbChipID
	req["BbGoldCertId"] = bbGoldCertID
	if len(bbSNUM) > 0 {
		req["BbSNUM"] = bbSNUM
	}
	if len(bbNonce) > 0 {
		req["BbNonce"] = bbNonce
	}
	mergeInto(req, deviceInfoTags)
	return req
}

// Subsystem builds a generic ticket request for SE, Savage, Yonkers, Rose,
// Veridian, or Baobab, merging the subsystem's own device-provided tag
// dictionary (keyed by that subsystem's own naming convention) on top of
// the common/identity base.
func (b *Builder) Subsystem(subsystemTags Request) Request {
	req := b.base()
	mergeInto(req, subsystemTags)
	return req
}

// Timer builds the Timer subsystem's request, interpolating tagNumber
// into each of the per-tag parameter names (e.g. "Timer,ChipID,<n>").
func (b *Builder) Timer(tagNumber int, timerTags Request) Request {
	req := b.base()
	for key, val := range timerTags {
		req[fmt.Sprintf("Timer,%s,%d", key, tagNumber)] = val
	}
	return req
}

// TimerTicketKey returns the response key a Timer ticket is expected
// under, e.g. "Timer,Ticket,0".
func TimerTicketKey(tagNumber int) string {
	return fmt.Sprintf("Timer,Ticket,%d", tagNumber)
}

func mergeInto(dst, src Request) {
	for k, v := range src {
		dst[k] = v
	}
}

// Subsystem ticket response key constants, consulted to confirm a request
// succeeded for that subsystem.
const (
	KeyAPTicket       = "ApImg4Ticket"
	KeyLegacyAPTicket = "APTicket"
	KeyBasebandTicket = "BBTicket"
	KeySETicket       = "SE,Ticket"
	KeySavageTicket   = "Savage,Ticket"
	KeyYonkersTicket  = "Yonkers,Ticket"
	KeyRoseTicket     = "Rap,Ticket"
	KeyVeridianTicket = "BMU,Ticket"
	KeyBaobabTicket   = "Baobab,Ticket"
)
