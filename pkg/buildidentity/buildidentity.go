// Package buildidentity decodes and queries the firmware archive's
// manifest: selecting the requested restore variant and resolving
// per-component metadata (path, digest, firmware-payload flags).
package buildidentity

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/stek29/idevicerestore/pkg/restoreerrors"
)

// Info holds the build identity's top-level Info dictionary fields used by
// the core.
type Info struct {
	DeviceClass             string `mapstructure:"DeviceClass"`
	MacOSVariant             string `mapstructure:"MacOSVariant"`
	MinimumSystemPartition  int64  `mapstructure:"MinimumSystemPartition"`
	SystemPartitionPadding  map[string]int64 `mapstructure:"SystemPartitionPadding"`
	FDRSupport              bool   `mapstructure:"FDRSupport"`
	RestoreBehavior         string `mapstructure:"RestoreBehavior"`
	SupportsImage4          bool   `mapstructure:"SupportsImage4"`
	Variant                 string `mapstructure:"Variant"`
}

// ComponentInfo holds a single Manifest.<Component>.Info sub-dictionary.
type ComponentInfo struct {
	Path                       string `mapstructure:"Path"`
	IsFirmwarePayload          bool   `mapstructure:"IsFirmwarePayload"`
	IsLoadedByiBoot            bool   `mapstructure:"IsLoadedByiBoot"`
	IsSecondaryFirmwarePayload bool   `mapstructure:"IsSecondaryFirmwarePayload"`
	IsFUDFirmware              bool   `mapstructure:"IsFUDFirmware"`
	IsEarlyAccessFirmware      bool   `mapstructure:"IsEarlyAccessFirmware"`
	RequiredCapacity           int64  `mapstructure:"RequiredCapacity"`
}

// ManifestEntry is one entry in the Manifest dictionary: a component's
// Info sub-dictionary plus its digest.
type ManifestEntry struct {
	Info   ComponentInfo `mapstructure:"Info"`
	Digest []byte        `mapstructure:"Digest"`
}

// BuildIdentity is a single variant's decoded manifest section.
type BuildIdentity struct {
	Info     Info                     `mapstructure:"Info"`
	Manifest map[string]ManifestEntry `mapstructure:"Manifest"`
}

// Component looks up a named component's manifest entry.
func (b *BuildIdentity) Component(name string) (ManifestEntry, bool) {
	e, ok := b.Manifest[name]
	return e, ok
}

// FirmwarePayloads returns the names of every component that must appear
// in the NORData firmware-files set: IsFirmwarePayload, or
// (IsSecondaryFirmwarePayload AND IsLoadedByiBoot) — excluding LLB and
// RestoreSEP, which are always transmitted through their own dedicated
// reply keys.
func (b *BuildIdentity) FirmwarePayloads() []string {
	var names []string
	for name, entry := range b.Manifest {
		if name == "LLB" || name == "RestoreSEP" {
			continue
		}
		if entry.Info.IsFirmwarePayload || (entry.Info.IsSecondaryFirmwarePayload && entry.Info.IsLoadedByiBoot) {
			names = append(names, name)
		}
	}
	return names
}

// ComponentsWhere returns component names where the given predicate over
// ComponentInfo holds, matching §4.11's generic list-key reply.
func (b *BuildIdentity) ComponentsWhere(predicate func(ComponentInfo) bool) []string {
	var names []string
	for name, entry := range b.Manifest {
		if predicate(entry.Info) {
			names = append(names, name)
		}
	}
	return names
}

// defaultSystemPartitionPadding is used when the manifest's Info does not
// carry a SystemPartitionPadding dictionary.
var defaultSystemPartitionPadding = map[string]int64{
	"8":   80,
	"16":  160,
	"32":  320,
	"64":  640,
	"128": 1280,
}

// SystemPartitionPadding returns the manifest's padding table, or the
// built-in default when absent.
func (b *BuildIdentity) SystemPartitionPadding() map[string]int64 {
	if len(b.Info.SystemPartitionPadding) > 0 {
		return b.Info.SystemPartitionPadding
	}
	return defaultSystemPartitionPadding
}

// Manifest is the archive manifest's top-level decoded shape: one
// BuildIdentity per element of the manifest's BuildIdentities array, in
// array order; callers select by variant via Select.
type Manifest struct {
	Identities []BuildIdentity
}

// DecodeManifest decodes a generic plist-derived map (as produced by
// howett.net/plist's Unmarshal into interface{}) into typed
// BuildIdentity values using mapstructure, matching the decode pattern
// used for every other mapstructure-driven config in this driver.
func DecodeManifest(raw map[string]interface{}) (*Manifest, error) {
	identitiesRaw, ok := raw["BuildIdentities"].([]interface{})
	if !ok {
		return nil, restoreerrors.NewConfigurationError("buildidentity.decode", "manifest missing BuildIdentities array")
	}

	m := &Manifest{}
	for i, raw := range identitiesRaw {
		var bi BuildIdentity
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &bi,
			WeaklyTypedInput: true,
		})
		if err != nil {
			return nil, restoreerrors.Wrap(restoreerrors.ConfigurationError, "buildidentity.decode", err)
		}
		if err := dec.Decode(raw); err != nil {
			return nil, restoreerrors.Wrap(restoreerrors.ConfigurationError, "buildidentity.decode", fmt.Errorf("entry %d: %w", i, err))
		}
		m.Identities = append(m.Identities, bi)
	}

	return m, nil
}

// Select returns the BuildIdentity whose RestoreBehavior matches variant
// ("Erase" or "Update"), preferring an exact Info.Variant match and falling
// back to Info.RestoreBehavior.
func (m *Manifest) Select(variant string) (*BuildIdentity, error) {
	for i := range m.Identities {
		if m.Identities[i].Info.Variant == variant {
			return &m.Identities[i], nil
		}
	}
	for i := range m.Identities {
		if m.Identities[i].Info.RestoreBehavior == variant {
			return &m.Identities[i], nil
		}
	}
	return nil, restoreerrors.NewConfigurationError("buildidentity.select", fmt.Sprintf("no build identity for variant %q", variant))
}
