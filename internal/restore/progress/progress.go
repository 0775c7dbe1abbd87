// Package progress maps the restore daemon's numeric operation and status
// codes into the short descriptive labels and terminal classifications the
// rest of the driver acts on.
package progress

import (
	"github.com/stek29/idevicerestore/internal/logger"
	"github.com/stek29/idevicerestore/pkg/metrics"
)

// stageTable maps a (protocol-version-adjusted) operation code to a short
// descriptive stage label, mirroring the fixed table the restore daemon's
// numeric codes are historically assigned against.
var stageTable = map[int]string{
	0:  "Initializing",
	1:  "Preflight",
	3:  "Creating the partition map",
	4:  "Verifying filesystem",
	6:  "Modifying persistent boot-args",
	10: "Determining whether to verify restore",
	11: "Searching for local manifest",
	12: "Checking filesystems",
	13: "Mounting filesystems",
	14: "Verifying filesystem",
	15: "Sealing system volume",
	16: "Flashing NOR",
	17: "Updating baseband",
	18: "Set boot device",
	19: "Flashing firmware",
	20: "Updating firmware",
	21: "Unmounting filesystems",
	22: "Finalizing NAND epoch update",
	23: "Finalizing NAND epoch update",
	29: "Flashing NAND firmware",
	30: "Flashing Storage firmware",
	31: "Fixing up the variables in NVRAM",
	33: "Verifying restore",
	34: "Installing recovery OS",
	35: "Finalizing",
	36: "Updating gas gauge software",
	37: "Verifying signatures",
	38: "Creating the filesystem",
	39: "Untarring firmware data",
	40: "Verifying restore",
}

// progressStages are the stage keys that drive the progress sink; all
// other stages are reported through logging/telemetry alone.
var progressStages = map[string]bool{
	"Verifying filesystem":       true,
	"Flashing firmware":          true,
	"Updating baseband":          true,
	"Installing recovery OS":     true,
	"Untarring firmware data":    true,
}

// AdaptOperation applies the historical renumbering: on protocol versions
// below 14, any operation code above 35 is incremented by one before
// lookup.
func AdaptOperation(protocolVersion int, op int) int {
	if protocolVersion < 14 && op > 35 {
		return op + 1
	}
	return op
}

// Stage returns the descriptive label for an already-adapted operation
// code, and whether one is registered.
func Stage(op int) (string, bool) {
	s, ok := stageTable[op]
	return s, ok
}

// Sink receives progress updates keyed by stage; the driver wires this to
// whatever progress UI the caller provides. Sink is an out-of-scope
// external collaborator per the design: the core only classifies and
// forwards.
type Sink interface {
	OnProgress(stage string, percent int)
}

// Mapper classifies incoming ProgressMsg/StatusMsg payloads.
type Mapper struct {
	ProtocolVersion int
	Sink            Sink
	Metrics         metrics.RestoreMetrics
	lastOp          int
}

// HandleOperation classifies an operation code, logs/traces it, and, if it
// is a registered progress stage and percent is in (0,100], forwards it to
// the Sink.
func (m *Mapper) HandleOperation(op int, percent int) {
	adapted := AdaptOperation(m.ProtocolVersion, op)
	m.lastOp = adapted

	stage, known := Stage(adapted)
	if !known {
		logger.Debug("unrecognized progress operation", logger.Operation(adapted))
		return
	}

	logger.Info("restore progress", logger.Operation(adapted), logger.Stage(stage), logger.Progress(percent))
	if m.Metrics != nil {
		m.Metrics.RecordProgress(stage, percent)
	}

	if progressStages[stage] && percent > 0 && percent <= 100 && m.Sink != nil {
		m.Sink.OnProgress(stage, percent)
	}
}

// StatusOutcome classifies a StatusMsg's status code.
type StatusOutcome int

const (
	// StatusSuccess means the restore completed (status code 0).
	StatusSuccess StatusOutcome = iota
	// StatusVerificationError is the 0xFFFFFFFF sentinel.
	StatusVerificationError
	// StatusDiskFailure, StatusMountFailure, StatusSEPFailure,
	// StatusFDRFailure, and StatusBasebandFailure are specific small
	// integer codes the restore daemon reports for named subsystem
	// failures.
	StatusDiskFailure
	StatusMountFailure
	StatusSEPFailure
	StatusFDRFailure
	StatusBasebandFailure
	// StatusOther is any other non-zero code.
	StatusOther
)

// knownStatusCodes maps specific small integer status codes to their
// named failure classification.
var knownStatusCodes = map[int64]StatusOutcome{
	6:    StatusDiskFailure,
	27:   StatusMountFailure,
	51:   StatusSEPFailure,
	53:   StatusFDRFailure,
	1015: StatusBasebandFailure,
}

// ClassifyStatus classifies a raw status code from a StatusMsg.
func ClassifyStatus(code int64) StatusOutcome {
	if code == 0 {
		return StatusSuccess
	}
	if uint64(code) == 0xFFFFFFFFFFFFFFFF || uint32(code) == 0xFFFFFFFF {
		return StatusVerificationError
	}
	if outcome, ok := knownStatusCodes[code]; ok {
		return outcome
	}
	return StatusOther
}

// HandleStatus classifies a status code, records it, and reports whether
// this is the terminal status (session finished). Only a success status or
// a status carrying a nonzero AMRError is terminal; any other status is
// logged and the session keeps running until its real final status
// arrives.
func (m *Mapper) HandleStatus(code int64, amrError int64) (finished bool, exitCode int) {
	outcome := ClassifyStatus(code)
	logger.Info("restore status", logger.StatusCode(code))
	if m.Metrics != nil {
		m.Metrics.RecordStatus(code)
	}

	if outcome == StatusSuccess {
		return true, 0
	}

	// The session's final return code takes the negated AMRError when
	// present, regardless of which named failure classification applies.
	if amrError != 0 {
		result := -amrError
		if result > 0 {
			result = -result
		}
		return true, int(result)
	}
	return false, 0
}
