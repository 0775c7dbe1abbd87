// Package baseband repacks a device's baseband firmware ZIP archive: it
// installs the Baseband ticket's signature blobs into the archive's MBN/FLS
// modules, prunes the archive down to the files the restore daemon needs,
// and (when a device nonce is present) embeds the baseband ticket itself.
package baseband

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/stek29/idevicerestore/internal/logger"
	"github.com/stek29/idevicerestore/internal/telemetry"
	"github.com/stek29/idevicerestore/pkg/ticket"

	"github.com/stek29/idevicerestore/pkg/restoreerrors"
)

// elementFilename maps a baseband element name (as derived from a ticket
// key ending in "-Blob") to its fixed filename inside the baseband
// firmware archive.
var elementFilename = map[string]string{
	// ICE3 firmware files
	"RamPSI":   "psi_ram.fls",
	"FlashPSI": "psi_flash.fls",
	// Trek firmware files
	"eDBL":       "dbl.mbn",
	"RestoreDBL": "restoredbl.mbn",
	// Phoenix/Mav4 firmware files
	"DBL":      "dbl.mbn",
	"ENANDPRG": "ENPRG.mbn",
	// Mav5 firmware files
	"RestoreSBL1": "restoresbl1.mbn",
	"SBL1":        "sbl1.mbn",
	// ICE16 firmware files
	"RestorePSI": "restorepsi.bin",
	"PSI":        "psi_ram.bin",
	// ICE19 firmware files
	"RestorePSI2": "restorepsi2.bin",
	"PSI2":        "psi_ram2.bin",
	// Mav20 firmware file
	"Misc": "multi_image.mbn",
}

// repackage format of a module file, inferred from its extension. Only
// .fls carries its own framing; every other extension (.mbn, .bin) is an
// MBN-framed blob.
func formatOf(filename string) string {
	if strings.HasSuffix(filename, ".fls") {
		return "fls"
	}
	return "mbn"
}

// module is the minimal interface both MBNImage and FLSImage satisfy,
// letting the packager treat them uniformly after the format dispatch.
type module interface {
	UpdateSignatureBlob(sig []byte) error
	Size() int
	Bytes() []byte
}

// retainableExt are the extensions retained in full (beyond the
// blob-touched set) once a device BbNonce is present.
var retainableExt = []string{".mbn", ".fls", ".elf", ".bin"}

// Repack rewrites the baseband archive held in archiveData using the
// ticket response's BasebandFirmware blobs, returning the new archive
// bytes. bbNonce, when non-empty, additionally retains every *.mbn/*.fls/
// *.elf/*.bin entry and triggers the nonce-path ticket embedding (FLS
// insert-ticket or bbticket.der addition).
func Repack(ctx context.Context, archiveData []byte, bbTicket ticket.Response, bbNonce []byte) ([]byte, error) {
	ctx, span := telemetry.StartBasebandSpan(ctx, "repack", "")
	defer span.End()

	zr, err := zip.NewReader(bytes.NewReader(archiveData), int64(len(archiveData)))
	if err != nil {
		err := restoreerrors.NewArchiveFailure("baseband.repack", err)
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	orig := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		orig[f.Name] = f
	}

	rewritten := map[string][]byte{}
	keep := map[string]bool{}

	firmware, _ := bbTicket.Dict("BasebandFirmware")
	for key, blobIface := range firmware {
		if !strings.HasSuffix(key, "-Blob") {
			continue
		}
		blob, ok := blobIface.([]byte)
		if !ok {
			continue
		}

		element := strings.TrimSuffix(key, "-Blob")
		filename, ok := elementFilename[element]
		if !ok {
			err := fmt.Errorf("baseband element %q has no archive filename mapping", element)
			werr := restoreerrors.NewPersonalizationFailure("baseband.repack", err)
			telemetry.RecordError(ctx, werr)
			return nil, werr
		}

		entry, ok := orig[filename]
		if !ok {
			err := fmt.Errorf("baseband archive missing entry %q for element %q", filename, element)
			werr := restoreerrors.NewArchiveFailure("baseband.repack", err)
			telemetry.RecordError(ctx, werr)
			return nil, werr
		}

		rc, err := entry.Open()
		if err != nil {
			werr := restoreerrors.NewArchiveFailure("baseband.repack", err)
			telemetry.RecordError(ctx, werr)
			return nil, werr
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			werr := restoreerrors.NewArchiveFailure("baseband.repack", err)
			telemetry.RecordError(ctx, werr)
			return nil, werr
		}

		mod, err := parseModule(filename, data)
		if err != nil {
			werr := restoreerrors.NewPersonalizationFailure("baseband.repack", err)
			telemetry.RecordError(ctx, werr)
			return nil, werr
		}

		if err := mod.UpdateSignatureBlob(blob); err != nil {
			werr := restoreerrors.NewPersonalizationFailure("baseband.repack", err)
			telemetry.RecordError(ctx, werr)
			return nil, werr
		}

		rewritten[filename] = mod.Bytes()
		keep[filename] = true

		logger.Debug("installed baseband signature blob", logger.Element(element), logger.Filename(filename))
	}

	if len(bbNonce) > 0 {
		for name := range orig {
			ext := path.Ext(name)
			for _, rext := range retainableExt {
				if ext == rext {
					keep[name] = true
				}
			}
		}
	}

	// The nonce path's ticket embedding is folded into rewritten/keep
	// *before* the write loop below, so ebl.fls (when present) is written
	// exactly once, carrying both its signature blob and its ticket.
	addBbTicketEntry := false
	if len(bbNonce) > 0 {
		var err error
		addBbTicketEntry, err = embedTicket(orig, rewritten, keep, bbTicket)
		if err != nil {
			telemetry.RecordError(ctx, err)
			return nil, err
		}
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, f := range orig {
		if !keep[name] {
			continue
		}
		data, ok := rewritten[name]
		if !ok {
			rc, err := f.Open()
			if err != nil {
				werr := restoreerrors.NewArchiveFailure("baseband.repack", err)
				telemetry.RecordError(ctx, werr)
				return nil, werr
			}
			data, err = io.ReadAll(rc)
			rc.Close()
			if err != nil {
				werr := restoreerrors.NewArchiveFailure("baseband.repack", err)
				telemetry.RecordError(ctx, werr)
				return nil, werr
			}
		}

		w, err := zw.Create(name)
		if err != nil {
			werr := restoreerrors.NewArchiveFailure("baseband.repack", err)
			telemetry.RecordError(ctx, werr)
			return nil, werr
		}
		if _, err := w.Write(data); err != nil {
			werr := restoreerrors.NewArchiveFailure("baseband.repack", err)
			telemetry.RecordError(ctx, werr)
			return nil, werr
		}
	}

	if addBbTicketEntry {
		bbTicketBlob, _ := bbTicket.Bytes(ticket.KeyBasebandTicket)
		w, err := zw.Create("bbticket.der")
		if err != nil {
			werr := restoreerrors.NewArchiveFailure("baseband.repack", err)
			telemetry.RecordError(ctx, werr)
			return nil, werr
		}
		if _, err := w.Write(bbTicketBlob); err != nil {
			werr := restoreerrors.NewArchiveFailure("baseband.repack", err)
			telemetry.RecordError(ctx, werr)
			return nil, werr
		}
	}

	if err := zw.Close(); err != nil {
		werr := restoreerrors.NewArchiveFailure("baseband.repack", err)
		telemetry.RecordError(ctx, werr)
		return nil, werr
	}

	return buf.Bytes(), nil
}

// embedTicket implements the nonce-present path: if ebl.fls is present in
// the archive, it inserts the BBTicket blob into it (updating rewritten/
// keep so the caller's write loop picks up the change); otherwise it
// reports that the caller must add a standalone bbticket.der entry.
func embedTicket(orig map[string]*zip.File, rewritten map[string][]byte, keep map[string]bool, bbTicket ticket.Response) (addBbTicketEntry bool, err error) {
	bbTicketBlob, ok := bbTicket.Bytes(ticket.KeyBasebandTicket)
	if !ok {
		return false, restoreerrors.NewPersonalizationFailure("baseband.embed_ticket", fmt.Errorf("ticket response missing %s", ticket.KeyBasebandTicket))
	}

	const eblName = "ebl.fls"
	f, ok := orig[eblName]
	if !ok {
		return true, nil
	}

	var data []byte
	if rw, ok := rewritten[eblName]; ok {
		data = rw
	} else {
		rc, err := f.Open()
		if err != nil {
			return false, restoreerrors.NewArchiveFailure("baseband.embed_ticket", err)
		}
		defer rc.Close()
		data, err = io.ReadAll(rc)
		if err != nil {
			return false, restoreerrors.NewArchiveFailure("baseband.embed_ticket", err)
		}
	}

	mod, err := ParseFLS(data)
	if err != nil {
		return false, restoreerrors.NewPersonalizationFailure("baseband.embed_ticket", err)
	}
	if err := mod.InsertTicket(bbTicketBlob); err != nil {
		return false, restoreerrors.NewPersonalizationFailure("baseband.embed_ticket", err)
	}

	rewritten[eblName] = mod.Bytes()
	keep[eblName] = true
	return false, nil
}

func parseModule(filename string, data []byte) (module, error) {
	switch formatOf(filename) {
	case "mbn":
		return ParseMBN(data)
	case "fls":
		return ParseFLS(data)
	default:
		return nil, fmt.Errorf("baseband: unrecognized module format for %q", filename)
	}
}

