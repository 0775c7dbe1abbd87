// Package archive reads firmware archive entries by logical path: a local
// ZIP file, or an S3-backed ZIP accessed through range reads, with an
// optional BadgerDB-backed entry-digest cache in front of either.
package archive

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/stek29/idevicerestore/internal/logger"
	"github.com/stek29/idevicerestore/internal/telemetry"
	"github.com/stek29/idevicerestore/pkg/metrics"
	"github.com/stek29/idevicerestore/pkg/restoreerrors"
)

// EntryStat is the POSIX-like metadata a List visitor receives for each
// archive entry.
type EntryStat struct {
	Name    string
	Size    int64
	Mode    os.FileMode
	ModTime time.Time
	IsDir   bool
}

// Visitor is called once per archive entry during a List walk. Returning a
// non-nil error aborts the walk and is propagated to the List caller.
type Visitor func(stat EntryStat) error

// Reader is the firmware archive's read surface: existence checks, whole-
// file extraction to memory or to a local file, and a directory walk.
type Reader struct {
	zr      *zip.Reader
	closer  io.Closer
	byName  map[string]*zip.File
	metrics metrics.ArchiveMetrics
}

// Open opens a local firmware archive (IPSW-style ZIP) at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, restoreerrors.NewArchiveFailure("archive.open", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, restoreerrors.NewArchiveFailure("archive.open", err)
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		f.Close()
		return nil, restoreerrors.NewArchiveFailure("archive.open", err)
	}
	return newReader(zr, f), nil
}

// OpenFromReaderAt opens a firmware archive backed by an arbitrary
// io.ReaderAt of known size (e.g. an S3 object accessed via range GETs),
// closed via closer when the Reader is closed.
func OpenFromReaderAt(ra io.ReaderAt, size int64, closer io.Closer) (*Reader, error) {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, restoreerrors.NewArchiveFailure("archive.open", err)
	}
	return newReader(zr, closer), nil
}

func newReader(zr *zip.Reader, closer io.Closer) *Reader {
	byName := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		byName[f.Name] = f
	}
	return &Reader{zr: zr, closer: closer, byName: byName, metrics: metrics.NewArchiveMetrics()}
}

// Close releases the archive's underlying file/connection.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// Exists reports whether path is present in the archive.
func (r *Reader) Exists(path string) bool {
	_, ok := r.byName[path]
	return ok
}

// ExtractToMemory reads path's full contents into a byte slice.
func (r *Reader) ExtractToMemory(ctx context.Context, path string) ([]byte, error) {
	_, span := telemetry.StartArchiveSpan(ctx, "extract_to_memory", path)
	defer span.End()

	start := time.Now()
	f, ok := r.byName[path]
	if !ok {
		err := restoreerrors.NewArchiveFailure("archive.extract_to_memory", fmt.Errorf("entry %q not found", path))
		r.recordRead("memory", 0, time.Since(start), err)
		return nil, err
	}

	rc, err := f.Open()
	if err != nil {
		err = restoreerrors.NewArchiveFailure("archive.extract_to_memory", err)
		r.recordRead("memory", 0, time.Since(start), err)
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		err = restoreerrors.NewArchiveFailure("archive.extract_to_memory", err)
		r.recordRead("memory", int64(len(data)), time.Since(start), err)
		return nil, err
	}

	r.recordRead("memory", int64(len(data)), time.Since(start), nil)
	logger.Debug("extracted archive entry", logger.ArchivePath(path), logger.Size64(int64(len(data))))
	return data, nil
}

// OpenEntry opens path for streaming reads without loading it fully into
// memory, for callers (the CPIO streamer) that copy large entries
// directly to an outbound connection.
func (r *Reader) OpenEntry(path string) (io.ReadCloser, error) {
	f, ok := r.byName[path]
	if !ok {
		return nil, restoreerrors.NewArchiveFailure("archive.open_entry", fmt.Errorf("entry %q not found", path))
	}
	return f.Open()
}

// ExtractToFile streams path's contents to dest on local disk.
func (r *Reader) ExtractToFile(ctx context.Context, path string, dest string) error {
	_, span := telemetry.StartArchiveSpan(ctx, "extract_to_file", path)
	defer span.End()

	start := time.Now()
	f, ok := r.byName[path]
	if !ok {
		err := restoreerrors.NewArchiveFailure("archive.extract_to_file", fmt.Errorf("entry %q not found", path))
		r.recordRead("file", 0, time.Since(start), err)
		return err
	}

	rc, err := f.Open()
	if err != nil {
		err = restoreerrors.NewArchiveFailure("archive.extract_to_file", err)
		r.recordRead("file", 0, time.Since(start), err)
		return err
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		err = restoreerrors.NewLocalIOFailure("archive.extract_to_file", err)
		r.recordRead("file", 0, time.Since(start), err)
		return err
	}
	defer out.Close()

	written, err := io.Copy(out, rc)
	if err != nil {
		err = restoreerrors.NewArchiveFailure("archive.extract_to_file", err)
		r.recordRead("file", written, time.Since(start), err)
		return err
	}

	r.recordRead("file", written, time.Since(start), nil)
	return nil
}

// List walks every entry in the archive, calling visitor with its stat.
// Walk aborts (and List returns that error) the first time visitor returns
// a non-nil error.
func (r *Reader) List(visitor Visitor) error {
	for _, f := range r.zr.File {
		stat := EntryStat{
			Name:    f.Name,
			Size:    int64(f.UncompressedSize64),
			Mode:    f.Mode(),
			ModTime: f.Modified,
			IsDir:   f.Mode().IsDir(),
		}
		if err := visitor(stat); err != nil {
			return err
		}
	}
	return nil
}

// Digest returns the sha256 digest of path's contents, for cache
// invalidation and manifest cross-checks.
func (r *Reader) Digest(ctx context.Context, path string) (string, error) {
	data, err := r.ExtractToMemory(ctx, path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func (r *Reader) recordRead(source string, n int64, d time.Duration, err error) {
	if r.metrics == nil {
		return
	}
	code := ""
	if err != nil {
		code = "error"
	}
	r.metrics.RecordRead(source, n, d, code)
}
