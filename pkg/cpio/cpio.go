// Package cpio streams the BootabilityBundle over a device-opened data
// port in the classic ODC ("070707") CPIO format.
package cpio

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/stek29/idevicerestore/internal/logger"
	"github.com/stek29/idevicerestore/internal/telemetry"
	"github.com/stek29/idevicerestore/pkg/restoreerrors"
)

const odcMagic = "070707"

// header field widths, in the fixed order the ODC format lays them out
// after the magic number.
type header struct {
	dev, ino, mode, uid, gid, nlink, rdev, mtime, namesize, filesize uint32
}

func (h header) encode(name string) []byte {
	buf := make([]byte, 0, 76+len(name)+1)
	buf = append(buf, []byte(odcMagic)...)
	buf = appendOctal(buf, h.dev, 6)
	buf = appendOctal(buf, h.ino, 6)
	buf = appendOctal(buf, h.mode, 6)
	buf = appendOctal(buf, h.uid, 6)
	buf = appendOctal(buf, h.gid, 6)
	buf = appendOctal(buf, h.nlink, 6)
	buf = appendOctal(buf, h.rdev, 6)
	buf = appendOctal(buf, h.mtime, 11)
	buf = appendOctal(buf, h.namesize, 6)
	buf = appendOctal(buf, h.filesize, 11)
	buf = append(buf, []byte(name)...)
	buf = append(buf, 0)
	return buf
}

func appendOctal(buf []byte, v uint32, width int) []byte {
	s := fmt.Sprintf("%0*o", width, v)
	if len(s) > width {
		s = s[len(s)-width:]
	}
	return append(buf, []byte(s)...)
}

// SourceEntry is one file the caller's bootability-bundle walk supplies to
// the streamer.
type SourceEntry struct {
	Path     string // full archive path, e.g. "BootabilityBundle/Restore/Bootability/foo"
	IsDir    bool
	IsSymlink bool
	Size     int64
	ModTime  time.Time
	Open     func() (io.ReadCloser, error)
}

const (
	bootabilityPrefix  = "BootabilityBundle/Restore/Bootability/"
	trustcacheSrc      = "BootabilityBundle/Restore/Firmware/Bootability.dmg.trustcache"
	trustcacheDst      = "Bootability.trustcache"
	trailerName        = "TRAILER!!!"
)

// transformPath applies the CPIO streamer's path rules, returning the
// emitted name and whether the entry should be emitted at all.
func transformPath(p string) (string, bool) {
	if p == trustcacheSrc {
		return trustcacheDst, true
	}
	if len(p) > len(bootabilityPrefix) && p[:len(bootabilityPrefix)] == bootabilityPrefix {
		return p[len(bootabilityPrefix):], true
	}
	return "", false
}

// Streamer dials the device-supplied CPIO port and writes ODC records.
type Streamer struct {
	conn net.Conn
}

// FromConn wraps an already-established device data-port connection in a
// Streamer, for callers that own the dial/retry policy themselves (e.g. a
// dispatcher reusing one device-connection collaborator for every
// data-port request).
func FromConn(conn net.Conn) *Streamer {
	return &Streamer{conn: conn}
}

// Dial opens the outbound TCP connection to the device's CPIO port,
// retrying up to maxAttempts times with delay between tries.
func Dial(ctx context.Context, addr string, maxAttempts int, delay time.Duration) (*Streamer, error) {
	conn, err := DialConn(ctx, addr, maxAttempts, delay)
	if err != nil {
		return nil, err
	}
	return &Streamer{conn: conn}, nil
}

// DialConn retries a TCP dial to addr up to maxAttempts times with delay
// between tries, the same policy restore.c applies to every device data-port
// connect (BootabilityBundle, BasebandUpdaterOutputData). It is shared by
// Dial and by callers that need the raw connection rather than a Streamer.
func DialConn(ctx context.Context, addr string, maxAttempts int, delay time.Duration) (net.Conn, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			logger.Info("data port connected", logger.Attempt(attempt))
			return conn, nil
		}
		lastErr = err
		logger.Warn("data port dial failed, retrying", logger.Attempt(attempt), logger.MaxRetries(maxAttempts), logger.Err(err))

		select {
		case <-ctx.Done():
			return nil, restoreerrors.NewTransportError("cpio.dial", ctx.Err())
		case <-time.After(delay):
		}
	}
	return nil, restoreerrors.NewTransportError("cpio.dial", fmt.Errorf("after %d attempts: %w", maxAttempts, lastErr))
}

// StreamBootabilityBundle walks entries (in the order supplied), writing
// each transformed/kept entry as an ODC record, and terminates with the
// canonical trailer. The walk aborts entirely -- not just the one entry --
// on any write error to the device connection.
func (s *Streamer) StreamBootabilityBundle(ctx context.Context, entries []SourceEntry) error {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanCPIOStream)
	defer span.End()

	for _, e := range entries {
		name, ok := transformPath(e.Path)
		if !ok {
			continue
		}

		if e.IsDir {
			continue
		}
		carriesData := e.Size > 0 && e.Open != nil

		mode := uint32(0100644)
		if e.IsSymlink {
			mode = 0120777
		}

		size := uint32(0)
		if carriesData {
			size = uint32(e.Size)
		}

		h := header{
			mode:     mode,
			uid:      0,
			gid:      0,
			nlink:    1,
			mtime:    uint32(e.ModTime.Unix()),
			namesize: uint32(len(name) + 1),
			filesize: size,
		}

		if _, err := s.conn.Write(h.encode(name)); err != nil {
			err = restoreerrors.NewTransportError("cpio.stream", err)
			telemetry.RecordError(ctx, err)
			return err
		}

		if carriesData {
			rc, err := e.Open()
			if err != nil {
				err = restoreerrors.NewLocalIOFailure("cpio.stream", err)
				telemetry.RecordError(ctx, err)
				return err
			}
			_, copyErr := io.CopyN(s.conn, rc, e.Size)
			rc.Close()
			if copyErr != nil {
				copyErr = restoreerrors.NewTransportError("cpio.stream", copyErr)
				telemetry.RecordError(ctx, copyErr)
				return copyErr
			}
		}

		logger.Debug("streamed cpio entry", logger.Filename(name), logger.Size64(e.Size))
	}

	trailer := header{nlink: 1, namesize: uint32(len(trailerName) + 1)}
	if _, err := s.conn.Write(trailer.encode(trailerName)); err != nil {
		err = restoreerrors.NewTransportError("cpio.stream", err)
		telemetry.RecordError(ctx, err)
		return err
	}

	return nil
}

// Close closes the underlying connection.
func (s *Streamer) Close() error {
	return s.conn.Close()
}
