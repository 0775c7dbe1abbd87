package archive

import (
	"context"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/stek29/idevicerestore/internal/logger"
	"github.com/stek29/idevicerestore/pkg/restoreerrors"
)

// DigestCache is a BadgerDB-backed store of archive entry digests (directory
// listings are not cached), keyed by archive identity (path or S3 object key) so
// repeated restores against the same IPSW skip re-hashing every entry.
type DigestCache struct {
	db *badger.DB
}

// OpenDigestCache opens (creating if absent) a BadgerDB database at dir.
func OpenDigestCache(dir string) (*DigestCache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, restoreerrors.NewLocalIOFailure("archive.cache.open", err)
	}
	return &DigestCache{db: db}, nil
}

// Close releases the underlying database handle.
func (c *DigestCache) Close() error {
	return c.db.Close()
}

func digestKey(archiveID, path string) []byte {
	return []byte("digest:" + archiveID + ":" + path)
}

// GetDigest returns the cached digest for (archiveID, path), if present.
func (c *DigestCache) GetDigest(archiveID, path string) (string, bool) {
	var digest string
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(digestKey(archiveID, path))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			digest = string(val)
			return nil
		})
	})
	if err != nil {
		return "", false
	}
	return digest, true
}

// PutDigest stores path's digest under archiveID, with a generous TTL so
// stale entries for long-removed IPSWs eventually age out.
func (c *DigestCache) PutDigest(archiveID, path, digest string) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(digestKey(archiveID, path), []byte(digest)).WithTTL(30 * 24 * time.Hour)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return restoreerrors.NewLocalIOFailure("archive.cache.put", err)
	}
	return nil
}

// CachingReader wraps a Reader, consulting and populating a DigestCache for
// Digest lookups so repeated restores against the same archive skip
// re-hashing entries whose digest is already known.
type CachingReader struct {
	*Reader
	cache     *DigestCache
	archiveID string
}

// WithCache wraps r with digest caching, identifying the archive by
// archiveID (typically the archive path or S3 key).
func WithCache(r *Reader, cache *DigestCache, archiveID string) *CachingReader {
	return &CachingReader{Reader: r, cache: cache, archiveID: archiveID}
}

// Digest returns the cached digest if present, otherwise computes and
// caches it.
func (c *CachingReader) Digest(ctx context.Context, path string) (string, error) {
	if digest, ok := c.cache.GetDigest(c.archiveID, path); ok {
		logger.Debug("archive digest cache hit", logger.ArchivePath(path))
		if c.Reader.metrics != nil {
			c.Reader.metrics.RecordCacheHit("digest")
		}
		return digest, nil
	}
	if c.Reader.metrics != nil {
		c.Reader.metrics.RecordCacheMiss("digest")
	}

	digest, err := c.Reader.Digest(ctx, path)
	if err != nil {
		return "", err
	}

	if err := c.cache.PutDigest(c.archiveID, path, digest); err != nil {
		logger.Warn("failed to cache archive digest", logger.ArchivePath(path), logger.Err(err))
	}
	return digest, nil
}
