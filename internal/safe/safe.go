// internal/safe/safe.go
package safe

import (
	_ "crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/opencontainers/go-digest"
	"go.uber.org/zap"

	"sos/internal/logging"
)

var (
	ErrBlobNotFound = errors.New("blob not found")
	ErrInvalidHash  = errors.New("invalid content hash")
	ErrCorruptBlob  = errors.New("corrupt blob")
)

// Safe is the content-addressed blob store. Blobs live in revision folders
// named by the hash of their content. It keeps no repository state of its own
// apart from a read cache and is shared by the metadata engine.
type Safe struct {
	cache  *lru.Cache[string, []byte] // decoded content by folder/hash
	cm     *compressionManager
	logger *zap.Logger
}

// Options configures Safe behavior
type Options struct {
	CacheSize   int // Number of blobs to cache
	Compression CompressionOptions
	Logger      *zap.Logger
}

// New creates a new Safe instance
func New(opts Options) (*Safe, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 256
	}
	if opts.Compression == (CompressionOptions{}) {
		opts.Compression = DefaultCompressionOptions()
	}

	cache, err := lru.New[string, []byte](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	cm, err := newCompressionManager(opts.Compression)
	if err != nil {
		return nil, fmt.Errorf("creating compression manager: %w", err)
	}

	return &Safe{
		cache:  cache,
		cm:     cm,
		logger: logging.OrNop(opts.Logger),
	}, nil
}

// Hash returns the hex sha256 digest of content.
func Hash(content []byte) string {
	return digest.FromBytes(content).Encoded()
}

// HashString hashes a path name into a file-name-safe key.
func HashString(s string) string {
	return digest.FromString(s).Encoded()
}

// WriteBlob stores content under folder/hash. The file is written to a temp
// name and renamed so a reader never sees a partial blob.
func (s *Safe) WriteBlob(folder, hash string, content []byte, compress bool) error {
	if err := validateHash(hash); err != nil {
		return err
	}
	if err := os.MkdirAll(folder, 0755); err != nil {
		return fmt.Errorf("creating blob folder: %w", err)
	}

	data := content
	if compress {
		var err error
		if data, err = s.cm.compress(content); err != nil {
			return fmt.Errorf("compressing blob %s: %w", hash, err)
		}
	}

	if err := writeFileAtomic(filepath.Join(folder, hash), data); err != nil {
		return fmt.Errorf("writing blob %s: %w", hash, err)
	}

	s.cache.Add(cacheKey(folder, hash), content)
	s.logger.Debug("blob written",
		zap.String("hash", hash),
		zap.Int("size", len(content)),
		zap.Int("stored", len(data)))
	return nil
}

// ReadBlob returns the content stored under folder/hash and verifies it
// against the hash.
func (s *Safe) ReadBlob(folder, hash string, compress bool) ([]byte, error) {
	if err := validateHash(hash); err != nil {
		return nil, err
	}

	// Check cache first
	if content, ok := s.cache.Get(cacheKey(folder, hash)); ok {
		return content, nil
	}

	data, err := os.ReadFile(filepath.Join(folder, hash))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s in %s", ErrBlobNotFound, hash, folder)
		}
		return nil, fmt.Errorf("reading blob: %w", err)
	}

	content := data
	if compress {
		if content, err = s.cm.decompress(data); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptBlob, hash, err)
		}
	}

	// Verify hash
	if Hash(content) != hash {
		return nil, fmt.Errorf("%w: %s: content hash mismatch", ErrCorruptBlob, hash)
	}

	s.cache.Add(cacheKey(folder, hash), content)
	return content, nil
}

// Exists checks if a blob is present in folder.
func (s *Safe) Exists(folder, hash string) bool {
	if validateHash(hash) != nil {
		return false
	}
	if s.cache.Contains(cacheKey(folder, hash)) {
		return true
	}
	_, err := os.Stat(filepath.Join(folder, hash))
	return err == nil
}

// Verify checks content integrity, bypassing the cache.
func (s *Safe) Verify(folder, hash string, compress bool) error {
	s.cache.Remove(cacheKey(folder, hash))
	_, err := s.ReadBlob(folder, hash, compress)
	return err
}

// Forget drops cached blobs of folder and every folder below it.
func (s *Safe) Forget(folder string) {
	prefix := filepath.Clean(folder) + string(filepath.Separator)
	for _, key := range s.cache.Keys() {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			s.cache.Remove(key)
		}
	}
}

func (s *Safe) Close() {
	s.cm.close()
	s.cache.Purge()
}

// Internal helper functions

func cacheKey(folder, hash string) string {
	return filepath.Join(filepath.Clean(folder), hash)
}

func validateHash(hash string) error {
	if err := digest.NewDigestFromEncoded(digest.Canonical, hash).Validate(); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	return nil
}

// writeFileAtomic writes data to a temp file then renames to target.
func writeFileAtomic(target string, data []byte) error {
	tmpPath := filepath.Join(filepath.Dir(target), "."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
