package safe

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSafe(t *testing.T) *Safe {
	s, err := New(Options{CacheSize: 8})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestHashIsStable(t *testing.T) {
	assert.Equal(t, Hash([]byte("abc")), Hash([]byte("abc")))
	assert.NotEqual(t, Hash([]byte("abc")), Hash([]byte("abd")))
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Hash(nil))
	assert.Len(t, HashString("some/path.txt"), 64)
}

func TestWriteReadBlob(t *testing.T) {
	payload := []byte(strings.Repeat("line of text\n", 200))

	for _, compress := range []bool{false, true} {
		name := "plain"
		if compress {
			name = "compressed"
		}
		t.Run(name, func(t *testing.T) {
			s := newTestSafe(t)
			folder := filepath.Join(t.TempDir(), "0", "1")
			hash := Hash(payload)

			require.NoError(t, s.WriteBlob(folder, hash, payload, compress))
			assert.True(t, s.Exists(folder, hash))

			stored, err := os.ReadFile(filepath.Join(folder, hash))
			require.NoError(t, err)
			assert.Equal(t, compress, len(stored) < len(payload))

			// Read through a fresh instance so the cache is not consulted
			got, err := newTestSafe(t).ReadBlob(folder, hash, compress)
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

func TestReadMissingBlob(t *testing.T) {
	s := newTestSafe(t)
	_, err := s.ReadBlob(t.TempDir(), Hash([]byte("x")), false)
	assert.True(t, errors.Is(err, ErrBlobNotFound))
}

func TestReadCorruptBlob(t *testing.T) {
	s := newTestSafe(t)
	folder := t.TempDir()
	payload := []byte(strings.Repeat("abc", 100))
	hash := Hash(payload)
	require.NoError(t, s.WriteBlob(folder, hash, payload, true))

	require.NoError(t, os.WriteFile(filepath.Join(folder, hash), append([]byte{}, zstdMagic...), 0644))

	err := s.Verify(folder, hash, true)
	assert.True(t, errors.Is(err, ErrCorruptBlob))
}

func TestInvalidHash(t *testing.T) {
	s := newTestSafe(t)
	err := s.WriteBlob(t.TempDir(), "../../etc/passwd", []byte("x"), false)
	assert.True(t, errors.Is(err, ErrInvalidHash))
	assert.False(t, s.Exists(t.TempDir(), "nope"))
}

func TestForgetDropsCachedFolder(t *testing.T) {
	s := newTestSafe(t)
	root := t.TempDir()
	folder := filepath.Join(root, "3", "0")
	payload := []byte("hello")
	hash := Hash(payload)
	require.NoError(t, s.WriteBlob(folder, hash, payload, false))
	require.NoError(t, os.RemoveAll(filepath.Join(root, "3")))

	assert.True(t, s.Exists(folder, hash))
	s.Forget(filepath.Join(root, "3"))
	assert.False(t, s.Exists(folder, hash))
}

func TestCompressionPassThrough(t *testing.T) {
	cm, err := newCompressionManager(DefaultCompressionOptions())
	require.NoError(t, err)
	defer cm.close()

	small := []byte("tiny")
	out, err := cm.compress(small)
	require.NoError(t, err)
	assert.Equal(t, small, out)

	// Raw content that looks like a zstd frame must still round-trip
	tricky := append(append([]byte{}, zstdMagic...), []byte("not really zstd")...)
	out, err = cm.compress(tricky)
	require.NoError(t, err)
	assert.False(t, bytes.Equal(tricky, out))
	back, err := cm.decompress(out)
	require.NoError(t, err)
	assert.Equal(t, tricky, back)
}

func TestCompressionStreaming(t *testing.T) {
	opts := DefaultCompressionOptions()
	opts.StreamingThreshold = 1024
	cm, err := newCompressionManager(opts)
	require.NoError(t, err)
	defer cm.close()

	payload := []byte(strings.Repeat("stream me ", 1000))
	out, err := cm.compress(payload)
	require.NoError(t, err)
	require.True(t, isCompressed(out))

	back, err := cm.decompress(out)
	require.NoError(t, err)
	assert.Equal(t, payload, back)
}
