// internal/safe/compression.go
package safe

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// CompressionOptions configures how blobs are encoded when a repository
// stores compressed content.
type CompressionOptions struct {
	MinSize            int   // blobs below this size are stored raw
	Level              int   // zstd level, 1 (fastest) to 4 (best)
	StreamingThreshold int64 // blobs above this size go through the streaming codec
}

func DefaultCompressionOptions() CompressionOptions {
	return CompressionOptions{
		MinSize:            64,
		Level:              2,
		StreamingThreshold: 50 << 20,
	}
}

// compressionManager keeps pooled zstd encoders and decoders. Stored blobs
// are self describing: a blob is compressed iff it starts with the zstd magic.
type compressionManager struct {
	opts     CompressionOptions
	encoders sync.Pool
	decoders sync.Pool
	bufs     sync.Pool
}

func newCompressionManager(opts CompressionOptions) (*compressionManager, error) {
	level := zstd.EncoderLevelFromZstd(opts.Level)
	newEncoder := func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil, zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(1))
	}
	newDecoder := func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	}

	// Fail early on bad options instead of inside a pool.
	enc, err := newEncoder()
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := newDecoder()
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	cm := &compressionManager{opts: opts}
	cm.encoders.New = func() interface{} {
		e, _ := newEncoder()
		return e
	}
	cm.decoders.New = func() interface{} {
		d, _ := newDecoder()
		return d
	}
	cm.bufs.New = func() interface{} {
		return new(bytes.Buffer)
	}
	cm.encoders.Put(enc)
	cm.decoders.Put(dec)
	return cm, nil
}

func isCompressed(blob []byte) bool {
	return bytes.HasPrefix(blob, zstdMagic)
}

// compress returns the stored form of content. Content that does not shrink
// stays raw, except when it begins with the magic and would be misread.
func (cm *compressionManager) compress(content []byte) ([]byte, error) {
	ambiguous := isCompressed(content)
	if len(content) < cm.opts.MinSize && !ambiguous {
		return content, nil
	}

	enc := cm.encoders.Get().(*zstd.Encoder)
	defer cm.encoders.Put(enc)

	var blob []byte
	if int64(len(content)) > cm.opts.StreamingThreshold {
		buf := cm.buffer()
		defer cm.bufs.Put(buf)
		enc.Reset(buf)
		if _, err := enc.ReadFrom(bytes.NewReader(content)); err != nil {
			return nil, fmt.Errorf("compressing blob: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("flushing compressed blob: %w", err)
		}
		blob = bytes.Clone(buf.Bytes())
	} else {
		blob = enc.EncodeAll(content, make([]byte, 0, len(content)/2))
	}

	if len(blob) >= len(content) && !ambiguous {
		return content, nil
	}
	return blob, nil
}

// decompress returns the content of a stored blob.
func (cm *compressionManager) decompress(blob []byte) ([]byte, error) {
	if !isCompressed(blob) {
		return blob, nil
	}

	dec := cm.decoders.Get().(*zstd.Decoder)
	defer cm.decoders.Put(dec)

	if int64(len(blob)) <= cm.opts.StreamingThreshold {
		return dec.DecodeAll(blob, nil)
	}

	if err := dec.Reset(bytes.NewReader(blob)); err != nil {
		return nil, fmt.Errorf("resetting zstd decoder: %w", err)
	}
	buf := cm.buffer()
	defer cm.bufs.Put(buf)
	if _, err := io.Copy(buf, dec); err != nil {
		return nil, fmt.Errorf("decompressing blob: %w", err)
	}
	return bytes.Clone(buf.Bytes()), nil
}

func (cm *compressionManager) buffer() *bytes.Buffer {
	buf := cm.bufs.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func (cm *compressionManager) close() {
	cm.encoders.Get().(*zstd.Encoder).Close()
	cm.decoders.Get().(*zstd.Decoder).Close()
}
