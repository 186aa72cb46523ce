package wire

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// DefaultCompressionThreshold is the body size in bytes above which
// bodies are compressed. Emissions for heavily fragmented files carry
// long block lists and are the usual case.
const DefaultCompressionThreshold = 1024

// maxBodySize bounds decompressed bodies read from the peer.
const maxBodySize = 16 << 20

// zstd.Encoder and zstd.Decoder are safe for concurrent use through
// EncodeAll and DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("wire: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil,
		zstd.WithDecoderMaxMemory(maxBodySize),
	)
	if err != nil {
		panic("wire: zstd decoder initialization failed: " + err.Error())
	}
}

// compress returns the zstd form of data, or false when compression does
// not make it smaller.
func compress(data []byte) ([]byte, bool) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, false
	}
	return compressed, true
}

func decompress(compressed []byte, size int) ([]byte, error) {
	if size < 0 || size > maxBodySize {
		return nil, fmt.Errorf("zstd decompress: declared size %d out of range", size)
	}
	result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(result) != size {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), size)
	}
	return result, nil
}
