package cache

import (
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// EncodeAll and DecodeAll are safe for concurrent use on shared instances.
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(4*MaxEntryBytes))
)

// compressible reports whether payloads of contentType are worth compressing.
// Media is already compressed by its container format.
func compressible(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "json") || strings.HasPrefix(ct, "text/")
}

func compress(payload []byte) []byte {
	return zstdEncoder.EncodeAll(payload, make([]byte, 0, len(payload)/2))
}

func decompress(payload []byte) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress cache payload: %w", err)
	}
	return out, nil
}
