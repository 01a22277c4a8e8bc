// pkg/valuestore/compress.go
// Optional value compression during Compact, grounded on the retrieved
// pack's use of github.com/klauspost/compress (jpl-au-folio/compress.go)
// for exactly this kind of "shrink data already at rest" concern. Live
// records are written uncompressed at Put time (durability must not wait
// on a compressor); Compact re-encodes records that shrink meaningfully
// under zstd, trading CPU for disk during the low-urgency reclaim path.
package valuestore

import (
	"github.com/klauspost/compress/zstd"
)

var (
	sharedEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	sharedDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
)

// compressIfSmaller returns a zstd-compressed copy of data and true if
// compression saved at least 10%; otherwise it returns data unchanged and
// false, since the on-disk win isn't worth the extra decode cost for
// already-dense payloads.
func compressIfSmaller(data []byte) ([]byte, bool) {
	if len(data) < 128 {
		return data, false
	}
	compressed := sharedEncoder.EncodeAll(data, make([]byte, 0, len(data)))
	if len(compressed) < len(data)*9/10 {
		return compressed, true
	}
	return data, false
}

func decompress(data []byte) ([]byte, error) {
	return sharedDecoder.DecodeAll(data, nil)
}
