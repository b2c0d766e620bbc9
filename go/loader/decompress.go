package loader

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"

	"github.com/lunixbochs/nxload/go/compress/blz"
	"github.com/lunixbochs/nxload/go/models"
)

// Decompressor expands raw segment bytes into their in-memory form.
type Decompressor struct {
	// MaxOutput bounds the size of a single decompressed segment. 0 means no bound.
	MaxOutput uint64
	// VerifyHashes checks decompressed bytes against SegmentDesc.Hash when set.
	VerifyHashes bool
}

func decompressErr(seg models.SegmentDesc, err error, format string, args ...interface{}) error {
	return errors.WithStack(&models.DecompressionError{
		Segment: seg.Kind.String(),
		Codec:   seg.Codec,
		Reason:  fmt.Sprintf(format, args...),
		Err:     err,
	})
}

// Decompress returns exactly seg.Size bytes for raw, or a DecompressionError.
// raw is never modified.
func (d *Decompressor) Decompress(raw []byte, seg models.SegmentDesc) ([]byte, error) {
	if uint64(len(raw)) != seg.FileSize {
		return nil, decompressErr(seg, nil, "have %#x bytes, header declares %#x", len(raw), seg.FileSize)
	}
	if d.MaxOutput > 0 && seg.Size > d.MaxOutput {
		return nil, decompressErr(seg, nil, "declared size %#x over limit %#x", seg.Size, d.MaxOutput)
	}
	codec := seg.Codec
	if !seg.Compressed {
		codec = models.CodecNone
	}
	var out []byte
	var err error
	switch {
	case codec == models.CodecNone:
		if seg.Size != seg.FileSize {
			return nil, decompressErr(seg, nil, "size %#x differs from file size %#x", seg.Size, seg.FileSize)
		}
		out = append([]byte(nil), raw...)
	case seg.Size == 0 && len(raw) == 0:
		out = []byte{}
	case codec == models.CodecLZ4:
		if out, err = lz4Block(raw, seg.Size); err != nil {
			return nil, decompressErr(seg, err, "invalid lz4 block")
		}
	case codec == models.CodecBLZ:
		if out, err = blz.Decompress(raw, seg.Size); err != nil {
			return nil, decompressErr(seg, err, "invalid blz stream")
		}
	default:
		return nil, decompressErr(seg, nil, "unknown codec")
	}
	if uint64(len(out)) != seg.Size {
		return nil, decompressErr(seg, nil, "decoded %#x bytes, expected %#x", len(out), seg.Size)
	}
	if d.VerifyHashes && len(seg.Hash) > 0 {
		sum := sha256.Sum256(out)
		if !bytes.Equal(sum[:], seg.Hash) {
			return nil, decompressErr(seg, nil, "sha256 mismatch")
		}
	}
	return out, nil
}

// lz4MaxRatio bounds how far one input byte can expand in an LZ4 block.
const lz4MaxRatio = 255

func lz4Block(raw []byte, size uint64) ([]byte, error) {
	// size comes from the header, so it is capped by what raw could possibly produce
	if bound := uint64(len(raw))*lz4MaxRatio + 16; size > bound {
		size = bound
	}
	// one spare byte tells a stream that fills the buffer from one that overflows it
	buf := make([]byte, size+1)
	n, err := lz4.UncompressBlock(raw, buf)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return buf[:n:n], nil
}
