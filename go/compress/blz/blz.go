// Package blz implements the backward LZ77 variant used for KIP1 segments.
//
// A compressed buffer is laid out as
//
//	[raw prefix][stream][0xff padding][footer]
//
// where the 12-byte footer holds, little endian, the length of stream+padding+footer,
// the length of padding+footer, and the number of bytes the output grows by. The stream
// is decoded from its end towards its start, writing output from the end of the
// buffer backwards, so it can be expanded in place.
package blz

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const FooterSize = 12

const (
	minMatch = 3
	maxMatch = 0xf + minMatch
	minDisp  = 3
	maxDisp  = 0xfff + minDisp
)

var (
	ErrTruncated      = errors.New("blz: stream truncated")
	ErrCorrupt        = errors.New("blz: invalid stream")
	ErrTooLarge       = errors.New("blz: output exceeds limit")
	ErrIncompressible = errors.New("blz: input does not compress")
)

type Footer struct {
	CompressedSize uint32
	HeaderSize     uint32
	AdditionalSize uint32
}

// ReadFooter decodes and sanity-checks the footer at the end of src.
func ReadFooter(src []byte) (Footer, error) {
	var f Footer
	if len(src) < FooterSize {
		return f, errors.WithStack(ErrTruncated)
	}
	tail := src[len(src)-FooterSize:]
	f.CompressedSize = binary.LittleEndian.Uint32(tail[0:])
	f.HeaderSize = binary.LittleEndian.Uint32(tail[4:])
	f.AdditionalSize = binary.LittleEndian.Uint32(tail[8:])
	if uint64(f.CompressedSize) > uint64(len(src)) {
		return f, errors.Wrapf(ErrTruncated, "compressed size %#x exceeds input %#x", f.CompressedSize, len(src))
	}
	if f.HeaderSize < FooterSize || f.HeaderSize > f.CompressedSize {
		return f, errors.Wrapf(ErrCorrupt, "header size %#x", f.HeaderSize)
	}
	return f, nil
}

// DecompressedSize reports how large src expands to, without decoding it.
func DecompressedSize(src []byte) (uint64, error) {
	f, err := ReadFooter(src)
	if err != nil {
		return 0, err
	}
	return uint64(len(src)) + uint64(f.AdditionalSize), nil
}

// Decompress expands src. limit bounds the output size; 0 means no bound.
func Decompress(src []byte, limit uint64) ([]byte, error) {
	f, err := ReadFooter(src)
	if err != nil {
		return nil, err
	}
	outLen := uint64(len(src)) + uint64(f.AdditionalSize)
	if limit > 0 && outLen > limit {
		return nil, errors.Wrapf(ErrTooLarge, "%#x > %#x", outLen, limit)
	}
	buf := make([]byte, outLen)
	copy(buf, src)

	base := uint64(len(src)) - uint64(f.CompressedSize)
	in := uint64(f.CompressedSize - f.HeaderSize)
	out := uint64(f.CompressedSize) + uint64(f.AdditionalSize)
	for out > 0 {
		if in < 1 {
			return nil, errors.Wrap(ErrTruncated, "missing control byte")
		}
		in--
		control := buf[base+in]
		for i := 0; i < 8 && out > 0; i++ {
			if control&0x80 != 0 {
				if in < 2 {
					return nil, errors.Wrap(ErrTruncated, "missing back reference")
				}
				in -= 2
				val := binary.LittleEndian.Uint16(buf[base+in:])
				size := uint64(val>>12) + minMatch
				disp := uint64(val&0xfff) + minDisp
				if size > out {
					size = out
				}
				out -= size
				if out+size+disp > outLen-base {
					return nil, errors.Wrapf(ErrCorrupt, "back reference past end of output at %#x", base+out)
				}
				for j := uint64(0); j < size; j++ {
					buf[base+out+j] = buf[base+out+j+disp]
				}
			} else {
				if in < 1 {
					return nil, errors.Wrap(ErrTruncated, "missing literal")
				}
				in--
				out--
				buf[base+out] = buf[base+in]
			}
			// output must never overtake unread input
			if out < in {
				return nil, errors.Wrapf(ErrCorrupt, "output overran input at %#x", base+out)
			}
			control <<= 1
		}
	}
	return buf, nil
}
