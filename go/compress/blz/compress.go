package blz

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Compress encodes src so that Decompress(Compress(src)) == src. Whatever tail of the
// encoding does not pay for itself is left as a raw prefix. ErrIncompressible is
// returned when the result would not be smaller than src.
func Compress(src []byte) ([]byte, error) {
	n := len(src)
	// encode back to front: rev[k] is the k-th byte the decoder produces
	rev := make([]byte, n)
	for i, b := range src {
		rev[n-1-i] = b
	}

	var stream []byte
	ctrl, bit := 0, 0
	cutK, cutP := 0, 0
	for k := 0; k < n; {
		if bit == 0 {
			ctrl = len(stream)
			stream = append(stream, 0)
		}
		if size, disp := longestMatch(rev, k); size >= minMatch {
			val := uint16(size-minMatch)<<12 | uint16(disp-minDisp)
			stream[ctrl] |= 0x80 >> uint(bit)
			// the decoder consumes the high byte first
			stream = append(stream, byte(val>>8), byte(val))
			k += size
		} else {
			stream = append(stream, rev[k])
			k++
		}
		bit = (bit + 1) % 8
		// best cut keeps the decoder's output from overtaking its input
		if k-len(stream) > cutK-cutP {
			cutK, cutP = k, len(stream)
		}
	}

	raw := n - cutK
	pad := (4 - (raw+cutP)%4) % 4
	total := raw + cutP + pad + FooterSize
	if total >= n {
		return nil, errors.WithStack(ErrIncompressible)
	}

	var out bytes.Buffer
	out.Grow(total)
	out.Write(src[:raw])
	for i := cutP - 1; i >= 0; i-- {
		out.WriteByte(stream[i])
	}
	out.Write(bytes.Repeat([]byte{0xff}, pad))
	var footer [FooterSize]byte
	binary.LittleEndian.PutUint32(footer[0:], uint32(cutP+pad+FooterSize))
	binary.LittleEndian.PutUint32(footer[4:], uint32(pad+FooterSize))
	binary.LittleEndian.PutUint32(footer[8:], uint32(n-total))
	out.Write(footer[:])
	return out.Bytes(), nil
}

// longestMatch finds the longest run at buf[pos:] repeated earlier in buf. Matches
// never overlap their source, since the decoder copies them front to back.
func longestMatch(buf []byte, pos int) (int, int) {
	maxLen := len(buf) - pos
	if maxLen > maxMatch {
		maxLen = maxMatch
	}
	if maxLen < minMatch {
		return 0, 0
	}
	best, bestDisp := 0, 0
	for disp := minDisp; disp <= maxDisp && disp <= pos; disp++ {
		limit := maxLen
		if limit > disp {
			limit = disp
		}
		if limit <= best {
			continue
		}
		n := 0
		for n < limit && buf[pos+n] == buf[pos-disp+n] {
			n++
		}
		if n > best {
			best, bestDisp = n, disp
			if best == maxLen {
				break
			}
		}
	}
	return best, bestDisp
}
