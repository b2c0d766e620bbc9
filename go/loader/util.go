package loader

import (
	"encoding/binary"
	"io"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

// getMagic reads 4 bytes at off. Short reads leave the tail zeroed.
func getMagic(r io.ReaderAt, off int64) [4]byte {
	var ret [4]byte
	r.ReadAt(ret[:], off)
	return ret
}

func unpackAt(r io.ReaderAt, i interface{}, at int64) (int, error) {
	size, err := struc.Sizeof(i)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	if err := struc.UnpackWithOrder(io.NewSectionReader(r, at, int64(size)), i, binary.LittleEndian); err != nil {
		return 0, errors.Wrapf(err, "failed to unpack %d bytes at %#x", size, at)
	}
	return size, nil
}

// readFull reads exactly size bytes at off.
func readFull(r io.ReaderAt, off, size uint64) ([]byte, error) {
	p := make([]byte, size)
	n, err := r.ReadAt(p, int64(off))
	if uint64(n) == size {
		return p, nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return nil, errors.Wrapf(err, "short read at %#x (%d < %d)", off, n, size)
}

func cstring(p []byte) string {
	for i, c := range p {
		if c == 0 {
			return string(p[:i])
		}
	}
	return string(p)
}
