package loader

import (
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/lunixbochs/nxload/go/models"
)

func malformed(f models.Format, off uint64, seg string, format string, args ...interface{}) error {
	return errors.WithStack(&models.MalformedHeaderError{
		Format:  f,
		Offset:  off,
		Segment: seg,
		Reason:  fmt.Sprintf(format, args...),
	})
}

// Payload returns the part of r the format's header and file offsets refer to.
// For a wrapped format this is a view past the prefix; nothing is copied.
func Payload(r io.ReaderAt, size int64, f models.Format) (io.ReaderAt, int64, error) {
	if !f.Wrapped() {
		return r, size, nil
	}
	if size < models.WrapperSize {
		return nil, 0, malformed(f, 0, "", "container shorter than wrapper prefix")
	}
	return io.NewSectionReader(r, models.WrapperSize, size-models.WrapperSize), size - models.WrapperSize, nil
}

// ParseHeader decodes the header of a container already classified as f.
// Segment file offsets in the result are relative to Payload(r, size, f).
func ParseHeader(r io.ReaderAt, size int64, f models.Format, config *models.Config) (*models.Header, error) {
	if config == nil {
		config = models.DefaultConfig()
	}
	var hdr *models.Header
	var err error
	switch f {
	case models.FormatKip1:
		hdr, err = ParseKip1(r, size, config)
	case models.FormatNso0:
		hdr, err = ParseNso0(r, size, config)
	case models.FormatNro0:
		hdr, err = ParseNro0(r, size, config)
	case models.FormatSxKip1:
		pr, psize, perr := Payload(r, size, f)
		if perr != nil {
			return nil, perr
		}
		if hdr, err = ParseKip1(pr, psize, config); err == nil {
			hdr.Format = f
		}
	default:
		return nil, errors.WithStack(models.ErrUnsupportedFormat)
	}
	return hdr, err
}

// checkSegments enforces the descriptor invariants shared by every format.
// off is the header offset of the first segment entry, stride the entry size,
// both only used to point diagnostics at the offending field.
func checkSegments(hdr *models.Header, size int64, config *models.Config, off, stride uint64) error {
	var end uint64
	for i := range hdr.Segments {
		s := &hdr.Segments[i]
		at := off + uint64(i)*stride
		name := s.Kind.String()
		if s.Kind == models.SegBss {
			if s.FileSize != 0 || s.Compressed {
				return malformed(hdr.Format, at, name, "bss segment has file backing")
			}
		} else {
			fend := s.FileOff + s.FileSize
			if fend < s.FileOff || fend > uint64(size) {
				return malformed(hdr.Format, at, name, "file range %#x+%#x exceeds container size %#x", s.FileOff, s.FileSize, size)
			}
			if s.Compressed && s.Size < s.FileSize {
				return malformed(hdr.Format, at, name, "decompressed size %#x smaller than file size %#x", s.Size, s.FileSize)
			}
			if !s.Compressed && s.Size != s.FileSize {
				return malformed(hdr.Format, at, name, "uncompressed size %#x differs from file size %#x", s.Size, s.FileSize)
			}
		}
		if config.MaxSegmentSize > 0 && s.Size > config.MaxSegmentSize {
			return malformed(hdr.Format, at, name, "segment size %#x over limit %#x", s.Size, config.MaxSegmentSize)
		}
		if e := s.MemOff + s.Size; e > end {
			end = e
		}
	}
	if config.MaxImageSize > 0 && end > config.MaxImageSize {
		return malformed(hdr.Format, off, "", "image span %#x over limit %#x", end, config.MaxImageSize)
	}
	if hdr.Entry >= end {
		return malformed(hdr.Format, off, "", "entry %#x outside image", hdr.Entry)
	}
	return nil
}
