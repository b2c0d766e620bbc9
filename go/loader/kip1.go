package loader

import (
	"io"

	"github.com/lunixbochs/nxload/go/models"
)

const kipHeaderSize = 0x100

// KIP1 flags
const (
	kipTextCompress = 1 << iota
	kipRoCompress
	kipDataCompress
	kipIs64Bit
	kipAddrSpace64
	kipSecureMemory
)

type kipSegmentHeader struct {
	MemOff    uint32
	Size      uint32
	FileSize  uint32
	Attribute uint32
}

type kip1Header struct {
	Magic        [4]byte
	Name         [12]byte
	ProgramID    uint64
	Version      uint32
	Priority     uint8
	DefaultCore  uint8
	Reserved     uint8
	Flags        uint8
	Text         kipSegmentHeader
	Ro           kipSegmentHeader
	Data         kipSegmentHeader
	Bss          kipSegmentHeader
	Reserved1    kipSegmentHeader
	Reserved2    kipSegmentHeader
	Capabilities [32]uint32
}

// ParseKip1 decodes a KIP1 header. Segment payloads follow the header back to
// back in text, rodata, data order.
func ParseKip1(r io.ReaderAt, size int64, config *models.Config) (*models.Header, error) {
	if config == nil {
		config = models.DefaultConfig()
	}
	var h kip1Header
	if size < kipHeaderSize {
		return nil, malformed(models.FormatKip1, 0, "", "container too small for header (%#x)", size)
	}
	if _, err := unpackAt(r, &h, 0); err != nil {
		return nil, err
	}
	if h.Magic != kip1Magic {
		return nil, malformed(models.FormatKip1, 0, "", "bad magic %q", h.Magic[:])
	}
	hdr := &models.Header{
		Format:       models.FormatKip1,
		Entry:        uint64(h.Text.MemOff),
		Name:         cstring(h.Name[:]),
		Version:      h.Version,
		Flags:        uint32(h.Flags),
		ProgramID:    h.ProgramID,
		Priority:     h.Priority,
		DefaultCore:  h.DefaultCore,
		Is64Bit:      h.Flags&kipIs64Bit != 0,
		AddrSpace64:  h.Flags&kipAddrSpace64 != 0,
		SecureMemory: h.Flags&kipSecureMemory != 0,
		BssSize:      uint64(h.Bss.Size),
		Capabilities: append([]uint32(nil), h.Capabilities[:]...),
	}
	fileOff := uint64(kipHeaderSize)
	for i, seg := range []kipSegmentHeader{h.Text, h.Ro, h.Data} {
		kind := models.SegmentKind(i)
		desc := models.SegmentDesc{
			Kind:     kind,
			FileOff:  fileOff,
			FileSize: uint64(seg.FileSize),
			MemOff:   uint64(seg.MemOff),
			Size:     uint64(seg.Size),
			Prot:     kind.Prot(),
		}
		if h.Flags&(kipTextCompress<<uint(i)) != 0 {
			desc.Compressed = true
			desc.Codec = models.CodecBLZ
		}
		hdr.Segments = append(hdr.Segments, desc)
		fileOff += uint64(seg.FileSize)
	}
	if h.Bss.Size > 0 {
		hdr.Segments = append(hdr.Segments, models.SegmentDesc{
			Kind:   models.SegBss,
			MemOff: uint64(h.Bss.MemOff),
			Size:   uint64(h.Bss.Size),
			Prot:   models.SegBss.Prot(),
		})
	}
	if err := checkSegments(hdr, size, config, 0x20, 0x10); err != nil {
		return nil, err
	}
	return hdr, nil
}
