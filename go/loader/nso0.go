package loader

import (
	"io"

	"github.com/lunixbochs/nxload/go/models"
)

const (
	nsoHeaderSize = 0x100
	nsoMaxName    = 0x200
)

// NSO0 flags: bits 0-2 mark text/ro/data as LZ4 compressed, bits 3-5 request hash checks.
const (
	nsoTextCompress = 1 << iota
	nsoRoCompress
	nsoDataCompress
	nsoTextHash
	nsoRoHash
	nsoDataHash
)

type nsoSegmentHeader struct {
	FileOff uint32
	MemOff  uint32
	Size    uint32
}

type nso0Header struct {
	Magic          [4]byte
	Version        uint32
	Reserved       uint32
	Flags          uint32
	Text           nsoSegmentHeader
	ModuleNameOff  uint32
	Ro             nsoSegmentHeader
	ModuleNameSize uint32
	Data           nsoSegmentHeader
	BssSize        uint32
	BuildID        [0x20]byte
	TextFileSize   uint32
	RoFileSize     uint32
	DataFileSize   uint32
	Reserved2      [0x1c]byte
	EmbeddedOff    uint32
	EmbeddedSize   uint32
	DynStrOff      uint32
	DynStrSize     uint32
	DynSymOff      uint32
	DynSymSize     uint32
	TextHash       [0x20]byte
	RoHash         [0x20]byte
	DataHash       [0x20]byte
}

func ParseNso0(r io.ReaderAt, size int64, config *models.Config) (*models.Header, error) {
	if config == nil {
		config = models.DefaultConfig()
	}
	var h nso0Header
	if size < nsoHeaderSize {
		return nil, malformed(models.FormatNso0, 0, "", "container too small for header (%#x)", size)
	}
	if _, err := unpackAt(r, &h, 0); err != nil {
		return nil, err
	}
	if h.Magic != nso0Magic {
		return nil, malformed(models.FormatNso0, 0, "", "bad magic %q", h.Magic[:])
	}
	parts := []struct {
		kind     models.SegmentKind
		seg      nsoSegmentHeader
		fileSize uint32
		hash     [0x20]byte
	}{
		{models.SegText, h.Text, h.TextFileSize, h.TextHash},
		{models.SegRodata, h.Ro, h.RoFileSize, h.RoHash},
		{models.SegData, h.Data, h.DataFileSize, h.DataHash},
	}
	hdr := &models.Header{
		Format:  models.FormatNso0,
		Entry:   uint64(h.Text.MemOff),
		Version: h.Version,
		Flags:   h.Flags,
		BuildID: append([]byte(nil), h.BuildID[:]...),
		BssSize: uint64(h.BssSize),

		Embedded: models.Extent{Off: h.EmbeddedOff, Size: h.EmbeddedSize},
		DynStr:   models.Extent{Off: h.DynStrOff, Size: h.DynStrSize},
		DynSym:   models.Extent{Off: h.DynSymOff, Size: h.DynSymSize},
	}
	for i, p := range parts {
		desc := models.SegmentDesc{
			Kind:     p.kind,
			FileOff:  uint64(p.seg.FileOff),
			FileSize: uint64(p.fileSize),
			MemOff:   uint64(p.seg.MemOff),
			Size:     uint64(p.seg.Size),
			Prot:     p.kind.Prot(),
		}
		if h.Flags&(nsoTextCompress<<uint(i)) != 0 {
			desc.Compressed = true
			desc.Codec = models.CodecLZ4
		}
		if h.Flags&(nsoTextHash<<uint(i)) != 0 {
			desc.Hash = append([]byte(nil), p.hash[:]...)
		}
		hdr.Segments = append(hdr.Segments, desc)
	}
	if h.BssSize > 0 {
		hdr.Segments = append(hdr.Segments, models.SegmentDesc{
			Kind:   models.SegBss,
			MemOff: uint64(h.Data.MemOff) + uint64(h.Data.Size),
			Size:   uint64(h.BssSize),
			Prot:   models.SegBss.Prot(),
		})
	}
	if err := checkSegments(hdr, size, config, 0x10, 0x10); err != nil {
		return nil, err
	}
	// the module name is cosmetic, so a bad one is dropped rather than fatal
	if n := uint64(h.ModuleNameSize); n > 0 && n <= nsoMaxName && uint64(h.ModuleNameOff)+n <= uint64(size) {
		if p, err := readFull(r, uint64(h.ModuleNameOff), n); err == nil {
			hdr.Name = cstring(p)
		}
	}
	return hdr, nil
}
