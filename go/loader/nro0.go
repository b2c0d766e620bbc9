package loader

import (
	"io"

	"github.com/lunixbochs/nxload/go/models"
)

const nroHeaderSize = 0x80

var asetMagic = [4]byte{'A', 'S', 'E', 'T'}

type nroSegmentHeader struct {
	MemOff uint32
	Size   uint32
}

type nro0Header struct {
	// start block, executed as code
	Branch       uint32
	Mod0Off      uint32
	Padding      [8]byte
	Magic        [4]byte
	Version      uint32
	Size         uint32
	Flags        uint32
	Text         nroSegmentHeader
	Ro           nroSegmentHeader
	Data         nroSegmentHeader
	BssSize      uint32
	Reserved     uint32
	BuildID      [0x20]byte
	DsoOff       uint32
	Reserved2    uint32
	EmbeddedOff  uint32
	EmbeddedSize uint32
	DynStrOff    uint32
	DynStrSize   uint32
	DynSymOff    uint32
	DynSymSize   uint32
}

// ParseNro0 decodes an NRO0 header. NRO0 segments are stored uncompressed at
// file offsets equal to their memory offsets.
func ParseNro0(r io.ReaderAt, size int64, config *models.Config) (*models.Header, error) {
	if config == nil {
		config = models.DefaultConfig()
	}
	var h nro0Header
	if size < nroHeaderSize {
		return nil, malformed(models.FormatNro0, 0, "", "container too small for header (%#x)", size)
	}
	if _, err := unpackAt(r, &h, 0); err != nil {
		return nil, err
	}
	if h.Magic != nro0Magic {
		return nil, malformed(models.FormatNro0, 0x10, "", "bad magic %q", h.Magic[:])
	}
	if int64(h.Size) > size {
		return nil, malformed(models.FormatNro0, 0x18, "", "declared size %#x exceeds container size %#x", h.Size, size)
	}
	hdr := &models.Header{
		Format:    models.FormatNro0,
		Entry:     uint64(h.Text.MemOff),
		Version:   h.Version,
		Flags:     h.Flags,
		BuildID:   append([]byte(nil), h.BuildID[:]...),
		ModOffset: h.Mod0Off,
		BssSize:   uint64(h.BssSize),

		Embedded: models.Extent{Off: h.EmbeddedOff, Size: h.EmbeddedSize},
		DynStr:   models.Extent{Off: h.DynStrOff, Size: h.DynStrSize},
		DynSym:   models.Extent{Off: h.DynSymOff, Size: h.DynSymSize},
	}
	parts := []struct {
		kind models.SegmentKind
		seg  nroSegmentHeader
	}{
		{models.SegText, h.Text},
		{models.SegRodata, h.Ro},
		{models.SegData, h.Data},
	}
	for _, p := range parts {
		hdr.Segments = append(hdr.Segments, models.SegmentDesc{
			Kind:     p.kind,
			FileOff:  uint64(p.seg.MemOff),
			FileSize: uint64(p.seg.Size),
			MemOff:   uint64(p.seg.MemOff),
			Size:     uint64(p.seg.Size),
			Prot:     p.kind.Prot(),
		})
	}
	if h.BssSize > 0 {
		hdr.Segments = append(hdr.Segments, models.SegmentDesc{
			Kind:   models.SegBss,
			MemOff: uint64(h.Data.MemOff) + uint64(h.Data.Size),
			Size:   uint64(h.BssSize),
			Prot:   models.SegBss.Prot(),
		})
	}
	// segments must sit inside the declared image, not in trailing assets
	if err := checkSegments(hdr, int64(h.Size), config, 0x20, 0x8); err != nil {
		return nil, err
	}
	if int64(h.Size)+4 <= size && getMagic(r, int64(h.Size)) == asetMagic {
		hdr.AssetOffset = uint64(h.Size)
	}
	return hdr, nil
}
