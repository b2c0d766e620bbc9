package models

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Header is the parsed, format-independent view of a container header.
// Fields below Segments are format extras; they are zero when a format lacks them.
type Header struct {
	Format Format
	// entry point, relative to the load base
	Entry    uint64
	Segments []SegmentDesc

	Name      string
	Version   uint32
	Flags     uint32
	BuildID   []byte
	ModOffset uint32
	BssSize   uint64

	// NSO0/NRO0 extents relative to .rodata
	Embedded, DynStr, DynSym Extent

	// KIP1
	ProgramID    uint64
	Priority     uint8
	DefaultCore  uint8
	Is64Bit      bool
	AddrSpace64  bool
	SecureMemory bool
	Capabilities []uint32

	// NRO0 asset section, 0 if absent
	AssetOffset uint64
}

type Extent struct {
	Off, Size uint32
}

// Segment returns the descriptor for kind, if the header declares one.
func (h *Header) Segment(kind SegmentKind) *SegmentDesc {
	for i := range h.Segments {
		if h.Segments[i].Kind == kind {
			return &h.Segments[i]
		}
	}
	return nil
}

func (h *Header) String() string {
	var out []string
	out = append(out, fmt.Sprintf("format:   %s", h.Format))
	if h.Name != "" {
		out = append(out, fmt.Sprintf("name:     %s", h.Name))
	}
	if h.ProgramID != 0 {
		out = append(out, fmt.Sprintf("program:  %016x", h.ProgramID))
	}
	out = append(out, fmt.Sprintf("version:  %d", h.Version))
	out = append(out, fmt.Sprintf("flags:    %#x", h.Flags))
	if len(h.BuildID) > 0 {
		out = append(out, fmt.Sprintf("build id: %s", hex.EncodeToString(h.BuildID)))
	}
	out = append(out, fmt.Sprintf("entry:    +%#x", h.Entry))
	if h.ModOffset != 0 {
		out = append(out, fmt.Sprintf("mod0:     +%#x", h.ModOffset))
	}
	if h.AssetOffset != 0 {
		out = append(out, fmt.Sprintf("assets:   %#x", h.AssetOffset))
	}
	for i := range h.Segments {
		out = append(out, "  "+h.Segments[i].String())
	}
	return strings.Join(out, "\n")
}
