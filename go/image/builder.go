// Package image lays decompressed segments out into a models.Image.
package image

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/lunixbochs/nxload/go/models"
	"github.com/lunixbochs/nxload/go/models/cpu"
)

// Segment pairs a descriptor with its decompressed bytes. Data is nil for bss.
type Segment struct {
	Desc models.SegmentDesc
	Data []byte
}

type Builder struct {
	// FillGaps maps holes between segments as zeroed PROT_NONE regions.
	FillGaps bool
	// MaxImageSize bounds the span from the lowest to the highest address. 0 means no bound.
	MaxImageSize uint64
}

func NewBuilder(config *models.Config) *Builder {
	if config == nil {
		config = models.DefaultConfig()
	}
	return &Builder{FillGaps: config.FillGaps, MaxImageSize: config.MaxImageSize}
}

type placed struct {
	start, end uint64
	seg        *Segment
}

// Build places each segment at loadBase+MemOff. It fails without producing a
// partial image if any two segments intersect.
func (b *Builder) Build(segs []Segment, loadBase uint64) (*models.Image, error) {
	var layout []placed
	for i := range segs {
		s := &segs[i]
		if s.Desc.Kind != models.SegBss && uint64(len(s.Data)) != s.Desc.Size {
			return nil, errors.WithStack(&models.DecompressionError{
				Segment: s.Desc.Kind.String(),
				Codec:   s.Desc.Codec,
				Reason:  fmt.Sprintf("have %#x bytes, descriptor declares %#x", len(s.Data), s.Desc.Size),
			})
		}
		if s.Desc.Size == 0 {
			continue
		}
		start := loadBase + s.Desc.MemOff
		end := start + s.Desc.Size
		if start < loadBase || end < start {
			return nil, errors.WithStack(&models.LayoutConflictError{
				A: s.Desc.Kind.String(), B: "address space",
				Start: start, End: end, OStart: loadBase, OEnd: ^uint64(0),
			})
		}
		layout = append(layout, placed{start, end, s})
	}
	sort.SliceStable(layout, func(i, j int) bool { return layout[i].start < layout[j].start })
	for i := 1; i < len(layout); i++ {
		prev, cur := layout[i-1], layout[i]
		if cur.start < prev.end {
			return nil, errors.WithStack(&models.LayoutConflictError{
				A: cur.seg.Desc.Kind.String(), B: prev.seg.Desc.Kind.String(),
				Start: cur.start, End: cur.end, OStart: prev.start, OEnd: prev.end,
			})
		}
	}
	if len(layout) > 0 && b.MaxImageSize > 0 {
		first, last := layout[0], layout[len(layout)-1]
		if last.end-first.start > b.MaxImageSize {
			return nil, errors.WithStack(&models.LayoutConflictError{
				A: last.seg.Desc.Kind.String(), B: "image size limit",
				Start: last.start, End: last.end, OStart: first.start, OEnd: first.start + b.MaxImageSize,
				Reason: "extends past",
			})
		}
	}

	img := &models.Image{Base: loadBase}
	for i, p := range layout {
		if b.FillGaps && i > 0 && layout[i-1].end < p.start {
			prev := layout[i-1].end
			img.Regions = append(img.Regions, &models.Region{
				Addr:  prev,
				Data:  make([]byte, p.start-prev),
				Prot:  cpu.PROT_NONE,
				Label: models.SegGap.String(),
				Kind:  models.SegGap,
			})
		}
		data := p.seg.Data
		if p.seg.Desc.Kind == models.SegBss {
			data = make([]byte, p.seg.Desc.Size)
		}
		img.Regions = append(img.Regions, &models.Region{
			Addr:  p.start,
			Data:  data,
			Prot:  p.seg.Desc.Prot,
			Label: p.seg.Desc.Kind.String(),
			Kind:  p.seg.Desc.Kind,
		})
	}
	return img, nil
}
