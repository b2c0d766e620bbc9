package models

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/lunixbochs/nxload/go/models/cpu"
)

type Region struct {
	Addr  uint64
	Data  []byte
	Prot  int
	Label string
	Kind  SegmentKind
}

func (r *Region) Size() uint64 {
	return uint64(len(r.Data))
}

func (r *Region) End() uint64 {
	return r.Addr + r.Size()
}

func (r *Region) Contains(addr uint64) bool {
	return addr >= r.Addr && addr < r.End()
}

// ContainsRange reports whether [addr, addr+size) lies entirely inside the region.
func (r *Region) ContainsRange(addr, size uint64) bool {
	return r.Contains(addr) && size <= r.End()-addr
}

func (r *Region) String() string {
	desc := fmt.Sprintf("0x%x-0x%x %s", r.Addr, r.End(), ProtString(r.Prot))
	if r.Label != "" {
		desc += fmt.Sprintf(" [%s]", r.Label)
	}
	return desc
}

type Regions []*Region

func (p Regions) Len() int           { return len(p) }
func (p Regions) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }
func (p Regions) Less(i, j int) bool { return p[i].Addr < p[j].Addr }

func (p Regions) String() string {
	s := make([]string, len(p))
	for i, v := range p {
		s[i] = v.String()
	}
	return strings.Join(s, "\n")
}

// binary search to find index of the region containing addr, if any, else -1
func (p Regions) bsearch(addr uint64) int {
	l := 0
	r := len(p) - 1
	for l <= r {
		mid := (l + r) / 2
		e := p[mid]
		if addr >= e.Addr {
			if addr < e.End() {
				return mid
			}
			l = mid + 1
		} else {
			r = mid - 1
		}
	}
	return -1
}

func (p Regions) Find(addr uint64) *Region {
	if i := p.bsearch(addr); i >= 0 {
		return p[i]
	}
	return nil
}

// Image is a laid-out executable: sorted, disjoint regions plus an entry point.
type Image struct {
	Format  Format
	Base    uint64
	Entry   uint64
	Regions Regions

	Imports []Import
	Skipped []Relocation
}

func (img *Image) Find(addr uint64) *Region {
	return img.Regions.Find(addr)
}

// Contains reports whether [addr, addr+size) is backed by a single region.
func (img *Image) Contains(addr, size uint64) bool {
	r := img.Find(addr)
	return r != nil && r.ContainsRange(addr, size)
}

// Mapped is Contains restricted to segment-backed regions. Gap filler never counts.
func (img *Image) Mapped(addr, size uint64) bool {
	r := img.Find(addr)
	return r != nil && r.Kind != SegGap && r.ContainsRange(addr, size)
}

// Size is the total number of bytes across all regions.
func (img *Image) Size() uint64 {
	var n uint64
	for _, r := range img.Regions {
		n += r.Size()
	}
	return n
}

// Span returns the lowest and highest (exclusive) address covered by the image.
func (img *Image) Span() (uint64, uint64) {
	if len(img.Regions) == 0 {
		return 0, 0
	}
	return img.Regions[0].Addr, img.Regions[len(img.Regions)-1].End()
}

func (img *Image) Read(addr, size uint64) ([]byte, error) {
	r := img.Find(addr)
	if r == nil || !r.ContainsRange(addr, size) {
		return nil, errors.Errorf("read outside image at %#x(%d)", addr, size)
	}
	o := addr - r.Addr
	return r.Data[o : o+size], nil
}

func (img *Image) ReadUint(addr uint64, size int) (uint64, error) {
	p, err := img.Read(addr, uint64(size))
	if err != nil {
		return 0, err
	}
	return cpu.UnpackUint(binary.LittleEndian, size, p)
}

// WriteUint patches a little-endian word in place.
func (img *Image) WriteUint(addr uint64, size int, val uint64) error {
	p, err := img.Read(addr, uint64(size))
	if err != nil {
		return err
	}
	_, err = cpu.PackUint(binary.LittleEndian, size, p, val)
	return err
}

// Clone deep-copies region data so the copy can be patched independently.
func (img *Image) Clone() *Image {
	c := &Image{
		Format:  img.Format,
		Base:    img.Base,
		Entry:   img.Entry,
		Regions: make(Regions, len(img.Regions)),
		Imports: append([]Import(nil), img.Imports...),
		Skipped: append([]Relocation(nil), img.Skipped...),
	}
	for i, r := range img.Regions {
		nr := *r
		nr.Data = append([]byte(nil), r.Data...)
		c.Regions[i] = &nr
	}
	return c
}

func (img *Image) String() string {
	return fmt.Sprintf("%s entry=%#x\n%s", img.Format, img.Entry, img.Regions)
}
