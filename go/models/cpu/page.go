package cpu

import (
	"fmt"
	"strings"
)

// Page is one mapped block of the memory model.
type Page struct {
	Addr uint64
	Size uint64
	Prot int
	Data []byte

	Desc string
}

func (p *Page) String() string {
	prots := []int{PROT_READ, PROT_WRITE, PROT_EXEC}
	chars := []string{"r", "w", "x"}
	prot := ""
	for i := range prots {
		if p.Prot&prots[i] != 0 {
			prot += chars[i]
		} else {
			prot += "-"
		}
	}
	desc := fmt.Sprintf("0x%x-0x%x %s", p.Addr, p.Addr+p.Size, prot)
	if p.Desc != "" {
		desc += fmt.Sprintf(" [%s]", p.Desc)
	}
	return desc
}

func (p *Page) Contains(addr uint64) bool {
	return addr >= p.Addr && addr < p.Addr+p.Size
}

// start = max(s1, s2), end = min(e1, e2), ok = end > start
func (p *Page) Intersect(addr, size uint64) (uint64, uint64, bool) {
	start := p.Addr
	end := p.Addr + p.Size
	e2 := addr + size
	if end > e2 {
		end = e2
	}
	if start < addr {
		start = addr
	}
	return start, end - start, end > start
}

func (p *Page) Overlaps(addr, size uint64) bool {
	_, _, ok := p.Intersect(addr, size)
	return ok
}

type Pages []*Page

func (p Pages) Len() int           { return len(p) }
func (p Pages) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }
func (p Pages) Less(i, j int) bool { return p[i].Addr < p[j].Addr }

func (p Pages) String() string {
	s := make([]string, len(p))
	for i, v := range p {
		s[i] = v.String()
	}
	return strings.Join(s, "\n")
}

// binary search for the first page ending above addr
// returns (index of page containing addr or -1, insertion index)
func (p Pages) bsearch(addr uint64) (int, int) {
	l := 0
	r := len(p) - 1
	for l <= r {
		mid := (l + r) / 2
		e := p[mid]
		if addr >= e.Addr {
			if addr < e.Addr+e.Size {
				return mid, mid
			}
			l = mid + 1
		} else {
			r = mid - 1
		}
	}
	return -1, l
}

func (p Pages) Find(addr uint64) *Page {
	if i, _ := p.bsearch(addr); i >= 0 {
		return p[i]
	}
	return nil
}

// FindRange returns the pages overlapping [addr, addr+size).
func (p Pages) FindRange(addr, size uint64) Pages {
	_, first := p.bsearch(addr)
	var out Pages
	for _, pg := range p[first:] {
		if !pg.Overlaps(addr, size) {
			if pg.Addr >= addr+size {
				break
			}
			continue
		}
		out = append(out, pg)
	}
	return out
}
