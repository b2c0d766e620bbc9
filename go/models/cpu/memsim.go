package cpu

import (
	"fmt"
	"sort"
)

type MemError struct {
	Addr uint64
	Size int
	Enum int
}

func (m *MemError) Error() string {
	reason := "memory error"
	switch m.Enum {
	case MEM_WRITE_UNMAPPED:
		reason = "unmapped write"
	case MEM_READ_UNMAPPED:
		reason = "unmapped read"
	case MEM_FETCH_UNMAPPED:
		reason = "unmapped fetch"
	case MEM_WRITE_PROT:
		reason = "protected write"
	case MEM_READ_PROT:
		reason = "protected read"
	case MEM_FETCH_PROT:
		reason = "protected exec"
	case MEM_MAP_OVERLAP:
		reason = "overlapping map"
	case MEM_MAP_RANGE:
		reason = "map outside address space"
	}
	return fmt.Sprintf("%s at %#x(%d)", reason, m.Addr, m.Size)
}

// MemSim is a sorted list of disjoint pages.
type MemSim struct {
	Mem Pages
}

// Checks whether the address range exists in the currently-mapped memory.
// If prot > 0, ensures that each region has the entire protection mask provided.
func (m *MemSim) RangeValid(addr, size uint64, prot int) (mapGood bool, protGood bool) {
	first, _ := m.Mem.bsearch(addr)
	if first == -1 {
		return false, false
	}
	protGood = true
	end := addr + size
	for _, mm := range m.Mem[first:] {
		if !mm.Contains(addr) {
			break
		}
		if prot > 0 && mm.Prot&prot != prot {
			protGood = false
		}
		addr = mm.Addr + mm.Size
		if addr >= end {
			break
		}
	}
	return addr >= end, protGood
}

// Map adds a zeroed page at addr. Unlike a host mmap, an existing mapping is never
// replaced: any overlap is an error and leaves the map untouched.
func (m *MemSim) Map(addr, size uint64, prot int) (*Page, error) {
	if len(m.Mem.FindRange(addr, size)) > 0 {
		return nil, &MemError{Addr: addr, Size: int(size), Enum: MEM_MAP_OVERLAP}
	}
	page := &Page{Addr: addr, Size: size, Prot: prot, Data: make([]byte, size)}
	m.Mem = append(m.Mem, page)
	sort.Sort(m.Mem)
	return page, nil
}

func (m *MemSim) Read(addr uint64, p []byte, prot int) error {
	if gmap, gprot := m.RangeValid(addr, uint64(len(p)), prot); !gmap {
		if prot&PROT_EXEC == PROT_EXEC {
			return &MemError{Addr: addr, Size: len(p), Enum: MEM_FETCH_UNMAPPED}
		}
		return &MemError{Addr: addr, Size: len(p), Enum: MEM_READ_UNMAPPED}
	} else if !gprot {
		if prot&PROT_EXEC == PROT_EXEC {
			return &MemError{Addr: addr, Size: len(p), Enum: MEM_FETCH_PROT}
		}
		return &MemError{Addr: addr, Size: len(p), Enum: MEM_READ_PROT}
	}
	i, _ := m.Mem.bsearch(addr)
	for _, mm := range m.Mem[i:] {
		if len(p) == 0 || !mm.Contains(addr) {
			break
		}
		n := copy(p, mm.Data[addr-mm.Addr:])
		addr, p = addr+uint64(n), p[n:]
	}
	return nil
}

func (m *MemSim) Write(addr uint64, p []byte, prot int) error {
	if gmap, gprot := m.RangeValid(addr, uint64(len(p)), prot); !gmap {
		return &MemError{Addr: addr, Size: len(p), Enum: MEM_WRITE_UNMAPPED}
	} else if !gprot {
		return &MemError{Addr: addr, Size: len(p), Enum: MEM_WRITE_PROT}
	}
	i, _ := m.Mem.bsearch(addr)
	for _, mm := range m.Mem[i:] {
		if len(p) == 0 || !mm.Contains(addr) {
			break
		}
		n := copy(mm.Data[addr-mm.Addr:], p)
		addr, p = addr+uint64(n), p[n:]
	}
	return nil
}
