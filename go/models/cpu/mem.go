package cpu

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Mem is a flat, protection-aware address space. It accepts a loaded image block by
// block (CreateBlock / SetEntry) and then serves reads to analysis code.
type Mem struct {
	bits uint
	// methods return an error for addresses that do not fit inside mask
	// calculated by NewMem using ^uint64(0) >> (64 - bits)
	mask uint64
	sim  *MemSim

	order    binary.ByteOrder
	entry    uint64
	entrySet bool
}

func NewMem(bits uint, order binary.ByteOrder) *Mem {
	return &Mem{
		bits:  bits,
		mask:  ^uint64(0) >> (64 - bits),
		sim:   &MemSim{},
		order: order,
	}
}

func (m *Mem) inRange(addr, size uint64) bool {
	if size == 0 {
		return addr&^m.mask == 0
	}
	end := addr + size - 1
	return end >= addr && end&^m.mask == 0
}

func (m *Mem) MemMapProt(addr, size uint64, prot int) error {
	if !m.inRange(addr, size) {
		return errors.WithStack(&MemError{Addr: addr, Size: int(size), Enum: MEM_MAP_RANGE})
	}
	_, err := m.sim.Map(addr, size, prot)
	return errors.WithStack(err)
}

func (m *Mem) MemReadInto(p []byte, addr uint64) error {
	return m.sim.Read(addr, p, 0)
}

func (m *Mem) MemRead(addr, size uint64) ([]byte, error) {
	p := make([]byte, size)
	if err := m.MemReadInto(p, addr); err != nil {
		return nil, err
	}
	return p, nil
}

func (m *Mem) MemWrite(addr uint64, p []byte) error {
	return m.sim.Write(addr, p, 0)
}

// Read while checking protections.
func (m *Mem) ReadProt(addr, size uint64, prot int) ([]byte, error) {
	p := make([]byte, size)
	if err := m.sim.Read(addr, p, prot); err != nil {
		return nil, err
	}
	return p, nil
}

// Write while checking protections.
func (m *Mem) WriteProt(addr uint64, p []byte, prot int) error {
	return m.sim.Write(addr, p, prot)
}

func (m *Mem) ReadUint(addr uint64, size, prot int) (uint64, error) {
	if size > 8 {
		return 0, errors.Errorf("MemReadUint size too large: %d > 8", size)
	}
	p, err := m.ReadProt(addr, uint64(size), prot)
	if err != nil {
		return 0, err
	}
	return UnpackUint(m.order, size, p)
}

func (m *Mem) WriteUint(addr uint64, size, prot int, val uint64) error {
	var buf [8]byte
	if size > 8 {
		return errors.Errorf("MemWriteUint size too large: %d > 8", size)
	}
	if _, err := PackUint(m.order, size, buf[:], val); err != nil {
		return err
	}
	return m.WriteProt(addr, buf[:size], prot)
}

// CreateBlock maps a new block and fills it with data. Blocks never overlap.
func (m *Mem) CreateBlock(label string, addr uint64, data []byte, prot int) error {
	size := uint64(len(data))
	if !m.inRange(addr, size) {
		return errors.WithStack(&MemError{Addr: addr, Size: int(size), Enum: MEM_MAP_RANGE})
	}
	page, err := m.sim.Map(addr, size, prot)
	if err != nil {
		return errors.WithStack(err)
	}
	page.Desc = label
	copy(page.Data, data)
	return nil
}

// SetEntry records the entry point, which must be executable.
func (m *Mem) SetEntry(addr uint64) error {
	if good, exec := m.sim.RangeValid(addr, 4, PROT_EXEC); !good {
		return errors.WithStack(&MemError{Addr: addr, Size: 4, Enum: MEM_FETCH_UNMAPPED})
	} else if !exec {
		return errors.WithStack(&MemError{Addr: addr, Size: 4, Enum: MEM_FETCH_PROT})
	}
	m.entry, m.entrySet = addr, true
	return nil
}

func (m *Mem) Entry() (uint64, bool) {
	return m.entry, m.entrySet
}

func (m *Mem) Mappings() Pages {
	return m.sim.Mem
}
