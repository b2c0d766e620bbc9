// Package reloc resolves the dynamic relocations of a laid-out module.
package reloc

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"github.com/lunixbochs/nxload/go/models"
)

var mod0Magic = [4]byte{'M', 'O', 'D', '0'}

// Mod0Header offsets are relative to the header itself.
type Mod0Header struct {
	Magic           [4]byte
	DynamicOff      int32
	BssStart        int32
	BssEnd          int32
	EhFrameHdrStart int32
	EhFrameHdrEnd   int32
	ModuleObjectOff int32
}

type Module struct {
	Addr   uint64
	Header Mod0Header
}

func (m *Module) rel(off int32) uint64 {
	return m.Addr + uint64(int64(off))
}

func (m *Module) Dynamic() uint64      { return m.rel(m.Header.DynamicOff) }
func (m *Module) BssStart() uint64     { return m.rel(m.Header.BssStart) }
func (m *Module) BssEnd() uint64       { return m.rel(m.Header.BssEnd) }
func (m *Module) ModuleObject() uint64 { return m.rel(m.Header.ModuleObjectOff) }

func (m *Module) String() string {
	return fmt.Sprintf("MOD0 @%#x dynamic=%#x bss=%#x-%#x", m.Addr, m.Dynamic(), m.BssStart(), m.BssEnd())
}

// FindMod0 follows the pointer at base+4 to the module header.
// It returns nil without error when the image carries no MOD0.
func FindMod0(img *models.Image, base uint64) (*Module, error) {
	off, err := img.ReadUint(base+4, 4)
	if err != nil || off == 0 {
		return nil, nil
	}
	addr := base + off
	size, err := struc.Sizeof(&Mod0Header{})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	p, err := img.Read(addr, uint64(size))
	if err != nil {
		return nil, nil
	}
	m := &Module{Addr: addr}
	if err := struc.UnpackWithOrder(bytes.NewReader(p), &m.Header, binary.LittleEndian); err != nil {
		return nil, errors.Wrap(err, "failed to unpack MOD0")
	}
	if m.Header.Magic != mod0Magic {
		return nil, nil
	}
	return m, nil
}
