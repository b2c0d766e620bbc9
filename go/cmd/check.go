package cmd

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/lunixbochs/nxload/go/models"
	"github.com/lunixbochs/nxload/go/models/cpu"
)

// NewAddressSpace returns the memory model a loaded image is committed into.
func NewAddressSpace() *cpu.Mem {
	return cpu.NewMem(64, binary.LittleEndian)
}

// CheckMem reads every region of img back out of mem under the region's own
// protection, and confirms gaps are unreadable and the entry point is set.
func CheckMem(mem *cpu.Mem, img *models.Image) error {
	entry, ok := mem.Entry()
	if !ok || entry != img.Entry {
		return errors.Errorf("entry point %#x not set", img.Entry)
	}
	for _, r := range img.Regions {
		if r.Size() == 0 {
			continue
		}
		if r.Prot == cpu.PROT_NONE {
			if _, err := mem.ReadProt(r.Addr, 1, cpu.PROT_READ); err == nil {
				return errors.Errorf("%s at %#x is readable", r.Label, r.Addr)
			}
			continue
		}
		p, err := mem.ReadProt(r.Addr, r.Size(), r.Prot)
		if err != nil {
			return errors.Wrapf(err, "%s at %#x", r.Label, r.Addr)
		}
		if !bytes.Equal(p, r.Data) {
			return errors.Errorf("%s at %#x differs from the image", r.Label, r.Addr)
		}
	}
	return nil
}
