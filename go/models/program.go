package models

import (
	"github.com/pkg/errors"
)

// Program is the host object that receives a finished image.
// A Program is single-writer: one load commits into it at a time. A failed
// Commit leaves the blocks created before the failure in place, so the caller
// must discard the Program instead of committing into it again.
type Program interface {
	CreateBlock(label string, addr uint64, data []byte, prot int) error
	SetEntry(addr uint64) error
}

// Commit hands every region of img to p in address order, then sets the entry point.
// It stops at the first error without undoing earlier blocks.
func Commit(p Program, img *Image) error {
	for _, r := range img.Regions {
		if err := p.CreateBlock(r.Label, r.Addr, r.Data, r.Prot); err != nil {
			return errors.Wrapf(err, "failed to create block %s at %#x", r.Label, r.Addr)
		}
	}
	return errors.Wrap(p.SetEntry(img.Entry), "failed to set entry point")
}
