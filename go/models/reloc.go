package models

import (
	"debug/elf"
	"fmt"
)

// Relocation is a single dynamic relocation entry, offsets relative to the load base.
type Relocation struct {
	Offset uint64
	Type   elf.R_AARCH64
	Sym    uint32
	Addend int64
	// REL/RELR entries take their addend from the target word
	Implicit bool
}

func (r Relocation) String() string {
	return fmt.Sprintf("%s +%#x sym=%d addend=%#x", r.Type, r.Offset, r.Sym, r.Addend)
}

// Import is a relocation against a symbol the image does not define.
type Import struct {
	Addr uint64
	Name string
	Type elf.R_AARCH64
}
