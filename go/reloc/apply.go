package reloc

import (
	"debug/elf"
	"math"

	"github.com/pkg/errors"

	"github.com/lunixbochs/nxload/go/models"
)

func width(t elf.R_AARCH64) int {
	switch t {
	case elf.R_AARCH64_ABS32, elf.R_AARCH64_PREL32:
		return 4
	}
	return 8
}

func outOfRange(i int, r models.Relocation, addr uint64, reason string) error {
	return errors.WithStack(&models.RelocationOutOfRangeError{Index: i, Addr: addr, Size: width(r.Type), Reason: reason})
}

// symbolValue returns S for r, the load base plus the symbol value. Symbol 0
// resolves to the load base. A nil result means the module imports the symbol.
func (t *Table) symbolValue(r models.Relocation, base uint64) (*uint64, *elf.Symbol) {
	if r.Sym == 0 {
		return &base, nil
	}
	sym := t.Symbol(r.Sym)
	if sym == nil || sym.Section == elf.SHN_UNDEF {
		return nil, sym
	}
	s := base + sym.Value
	return &s, sym
}

type patch struct {
	addr uint64
	size int
	val  uint64
}

// Apply patches every relocation in table into img and records imports and
// skipped types on it. Every target and value is checked before the first
// write, so a failed Apply leaves img untouched. Applying the same table again
// produces the same bytes.
func Apply(img *models.Image, table *Table, base uint64) error {
	img.Imports = nil
	img.Skipped = nil
	if table == nil {
		return nil
	}
	var imports []models.Import
	var skipped []models.Relocation
	patches := make([]patch, 0, len(table.Relocs))
	for i, r := range table.Relocs {
		addr := base + r.Offset
		size := width(r.Type)
		if r.Type == elf.R_AARCH64_NONE {
			continue
		}
		if !img.Mapped(addr, uint64(size)) {
			if img.Contains(addr, uint64(size)) {
				return outOfRange(i, r, addr, "target inside gap between segments")
			}
			return outOfRange(i, r, addr, "")
		}
		var val uint64
		switch r.Type {
		case elf.R_AARCH64_RELATIVE:
			val = base + uint64(r.Addend)
		case elf.R_AARCH64_ABS64, elf.R_AARCH64_GLOB_DAT, elf.R_AARCH64_JUMP_SLOT, elf.R_AARCH64_ABS32,
			elf.R_AARCH64_PREL64, elf.R_AARCH64_PREL32:
			s, sym := table.symbolValue(r, base)
			if s == nil {
				imp := models.Import{Addr: addr, Type: r.Type}
				if sym != nil {
					imp.Name = sym.Name
				}
				imports = append(imports, imp)
				continue
			}
			val = *s + uint64(r.Addend)
			switch r.Type {
			case elf.R_AARCH64_ABS32:
				if val > math.MaxUint32 {
					return outOfRange(i, r, addr, "value overflows 32 bits")
				}
			case elf.R_AARCH64_PREL64, elf.R_AARCH64_PREL32:
				delta := int64(val - addr)
				if r.Type == elf.R_AARCH64_PREL32 && (delta < math.MinInt32 || delta > math.MaxInt32) {
					return outOfRange(i, r, addr, "delta overflows 32 bits")
				}
				val = uint64(delta)
			}
		default:
			skipped = append(skipped, r)
			continue
		}
		patches = append(patches, patch{addr, size, val})
	}
	for _, p := range patches {
		if err := img.WriteUint(p.addr, p.size, p.val); err != nil {
			return err
		}
	}
	img.Imports = imports
	img.Skipped = skipped
	return nil
}
