package reloc

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/lunixbochs/nxload/go/models"
)

// RELR tags, missing from older debug/elf releases
const (
	DT_RELRSZ  elf.DynTag = 35
	DT_RELR    elf.DynTag = 36
	DT_RELRENT elf.DynTag = 37
)

const (
	relaEnt = 24
	relEnt  = 16
	relrEnt = 8
	symEnt  = 24
	dynEnt  = 16
)

type Limits struct {
	// maximum number of Elf64_Dyn entries walked
	MaxDynamic int
	// maximum number of decoded relocations across all tables
	MaxRelocs int
}

func DefaultLimits() Limits {
	return Limits{MaxDynamic: 4096, MaxRelocs: 1 << 20}
}

func LimitsFromConfig(config *models.Config) Limits {
	l := DefaultLimits()
	if config != nil && config.MaxRelocs > 0 {
		l.MaxRelocs = config.MaxRelocs
	}
	return l
}

// Table is the decoded relocation state of one module.
type Table struct {
	Module  *Module
	Dynamic map[elf.DynTag][]uint64
	Relocs  []models.Relocation
	// indexed by relocation symbol number; entry 0 is the null symbol
	Symbols []elf.Symbol
}

func (t *Table) dyn(tag elf.DynTag) (uint64, bool) {
	if v := t.Dynamic[tag]; len(v) > 0 {
		return v[0], true
	}
	return 0, false
}

func (t *Table) Symbol(i uint32) *elf.Symbol {
	if int(i) < len(t.Symbols) {
		return &t.Symbols[i]
	}
	return nil
}

type parser struct {
	img    *models.Image
	base   uint64
	limits Limits
	table  *Table
}

// Parse locates MOD0 and decodes every relocation table its dynamic section
// references. A module without MOD0 yields a nil table.
func Parse(img *models.Image, base uint64, limits Limits) (*Table, error) {
	mod, err := FindMod0(img, base)
	if err != nil || mod == nil {
		return nil, err
	}
	p := &parser{img: img, base: base, limits: limits}
	p.table = &Table{Module: mod, Dynamic: make(map[elf.DynTag][]uint64)}
	if err := p.parseDynamic(mod.Dynamic()); err != nil {
		return nil, err
	}
	if err := p.parseRelocs(); err != nil {
		return nil, err
	}
	if err := p.parseSymbols(); err != nil {
		return nil, err
	}
	return p.table, nil
}

func (p *parser) parseDynamic(addr uint64) error {
	region := p.img.Find(addr)
	if region == nil || region.Kind == models.SegGap {
		return errors.Errorf("dynamic section at %#x outside image", addr)
	}
	for i := 0; ; i++ {
		if p.limits.MaxDynamic > 0 && i >= p.limits.MaxDynamic {
			return errors.Errorf("dynamic section at %#x has over %d entries", addr, p.limits.MaxDynamic)
		}
		at := addr + uint64(i)*dynEnt
		buf, err := p.img.Read(at, dynEnt)
		if err != nil || !region.Contains(at) {
			// an unterminated section ends with its region
			return nil
		}
		var dyn elf.Dyn64
		binary.Read(bytes.NewReader(buf), binary.LittleEndian, &dyn)
		tag := elf.DynTag(dyn.Tag)
		if tag == elf.DT_NULL {
			return nil
		}
		p.table.Dynamic[tag] = append(p.table.Dynamic[tag], dyn.Val)
	}
}

// tableBytes returns the bytes of the table at tag, sized by sizeTag, checking the entry size.
func (p *parser) tableBytes(tag, sizeTag, entTag elf.DynTag, ent uint64) ([]byte, error) {
	off, ok := p.table.dyn(tag)
	if !ok {
		return nil, nil
	}
	size, _ := p.table.dyn(sizeTag)
	if size == 0 {
		return nil, nil
	}
	if e, ok := p.table.dyn(entTag); ok && entTag != elf.DT_NULL && e != ent {
		return nil, errors.Errorf("%s: entry size %d, expected %d", tag, e, ent)
	}
	if size%ent != 0 {
		return nil, errors.Errorf("%s: size %#x not a multiple of %d", tag, size, ent)
	}
	if p.limits.MaxRelocs > 0 && size/ent > uint64(p.limits.MaxRelocs) {
		return nil, errors.Errorf("%s: %d entries over limit %d", tag, size/ent, p.limits.MaxRelocs)
	}
	buf, err := p.img.Read(p.base+off, size)
	if err != nil {
		return nil, errors.Wrapf(err, "%s table", tag)
	}
	return buf, nil
}

func (p *parser) add(r models.Relocation) error {
	if p.limits.MaxRelocs > 0 && len(p.table.Relocs) >= p.limits.MaxRelocs {
		return errors.Errorf("more than %d relocations", p.limits.MaxRelocs)
	}
	if r.Implicit {
		// the addend lives in the target word; a missing target is caught by Apply
		if v, err := p.img.ReadUint(p.base+r.Offset, width(r.Type)); err == nil {
			r.Addend = int64(v)
			if width(r.Type) == 4 {
				r.Addend = int64(int32(v))
			}
		}
	}
	p.table.Relocs = append(p.table.Relocs, r)
	return nil
}

func (p *parser) decodeRela(buf []byte) error {
	r := bytes.NewReader(buf)
	for r.Len() > 0 {
		var rela elf.Rela64
		binary.Read(r, binary.LittleEndian, &rela)
		err := p.add(models.Relocation{
			Offset: rela.Off,
			Type:   elf.R_AARCH64(elf.R_TYPE64(rela.Info)),
			Sym:    elf.R_SYM64(rela.Info),
			Addend: rela.Addend,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) decodeRel(buf []byte) error {
	r := bytes.NewReader(buf)
	for r.Len() > 0 {
		var rel elf.Rel64
		binary.Read(r, binary.LittleEndian, &rel)
		err := p.add(models.Relocation{
			Offset:   rel.Off,
			Type:     elf.R_AARCH64(elf.R_TYPE64(rel.Info)),
			Sym:      elf.R_SYM64(rel.Info),
			Implicit: true,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// decodeRelr expands the packed relative format: an even word is an address,
// an odd word a bitmap of the 63 words following the previous address.
func (p *parser) decodeRelr(buf []byte) error {
	var next uint64
	for i := 0; i+relrEnt <= len(buf); i += relrEnt {
		entry := binary.LittleEndian.Uint64(buf[i:])
		if entry&1 == 0 {
			if err := p.addRelative(entry); err != nil {
				return err
			}
			next = entry + relrEnt
			continue
		}
		off := next
		for entry >>= 1; entry != 0; entry >>= 1 {
			if entry&1 != 0 {
				if err := p.addRelative(off); err != nil {
					return err
				}
			}
			off += relrEnt
		}
		next += (8*relrEnt - 1) * relrEnt
	}
	return nil
}

func (p *parser) addRelative(off uint64) error {
	return p.add(models.Relocation{Offset: off, Type: elf.R_AARCH64_RELATIVE, Implicit: true})
}

func (p *parser) parseRelocs() error {
	buf, err := p.tableBytes(elf.DT_RELA, elf.DT_RELASZ, elf.DT_RELAENT, relaEnt)
	if err == nil {
		err = p.decodeRela(buf)
	}
	if err != nil {
		return err
	}
	if buf, err = p.tableBytes(elf.DT_REL, elf.DT_RELSZ, elf.DT_RELENT, relEnt); err == nil {
		err = p.decodeRel(buf)
	}
	if err != nil {
		return err
	}
	if buf, err = p.tableBytes(DT_RELR, DT_RELRSZ, DT_RELRENT, relrEnt); err == nil {
		err = p.decodeRelr(buf)
	}
	if err != nil {
		return err
	}
	kind, _ := p.table.dyn(elf.DT_PLTREL)
	switch elf.DynTag(kind) {
	case elf.DT_REL:
		if buf, err = p.tableBytes(elf.DT_JMPREL, elf.DT_PLTRELSZ, elf.DT_NULL, relEnt); err == nil {
			err = p.decodeRel(buf)
		}
	default:
		if buf, err = p.tableBytes(elf.DT_JMPREL, elf.DT_PLTRELSZ, elf.DT_NULL, relaEnt); err == nil {
			err = p.decodeRela(buf)
		}
	}
	return err
}

func (p *parser) parseSymbols() error {
	var count uint64
	for _, r := range p.table.Relocs {
		if r.Sym != 0 && uint64(r.Sym) >= count {
			count = uint64(r.Sym) + 1
		}
	}
	if count == 0 {
		return nil
	}
	symtab, ok := p.table.dyn(elf.DT_SYMTAB)
	if !ok {
		return errors.New("relocations reference symbols but DT_SYMTAB is missing")
	}
	if e, ok := p.table.dyn(elf.DT_SYMENT); ok && e != symEnt {
		return errors.Errorf("DT_SYMENT %d, expected %d", e, symEnt)
	}
	buf, err := p.img.Read(p.base+symtab, count*symEnt)
	if err != nil {
		return errors.Wrap(err, "symbol table")
	}
	strtab, _ := p.table.dyn(elf.DT_STRTAB)
	strsz, _ := p.table.dyn(elf.DT_STRSZ)
	r := bytes.NewReader(buf)
	p.table.Symbols = make([]elf.Symbol, count)
	for i := range p.table.Symbols {
		var sym elf.Sym64
		binary.Read(r, binary.LittleEndian, &sym)
		p.table.Symbols[i] = elf.Symbol{
			Name:    p.str(strtab, strsz, sym.Name),
			Info:    sym.Info,
			Other:   sym.Other,
			Section: elf.SectionIndex(sym.Shndx),
			Value:   sym.Value,
			Size:    sym.Size,
		}
	}
	return nil
}

func (p *parser) str(strtab, strsz uint64, off uint32) string {
	if uint64(off) >= strsz {
		return ""
	}
	addr := p.base + strtab + uint64(off)
	region := p.img.Find(addr)
	if region == nil {
		return ""
	}
	end := region.End()
	if lim := p.base + strtab + strsz; lim < end {
		end = lim
	}
	data, _ := p.img.Read(addr, end-addr)
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	return string(data)
}
