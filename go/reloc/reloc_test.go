package reloc

import (
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/lunixbochs/nxload/go/models"
	"github.com/lunixbochs/nxload/go/models/cpu"
)

const (
	testBase   = 0x8000000
	mod0Off    = 0x100
	relaOff    = 0x200
	symtabOff  = 0x400
	strtabOff  = 0x500
	relOff     = 0x600
	relrOff    = 0x700
	jmprelOff  = 0x800
	dynamicOff = 0x1000
	targetOff  = 0x1800
)

// fixture is a two-region module: text at +0 and data at +0x1000.
type fixture struct {
	mem []byte
	dyn [][2]uint64
}

func newFixture() *fixture {
	f := &fixture{mem: make([]byte, 0x2000)}
	f.put(4, 4, mod0Off)
	copy(f.mem[mod0Off:], "MOD0")
	f.put(mod0Off+4, 4, dynamicOff-mod0Off)

	copy(f.mem[strtabOff:], "\x00local\x00nnMain\x00")
	// symbol 1 is defined, symbol 2 is imported
	f.sym(1, 1, 1, 0x300)
	f.sym(2, 7, 0, 0)
	f.dyn = append(f.dyn,
		[2]uint64{uint64(elf.DT_SYMTAB), symtabOff},
		[2]uint64{uint64(elf.DT_SYMENT), symEnt},
		[2]uint64{uint64(elf.DT_STRTAB), strtabOff},
		[2]uint64{uint64(elf.DT_STRSZ), 0x100},
	)
	return f
}

func (f *fixture) put(off uint64, size int, val uint64) {
	cpu.PackUint(binary.LittleEndian, size, f.mem[off:], val)
}

func (f *fixture) sym(i int, name uint32, shndx uint16, value uint64) {
	off := uint64(symtabOff + i*symEnt)
	f.put(off, 4, uint64(name))
	f.mem[off+4] = elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC)
	f.put(off+6, 2, uint64(shndx))
	f.put(off+8, 8, value)
}

func (f *fixture) rela(off uint64, entries ...elf.Rela64) {
	for i, e := range entries {
		at := off + uint64(i*relaEnt)
		f.put(at, 8, e.Off)
		f.put(at+8, 8, e.Info)
		f.put(at+16, 8, uint64(e.Addend))
	}
	if off == jmprelOff {
		f.dyn = append(f.dyn,
			[2]uint64{uint64(elf.DT_JMPREL), off},
			[2]uint64{uint64(elf.DT_PLTRELSZ), uint64(len(entries) * relaEnt)},
			[2]uint64{uint64(elf.DT_PLTREL), uint64(elf.DT_RELA)},
		)
		return
	}
	f.dyn = append(f.dyn,
		[2]uint64{uint64(elf.DT_RELA), off},
		[2]uint64{uint64(elf.DT_RELASZ), uint64(len(entries) * relaEnt)},
		[2]uint64{uint64(elf.DT_RELAENT), relaEnt},
	)
}

func (f *fixture) rel(entries ...elf.Rel64) {
	for i, e := range entries {
		at := uint64(relOff + i*relEnt)
		f.put(at, 8, e.Off)
		f.put(at+8, 8, e.Info)
	}
	f.dyn = append(f.dyn,
		[2]uint64{uint64(elf.DT_REL), relOff},
		[2]uint64{uint64(elf.DT_RELSZ), uint64(len(entries) * relEnt)},
		[2]uint64{uint64(elf.DT_RELENT), relEnt},
	)
}

func (f *fixture) relr(words ...uint64) {
	for i, w := range words {
		f.put(uint64(relrOff+i*relrEnt), 8, w)
	}
	f.dyn = append(f.dyn,
		[2]uint64{uint64(DT_RELR), relrOff},
		[2]uint64{uint64(DT_RELRSZ), uint64(len(words) * relrEnt)},
		[2]uint64{uint64(DT_RELRENT), relrEnt},
	)
}

func (f *fixture) image() *models.Image {
	for i, d := range f.dyn {
		f.put(uint64(dynamicOff+i*dynEnt), 8, d[0])
		f.put(uint64(dynamicOff+i*dynEnt+8), 8, d[1])
	}
	mem := append([]byte(nil), f.mem...)
	return &models.Image{
		Base:  testBase,
		Entry: testBase,
		Regions: models.Regions{
			{Addr: testBase, Data: mem[:0x1000], Prot: cpu.PROT_READ | cpu.PROT_EXEC, Label: ".text", Kind: models.SegText},
			{Addr: testBase + 0x1000, Data: mem[0x1000:], Prot: cpu.PROT_READ | cpu.PROT_WRITE, Label: ".data", Kind: models.SegData},
		},
	}
}

func info(sym uint32, typ elf.R_AARCH64) uint64 {
	return elf.R_INFO(sym, uint32(typ))
}

func load(t *testing.T, img *models.Image) *Table {
	table, err := Parse(img, testBase, DefaultLimits())
	require.NoError(t, err)
	require.NotNil(t, table)
	require.NoError(t, Apply(img, table, testBase))
	return table
}

func word(t *testing.T, img *models.Image, off uint64, size int) uint64 {
	v, err := img.ReadUint(testBase+off, size)
	require.NoError(t, err)
	return v
}

func TestFindMod0(t *testing.T) {
	img := newFixture().image()
	mod, err := FindMod0(img, testBase)
	require.NoError(t, err)
	require.NotNil(t, mod)
	require.Equal(t, uint64(testBase+mod0Off), mod.Addr)
	require.Equal(t, uint64(testBase+dynamicOff), mod.Dynamic())
}

func TestNoMod0(t *testing.T) {
	f := newFixture()
	f.put(4, 4, 0)
	img := f.image()
	table, err := Parse(img, testBase, DefaultLimits())
	require.NoError(t, err)
	require.Nil(t, table)
	require.NoError(t, Apply(img, table, testBase))

	// a pointer to something that is not MOD0 is treated the same
	f = newFixture()
	copy(f.mem[mod0Off:], "NOPE")
	table, err = Parse(f.image(), testBase, DefaultLimits())
	require.NoError(t, err)
	require.Nil(t, table)
}

func TestRela(t *testing.T) {
	f := newFixture()
	f.rela(relaOff,
		elf.Rela64{Off: targetOff, Info: info(0, elf.R_AARCH64_RELATIVE), Addend: 0x40},
		elf.Rela64{Off: targetOff + 8, Info: info(1, elf.R_AARCH64_ABS64), Addend: 8},
		elf.Rela64{Off: targetOff + 0x10, Info: info(2, elf.R_AARCH64_GLOB_DAT)},
		elf.Rela64{Off: targetOff + 0x18, Info: info(1, elf.R_AARCH64_PREL32)},
		elf.Rela64{Off: targetOff + 0x20, Info: info(0, elf.R_AARCH64_TLSDESC)},
		elf.Rela64{Off: 0xdead0000, Info: info(0, elf.R_AARCH64_NONE)},
		elf.Rela64{Off: targetOff + 0x28, Info: info(1, elf.R_AARCH64_PREL64), Addend: 4},
	)
	img := f.image()
	table := load(t, img)
	require.Len(t, table.Relocs, 7)

	require.Equal(t, uint64(testBase+0x40), word(t, img, targetOff, 8))
	require.Equal(t, uint64(testBase+0x308), word(t, img, targetOff+8, 8))
	require.Equal(t, uint64(0), word(t, img, targetOff+0x10, 8))
	prel32 := int32(0x300 - (targetOff + 0x18))
	require.Equal(t, uint64(uint32(prel32)), word(t, img, targetOff+0x18, 4))
	prel64 := int64(0x300 + 4 - (targetOff + 0x28))
	require.Equal(t, uint64(prel64), word(t, img, targetOff+0x28, 8))

	want := []models.Import{{Addr: testBase + targetOff + 0x10, Name: "nnMain", Type: elf.R_AARCH64_GLOB_DAT}}
	if diff := cmp.Diff(want, img.Imports); diff != "" {
		t.Errorf("imports mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, img.Skipped, 1)
	require.Equal(t, elf.R_AARCH64_TLSDESC, img.Skipped[0].Type)
}

func TestJmpRel(t *testing.T) {
	f := newFixture()
	f.rela(jmprelOff,
		elf.Rela64{Off: targetOff, Info: info(1, elf.R_AARCH64_JUMP_SLOT)},
		elf.Rela64{Off: targetOff + 8, Info: info(2, elf.R_AARCH64_JUMP_SLOT)},
	)
	img := f.image()
	load(t, img)
	require.Equal(t, uint64(testBase+0x300), word(t, img, targetOff, 8))
	require.Len(t, img.Imports, 1)
	require.Equal(t, "nnMain", img.Imports[0].Name)
}

func TestRel(t *testing.T) {
	f := newFixture()
	f.put(targetOff, 8, 0x55)
	f.rel(elf.Rel64{Off: targetOff, Info: info(0, elf.R_AARCH64_RELATIVE)})
	img := f.image()
	table := load(t, img)
	require.True(t, table.Relocs[0].Implicit)
	require.Equal(t, int64(0x55), table.Relocs[0].Addend)
	require.Equal(t, uint64(testBase+0x55), word(t, img, targetOff, 8))
}

func TestRelr(t *testing.T) {
	f := newFixture()
	f.put(targetOff, 8, 0x10)
	f.put(targetOff+0x08, 8, 0x20)
	f.put(targetOff+0x18, 8, 0x30)
	f.put(targetOff+0x10, 8, 0x99)
	f.relr(targetOff, 1|1<<1|1<<3)
	img := f.image()
	table := load(t, img)
	require.Len(t, table.Relocs, 3)
	require.Equal(t, uint64(testBase+0x10), word(t, img, targetOff, 8))
	require.Equal(t, uint64(testBase+0x20), word(t, img, targetOff+0x08, 8))
	require.Equal(t, uint64(0x99), word(t, img, targetOff+0x10, 8))
	require.Equal(t, uint64(testBase+0x30), word(t, img, targetOff+0x18, 8))
}

func TestOutOfRange(t *testing.T) {
	f := newFixture()
	f.rela(relaOff,
		elf.Rela64{Off: targetOff, Info: info(0, elf.R_AARCH64_RELATIVE), Addend: 0x40},
		elf.Rela64{Off: 0x1ffc, Info: info(0, elf.R_AARCH64_RELATIVE)},
	)
	img := f.image()
	orig := img.Clone()
	table, err := Parse(img, testBase, DefaultLimits())
	require.NoError(t, err)
	err = Apply(img, table, testBase)

	var oor *models.RelocationOutOfRangeError
	require.True(t, errors.As(err, &oor), "%v", err)
	require.Equal(t, 1, oor.Index)
	require.Equal(t, uint64(testBase+0x1ffc), oor.Addr)
	require.Equal(t, orig.Regions[1].Data, img.Regions[1].Data)
}

func TestIdempotent(t *testing.T) {
	f := newFixture()
	f.put(targetOff+0x30, 8, 0x77)
	f.rela(relaOff,
		elf.Rela64{Off: targetOff, Info: info(0, elf.R_AARCH64_RELATIVE), Addend: 0x40},
		elf.Rela64{Off: targetOff + 8, Info: info(1, elf.R_AARCH64_ABS64)},
		elf.Rela64{Off: targetOff + 0x10, Info: info(2, elf.R_AARCH64_ABS64)},
	)
	f.relr(targetOff + 0x30)
	img := f.image()
	fresh := img.Clone()

	table := load(t, img)
	once := img.Clone()
	require.NoError(t, Apply(img, table, testBase))
	if diff := cmp.Diff(once, img); diff != "" {
		t.Fatalf("second apply changed image:\n%s", diff)
	}
	load(t, fresh)
	if diff := cmp.Diff(once, fresh); diff != "" {
		t.Fatalf("retry from clone differs:\n%s", diff)
	}
}

func TestLimits(t *testing.T) {
	f := newFixture()
	f.rela(relaOff,
		elf.Rela64{Off: targetOff, Info: info(0, elf.R_AARCH64_RELATIVE)},
		elf.Rela64{Off: targetOff + 8, Info: info(0, elf.R_AARCH64_RELATIVE)},
		elf.Rela64{Off: targetOff + 16, Info: info(0, elf.R_AARCH64_RELATIVE)},
	)
	_, err := Parse(f.image(), testBase, Limits{MaxDynamic: 64, MaxRelocs: 2})
	require.Error(t, err)

	_, err = Parse(f.image(), testBase, Limits{MaxDynamic: 2, MaxRelocs: 64})
	require.Error(t, err)
}

func TestBadEntSize(t *testing.T) {
	f := newFixture()
	f.rela(relaOff, elf.Rela64{Off: targetOff, Info: info(0, elf.R_AARCH64_RELATIVE)})
	f.dyn[len(f.dyn)-1][1] = 16
	_, err := Parse(f.image(), testBase, DefaultLimits())
	require.Error(t, err)
}
