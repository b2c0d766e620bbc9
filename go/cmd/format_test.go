package cmd

import (
	"bytes"
	"debug/elf"
	"errors"
	"flag"
	"strings"
	"testing"

	pkgerrors "github.com/pkg/errors"

	"github.com/lunixbochs/nxload/go/models"
	"github.com/lunixbochs/nxload/go/models/cpu"
)

func TestPrintImage(t *testing.T) {
	img := &models.Image{
		Format: models.FormatNro0,
		Base:   0x8000000,
		Entry:  0x8000000,
		Regions: models.Regions{
			{Addr: 0x8000000, Data: make([]byte, 0x100), Prot: cpu.PROT_READ | cpu.PROT_EXEC, Label: ".text"},
			{Addr: 0x8000100, Data: make([]byte, 0x100), Prot: cpu.PROT_READ | cpu.PROT_WRITE, Label: ".data"},
		},
		Imports: []models.Import{{Addr: 0x8000108, Name: "nnMain", Type: elf.R_AARCH64_JUMP_SLOT}},
	}
	mem := NewAddressSpace()
	if err := models.Commit(mem, img); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	PrintImage(&buf, img, mem.Mappings(), false)
	out := buf.String()
	for _, want := range []string{"r-x", "rw-", ".text", ".data", "nnMain", "R_AARCH64_JUMP_SLOT"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("color codes in uncolored output")
	}
	buf.Reset()
	PrintImage(&buf, img, mem.Mappings(), true)
	if !strings.Contains(buf.String(), "\x1b[") {
		t.Error("no color codes in colored output")
	}
}

func TestPrintError(t *testing.T) {
	var buf bytes.Buffer
	PrintError(&buf, pkgerrors.Wrap(pkgerrors.New("inner"), "outer"))
	out := buf.String()
	if !strings.Contains(out, "Error: outer: inner") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "TestPrintError") {
		t.Errorf("missing stack trace:\n%s", out)
	}

	buf.Reset()
	PrintError(&buf, errors.New("plain"))
	if strings.Count(buf.String(), "\n") != 2 {
		t.Errorf("plain error printed a stack:\n%s", buf.String())
	}
}

func TestAddrFlag(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var a addr
	fs.Var(&a, "base", "")
	if err := fs.Parse([]string{"-base", "0x8000000"}); err != nil {
		t.Fatal(err)
	}
	if a != 0x8000000 {
		t.Fatalf("got %s", a.String())
	}
	if err := fs.Parse([]string{"-base", "nope"}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestCheckMem(t *testing.T) {
	img := &models.Image{
		Entry: 0x8000000,
		Regions: models.Regions{
			{Addr: 0x8000000, Data: bytes.Repeat([]byte{0x1f}, 0x100), Prot: cpu.PROT_READ | cpu.PROT_EXEC, Label: ".text"},
			{Addr: 0x8000100, Data: make([]byte, 0xf00), Prot: cpu.PROT_NONE, Label: ".gap"},
			{Addr: 0x8001000, Data: bytes.Repeat([]byte{0x2a}, 0x80), Prot: cpu.PROT_READ | cpu.PROT_WRITE, Label: ".data"},
		},
	}
	mem := NewAddressSpace()
	if err := models.Commit(mem, img); err != nil {
		t.Fatal(err)
	}
	if err := CheckMem(mem, img); err != nil {
		t.Fatal(err)
	}
	if err := mem.MemWrite(0x8001010, []byte{0}); err != nil {
		t.Fatal(err)
	}
	if err := CheckMem(mem, img); err == nil {
		t.Fatal("modified block passed the check")
	}
	if err := CheckMem(NewAddressSpace(), img); err == nil {
		t.Fatal("empty address space passed the check")
	}
}

func TestUseColor(t *testing.T) {
	tests := []struct {
		flagSet, flagValue, config, tty bool
		want                            bool
	}{
		{false, false, true, true, true},
		{false, false, true, false, false},
		{false, false, false, true, false},
		{true, true, false, false, true},
		{true, false, true, true, false},
	}
	for _, test := range tests {
		if got := useColor(test.flagSet, test.flagValue, test.config, test.tty); got != test.want {
			t.Errorf("useColor(%v, %v, %v, %v) = %v", test.flagSet, test.flagValue, test.config, test.tty, got)
		}
	}
}
