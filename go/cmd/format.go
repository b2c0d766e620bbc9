package cmd

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/mgutz/ansi"

	"github.com/lunixbochs/nxload/go/models"
	"github.com/lunixbochs/nxload/go/models/cpu"
)

var (
	colorExec  = ansi.ColorCode("red+b")
	colorWrite = ansi.ColorCode("yellow")
	colorRead  = ansi.ColorCode("green")
	colorNone  = ansi.ColorCode("black+h")
	colorLabel = ansi.ColorCode("cyan")
)

func protColor(prot int) string {
	switch {
	case prot&cpu.PROT_EXEC != 0:
		return colorExec
	case prot&cpu.PROT_WRITE != 0:
		return colorWrite
	case prot&cpu.PROT_READ != 0:
		return colorRead
	}
	return colorNone
}

func paint(s, color string, enabled bool) string {
	if !enabled {
		return s
	}
	return color + s + ansi.Reset
}

// PrintImage writes the summary of img and the pages it was mapped into, one per line.
func PrintImage(w io.Writer, img *models.Image, pages cpu.Pages, color bool) {
	lo, hi := img.Span()
	fmt.Fprintf(w, "%s image, base %#x, entry %#x, span %#x-%#x\n", img.Format, img.Base, img.Entry, lo, hi)
	for _, p := range pages {
		line := fmt.Sprintf("  %#012x-%#012x %s %8x", p.Addr, p.Addr+p.Size, models.ProtString(p.Prot), p.Size)
		fmt.Fprintf(w, "%s %s\n", paint(line, protColor(p.Prot), color), paint(p.Desc, colorLabel, color))
	}
	if len(img.Imports) > 0 {
		fmt.Fprintf(w, "imports (%d):\n", len(img.Imports))
		for _, imp := range img.Imports {
			fmt.Fprintf(w, "  %#012x %-24s %s\n", imp.Addr, imp.Type, imp.Name)
		}
	}
	if len(img.Skipped) > 0 {
		fmt.Fprintf(w, "skipped relocations (%d):\n", len(img.Skipped))
		for _, r := range img.Skipped {
			fmt.Fprintf(w, "  %s\n", r)
		}
	}
}

// PrintHeader writes the parsed header fields, including per-format extras.
func PrintHeader(w io.Writer, hdr *models.Header, color bool) {
	fmt.Fprintln(w, hdr)
	if hdr.Format.Base() == models.FormatKip1 {
		fmt.Fprintf(w, "priority: %d\ncore:     %d\n", hdr.Priority, hdr.DefaultCore)
		var flags []string
		if hdr.Is64Bit {
			flags = append(flags, "64-bit")
		}
		if hdr.AddrSpace64 {
			flags = append(flags, "64-bit address space")
		}
		if hdr.SecureMemory {
			flags = append(flags, "secure memory")
		}
		if len(flags) > 0 {
			fmt.Fprintf(w, "attrs:    %s\n", strings.Join(flags, ", "))
		}
		var caps []string
		for _, c := range hdr.Capabilities {
			if c != 0xffffffff {
				caps = append(caps, fmt.Sprintf("%08x", c))
			}
		}
		fmt.Fprintf(w, "caps:     %s\n", strings.Join(caps, " "))
	}
	for _, s := range hdr.Segments {
		if len(s.Hash) > 0 {
			fmt.Fprintf(w, "%-9s %s\n", s.Kind.String()+":", paint(hex.EncodeToString(s.Hash), colorNone, color))
		}
	}
}
