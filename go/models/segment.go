package models

import (
	"fmt"

	"github.com/lunixbochs/nxload/go/models/cpu"
)

type SegmentKind int

const (
	SegText SegmentKind = iota
	SegRodata
	SegData
	SegBss
	// filler between segments, never produced by a header
	SegGap
)

func (k SegmentKind) String() string {
	switch k {
	case SegText:
		return ".text"
	case SegRodata:
		return ".rodata"
	case SegData:
		return ".data"
	case SegBss:
		return ".bss"
	case SegGap:
		return ".gap"
	}
	return fmt.Sprintf("segment(%d)", int(k))
}

// Prot is the fixed protection for each segment kind.
func (k SegmentKind) Prot() int {
	switch k {
	case SegText:
		return cpu.PROT_READ | cpu.PROT_EXEC
	case SegRodata:
		return cpu.PROT_READ
	case SegData, SegBss:
		return cpu.PROT_READ | cpu.PROT_WRITE
	}
	return cpu.PROT_NONE
}

type Codec int

const (
	CodecNone Codec = iota
	CodecLZ4
	CodecBLZ
)

func (c Codec) String() string {
	switch c {
	case CodecLZ4:
		return "lz4"
	case CodecBLZ:
		return "blz"
	}
	return "none"
}

// SegmentDesc describes where a segment lives in the container and where it goes in memory.
type SegmentDesc struct {
	Kind SegmentKind
	// file extent, relative to the start of the (unwrapped) container
	FileOff, FileSize uint64
	// memory extent, relative to the load base
	MemOff, Size uint64

	Compressed bool
	Codec      Codec
	Prot       int
	// optional SHA-256 of the decompressed bytes
	Hash []byte
}

func (s *SegmentDesc) String() string {
	comp := ""
	if s.Compressed {
		comp = " " + s.Codec.String()
	}
	return fmt.Sprintf("%-8s file 0x%x+0x%x mem 0x%x+0x%x %s%s", s.Kind, s.FileOff, s.FileSize, s.MemOff, s.Size, ProtString(s.Prot), comp)
}

func ProtString(prot int) string {
	prots := []int{cpu.PROT_READ, cpu.PROT_WRITE, cpu.PROT_EXEC}
	chars := []string{"r", "w", "x"}
	s := ""
	for i := range prots {
		if prot&prots[i] != 0 {
			s += chars[i]
		} else {
			s += "-"
		}
	}
	return s
}
