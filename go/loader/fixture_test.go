package loader

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/lunixbochs/struc"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/require"

	"github.com/lunixbochs/nxload/go/compress/blz"
)

// module is the in-memory layout a fixture container encodes.
type module struct {
	text, ro, data []byte
	// memory offsets; zero values are laid out page aligned after the previous segment
	textOff, roOff, dataOff uint32
	bss                     uint32
}

func pattern(n int, seed byte) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = seed + byte(i%7)*3 + byte(i/64)
	}
	return p
}

func alignPage(n uint32) uint32 {
	return (n + 0xfff) &^ 0xfff
}

func testModule() *module {
	m := &module{
		text: pattern(0x1800, 0x10),
		ro:   pattern(0x900, 0x40),
		data: pattern(0x300, 0x80),
		bss:  0x2000,
	}
	m.layout()
	return m
}

func (m *module) layout() {
	if m.roOff == 0 && len(m.ro) > 0 {
		m.roOff = alignPage(m.textOff + uint32(len(m.text)))
	}
	if m.dataOff == 0 && len(m.data) > 0 {
		m.dataOff = alignPage(m.roOff + uint32(len(m.ro)))
	}
}

func pack(t *testing.T, v interface{}) []byte {
	var buf bytes.Buffer
	require.NoError(t, struc.PackWithOrder(&buf, v, binary.LittleEndian))
	return buf.Bytes()
}

func lz4Compress(t *testing.T, p []byte) []byte {
	dst := make([]byte, lz4.CompressBlockBound(len(p)))
	n, err := lz4.CompressBlock(p, dst, nil)
	require.NoError(t, err)
	require.NotZero(t, n, "fixture data must be compressible")
	return dst[:n]
}

func blzCompress(t *testing.T, p []byte) []byte {
	out, err := blz.Compress(p)
	require.NoError(t, err)
	return out
}

func (m *module) nso(t *testing.T, compress, hash bool) []byte {
	h := nso0Header{
		Magic:   nso0Magic,
		BssSize: m.bss,
	}
	copy(h.BuildID[:], "build-id")
	segs := []struct {
		hdr      *nsoSegmentHeader
		fileSize *uint32
		hash     *[0x20]byte
		data     []byte
		memOff   uint32
	}{
		{&h.Text, &h.TextFileSize, &h.TextHash, m.text, m.textOff},
		{&h.Ro, &h.RoFileSize, &h.RoHash, m.ro, m.roOff},
		{&h.Data, &h.DataFileSize, &h.DataHash, m.data, m.dataOff},
	}
	body := []byte("\x00module.nso\x00")
	h.ModuleNameOff = nsoHeaderSize + 1
	h.ModuleNameSize = uint32(len(body) - 1)
	for i, s := range segs {
		raw := s.data
		if compress && len(raw) > 0 {
			raw = lz4Compress(t, raw)
			h.Flags |= nsoTextCompress << uint(i)
		}
		if hash {
			*s.hash = sha256.Sum256(s.data)
			h.Flags |= nsoTextHash << uint(i)
		}
		*s.hdr = nsoSegmentHeader{FileOff: uint32(nsoHeaderSize + len(body)), MemOff: s.memOff, Size: uint32(len(s.data))}
		*s.fileSize = uint32(len(raw))
		body = append(body, raw...)
	}
	return append(pack(t, &h), body...)
}

func (m *module) nro(t *testing.T) []byte {
	h := nro0Header{
		Magic:   nro0Magic,
		Text:    nroSegmentHeader{m.textOff, uint32(len(m.text))},
		Ro:      nroSegmentHeader{m.roOff, uint32(len(m.ro))},
		Data:    nroSegmentHeader{m.dataOff, uint32(len(m.data))},
		BssSize: m.bss,
	}
	h.Size = m.dataOff + uint32(len(m.data))
	file := make([]byte, h.Size)
	copy(file[m.textOff:], m.text)
	copy(file[m.roOff:], m.ro)
	copy(file[m.dataOff:], m.data)
	// the header lives inside .text
	copy(file, pack(t, &h))
	copy(m.text, file[:len(m.text)])
	return file
}

func (m *module) kip(t *testing.T, compress bool) []byte {
	h := kip1Header{
		Magic:       kip1Magic,
		ProgramID:   0x0100000000000042,
		Version:     1,
		Priority:    44,
		DefaultCore: 3,
		Flags:       kipIs64Bit | kipAddrSpace64,
		Bss:         kipSegmentHeader{MemOff: m.dataOff + uint32(len(m.data)), Size: m.bss},
	}
	copy(h.Name[:], "TestKip")
	h.Capabilities[0] = 0xdeadbeef
	var body []byte
	segs := []struct {
		hdr    *kipSegmentHeader
		data   []byte
		memOff uint32
	}{
		{&h.Text, m.text, m.textOff},
		{&h.Ro, m.ro, m.roOff},
		{&h.Data, m.data, m.dataOff},
	}
	for i, s := range segs {
		raw := s.data
		if compress && len(raw) > 0 {
			raw = blzCompress(t, raw)
			h.Flags |= kipTextCompress << uint(i)
		}
		*s.hdr = kipSegmentHeader{MemOff: s.memOff, Size: uint32(len(s.data)), FileSize: uint32(len(raw))}
		body = append(body, raw...)
	}
	return append(pack(t, &h), body...)
}

func (m *module) sxkip(t *testing.T, compress bool) []byte {
	prefix := bytes.Repeat([]byte{0xa5}, 0x10)
	return append(prefix, m.kip(t, compress)...)
}
