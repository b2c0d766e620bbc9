package loader

import (
	"bytes"
	"testing"

	"github.com/lunixbochs/nxload/go/models"
)

func magicAt(magic string, off int) []byte {
	buf := make([]byte, 0x100)
	copy(buf[off:], magic)
	return buf
}

var detectTests = []struct {
	buf    []byte
	format models.Format
}{
	{magicAt("KIP1", 0), models.FormatKip1},
	{magicAt("NSO0", 0), models.FormatNso0},
	{magicAt("NRO0", 0x10), models.FormatNro0},
	{magicAt("KIP1", 0x10), models.FormatSxKip1},
	// truncated right after the magic
	{[]byte("KIP1"), models.FormatKip1},
	{append(make([]byte, 0x10), "NRO0"...), models.FormatNro0},
}

func TestDetect(t *testing.T) {
	for _, test := range detectTests {
		f, err := Detect(bytes.NewReader(test.buf))
		if err != nil {
			t.Errorf("%s: %v", test.format.Tag(), err)
		} else if f != test.format {
			t.Errorf("detected %s, want %s", f.Tag(), test.format.Tag())
		}
	}
}

func TestDetectUnknown(t *testing.T) {
	bufs := [][]byte{
		nil,
		[]byte("KIP"),
		make([]byte, 0x100),
		magicAt("NRO0", 0),
		magicAt("NSO0", 0x10),
		magicAt("KIP1", 0x8),
		magicAt("\x7fELF", 0),
	}
	for i, buf := range bufs {
		f, err := Detect(bytes.NewReader(buf))
		if !models.IsUnsupported(err) {
			t.Errorf("%d: expected unsupported format, got %v (%v)", i, f, err)
		}
	}
}

// KIP1 at 0 wins over anything else in the first 0x14 bytes.
func TestDetectOrder(t *testing.T) {
	buf := magicAt("KIP1", 0)
	copy(buf[0x10:], "NRO0")
	if f, _ := Detect(bytes.NewReader(buf)); f != models.FormatKip1 {
		t.Fatalf("detected %s", f.Tag())
	}
	buf = magicAt("NSO0", 0)
	copy(buf[0x10:], "KIP1")
	if f, _ := Detect(bytes.NewReader(buf)); f != models.FormatNso0 {
		t.Fatalf("detected %s", f.Tag())
	}
}
