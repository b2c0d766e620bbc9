package loader

import (
	"io"

	"github.com/pkg/errors"

	"github.com/lunixbochs/nxload/go/models"
)

var (
	kip1Magic = [4]byte{'K', 'I', 'P', '1'}
	nso0Magic = [4]byte{'N', 'S', 'O', '0'}
	nro0Magic = [4]byte{'N', 'R', 'O', '0'}
)

func MatchKip1(r io.ReaderAt) bool {
	return getMagic(r, 0) == kip1Magic
}

func MatchNso0(r io.ReaderAt) bool {
	return getMagic(r, 0) == nso0Magic
}

func MatchNro0(r io.ReaderAt) bool {
	return getMagic(r, 0x10) == nro0Magic
}

// A wrapped KIP1 has its magic behind the 16-byte prefix. Checked last so an
// unwrapped match at offset 0 always wins.
func MatchSxKip1(r io.ReaderAt) bool {
	return getMagic(r, models.WrapperSize) == kip1Magic
}

var matchers = []struct {
	match  func(io.ReaderAt) bool
	format models.Format
}{
	{MatchKip1, models.FormatKip1},
	{MatchNso0, models.FormatNso0},
	{MatchNro0, models.FormatNro0},
	{MatchSxKip1, models.FormatSxKip1},
}

// Detect classifies r from its first 0x14 bytes.
func Detect(r io.ReaderAt) (models.Format, error) {
	for _, m := range matchers {
		if m.match(r) {
			return m.format, nil
		}
	}
	return models.FormatUnknown, errors.WithStack(models.ErrUnsupportedFormat)
}
