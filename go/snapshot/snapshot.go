// Package snapshot stores a loaded image on disk so it can be reopened without
// the original container.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"io/ioutil"
	"sort"

	"github.com/golang/snappy"
	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"github.com/lunixbochs/nxload/go/models"
)

// snapshot format, little endian:
//
// file header (Header)
// remainder is a snappy block holding, per region:
//   regionHeader, <raw bytes of Size>

const (
	Magic   = "NXIM"
	Version = 1
)

var order = binary.LittleEndian

type Header struct {
	Magic   string `struc:"[4]byte"`
	Version uint32
	Format  uint32
	Regions uint32
	Base    uint64
	Entry   uint64
	// crc32 and length of the compressed body
	CRC     uint32
	BodyLen uint64
}

type regionHeader struct {
	Addr     uint64
	Size     uint64
	Prot     uint32
	Kind     uint32
	LabelLen int `struc:"uint16,sizeof=Label"`
	Label    string
}

// Writer collects the blocks of one image and writes them out on Close.
// It implements models.Program.
type Writer struct {
	w       io.Writer
	Format  models.Format
	Base    uint64
	regions models.Regions
	entry   uint64
}

func NewWriter(w io.Writer, format models.Format, base uint64) *Writer {
	return &Writer{w: w, Format: format, Base: base}
}

func (s *Writer) CreateBlock(label string, addr uint64, data []byte, prot int) error {
	s.regions = append(s.regions, &models.Region{Addr: addr, Data: data, Prot: prot, Label: label})
	return nil
}

func (s *Writer) SetEntry(addr uint64) error {
	s.entry = addr
	return nil
}

func kindOf(label string) models.SegmentKind {
	for k := models.SegText; k <= models.SegGap; k++ {
		if k.String() == label {
			return k
		}
	}
	return models.SegGap
}

func (s *Writer) Close() error {
	var body bytes.Buffer
	for _, r := range s.regions {
		rh := &regionHeader{
			Addr:  r.Addr,
			Size:  r.Size(),
			Prot:  uint32(r.Prot),
			Kind:  uint32(kindOf(r.Label)),
			Label: r.Label,
		}
		if err := struc.PackWithOrder(&body, rh, order); err != nil {
			return errors.Wrap(err, "failed to pack region")
		}
		body.Write(r.Data)
	}
	data := snappy.Encode(nil, body.Bytes())
	header := &Header{
		Magic:   Magic,
		Version: Version,
		Format:  uint32(s.Format),
		Regions: uint32(len(s.regions)),
		Base:    s.Base,
		Entry:   s.entry,
		CRC:     crc32.ChecksumIEEE(data),
		BodyLen: uint64(len(data)),
	}
	if err := struc.PackWithOrder(s.w, header, order); err != nil {
		return errors.Wrap(err, "failed to pack header")
	}
	_, err := s.w.Write(data)
	return errors.WithStack(err)
}

// Save writes img to w in one call.
func Save(w io.Writer, img *models.Image) error {
	s := NewWriter(w, img.Format, img.Base)
	if err := models.Commit(s, img); err != nil {
		return err
	}
	return s.Close()
}

// Read restores an image written by Writer. maxBody bounds the decompressed
// body size; 0 means no bound.
func Read(r io.Reader, maxBody uint64) (*models.Image, error) {
	var header Header
	if err := struc.UnpackWithOrder(r, &header, order); err != nil {
		return nil, errors.Wrap(err, "failed to unpack header")
	}
	if header.Magic != Magic {
		return nil, errors.New("invalid snapshot magic")
	}
	if header.Version != Version {
		return nil, errors.Errorf("unsupported snapshot version %d", header.Version)
	}
	data, err := ioutil.ReadAll(io.LimitReader(r, int64(header.BodyLen)))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if uint64(len(data)) != header.BodyLen {
		return nil, errors.Errorf("snapshot body truncated (%d < %d)", len(data), header.BodyLen)
	}
	if crc32.ChecksumIEEE(data) != header.CRC {
		return nil, errors.New("snapshot checksum mismatch")
	}
	n, err := snappy.DecodedLen(data)
	if err != nil {
		return nil, errors.Wrap(err, "invalid snapshot body")
	}
	if maxBody > 0 && uint64(n) > maxBody {
		return nil, errors.Errorf("snapshot body %#x over limit %#x", n, maxBody)
	}
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, errors.Wrap(err, "invalid snapshot body")
	}

	img := &models.Image{
		Format: models.Format(header.Format),
		Base:   header.Base,
		Entry:  header.Entry,
	}
	body := bytes.NewReader(raw)
	for i := uint32(0); i < header.Regions; i++ {
		var rh regionHeader
		if err := struc.UnpackWithOrder(body, &rh, order); err != nil {
			return nil, errors.Wrapf(err, "failed to unpack region %d", i)
		}
		if rh.Size > uint64(body.Len()) {
			return nil, errors.Errorf("region %d truncated", i)
		}
		buf := make([]byte, rh.Size)
		body.Read(buf)
		img.Regions = append(img.Regions, &models.Region{
			Addr:  rh.Addr,
			Data:  buf,
			Prot:  int(rh.Prot),
			Label: rh.Label,
			Kind:  models.SegmentKind(rh.Kind),
		})
	}
	sort.Sort(img.Regions)
	for i := 1; i < len(img.Regions); i++ {
		if prev, cur := img.Regions[i-1], img.Regions[i]; cur.Addr < prev.End() {
			return nil, errors.WithStack(&models.LayoutConflictError{
				A: cur.Label, B: prev.Label,
				Start: cur.Addr, End: cur.End(), OStart: prev.Addr, OEnd: prev.End(),
			})
		}
	}
	return img, nil
}
