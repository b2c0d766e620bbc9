package loader

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/lunixbochs/nxload/go/image"
	"github.com/lunixbochs/nxload/go/models"
	"github.com/lunixbochs/nxload/go/reloc"
)

// DecompressSegments reads and expands every file-backed segment of hdr from r,
// which must be the payload view returned by Payload.
func DecompressSegments(r io.ReaderAt, hdr *models.Header, config *models.Config) ([]image.Segment, error) {
	if config == nil {
		config = models.DefaultConfig()
	}
	d := &Decompressor{MaxOutput: config.MaxSegmentSize, VerifyHashes: config.VerifyHashes}
	logger := log.With(config.Log(), "format", hdr.Format.Tag())
	segs := make([]image.Segment, 0, len(hdr.Segments))
	for _, desc := range hdr.Segments {
		seg := image.Segment{Desc: desc}
		if desc.Kind != models.SegBss {
			raw, err := readFull(r, desc.FileOff, desc.FileSize)
			if err != nil {
				return nil, errors.WithStack(&models.DecompressionError{
					Segment: desc.Kind.String(), Codec: desc.Codec, Reason: "truncated input", Err: err,
				})
			}
			if seg.Data, err = d.Decompress(raw, desc); err != nil {
				return nil, err
			}
			level.Debug(logger).Log("msg", "segment", "segment", desc.Kind, "codec", desc.Codec, "raw", len(raw), "size", len(seg.Data))
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

// Relocate applies the module's dynamic relocations to img in place.
func Relocate(img *models.Image, base uint64, config *models.Config) error {
	if config == nil {
		config = models.DefaultConfig()
	}
	logger := config.Log()
	table, err := reloc.Parse(img, base, reloc.LimitsFromConfig(config))
	if err != nil {
		return errors.Wrap(err, "failed to parse relocations")
	}
	if table == nil {
		level.Debug(logger).Log("msg", "no MOD0, skipping relocation")
		return nil
	}
	if err := reloc.Apply(img, table, base); err != nil {
		return err
	}
	level.Debug(logger).Log("msg", "relocated", "mod0", table.Module.Addr, "relocs", len(table.Relocs), "imports", len(img.Imports))
	for _, r := range img.Skipped {
		level.Warn(logger).Log("msg", "unsupported relocation", "type", r.Type, "offset", r.Offset)
	}
	return nil
}

// Load runs the whole pipeline over r and returns the finished image.
// ctx is checked between stages.
func Load(ctx context.Context, r io.ReaderAt, size int64, config *models.Config) (*models.Image, error) {
	if config == nil {
		config = models.DefaultConfig()
	}
	logger := config.Log()

	format, err := Detect(r)
	if err != nil {
		return nil, err
	}
	level.Debug(logger).Log("msg", "detected", "format", format)
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	hdr, err := ParseHeader(r, size, format, config)
	if err != nil {
		return nil, err
	}
	level.Debug(logger).Log("msg", "parsed header", "entry", hdr.Entry, "segments", len(hdr.Segments))
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	payload, _, err := Payload(r, size, format)
	if err != nil {
		return nil, err
	}
	segs, err := DecompressSegments(payload, hdr, config)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	img, err := image.NewBuilder(config).Build(segs, config.LoadBase)
	if err != nil {
		return nil, err
	}
	img.Format = format
	img.Entry = config.LoadBase + hdr.Entry
	level.Debug(logger).Log("msg", "built image", "regions", len(img.Regions), "size", img.Size())
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	if config.Relocate {
		if err := Relocate(img, config.LoadBase, config); err != nil {
			return nil, err
		}
	}
	return img, nil
}

// LoadInto loads r and hands the result to prog. prog is not touched unless
// the whole pipeline succeeds; if the commit itself fails, prog holds a partial
// image and should be discarded.
func LoadInto(ctx context.Context, r io.ReaderAt, size int64, prog models.Program, config *models.Config) (*models.Image, error) {
	img, err := Load(ctx, r, size, config)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := models.Commit(prog, img); err != nil {
		return nil, err
	}
	return img, nil
}

func LoadFile(ctx context.Context, path string, config *models.Config) (*models.Image, error) {
	p, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	img, err := Load(ctx, bytes.NewReader(p), int64(len(p)), config)
	return img, errors.Wrapf(err, "%s", path)
}
