package load

import (
	"bytes"
	"context"
	"io/ioutil"
	"os"

	"github.com/pkg/errors"

	"github.com/lunixbochs/nxload/go/cmd"
	"github.com/lunixbochs/nxload/go/loader"
	"github.com/lunixbochs/nxload/go/models"
	"github.com/lunixbochs/nxload/go/models/cpu"
	"github.com/lunixbochs/nxload/go/snapshot"
)

// mapFile loads a container or snapshot at path into mem.
func mapFile(ctx context.Context, path string, mem *cpu.Mem, config *models.Config) (*models.Image, error) {
	p, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if bytes.HasPrefix(p, []byte(snapshot.Magic)) {
		img, err := snapshot.Read(bytes.NewReader(p), config.MaxImageSize)
		if err != nil {
			return nil, errors.Wrapf(err, "%s", path)
		}
		return img, errors.Wrapf(models.Commit(mem, img), "%s", path)
	}
	img, err := loader.LoadInto(ctx, bytes.NewReader(p), int64(len(p)), mem, config)
	return img, errors.Wrapf(err, "%s", path)
}

func Main(args []string) {
	c := cmd.NewNxCmd()
	c.Usage = "[-check] <file|snapshot>"
	var check *bool
	c.SetupFlags = func() error {
		check = c.Flags.Bool("check", false, "read every region back through the memory model")
		return nil
	}
	c.RunFile = func(ctx context.Context, path string) error {
		mem := cmd.NewAddressSpace()
		img, err := mapFile(ctx, path, mem, c.Config)
		if err != nil {
			return err
		}
		if *check {
			if err := cmd.CheckMem(mem, img); err != nil {
				return errors.Wrap(err, path)
			}
		}
		cmd.PrintImage(c.Stdout, img, mem.Mappings(), c.Config.Color)
		return nil
	}
	os.Exit(c.Run(args))
}

func init() { cmd.Register("load", "load a container or snapshot and print its memory map", Main) }
