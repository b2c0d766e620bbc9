package dump

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/lunixbochs/nxload/go/cmd"
	"github.com/lunixbochs/nxload/go/loader"
	"github.com/lunixbochs/nxload/go/snapshot"
)

func Main(args []string) {
	c := cmd.NewNxCmd()
	c.Usage = "[-o out.nxim] <file>"
	var out *string
	c.SetupFlags = func() error {
		out = c.Flags.String("o", "", "snapshot output file (default <file>.nxim)")
		return nil
	}
	c.RunFile = func(ctx context.Context, path string) error {
		img, err := loader.LoadFile(ctx, path, c.Config)
		if err != nil {
			return err
		}
		dst := *out
		if dst == "" {
			dst = path + ".nxim"
		}
		f, err := os.Create(dst)
		if err != nil {
			return errors.WithStack(err)
		}
		defer f.Close()
		if err := snapshot.Save(f, img); err != nil {
			return errors.Wrap(err, dst)
		}
		fmt.Fprintf(c.Stdout, "wrote %s (%d regions, %#x bytes)\n", dst, len(img.Regions), img.Size())
		return nil
	}
	os.Exit(c.Run(args))
}

func init() { cmd.Register("dump", "write the loaded image to a snapshot file", Main) }
