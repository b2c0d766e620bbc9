package info

import (
	"context"
	"os"

	"github.com/pkg/errors"

	"github.com/lunixbochs/nxload/go/cmd"
	"github.com/lunixbochs/nxload/go/loader"
)

func Main(args []string) {
	c := cmd.NewNxCmd()
	c.RunFile = func(ctx context.Context, path string) error {
		f, err := os.Open(path)
		if err != nil {
			return errors.WithStack(err)
		}
		defer f.Close()
		st, err := f.Stat()
		if err != nil {
			return errors.WithStack(err)
		}
		format, err := loader.Detect(f)
		if err != nil {
			return errors.Wrap(err, path)
		}
		hdr, err := loader.ParseHeader(f, st.Size(), format, c.Config)
		if err != nil {
			return errors.Wrap(err, path)
		}
		cmd.PrintHeader(c.Stdout, hdr, c.Config.Color)
		return nil
	}
	os.Exit(c.Run(args))
}

func init() { cmd.Register("info", "print container header", Main) }
