package detect

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/lunixbochs/nxload/go/cmd"
	"github.com/lunixbochs/nxload/go/loader"
	"github.com/lunixbochs/nxload/go/models"
)

func Main(args []string) {
	c := cmd.NewNxCmd()
	c.MultiFile = true
	c.RunFile = func(ctx context.Context, path string) error {
		f, err := os.Open(path)
		if err != nil {
			return errors.WithStack(err)
		}
		defer f.Close()
		format, err := loader.Detect(f)
		if models.IsUnsupported(err) {
			fmt.Fprintf(c.Stdout, "%s: unknown\n", path)
			return nil
		} else if err != nil {
			return err
		}
		fmt.Fprintf(c.Stdout, "%s: %s (%s)\n", path, format.Tag(), format)
		return nil
	}
	os.Exit(c.Run(args))
}

func init() { cmd.Register("detect", "identify container formats", Main) }
