package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"

	"github.com/lunixbochs/nxload/go/models"
)

// addr parses flag values as hex (0x...) or decimal.
type addr uint64

func (a *addr) String() string {
	return fmt.Sprintf("%#x", uint64(*a))
}

func (a *addr) Set(value string) error {
	v, err := strconv.ParseUint(value, 0, 64)
	if err != nil {
		return err
	}
	*a = addr(v)
	return nil
}

// NxCmd holds the flags and configuration shared by every subcommand.
type NxCmd struct {
	Config *models.Config

	// SetupFlags registers command-specific flags before parsing.
	SetupFlags func() error
	// RunFile is called once per file argument.
	RunFile func(ctx context.Context, path string) error

	// MultiFile accepts more than one file argument.
	MultiFile bool
	Usage     string

	Flags  *flag.FlagSet
	Stdout io.Writer
	Log    log.Logger
}

func NewNxCmd() *NxCmd {
	fs := flag.NewFlagSet("cli", flag.ExitOnError)
	return &NxCmd{Flags: fs, Config: models.DefaultConfig()}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// PrintError prints err and, when one was recorded, the innermost stack trace.
func PrintError(w io.Writer, err error) {
	fmt.Fprintf(w, "%s\n", strings.Repeat("-", 40))
	fmt.Fprintf(w, "Error: %s\n", err)
	var st stackTracer
	for e := err; e != nil; {
		if s, ok := e.(stackTracer); ok {
			st = s
		}
		c, ok := e.(interface{ Cause() error })
		if !ok {
			break
		}
		e = c.Cause()
	}
	if st == nil {
		return
	}
	// parse full path and method name for each stack frame
	var frames [][]string
	for _, f := range st.StackTrace() {
		fullpath := ""
		fileline := fmt.Sprintf("%s:%d", f, f)
		method := fmt.Sprintf("%n", f)

		frame := fmt.Sprintf("%+s", f)
		tmp := strings.SplitN(frame, "\n", 3)
		if len(tmp) == 2 {
			pathsplit := strings.Split(tmp[0], "/")
			method = pathsplit[len(pathsplit)-1]
			fullpath = strings.TrimSpace(tmp[1])
		}
		frames = append(frames, []string{fullpath, fileline, method})
		if method == "main.main" {
			break
		}
	}
	// calculate column widths
	widths := make([]int, 3)
	for _, f := range frames {
		for i, s := range f {
			if len(s) > widths[i] {
				widths[i] = len(s)
			}
		}
	}
	for _, f := range frames {
		for i := 0; i < 2; i++ {
			if widths[i] > 0 {
				pad := strings.Repeat(" ", widths[i]-len(f[i]))
				fmt.Fprintf(w, "%s%s | ", f[i], pad)
			}
		}
		fmt.Fprintf(w, "%s()\n", f[2])
	}
}

func newLogger(w io.Writer, verbose bool) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(w))
	lvl := level.AllowWarn()
	if verbose {
		lvl = level.AllowDebug()
	}
	return level.NewFilter(log.With(logger, "ts", log.DefaultTimestampUTC), lvl)
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Run parses argv, builds the configuration and calls RunFile for each file.
// The return value is the process exit status.
func (c *NxCmd) Run(argv []string) int {
	fs := c.Flags
	configPath := fs.String("config", "", "load settings from this YAML file instead of the user config")
	var base addr
	fs.Var(&base, "base", "load base address (default from config, 0x7100000000)")
	nogaps := fs.Bool("nogaps", false, "don't map holes between segments")
	noreloc := fs.Bool("noreloc", false, "skip relocation")
	nohash := fs.Bool("nohash", false, "skip segment hash verification")
	verbose := fs.Bool("v", false, "verbose output")
	color := fs.Bool("color", false, "force colored output on or off (default: on for terminals)")

	fs.Usage = func() {
		usage := c.Usage
		if usage == "" {
			usage = "<file>"
			if c.MultiFile {
				usage += " [file...]"
			}
		}
		fmt.Fprintf(os.Stderr, "Usage: %s [options] %s\n\nOptions:\n", argv[0], usage)
		var flags []*flag.Flag
		fs.VisitAll(func(f *flag.Flag) { flags = append(flags, f) })
		PrintFlags(os.Stderr, flags)
	}
	if c.SetupFlags != nil {
		if err := c.SetupFlags(); err != nil {
			PrintError(os.Stderr, err)
			return 1
		}
	}
	fs.Parse(argv[1:])
	args := fs.Args()
	if len(args) < 1 || (len(args) > 1 && !c.MultiFile) {
		fs.Usage()
		return 1
	}

	// defaults, then config file, then flags
	config := c.Config
	var err error
	if *configPath != "" {
		err = config.LoadFile(*configPath)
	} else {
		_, err = config.LoadUserConfig()
	}
	if err != nil {
		PrintError(os.Stderr, err)
		return 1
	}
	if isSet(fs, "base") {
		config.LoadBase = uint64(base)
	}
	config.Color = useColor(isSet(fs, "color"), *color, config.Color, isTerminal(os.Stdout))
	config.FillGaps = config.FillGaps && !*nogaps
	config.Relocate = config.Relocate && !*noreloc
	config.VerifyHashes = config.VerifyHashes && !*nohash
	config.Verbose = config.Verbose || *verbose

	c.Log = newLogger(os.Stderr, config.Verbose)
	config.Logger = c.Log
	if c.Stdout == nil {
		c.Stdout = os.Stdout
		if config.Color {
			c.Stdout = colorable.NewColorableStdout()
		}
	}

	status := 0
	for _, path := range args {
		if err := c.RunFile(context.Background(), path); err != nil {
			PrintError(os.Stderr, err)
			status = 1
		}
	}
	return status
}

// useColor lets an explicit -color win, otherwise colors need both the
// config setting and a terminal.
func useColor(flagSet, flagValue, config, tty bool) bool {
	if flagSet {
		return flagValue
	}
	return config && tty
}

func isSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
