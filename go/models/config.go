package models

import (
	"io/ioutil"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/shibukawa/configdir"
	"gopkg.in/yaml.v3"
)

// DefaultLoadBase matches the address the platform loader uses for the first module.
const DefaultLoadBase = 0x7100000000

const ConfigFile = "config.yaml"

type Config struct {
	LoadBase uint64 `yaml:"load_base"`
	// upper bound for a single decompressed segment
	MaxSegmentSize uint64 `yaml:"max_segment_size"`
	// upper bound for the laid-out image span, gaps included
	MaxImageSize uint64 `yaml:"max_image_size"`
	MaxRelocs    int    `yaml:"max_relocs"`

	FillGaps     bool `yaml:"fill_gaps"`
	VerifyHashes bool `yaml:"verify_hashes"`
	Relocate     bool `yaml:"relocate"`

	// Color allows colored output; it is still only used on a terminal unless -color is given.
	Color   bool `yaml:"color"`
	Verbose bool `yaml:"verbose"`

	Logger log.Logger `yaml:"-"`
}

func DefaultConfig() *Config {
	return &Config{
		LoadBase:       DefaultLoadBase,
		MaxSegmentSize: 256 << 20,
		MaxImageSize:   1 << 30,
		MaxRelocs:      1 << 20,
		FillGaps:       true,
		VerifyHashes:   true,
		Relocate:       true,
		Color:          true,
		Logger:         log.NewNopLogger(),
	}
}

// Log never returns nil, so callers can log without checking.
func (c *Config) Log() log.Logger {
	if c == nil || c.Logger == nil {
		return log.NewNopLogger()
	}
	return c.Logger
}

// Parse overlays YAML settings onto c. Keys missing from p keep their current value.
func (c *Config) Parse(p []byte) error {
	return errors.Wrap(yaml.Unmarshal(p, c), "failed to parse config")
}

func (c *Config) LoadFile(path string) error {
	p, err := ioutil.ReadFile(path)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.Wrapf(c.Parse(p), "%s", path)
}

// LoadUserConfig applies the first config.yaml found in the user or system config
// folders. A missing file is not an error; the returned path is empty in that case.
func (c *Config) LoadUserConfig() (string, error) {
	dirs := configdir.New("lunixbochs", "nxload")
	folder := dirs.QueryFolderContainsFile(ConfigFile)
	if folder == nil {
		return "", nil
	}
	p, err := folder.ReadFile(ConfigFile)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return folder.Path, c.Parse(p)
}
