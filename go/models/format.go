package models

// Format identifies one of the supported container layouts.
type Format int

const (
	FormatUnknown Format = iota
	FormatKip1
	FormatNso0
	FormatNro0
	// KIP1 behind a 16-byte gateway prefix
	FormatSxKip1
)

// WrapperSize is the length of the prefix in front of a wrapped KIP1.
const WrapperSize = 0x10

var formatNames = map[Format]string{
	FormatKip1:   "Kernel Initial Process",
	FormatNso0:   "Nintendo Shared Object",
	FormatNro0:   "Nintendo Relocatable Object",
	FormatSxKip1: "Gateway Kernel Initial Process",
}

var formatTags = map[Format]string{
	FormatKip1:   "kip1",
	FormatNso0:   "nso0",
	FormatNro0:   "nro0",
	FormatSxKip1: "sx-kip1",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return "unknown"
}

// Tag is the short name used in logs and snapshot files.
func (f Format) Tag() string {
	if tag, ok := formatTags[f]; ok {
		return tag
	}
	return "unknown"
}

func (f Format) Wrapped() bool {
	return f == FormatSxKip1
}

// Base returns the format parsed once any wrapper has been stripped.
func (f Format) Base() Format {
	if f == FormatSxKip1 {
		return FormatKip1
	}
	return f
}

func FormatFromTag(tag string) Format {
	for f, t := range formatTags {
		if t == tag {
			return f
		}
	}
	return FormatUnknown
}
