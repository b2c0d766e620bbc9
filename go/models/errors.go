package models

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrUnsupportedFormat means no known magic matched. Probing callers treat it as
// "not ours" rather than as a broken file.
var ErrUnsupportedFormat = errors.New("unsupported container format")

type MalformedHeaderError struct {
	Format  Format
	Offset  uint64
	Segment string
	Reason  string
}

func (e *MalformedHeaderError) Error() string {
	where := fmt.Sprintf("offset %#x", e.Offset)
	if e.Segment != "" {
		where = fmt.Sprintf("%s at %s", e.Segment, where)
	}
	return fmt.Sprintf("malformed %s header: %s (%s)", e.Format.Tag(), e.Reason, where)
}

type DecompressionError struct {
	Segment string
	Codec   Codec
	Reason  string
	Err     error
}

func (e *DecompressionError) Error() string {
	msg := fmt.Sprintf("%s: %s decompression failed: %s", e.Segment, e.Codec, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecompressionError) Unwrap() error { return e.Err }

// LayoutConflictError reports segment A at [Start, End) clashing with B at
// [OStart, OEnd). B is a segment name or a bound such as the address space.
type LayoutConflictError struct {
	A, B         string
	Start, End   uint64
	OStart, OEnd uint64
	// set when the conflict is not a plain overlap
	Reason string
}

func (e *LayoutConflictError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("layout conflict: %s [%#x, %#x) %s %s [%#x, %#x)", e.A, e.Start, e.End, e.Reason, e.B, e.OStart, e.OEnd)
	}
	return fmt.Sprintf("layout conflict: %s [%#x, %#x) overlaps %s [%#x, %#x)", e.A, e.Start, e.End, e.B, e.OStart, e.OEnd)
}

type RelocationOutOfRangeError struct {
	Index  int
	Addr   uint64
	Size   int
	Reason string
}

func (e *RelocationOutOfRangeError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "target outside image"
	}
	return fmt.Sprintf("relocation %d: %s at %#x(%d)", e.Index, reason, e.Addr, e.Size)
}

func IsUnsupported(err error) bool {
	return errors.Cause(err) == ErrUnsupportedFormat
}
