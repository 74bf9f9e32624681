package playback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidRange  = errors.New("invalid range format")
	ErrUnsatisfiable = errors.New("range not satisfiable")
)

// Range is an inclusive byte range.
type Range struct {
	Start int64
	End   int64
}

func (r Range) Length() int64 {
	return r.End - r.Start + 1
}

func (r Range) ContentRange(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, total)
}

// ParseRange reads a Range header against a file of size bytes. Only the first
// range of a multi-range request is honoured. ok is false when the header is
// absent; seeking players always send one.
func ParseRange(header string, size int64) (r Range, ok bool, err error) {
	if header == "" {
		return Range{}, false, nil
	}

	spec, found := strings.CutPrefix(header, "bytes=")
	if !found {
		return Range{}, false, ErrInvalidRange
	}
	if first, _, multi := strings.Cut(spec, ","); multi {
		spec = first
	}

	from, to, found := strings.Cut(strings.TrimSpace(spec), "-")
	if !found {
		return Range{}, false, ErrInvalidRange
	}

	if from == "" {
		// suffix form: the last n bytes
		n, err := strconv.ParseInt(to, 10, 64)
		if err != nil || n <= 0 {
			return Range{}, false, ErrInvalidRange
		}
		if size == 0 {
			return Range{}, false, ErrUnsatisfiable
		}
		return Range{Start: max(0, size-n), End: size - 1}, true, nil
	}

	start, err := strconv.ParseInt(from, 10, 64)
	if err != nil || start < 0 {
		return Range{}, false, ErrInvalidRange
	}
	end := size - 1
	if to != "" {
		if end, err = strconv.ParseInt(to, 10, 64); err != nil {
			return Range{}, false, ErrInvalidRange
		}
	}

	if start > end || start >= size {
		return Range{}, false, ErrUnsatisfiable
	}
	return Range{Start: start, End: min(end, size-1)}, true, nil
}
