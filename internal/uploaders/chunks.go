package uploaders

import "fmt"

// byteRange is an inclusive window [Start, End] of a file.
type byteRange struct {
	Start int64
	End   int64
}

func (r byteRange) Len() int64 { return r.End - r.Start + 1 }

// ContentRange formats the window as an HTTP Content-Range value.
func (r byteRange) ContentRange(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, total)
}

// planChunks splits size bytes into ceil(size/chunk) contiguous windows. Every window
// is chunk bytes long except the last, which holds the remainder.
func planChunks(size, chunk int64) []byteRange {
	if size <= 0 || chunk <= 0 {
		return nil
	}
	n := (size + chunk - 1) / chunk
	out := make([]byteRange, 0, n)
	for start := int64(0); start < size; start += chunk {
		end := start + chunk - 1
		if end >= size {
			end = size - 1
		}
		out = append(out, byteRange{Start: start, End: end})
	}
	return out
}
