package archive

import (
	"os"
	"sort"
)

// Set is a group of files forming one logical extractable unit. Files holds
// the primary first, followed by the remaining parts in index order. The
// extraction tool is only ever invoked on Primary; the other parts are
// inputs it discovers on its own.
type Set struct {
	BaseName string
	Primary  string
	Files    []string
}

// TotalSize sums the on-disk size of every part. Missing parts count as
// zero; the stability gate catches them before extraction.
func (s *Set) TotalSize() int64 {
	var total int64
	for _, f := range s.Files {
		if info, err := os.Stat(f); err == nil {
			total += info.Size()
		}
	}
	return total
}

// Contiguous reports whether the indexed parts of the set form an unbroken
// sequence. A gap means an intermediate part has not arrived yet; the set
// must not be extracted. The final part of a still-arriving set is caught
// by the remote completion gate, not here.
func (s *Set) Contiguous() bool {
	var indexes []int
	for _, f := range s.Files {
		if idx, ok := partIndex(f); ok {
			indexes = append(indexes, idx)
		}
	}
	if len(indexes) == 0 {
		return true
	}

	sort.Ints(indexes)
	for i := 1; i < len(indexes); i++ {
		if indexes[i] != indexes[i-1]+1 {
			return false
		}
	}
	return true
}

// Sizes returns the current on-disk size of every part, keyed by path.
// A part that cannot be stat'd maps to -1 so that two successive
// observations of a vanished file never compare as stable.
func (s *Set) Sizes() map[string]int64 {
	sizes := make(map[string]int64, len(s.Files))
	for _, f := range s.Files {
		info, err := os.Stat(f)
		if err != nil {
			sizes[f] = -1
			continue
		}
		sizes[f] = info.Size()
	}
	return sizes
}
