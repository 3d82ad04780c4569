package archive

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// partPattern matches the multi-part suffix conventions produced by the
// common archivers: name.part1.rar, name.r00, name.s01, name.z01, name.001.
// Group 1 is the shared base name, group 2 the part token.
var partPattern = regexp.MustCompile(`(?i)^(.+?)\.(part\d{1,3}|[rs]\d{2}|z\d{2}|\d{3})$`)

// singleExtensions are archive types that can stand alone without parts.
var singleExtensions = map[string]bool{
	".zip": true,
	".rar": true,
	".7z":  true,
	".tar": true,
	".gz":  true,
	".bz2": true,
}

// Detector classifies files under a directory into extractable archive sets.
// It is stateless and safe for concurrent use. The pattern table is kept
// open for extension rather than hard-coded exhaustively; unrecognized
// layouts simply yield no sets.
type Detector struct{}

func NewDetector() *Detector {
	return &Detector{}
}

// Scan walks root and returns every archive set found. A path with no
// recognized archive returns an empty slice and no error. Multiple unrelated
// archives in the same directory yield multiple sets.
func (d *Detector) Scan(root string) ([]*Set, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", root, err)
	}

	var candidates []string

	if !info.IsDir() {
		if isArchiveFile(root) {
			candidates = append(candidates, root)
		}
	} else {
		err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if entry.IsDir() {
				return nil
			}
			if isArchiveFile(path) {
				candidates = append(candidates, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", root, err)
		}
	}

	return groupSets(candidates), nil
}

// isArchiveFile reports whether the file name looks like an archive or a
// part of one.
func isArchiveFile(path string) bool {
	name := filepath.Base(path)
	if singleExtensions[strings.ToLower(filepath.Ext(name))] {
		return true
	}
	return partPattern.MatchString(name)
}

// groupSets buckets candidate files by their shared base name and picks the
// primary member of each bucket.
func groupSets(paths []string) []*Set {
	buckets := make(map[string][]string)

	for _, path := range paths {
		buckets[baseName(path)] = append(buckets[baseName(path)], path)
	}

	sets := make([]*Set, 0, len(buckets))
	for base, files := range buckets {
		set := buildSet(base, files)
		if set != nil {
			sets = append(sets, set)
		}
	}

	// Deterministic order for callers and tests.
	sort.Slice(sets, func(i, j int) bool {
		return sets[i].BaseName < sets[j].BaseName
	})

	return sets
}

// baseName strips part-index suffixes so that every member of one logical
// archive maps to the same key. For "show.part2.rar" the stem to inspect is
// "show.part2"; for "show.r00" the full name carries the part token.
func baseName(path string) string {
	name := filepath.Base(path)
	stem := strings.TrimSuffix(name, filepath.Ext(name))

	if m := partPattern.FindStringSubmatch(stem); m != nil {
		return m[1]
	}
	if m := partPattern.FindStringSubmatch(name); m != nil {
		return m[1]
	}
	return stem
}

// buildSet orders the files of one bucket and selects the primary. For RAR
// volume sets the .rar head is the primary; otherwise the lowest part index
// wins. Returns nil when the bucket holds only secondary parts whose head
// never arrived (e.g. .r00 without the .rar): such a bucket must not be
// misclassified as a standalone archive.
func buildSet(base string, files []string) *Set {
	sort.Slice(files, func(i, j int) bool {
		return partSortKey(files[i]) < partSortKey(files[j])
	})

	primary := ""
	for _, f := range files {
		if strings.EqualFold(filepath.Ext(f), ".rar") && !isNumberedRarPart(f) {
			primary = f
			break
		}
	}

	if primary == "" {
		for _, f := range files {
			if !isSecondaryOnly(f) {
				primary = f
				break
			}
		}
	}
	if primary == "" {
		return nil
	}

	// Primary first, remaining parts keep their sorted order.
	ordered := make([]string, 0, len(files))
	ordered = append(ordered, primary)
	for _, f := range files {
		if f != primary {
			ordered = append(ordered, f)
		}
	}

	return &Set{
		BaseName: base,
		Primary:  primary,
		Files:    ordered,
	}
}

// isNumberedRarPart reports whether a .rar file is itself an indexed part
// (name.part2.rar) rather than the head of the set. part1 and part01 count
// as heads.
func isNumberedRarPart(path string) bool {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	m := partPattern.FindStringSubmatch(stem)
	if m == nil {
		return false
	}
	token := strings.ToLower(m[2])
	if !strings.HasPrefix(token, "part") {
		return false
	}
	idx, err := strconv.Atoi(token[len("part"):])
	if err != nil {
		return false
	}
	return idx != 1
}

// isSecondaryOnly reports whether the file can never be an extraction
// entry point on its own: .rNN, .sNN, .zNN continuation volumes.
func isSecondaryOnly(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	m := partPattern.FindStringSubmatch(name)
	if m == nil {
		return false
	}
	token := m[2]
	switch {
	case strings.HasPrefix(token, "r"), strings.HasPrefix(token, "s"), strings.HasPrefix(token, "z"):
		_, err := strconv.Atoi(token[1:])
		return err == nil
	}
	return false
}

// partIndex extracts the numeric part index from a file name, when it has
// one. The .rar/.zip head of a set carries no index.
func partIndex(path string) (int, bool) {
	name := strings.ToLower(filepath.Base(path))
	stem := strings.TrimSuffix(name, filepath.Ext(name))

	m := partPattern.FindStringSubmatch(stem)
	if m == nil {
		m = partPattern.FindStringSubmatch(name)
	}
	if m == nil {
		return 0, false
	}

	digits := strings.TrimLeft(m[2], "partszr")
	idx, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return idx, true
}

// partSortKey produces a sortable key that orders part indexes numerically
// so that part2 sorts before part10.
func partSortKey(path string) string {
	name := strings.ToLower(filepath.Base(path))
	stem := strings.TrimSuffix(name, filepath.Ext(name))

	m := partPattern.FindStringSubmatch(stem)
	if m == nil {
		m = partPattern.FindStringSubmatch(name)
	}
	if m == nil {
		return name
	}

	token := m[2]
	digits := strings.TrimLeft(token, "partszr")
	if idx, err := strconv.Atoi(digits); err == nil {
		return fmt.Sprintf("%s.%06d", m[1], idx)
	}
	return name
}
