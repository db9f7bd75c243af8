package checkpoint

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrNoCheckpoint reports a resume pattern that matched nothing. Callers
// treat it as a fresh start, not a failure.
var ErrNoCheckpoint = errors.New("no checkpoint matches")

// Resolve picks the single record a glob pattern refers to. Zero matches
// yield ErrNoCheckpoint. Multiple matches pick the newest under a fixed
// ordering (numeric suffix, then modification time, then name) and log the
// choice; directory enumeration order never decides.
func Resolve(dir, pattern string, logger *log.Logger) (string, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return "", fmt.Errorf("resolve checkpoint pattern %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("pattern %q in %s: %w", pattern, dir, ErrNoCheckpoint)
	}
	if len(matches) == 1 {
		return matches[0], nil
	}
	sortRecords(matches)
	chosen := matches[len(matches)-1]
	logger.Printf("pattern %q matches %d checkpoints; picked %s", pattern, len(matches), chosen)
	return chosen, nil
}

// sortRecords orders record paths oldest first: by numeric suffix when both
// sides have one, else by modification time, else lexicographically.
func sortRecords(paths []string) {
	sort.SliceStable(paths, func(i, j int) bool {
		return recordLess(paths[i], paths[j])
	})
}

func recordLess(a, b string) bool {
	na, aNum := numericSuffix(a)
	nb, bNum := numericSuffix(b)
	if aNum && bNum && na != nb {
		return na < nb
	}
	at, aStat := modTime(a)
	bt, bStat := modTime(b)
	if aStat && bStat && !at.Equal(bt) {
		return at.Before(bt)
	}
	return a < b
}

func numericSuffix(path string) (int64, bool) {
	base := strings.TrimSuffix(filepath.Base(path), fileExt)
	i := strings.LastIndex(base, "-")
	if i < 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(base[i+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func modTime(path string) (time.Time, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}
