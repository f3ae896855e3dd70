// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package records

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/colorize/internal/tfrecord"
	"github.com/pkg/errors"
)

// Glob returns the sorted list of files matching pattern.
//
// If pattern is a directory, all regular files (or symlinks to them) directly inside it are returned. Otherwise, it is
// expanded as a shell glob (see filepath.Match for the syntax).
//
// An empty pattern, or one that matches nothing, returns an empty list and no error.
func Glob(pattern string) ([]string, error) {
	if pattern == "" {
		return nil, nil
	}
	if info, err := os.Stat(pattern); err == nil && info.IsDir() {
		entries, err := os.ReadDir(pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list directory %q", pattern)
		}
		var files []string
		for _, entry := range entries {
			// Stat follows symlinks, so links to regular files are included.
			filePath := filepath.Join(pattern, entry.Name())
			if info, err := os.Stat(filePath); err == nil && info.Mode().IsRegular() {
				files = append(files, filePath)
			}
		}
		return files, nil
	}
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid file pattern %q", pattern)
	}
	files := matches[:0]
	for _, match := range matches {
		if info, err := os.Stat(match); err == nil && info.Mode().IsRegular() {
			files = append(files, match)
		}
	}
	slices.Sort(files)
	return files, nil
}

// Stats about a collection of TFRecord files.
type Stats struct {
	NumFiles, NumRecords int
	// PayloadBytes is the sum of the record sizes, excluding the framing.
	PayloadBytes int64
}

// String implements fmt.Stringer.
func (s Stats) String() string {
	return fmt.Sprintf("%s records in %d files (%s)",
		humanize.Comma(int64(s.NumRecords)), s.NumFiles, humanize.Bytes(uint64(s.PayloadBytes)))
}

// Count the records in the given TFRecord files, without decoding them.
func Count(files []string) (stats Stats, err error) {
	for _, filePath := range files {
		var f *os.File
		f, err = os.Open(filePath)
		if err != nil {
			err = errors.Wrapf(err, "failed to open %q", filePath)
			return
		}
		r := tfrecord.NewReader(f)
		for {
			var n int64
			n, err = r.Skip()
			if err == io.EOF {
				err = nil
				break
			}
			if err != nil {
				_ = f.Close()
				err = errors.Wrapf(err, "failed reading record #%d of %q", r.Count(), filePath)
				return
			}
			stats.NumRecords++
			stats.PayloadBytes += n
		}
		_ = f.Close()
		stats.NumFiles++
	}
	return
}
