// Package layout turns an extracted upstream tree into a tool's canonical
// install directory.
//
// Every strategy follows the same policy, best-effort copy then verify by
// presence: individual copy failures are collected as warnings and never
// abort the step, and the step succeeds only if the canonical entry point
// exists once copying is over. Files are copied into a staging directory
// and moved into place only after that check passes, so a failed update
// leaves the previous install untouched.
package layout

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/apex/log"
	"github.com/convertkit/toolprov/pkg/catalog"
	"github.com/pkg/errors"
)

// ErrLayoutNotFound is returned when no canonical entry point could be
// produced from an extracted tree.
var ErrLayoutNotFound = errors.New("layout not found")

const (
	BinDir     = "bin"
	ProgramDir = "program"
	// StagingDir holds the copy under construction inside an install root.
	StagingDir = ".staging"
)

// PartialCopyWarning records one file that could not be copied.
type PartialCopyWarning struct {
	Path string
	Err  error
}

func (w PartialCopyWarning) String() string {
	return fmt.Sprintf("%s: %v", w.Path, w.Err)
}

// CopyReport summarizes a normalize step.
type CopyReport struct {
	Copied   int
	Warnings []PartialCopyWarning
}

func (r *CopyReport) warn(path string, err error) {
	log.WithError(err).WithField("path", path).Warn("copy failed, continuing")
	r.Warnings = append(r.Warnings, PartialCopyWarning{Path: path, Err: err})
}

// Strategy locates a tool's entry point in an extracted tree and installs
// the files it needs.
type Strategy interface {
	// Name identifies the strategy in logs.
	Name() string
	// EntryPoint returns the canonical entry point path under installRoot.
	EntryPoint(installRoot string) string
	// LocateEntryPoint finds the entry point executable inside tree.
	LocateEntryPoint(tree string) (string, bool)
	// Normalize copies the required files from tree into installRoot and
	// returns the verified entry point.
	Normalize(tree, installRoot string) (string, *CopyReport, error)
}

// For selects the strategy for a tool on the given GOOS.
func For(tool catalog.ToolDescriptor, goos string) (Strategy, error) {
	names := tool.EntryPoints()
	switch tool.Layout {
	case catalog.LayoutDualBinary:
		if len(names) != 2 {
			return nil, errors.Errorf("%s: dual-binary layout needs two binaries", tool.Name)
		}
		return &DualBinary{Primary: names[0], Secondary: names[1], GOOS: goos}, nil
	case catalog.LayoutSingleBinary:
		return &SingleBinary{Binary: names[0], GOOS: goos}, nil
	case catalog.LayoutSuite:
		return &Suite{Binary: names[0], GOOS: goos}, nil
	}
	return nil, errors.Errorf("%s: unknown layout %q", tool.Name, tool.Layout)
}

// ExecutableName adds the platform suffix to a binary name.
func ExecutableName(name, goos string) string {
	if goos == "windows" && !strings.HasSuffix(strings.ToLower(name), ".exe") {
		return name + ".exe"
	}
	return name
}

// verifyPresence enforces the post-condition shared by all strategies.
func verifyPresence(entryPoint, tree string) error {
	if info, err := os.Stat(entryPoint); err == nil && info.Mode().IsRegular() {
		return nil
	}
	listing := Listing(tree, 200)
	log.WithFields(log.Fields{
		"expected": filepath.Base(entryPoint),
		"tree":     tree,
	}).Errorf("entry point missing after normalize, extracted tree:\n%s", strings.Join(listing, "\n"))
	return errors.Wrapf(ErrLayoutNotFound, "%s not present after copy", filepath.Base(entryPoint))
}

// stage copies into a fresh staging root under installRoot, verifies the
// entry point there and then moves dir into place. installRoot is left as
// it was when verification fails.
func stage(s Strategy, tree, installRoot, dir string, copyInto func(staging string, report *CopyReport)) (string, *CopyReport, error) {
	report := &CopyReport{}
	staging := filepath.Join(installRoot, StagingDir)
	if err := os.RemoveAll(staging); err != nil {
		return "", report, errors.Wrap(err, "failed to clear staging directory")
	}
	if err := os.MkdirAll(staging, 0755); err != nil {
		return "", report, errors.Wrap(err, "failed to create staging directory")
	}
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			log.WithError(err).WithField("dir", staging).Warn("failed to remove staging directory")
		}
	}()

	copyInto(staging, report)
	if err := verifyPresence(s.EntryPoint(staging), tree); err != nil {
		return "", report, err
	}
	if err := commit(staging, installRoot, dir); err != nil {
		return "", report, err
	}
	return s.EntryPoint(installRoot), report, nil
}

// commit replaces installRoot/dir with staging/dir. The previous copy is
// restored if the swap fails.
func commit(staging, installRoot, dir string) error {
	target := filepath.Join(installRoot, dir)
	previous := filepath.Join(installRoot, "."+dir+".previous")
	if err := os.RemoveAll(previous); err != nil {
		return errors.Wrapf(err, "failed to clear %s", previous)
	}

	hadPrevious := false
	if _, err := os.Lstat(target); err == nil {
		if err := os.Rename(target, previous); err != nil {
			return errors.Wrapf(ErrLayoutNotFound, "failed to move aside %s: %v", dir, err)
		}
		hadPrevious = true
	}
	if err := os.Rename(filepath.Join(staging, dir), target); err != nil {
		if hadPrevious {
			if rerr := os.Rename(previous, target); rerr != nil {
				log.WithError(rerr).WithField("dir", target).Error("failed to restore previous install")
			}
		}
		return errors.Wrapf(ErrLayoutNotFound, "failed to move %s into place: %v", dir, err)
	}
	if hadPrevious {
		if err := os.RemoveAll(previous); err != nil {
			log.WithError(err).WithField("dir", previous).Warn("failed to remove previous install")
		}
	}
	return nil
}

// Listing returns up to limit relative paths under root, for diagnostics.
func Listing(root string, limit int) []string {
	var out []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || path == root {
			return nil
		}
		if len(out) >= limit {
			return fs.SkipAll
		}
		rel, _ := filepath.Rel(root, path)
		if d.IsDir() {
			rel += "/"
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	return out
}

// findDir walks tree breadth first and returns the first directory for
// which match is true. Entries within a directory are visited in name order.
func findDir(tree string, match func(dir string, names map[string]bool) bool) (string, bool) {
	queue := []string{tree}
	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]

		entries, err := os.ReadDir(dir)
		if err != nil {
			log.WithError(err).WithField("dir", dir).Debug("skipping unreadable directory")
			continue
		}
		names := make(map[string]bool, len(entries))
		var subdirs []string
		for _, e := range entries {
			if e.IsDir() {
				subdirs = append(subdirs, filepath.Join(dir, e.Name()))
				continue
			}
			names[strings.ToLower(e.Name())] = true
		}
		if match(dir, names) {
			return dir, true
		}
		sort.Strings(subdirs)
		queue = append(queue, subdirs...)
	}
	return "", false
}

// findFile returns the shallowest regular file named name, case-insensitively.
func findFile(tree, name string) (string, bool) {
	lower := strings.ToLower(name)
	dir, ok := findDir(tree, func(_ string, names map[string]bool) bool {
		return names[lower]
	})
	if !ok {
		return "", false
	}
	return resolveName(dir, name), true
}

// resolveName returns the on-disk spelling of name inside dir.
func resolveName(dir, name string) string {
	entries, err := os.ReadDir(dir)
	if err == nil {
		for _, e := range entries {
			if strings.EqualFold(e.Name(), name) {
				return filepath.Join(dir, e.Name())
			}
		}
	}
	return filepath.Join(dir, name)
}
