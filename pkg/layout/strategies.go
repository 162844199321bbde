package layout

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/apex/log"
	"github.com/convertkit/toolprov/pkg/install"
)

// DualBinary installs two sibling executables, such as ffmpeg and ffprobe,
// into bin/. The primary binary is the entry point.
type DualBinary struct {
	Primary   string
	Secondary string
	GOOS      string
}

func (s *DualBinary) Name() string { return "dual-binary" }

func (s *DualBinary) names() (string, string) {
	return ExecutableName(s.Primary, s.GOOS), ExecutableName(s.Secondary, s.GOOS)
}

func (s *DualBinary) EntryPoint(installRoot string) string {
	primary, _ := s.names()
	return filepath.Join(installRoot, BinDir, primary)
}

func (s *DualBinary) LocateEntryPoint(tree string) (string, bool) {
	primary, secondary := s.names()
	dir, ok := findDir(tree, func(_ string, names map[string]bool) bool {
		return names[strings.ToLower(primary)] && names[strings.ToLower(secondary)]
	})
	if ok {
		return resolveName(dir, primary), true
	}
	return findFile(tree, primary)
}

func (s *DualBinary) Normalize(tree, installRoot string) (string, *CopyReport, error) {
	primary, secondary := s.names()

	// canonical name -> source path
	sources := map[string]string{}
	dir, ok := findDir(tree, func(_ string, names map[string]bool) bool {
		return names[strings.ToLower(primary)] && names[strings.ToLower(secondary)]
	})
	if ok {
		sources[primary] = resolveName(dir, primary)
		sources[secondary] = resolveName(dir, secondary)
	} else {
		// Some builds ship the two binaries in different directories.
		for _, name := range []string{primary, secondary} {
			if p, found := findFile(tree, name); found {
				sources[name] = p
			}
		}
	}

	entry, report, err := stage(s, tree, installRoot, BinDir, func(staging string, report *CopyReport) {
		binDir := filepath.Join(staging, BinDir)
		for _, name := range []string{primary, secondary} {
			src, found := sources[name]
			if !found {
				continue
			}
			if _, err := install.InstallFile(src, binDir, name, s.GOOS != "windows"); err != nil {
				report.warn(src, err)
				continue
			}
			report.Copied++
		}
	})
	if err != nil {
		return "", report, err
	}
	if _, err := os.Stat(filepath.Join(installRoot, BinDir, secondary)); err != nil {
		log.WithField("binary", secondary).Warn("companion binary missing")
	}
	return entry, report, nil
}

// SingleBinary installs one executable into bin/.
type SingleBinary struct {
	Binary string
	GOOS   string
}

func (s *SingleBinary) Name() string { return "single-binary" }

func (s *SingleBinary) EntryPoint(installRoot string) string {
	return filepath.Join(installRoot, BinDir, ExecutableName(s.Binary, s.GOOS))
}

func (s *SingleBinary) LocateEntryPoint(tree string) (string, bool) {
	return findFile(tree, ExecutableName(s.Binary, s.GOOS))
}

func (s *SingleBinary) Normalize(tree, installRoot string) (string, *CopyReport, error) {
	src, found := s.LocateEntryPoint(tree)
	return stage(s, tree, installRoot, BinDir, func(staging string, report *CopyReport) {
		if !found {
			return
		}
		entry := s.EntryPoint(staging)
		if _, err := install.InstallFile(src, filepath.Dir(entry), filepath.Base(entry), s.GOOS != "windows"); err != nil {
			report.warn(src, err)
			return
		}
		report.Copied++
	})
}

// Suite installs a multi-component application whose executable needs its
// sibling resources, copying a whole program directory into program/.
type Suite struct {
	Binary string
	GOOS   string
}

func (s *Suite) Name() string { return "suite" }

func (s *Suite) EntryPoint(installRoot string) string {
	return filepath.Join(installRoot, ProgramDir, ExecutableName(s.Binary, s.GOOS))
}

func (s *Suite) LocateEntryPoint(tree string) (string, bool) {
	dir, ok := s.programDir(tree)
	if !ok {
		return "", false
	}
	return resolveName(dir, ExecutableName(s.Binary, s.GOOS)), true
}

// programDir prefers the portable-app convention App/<name>/program and
// falls back to the directory containing the executable.
func (s *Suite) programDir(tree string) (string, bool) {
	exe := ExecutableName(s.Binary, s.GOOS)

	if dir, ok := portableProgramDir(tree); ok {
		return dir, true
	}
	path, ok := findFile(tree, exe)
	if !ok {
		return "", false
	}
	return filepath.Dir(path), true
}

func portableProgramDir(tree string) (string, bool) {
	appDir, ok := findDir(tree, func(dir string, _ map[string]bool) bool {
		return filepath.Base(dir) == "App"
	})
	if !ok {
		return "", false
	}
	entries, err := os.ReadDir(appDir)
	if err != nil {
		return "", false
	}
	var candidates []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		program := filepath.Join(appDir, e.Name(), "program")
		if info, err := os.Stat(program); err == nil && info.IsDir() {
			candidates = append(candidates, program)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Strings(candidates)
	return candidates[0], true
}

func (s *Suite) Normalize(tree, installRoot string) (string, *CopyReport, error) {
	src, found := s.programDir(tree)
	return stage(s, tree, installRoot, ProgramDir, func(staging string, report *CopyReport) {
		if !found {
			return
		}
		entry := s.EntryPoint(staging)
		log.WithField("source", src).Debug("copying program directory")
		copied, err := install.CopyTree(src, filepath.Dir(entry), report.warn)
		report.Copied += copied
		if err != nil {
			report.warn(src, err)
		}
		if s.GOOS != "windows" {
			if err := os.Chmod(entry, 0755); err != nil && !os.IsNotExist(err) {
				report.warn(entry, err)
			}
		}
	})
}
