package archive

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/apex/log"
	"github.com/convertkit/toolprov/pkg/install"
	"github.com/pkg/errors"
)

// DefaultSevenZipPaths are the usual 7-Zip install locations on Windows.
var DefaultSevenZipPaths = []string{
	`C:\Program Files\7-Zip\7z.exe`,
	`C:\Program Files (x86)\7-Zip\7z.exe`,
}

// NewExtractor returns an Extractor that runs external tools on the host.
func NewExtractor() *Extractor {
	return &Extractor{
		Runner:        execRunner{},
		SevenZipPaths: DefaultSevenZipPaths,
		LookPath:      exec.LookPath,
		GOOS:          runtime.GOOS,
	}
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

func (e *Extractor) run(ctx context.Context, name string, args ...string) error {
	runner := e.Runner
	if runner == nil {
		runner = execRunner{}
	}
	out, err := runner.Run(ctx, name, args...)
	if err != nil {
		log.WithError(err).WithField("output", string(out)).Debugf("%s failed", filepath.Base(name))
		return errors.Wrapf(err, "%s failed", filepath.Base(name))
	}
	return nil
}

// extractMSI performs an administrative install into a private temp
// directory, then copies the resulting tree into destDir.
func (e *Extractor) extractMSI(ctx context.Context, archivePath, destDir string, progress ProgressFunc) (int, error) {
	if e.goos() != "windows" {
		return 0, errors.Wrap(ErrArchiveFormat, "msi packages can only be unpacked on windows")
	}

	absPath, err := filepath.Abs(archivePath)
	if err != nil {
		return 0, errors.Wrap(err, "failed to resolve msi path")
	}
	stage, err := os.MkdirTemp("", "toolprov-msi-*")
	if err != nil {
		return 0, errors.Wrap(err, "failed to create msi staging directory")
	}
	defer os.RemoveAll(stage)

	if err := e.run(ctx, "msiexec", "/a", absPath, "/qn", "TARGETDIR="+stage); err != nil {
		return 0, malformed(err, "administrative unpack failed")
	}

	files, err := install.CopyTree(stage, destDir, func(path string, err error) {
		log.WithError(err).WithField("path", path).Warn("failed to copy unpacked file")
	})
	if err != nil {
		return files, err
	}
	progress(100, 100)
	return files, nil
}

// extractInstaller unpacks a self-extracting installer with 7-Zip when it
// is available, and otherwise runs the installer silently into destDir.
func (e *Extractor) extractInstaller(ctx context.Context, archivePath, destDir string, progress ProgressFunc) (int, error) {
	absPath, err := filepath.Abs(archivePath)
	if err != nil {
		return 0, errors.Wrap(err, "failed to resolve installer path")
	}

	if sevenZip := e.findSevenZip(); sevenZip != "" {
		log.WithField("7z", sevenZip).Debug("unpacking installer with 7-Zip")
		if err := e.run(ctx, sevenZip, "x", "-y", "-o"+destDir, absPath); err != nil {
			return 0, malformed(err, "7-Zip could not unpack installer")
		}
	} else if e.goos() == "windows" {
		log.Debug("7-Zip not found, running installer silently")
		if err := e.run(ctx, absPath, "/S", "/D="+destDir); err != nil {
			// Portable installers often exit non-zero after unpacking.
			if countFiles(destDir) == 0 {
				return 0, malformed(err, "silent install failed")
			}
			log.WithError(err).Warn("silent installer reported an error, keeping unpacked files")
		}
	} else {
		return 0, errors.Wrap(ErrArchiveFormat, "installer requires 7-Zip or windows")
	}

	files := countFiles(destDir)
	progress(100, 100)
	return files, nil
}

func (e *Extractor) findSevenZip() string {
	for _, p := range e.SevenZipPaths {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	if e.LookPath == nil {
		return ""
	}
	for _, name := range []string{"7z", "7za"} {
		if p, err := e.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}

func (e *Extractor) goos() string {
	if e.GOOS != "" {
		return e.GOOS
	}
	return runtime.GOOS
}

func countFiles(dir string) int {
	n := 0
	_ = filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			n++
		}
		return nil
	})
	return n
}
