package install

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pkg/errors"
)

// EnvToolsRoot overrides the default tools root.
const EnvToolsRoot = "TOOLPROV_ROOT"

// ResolveToolsRoot resolves the directory holding per-tool install roots,
// handling defaults and expansions.
func ResolveToolsRoot(dir string) (string, error) {
	if dir == "" {
		if env := os.Getenv(EnvToolsRoot); env != "" {
			dir = env
		} else {
			home := os.Getenv("HOME")
			if home == "" {
				var err error
				home, err = os.UserHomeDir()
				if err != nil || home == "" {
					return "", errors.New("could not determine tools root: no HOME environment variable")
				}
			}
			dir = filepath.Join(home, ".toolprov", "portable_tools")
		}
	}

	// Expand path (handles ~ and environment variables)
	dir = expandPath(dir)

	absPath, err := filepath.Abs(dir)
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve tools root")
	}

	return absPath, nil
}

// InstallFile copies sourcePath into targetDir under targetName, replacing
// any existing file atomically. When executable is set the result gets mode
// 0755, otherwise the source permissions are kept. Callers targeting
// windows pass false.
func InstallFile(sourcePath, targetDir, targetName string, executable bool) (string, error) {
	targetPath := filepath.Join(targetDir, targetName)

	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return "", errors.Wrap(err, "failed to create install directory")
	}

	source, err := os.Open(sourcePath)
	if err != nil {
		return "", errors.Wrap(err, "failed to open source file")
	}
	defer source.Close()

	info, err := source.Stat()
	if err != nil {
		return "", errors.Wrap(err, "failed to stat source file")
	}

	// Temporary file in the target directory keeps the rename on one device
	tmpFile, err := os.CreateTemp(targetDir, "."+targetName+"-*")
	if err != nil {
		return "", errors.Wrap(err, "failed to create temporary file")
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmpFile, source); err != nil {
		tmpFile.Close()
		return "", errors.Wrap(err, "failed to copy file")
	}

	mode := info.Mode().Perm()
	if executable {
		mode = 0755
	}
	if err := tmpFile.Chmod(mode); err != nil {
		tmpFile.Close()
		return "", errors.Wrap(err, "failed to set permissions")
	}

	if err := tmpFile.Close(); err != nil {
		return "", errors.Wrap(err, "failed to close temporary file")
	}

	if err := atomicInstall(tmpPath, targetPath); err != nil {
		return "", err
	}

	success = true
	return targetPath, nil
}

// CopyFile copies a single file, preserving its permission bits.
func CopyFile(src, dst string) error {
	_, err := InstallFile(src, filepath.Dir(dst), filepath.Base(dst), false)
	return err
}

// CopyTree copies the contents of src into dst. Failures on individual
// entries are passed to onError and the walk continues; only an unreadable
// src root is returned as an error. The number of files copied is returned.
func CopyTree(src, dst string, onError func(path string, err error)) (int, error) {
	if _, err := os.Stat(src); err != nil {
		return 0, errors.Wrapf(err, "failed to read source tree %s", src)
	}
	if onError == nil {
		onError = func(string, error) {}
	}

	copied := 0
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			onError(path, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			onError(path, err)
			return nil
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			if err := os.MkdirAll(target, 0755); err != nil {
				onError(path, errors.Wrap(err, "failed to create directory"))
				return fs.SkipDir
			}
		case d.Type()&fs.ModeSymlink != 0:
			if err := copySymlink(path, target); err != nil {
				onError(path, err)
			}
		default:
			if err := CopyFile(path, target); err != nil {
				onError(path, err)
				return nil
			}
			copied++
		}
		return nil
	})
	return copied, err
}

func copySymlink(src, dst string) error {
	link, err := os.Readlink(src)
	if err != nil {
		return errors.Wrap(err, "failed to read symlink")
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errors.Wrap(err, "failed to create parent directory")
	}
	_ = os.Remove(dst)
	return errors.Wrap(os.Symlink(link, dst), "failed to create symlink")
}

// atomicInstall performs an atomic file replacement
func atomicInstall(sourcePath, targetPath string) error {
	// On Unix, rename is atomic
	if err := os.Rename(sourcePath, targetPath); err != nil {
		// On Windows or cross-device, fall back to remove + rename
		if runtime.GOOS == "windows" || os.IsExist(err) {
			if err := os.Remove(targetPath); err != nil && !os.IsNotExist(err) {
				return errors.Wrap(err, "failed to remove existing file")
			}
			if err := os.Rename(sourcePath, targetPath); err != nil {
				return errors.Wrap(err, "failed to install file")
			}
		} else {
			return errors.Wrap(err, "failed to install file")
		}
	}
	return nil
}

// expandPath expands ~ and environment variables in a path
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home := os.Getenv("HOME"); home != "" {
			path = filepath.Join(home, path[2:])
		}
	}

	return os.ExpandEnv(path)
}
