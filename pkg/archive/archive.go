package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
)

// ErrArchiveFormat is returned for unrecognized, unsupported or malformed
// archives.
var ErrArchiveFormat = errors.New("archive format error")

// Format represents the archive format
type Format string

const (
	FormatZip       Format = "zip"
	FormatTarGz     Format = "tar.gz"
	FormatTarXz     Format = "tar.xz"
	FormatMSI       Format = "msi"
	FormatInstaller Format = "installer"
	FormatDMG       Format = "dmg"
	FormatUnknown   Format = "unknown"
)

// DetectFormat detects the archive format based on the filename. Contents
// are never sniffed.
func DetectFormat(filename string) Format {
	lower := strings.ToLower(filename)

	switch {
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip
	case strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz
	case strings.HasSuffix(lower, ".tar.xz"):
		return FormatTarXz
	case strings.HasSuffix(lower, ".msi"):
		return FormatMSI
	case strings.HasSuffix(lower, ".exe"):
		// PortableApps .paf.exe and other self-extracting installers
		return FormatInstaller
	case strings.HasSuffix(lower, ".dmg"):
		return FormatDMG
	}
	return FormatUnknown
}

// Suffix returns the canonical filename suffix for the format.
func (f Format) Suffix() string {
	switch f {
	case FormatZip:
		return ".zip"
	case FormatTarGz:
		return ".tar.gz"
	case FormatTarXz:
		return ".tar.xz"
	case FormatMSI:
		return ".msi"
	case FormatInstaller:
		return ".exe"
	case FormatDMG:
		return ".dmg"
	}
	return ""
}

// Known reports whether the suffix maps to a recognized format.
func Known(filename string) bool {
	return DetectFormat(filename) != FormatUnknown
}

// ProgressFunc receives extraction progress. Units depend on the format:
// bytes for zip, members for tar, and a single 100/100 for delegated formats.
type ProgressFunc func(current, total int64)

// Result describes a completed extraction.
type Result struct {
	Dir    string
	Format Format
	Files  int
}

// Runner executes external programs.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Extractor unpacks artifacts into a scratch directory.
type Extractor struct {
	Runner Runner
	// SevenZipPaths are probed in order before falling back to LookPath.
	SevenZipPaths []string
	LookPath      func(file string) (string, error)
	GOOS          string
}

// Extract unpacks archivePath into destDir according to its suffix.
func (e *Extractor) Extract(ctx context.Context, archivePath, destDir string, progress ProgressFunc) (*Result, error) {
	if progress == nil {
		progress = func(int64, int64) {}
	}
	format := DetectFormat(archivePath)
	logger := log.WithFields(log.Fields{
		"archive": filepath.Base(archivePath),
		"format":  format,
	})
	logger.Debug("extracting")

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create extraction directory")
	}

	var (
		files int
		err   error
	)
	switch format {
	case FormatZip:
		files, err = extractZip(archivePath, destDir, progress)
	case FormatTarGz:
		files, err = extractTarGz(archivePath, destDir, progress)
	case FormatTarXz:
		files, err = extractTarXz(archivePath, destDir, progress)
	case FormatMSI:
		files, err = e.extractMSI(ctx, archivePath, destDir, progress)
	case FormatInstaller:
		files, err = e.extractInstaller(ctx, archivePath, destDir, progress)
	case FormatDMG:
		err = errors.Wrap(ErrArchiveFormat, "disk images are not supported")
	default:
		err = errors.Wrapf(ErrArchiveFormat, "unrecognized archive suffix: %s", filepath.Base(archivePath))
	}
	if err != nil {
		return nil, err
	}

	logger.WithField("files", files).Debug("extracted")
	return &Result{Dir: destDir, Format: format, Files: files}, nil
}

func malformed(err error, msg string) error {
	return errors.Wrapf(ErrArchiveFormat, "%s: %v", msg, err)
}

// safeJoin joins name onto destDir, rejecting entries that escape it.
func safeJoin(destDir, name string) (string, error) {
	target := filepath.Join(destDir, filepath.FromSlash(name))
	rel, err := filepath.Rel(destDir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Wrapf(ErrArchiveFormat, "invalid path in archive: %s", name)
	}
	return target, nil
}

// extractZip extracts a zip archive, reporting cumulative uncompressed bytes
func extractZip(archivePath, destDir string, progress ProgressFunc) (int, error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		if reader != nil {
			reader.Close()
		}
		return 0, malformed(err, "failed to open zip archive")
	}
	defer reader.Close()

	var total int64
	for _, f := range reader.File {
		total += int64(f.UncompressedSize64)
	}

	var done int64
	files := 0
	for _, file := range reader.File {
		target, err := safeJoin(destDir, file.Name)
		if err != nil {
			return files, err
		}

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return files, errors.Wrap(err, "failed to create directory")
			}
			continue
		}

		if err := writeZipEntry(file, target); err != nil {
			return files, err
		}
		files++
		done += int64(file.UncompressedSize64)
		progress(done, total)
	}

	return files, nil
}

func writeZipEntry(file *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return errors.Wrap(err, "failed to create parent directory")
	}

	fileReader, err := file.Open()
	if err != nil {
		return malformed(err, "failed to open file in archive")
	}
	defer fileReader.Close()

	mode := file.Mode().Perm()
	if mode == 0 {
		mode = 0644
	}
	targetFile, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return errors.Wrap(err, "failed to create file")
	}
	defer targetFile.Close()

	if _, err := io.Copy(targetFile, fileReader); err != nil {
		return malformed(err, "failed to extract file")
	}
	return nil
}

type decompressor func(io.Reader) (io.Reader, func(), error)

func gzipDecompressor(r io.Reader) (io.Reader, func(), error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, nil, malformed(err, "failed to create gzip reader")
	}
	return gz, func() { gz.Close() }, nil
}

func xzDecompressor(r io.Reader) (io.Reader, func(), error) {
	xr, err := xz.NewReader(r)
	if err != nil {
		return nil, nil, malformed(err, "failed to create xz reader")
	}
	return xr, func() {}, nil
}

// extractTarGz extracts a tar.gz archive
func extractTarGz(archivePath, destDir string, progress ProgressFunc) (int, error) {
	return extractTarWith(archivePath, destDir, gzipDecompressor, progress)
}

// extractTarXz extracts a tar.xz archive
func extractTarXz(archivePath, destDir string, progress ProgressFunc) (int, error) {
	return extractTarWith(archivePath, destDir, xzDecompressor, progress)
}

// extractTarWith reads the archive twice: once to count members so progress
// has a denominator, then to extract.
func extractTarWith(archivePath, destDir string, decompress decompressor, progress ProgressFunc) (int, error) {
	total, err := withTarReader(archivePath, decompress, func(tr *tar.Reader) (int, error) {
		n := 0
		for {
			_, err := tr.Next()
			if err == io.EOF {
				return n, nil
			}
			if err != nil {
				return n, malformed(err, "failed to read tar header")
			}
			n++
		}
	})
	if err != nil {
		return 0, err
	}

	return withTarReader(archivePath, decompress, func(tr *tar.Reader) (int, error) {
		return extractTarReader(tr, destDir, int64(total), progress)
	})
}

func withTarReader(archivePath string, decompress decompressor, fn func(*tar.Reader) (int, error)) (int, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return 0, errors.Wrap(err, "failed to open archive")
	}
	defer file.Close()

	r, closer, err := decompress(file)
	if err != nil {
		return 0, err
	}
	defer closer()

	return fn(tar.NewReader(r))
}

// extractTarReader extracts from a tar reader
func extractTarReader(tarReader *tar.Reader, destDir string, total int64, progress ProgressFunc) (int, error) {
	var members int64
	files := 0
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return files, malformed(err, "failed to read tar header")
		}
		members++

		target, err := safeJoin(destDir, header.Name)
		if err != nil {
			return files, err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return files, errors.Wrap(err, "failed to create directory")
			}
		case tar.TypeReg:
			if err := writeTarEntry(tarReader, header, target); err != nil {
				return files, err
			}
			files++
		case tar.TypeSymlink:
			// Links must resolve inside destDir
			resolved := header.Linkname
			if !filepath.IsAbs(resolved) {
				resolved = filepath.Join(filepath.Dir(target), resolved)
			}
			if _, err := safeJoin(destDir, mustRel(destDir, resolved)); err != nil {
				return files, errors.Wrapf(ErrArchiveFormat, "symlink escapes archive root: %s", header.Name)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return files, errors.Wrap(err, "failed to create parent directory")
			}
			_ = os.Remove(target)
			if err := os.Symlink(header.Linkname, target); err != nil {
				return files, errors.Wrap(err, "failed to create symlink")
			}
		case tar.TypeLink:
			source, err := safeJoin(destDir, header.Linkname)
			if err != nil {
				return files, err
			}
			_ = os.Remove(target)
			if err := os.Link(source, target); err != nil {
				return files, errors.Wrap(err, "failed to create hard link")
			}
			files++
		default:
			log.WithField("name", header.Name).Debug("skipping unsupported tar member")
		}

		progress(members, total)
	}

	return files, nil
}

func mustRel(base, target string) string {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return target
	}
	return filepath.ToSlash(rel)
}

func writeTarEntry(r io.Reader, header *tar.Header, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return errors.Wrap(err, "failed to create parent directory")
	}

	mode := os.FileMode(header.Mode).Perm()
	if mode == 0 {
		mode = 0644
	}
	file, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return errors.Wrap(err, "failed to create file")
	}
	defer file.Close()

	if _, err := io.Copy(file, r); err != nil {
		return malformed(err, "failed to extract file")
	}
	return nil
}
