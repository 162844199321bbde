package layout

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
	"github.com/convertkit/toolprov/pkg/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTree creates files (slash-separated paths) under a fresh temp dir.
func writeTree(t *testing.T, files ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, rel := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte("contents of "+rel), 0644))
	}
	return root
}

func TestFor(t *testing.T) {
	tests := []struct {
		name    string
		tool    catalog.ToolDescriptor
		want    string
		wantErr bool
	}{
		{
			name: "dual binary",
			tool: catalog.ToolDescriptor{Name: "ffmpeg", Layout: catalog.LayoutDualBinary, Binaries: []string{"ffmpeg", "ffprobe"}},
			want: "dual-binary",
		},
		{
			name: "single binary defaults to tool name",
			tool: catalog.ToolDescriptor{Name: "pandoc", Layout: catalog.LayoutSingleBinary},
			want: "single-binary",
		},
		{
			name: "suite",
			tool: catalog.ToolDescriptor{Name: "libreoffice", Layout: catalog.LayoutSuite, Binaries: []string{"soffice"}},
			want: "suite",
		},
		{
			name:    "dual binary without companion",
			tool:    catalog.ToolDescriptor{Name: "ffmpeg", Layout: catalog.LayoutDualBinary},
			wantErr: true,
		},
		{
			name:    "unknown layout",
			tool:    catalog.ToolDescriptor{Name: "x", Layout: "flat"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := For(tt.tool, "linux")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Name())
		})
	}
}

func TestExecutableName(t *testing.T) {
	assert.Equal(t, "ffmpeg.exe", ExecutableName("ffmpeg", "windows"))
	assert.Equal(t, "ffmpeg.exe", ExecutableName("ffmpeg.exe", "windows"))
	assert.Equal(t, "ffmpeg", ExecutableName("ffmpeg", "linux"))
}

func TestDualBinary(t *testing.T) {
	t.Run("sibling binaries", func(t *testing.T) {
		tree := writeTree(t,
			"ffmpeg-master-latest-win64-gpl/doc/ffmpeg.html",
			"ffmpeg-master-latest-win64-gpl/bin/ffmpeg.exe",
			"ffmpeg-master-latest-win64-gpl/bin/ffprobe.exe",
			"ffmpeg-master-latest-win64-gpl/bin/ffplay.exe",
		)
		root := t.TempDir()
		s := &DualBinary{Primary: "ffmpeg", Secondary: "ffprobe", GOOS: "windows"}

		located, ok := s.LocateEntryPoint(tree)
		require.True(t, ok)
		assert.Equal(t, filepath.Join(tree, "ffmpeg-master-latest-win64-gpl", "bin", "ffmpeg.exe"), located)

		entry, report, err := s.Normalize(tree, root)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "bin", "ffmpeg.exe"), entry)
		assert.Equal(t, 2, report.Copied)
		assert.Empty(t, report.Warnings)
		assert.FileExists(t, filepath.Join(root, "bin", "ffprobe.exe"))
		assert.NoFileExists(t, filepath.Join(root, "bin", "ffplay.exe"))
	})

	t.Run("binaries in separate directories", func(t *testing.T) {
		tree := writeTree(t,
			"ffmpeg-6.0-amd64-static/ffmpeg",
			"ffmpeg-6.0-amd64-static/tools/ffprobe",
		)
		root := t.TempDir()
		s := &DualBinary{Primary: "ffmpeg", Secondary: "ffprobe", GOOS: "linux"}

		entry, report, err := s.Normalize(tree, root)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "bin", "ffmpeg"), entry)
		assert.Equal(t, 2, report.Copied)
		assert.FileExists(t, filepath.Join(root, "bin", "ffprobe"))
	})

	t.Run("missing entry point", func(t *testing.T) {
		tree := writeTree(t, "ffmpeg-6.0/ffprobe", "ffmpeg-6.0/README")
		s := &DualBinary{Primary: "ffmpeg", Secondary: "ffprobe", GOOS: "linux"}

		_, ok := s.LocateEntryPoint(tree)
		assert.False(t, ok)

		root := t.TempDir()
		entry, _, err := s.Normalize(tree, root)
		require.Error(t, err)
		assert.Empty(t, entry)
		assert.True(t, errors.Is(err, ErrLayoutNotFound))
	})
}

func TestSingleBinaryDeepNesting(t *testing.T) {
	tree := writeTree(t,
		"pandoc-3.1.9/share/man/man1/pandoc.1.gz",
		"pandoc-3.1.9/a/b/c/d/e/bin/pandoc",
	)
	root := t.TempDir()
	s := &SingleBinary{Binary: "pandoc", GOOS: "linux"}

	entry, report, err := s.Normalize(tree, root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "bin", "pandoc"), entry)
	assert.Equal(t, 1, report.Copied)

	got, err := os.ReadFile(entry)
	require.NoError(t, err)
	assert.Equal(t, "contents of pandoc-3.1.9/a/b/c/d/e/bin/pandoc", string(got))

	if runtime.GOOS != "windows" {
		info, err := os.Stat(entry)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
	}
}

func TestSingleBinaryShallowestWins(t *testing.T) {
	tree := writeTree(t,
		"deep/nested/pandoc.exe",
		"top/pandoc.exe",
	)
	s := &SingleBinary{Binary: "pandoc", GOOS: "windows"}

	located, ok := s.LocateEntryPoint(tree)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(tree, "top", "pandoc.exe"), located)
}

func TestSuite(t *testing.T) {
	t.Run("portable app convention", func(t *testing.T) {
		tree := writeTree(t,
			"LibreOfficePortable/LibreOfficePortable.exe",
			"LibreOfficePortable/App/libreoffice/program/soffice.exe",
			"LibreOfficePortable/App/libreoffice/program/soffice.bin",
			"LibreOfficePortable/App/libreoffice/program/resource/en-US/strings.res",
			"LibreOfficePortable/App/libreoffice/share/registry/main.xcd",
		)
		root := t.TempDir()
		s := &Suite{Binary: "soffice", GOOS: "windows"}

		entry, report, err := s.Normalize(tree, root)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "program", "soffice.exe"), entry)
		assert.Equal(t, 3, report.Copied)
		assert.FileExists(t, filepath.Join(root, "program", "soffice.bin"))
		assert.FileExists(t, filepath.Join(root, "program", "resource", "en-US", "strings.res"))
		assert.NoDirExists(t, filepath.Join(root, "share"))
	})

	t.Run("falls back to containing directory", func(t *testing.T) {
		tree := writeTree(t,
			"LibreOffice_7.6.4_Linux_x86-64_portable/opt/libreoffice7.6/program/soffice",
			"LibreOffice_7.6.4_Linux_x86-64_portable/opt/libreoffice7.6/program/libmergedlo.so",
			"LibreOffice_7.6.4_Linux_x86-64_portable/readmes/README_en-US",
		)
		root := t.TempDir()
		s := &Suite{Binary: "soffice", GOOS: "linux"}

		located, ok := s.LocateEntryPoint(tree)
		require.True(t, ok)
		assert.Equal(t, "soffice", filepath.Base(located))

		entry, report, err := s.Normalize(tree, root)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "program", "soffice"), entry)
		assert.Equal(t, 2, report.Copied)
		assert.FileExists(t, filepath.Join(root, "program", "libmergedlo.so"))
	})
}

// writeLinks adds dangling symlinks (slash-separated paths) under root.
func writeLinks(t *testing.T, root string, links ...string) {
	t.Helper()
	for _, rel := range links {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.Symlink(filepath.Base(p)+".missing", p))
	}
}

func TestFullyFailedCopyIsNotSuccess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}

	tests := []struct {
		name     string
		strategy Strategy
		links    []string
		warnings int
	}{
		{
			name:     "single binary",
			strategy: &SingleBinary{Binary: "pandoc", GOOS: "linux"},
			links:    []string{"pandoc-3.1.9/bin/pandoc"},
			warnings: 1,
		},
		{
			name:     "dual binary",
			strategy: &DualBinary{Primary: "ffmpeg", Secondary: "ffprobe", GOOS: "linux"},
			links:    []string{"x/ffmpeg", "x/ffprobe"},
			warnings: 2,
		},
		{
			// Links are recreated as links, which never satisfy the check.
			name:     "suite",
			strategy: &Suite{Binary: "soffice", GOOS: "linux"},
			links:    []string{"App/libreoffice/program/soffice"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := t.TempDir()
			writeLinks(t, tree, tt.links...)
			root := t.TempDir()

			entry, report, err := tt.strategy.Normalize(tree, root)
			require.Error(t, err)
			assert.Empty(t, entry)
			assert.True(t, errors.Is(err, ErrLayoutNotFound), "got %v", err)
			require.NotNil(t, report)
			assert.Len(t, report.Warnings, tt.warnings)
			assert.Zero(t, report.Copied)
			assert.NoDirExists(t, filepath.Join(root, StagingDir))
		})
	}
}

func TestNormalizeKeepsPreviousInstallOnFailure(t *testing.T) {
	tests := []struct {
		name     string
		strategy Strategy
		previous []string
	}{
		{
			name:     "single binary",
			strategy: &SingleBinary{Binary: "pandoc", GOOS: "linux"},
			previous: []string{"pandoc-1.0/bin/pandoc"},
		},
		{
			name:     "dual binary",
			strategy: &DualBinary{Primary: "ffmpeg", Secondary: "ffprobe", GOOS: "linux"},
			previous: []string{"ffmpeg-5.1/ffmpeg", "ffmpeg-5.1/ffprobe"},
		},
		{
			name:     "suite",
			strategy: &Suite{Binary: "soffice", GOOS: "linux"},
			previous: []string{"App/libreoffice/program/soffice"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			entry, _, err := tt.strategy.Normalize(writeTree(t, tt.previous...), root)
			require.NoError(t, err)
			before, err := os.ReadFile(entry)
			require.NoError(t, err)

			_, _, err = tt.strategy.Normalize(writeTree(t, "docs/README"), root)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrLayoutNotFound), "got %v", err)

			after, err := os.ReadFile(entry)
			require.NoError(t, err)
			assert.Equal(t, before, after)
			assert.NoDirExists(t, filepath.Join(root, StagingDir))
		})
	}
}

func TestNormalizeReplacesPreviousInstall(t *testing.T) {
	root := t.TempDir()
	s := &Suite{Binary: "soffice", GOOS: "linux"}

	_, _, err := s.Normalize(writeTree(t,
		"App/libreoffice/program/soffice",
		"App/libreoffice/program/stale.so",
	), root)
	require.NoError(t, err)

	entry, report, err := s.Normalize(writeTree(t, "lo-7.6.4/program/soffice"), root)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Copied)

	got, err := os.ReadFile(entry)
	require.NoError(t, err)
	assert.Equal(t, "contents of lo-7.6.4/program/soffice", string(got))
	assert.NoFileExists(t, filepath.Join(root, ProgramDir, "stale.so"))
	assert.NoDirExists(t, filepath.Join(root, "."+ProgramDir+".previous"))
	assert.NoDirExists(t, filepath.Join(root, StagingDir))
}

func TestMissingEntryPointLogsListing(t *testing.T) {
	handler := memory.New()
	previous := log.Log.(*log.Logger).Handler
	log.SetHandler(handler)
	t.Cleanup(func() { log.SetHandler(previous) })

	tree := writeTree(t, "pandoc-3.1.9/docs/README")
	s := &SingleBinary{Binary: "pandoc", GOOS: "linux"}
	_, _, err := s.Normalize(tree, t.TempDir())
	require.Error(t, err)

	var logged bool
	for _, entry := range handler.Entries {
		if entry.Level == log.ErrorLevel && strings.Contains(entry.Message, "pandoc-3.1.9/docs/README") {
			logged = true
		}
	}
	assert.True(t, logged, "listing is logged at error level")
}

func TestExecutableBitFollowsTargetPlatform(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("no mode bits on windows")
	}

	tests := []struct {
		goos string
		want os.FileMode
	}{
		{"linux", 0755},
		{"windows", 0644},
	}
	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			tree := writeTree(t, "dist/"+ExecutableName("pandoc", tt.goos))
			s := &SingleBinary{Binary: "pandoc", GOOS: tt.goos}

			entry, _, err := s.Normalize(tree, t.TempDir())
			require.NoError(t, err)
			info, err := os.Stat(entry)
			require.NoError(t, err)
			assert.Equal(t, tt.want, info.Mode().Perm())
		})
	}
}

func TestListing(t *testing.T) {
	tree := writeTree(t, "a/b.txt", "c.txt")
	assert.Equal(t, []string{"a/", "a/b.txt", "c.txt"}, Listing(tree, 10))
	assert.Len(t, Listing(tree, 2), 2)
}
