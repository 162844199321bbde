package main_test

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
)

var toolprovPath string

// TestMain builds the toolprov binary once before running all tests
func TestMain(m *testing.M) {
	// Create a temporary directory for the toolprov binary
	tempDir, err := os.MkdirTemp("", "toolprov-test")
	if err != nil {
		panic("Failed to create temp directory: " + err.Error())
	}

	// Build the toolprov tool to a temporary location
	execName := "toolprov"
	if runtime.GOOS == "windows" {
		execName += ".exe"
	}
	toolprovPath = filepath.Join(tempDir, execName)
	cmd := exec.Command("go", "build", "-o", toolprovPath, "./cmd/toolprov")
	cmd.Dir = ".." // Go up one level to reach the root directory
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		panic("Failed to build toolprov: " + err.Error())
	}

	// Run the tests
	code := m.Run()
	if err := os.RemoveAll(tempDir); err != nil {
		panic("Failed to remove temp directory: " + err.Error())
	}
	os.Exit(code)
}

// run executes toolprov with an isolated environment and returns stdout.
func run(t *testing.T, env []string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := exec.Command(toolprovPath, args...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		t.Logf("toolprov %s stderr:\n%s", strings.Join(args, " "), stderr.String())
	}
	return stdout.String(), err
}

// zipArchive builds a zip with a nested tool script, as release archives
// often wrap their contents in a versioned directory.
func zipArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		header := &zip.FileHeader{Name: name, Method: zip.Deflate}
		header.SetMode(0755)
		w, err := zw.CreateHeader(header)
		if err != nil {
			t.Fatalf("Failed to add %s to zip: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("Failed to close zip: %v", err)
	}
	return buf.Bytes()
}

func TestCatalogE2E(t *testing.T) {
	env := []string{"TOOLPROV_ROOT=" + t.TempDir()}
	out, err := run(t, env, "catalog")
	if err != nil {
		t.Fatalf("Failed to print catalog: %v", err)
	}
	for _, tool := range []string{"ffmpeg:", "pandoc:", "libreoffice:"} {
		if !strings.Contains(out, tool) {
			t.Errorf("Embedded catalog should list %s, got:\n%s", tool, out)
		}
	}
}

func TestPlatformE2E(t *testing.T) {
	env := []string{"TOOLPROV_ROOT=" + t.TempDir()}
	out, err := run(t, env, "platform")
	if err != nil {
		t.Fatalf("Failed to print platform: %v", err)
	}
	if !strings.Contains(out, runtime.GOOS+"/"+runtime.GOARCH) {
		t.Errorf("Platform report should contain %s/%s, got:\n%s", runtime.GOOS, runtime.GOARCH, out)
	}
}

func TestInstallE2E(t *testing.T) {
	tempDir := t.TempDir()
	root := filepath.Join(tempDir, "portable_tools")
	env := []string{"TOOLPROV_ROOT=" + root}

	exe := "hello"
	if runtime.GOOS == "windows" {
		exe += ".exe"
	}
	archive := zipArchive(t, map[string]string{
		"hello-2.1/" + exe:      "#!/bin/sh\necho hello 2.1\n",
		"hello-2.1/README.md":   "hello\n",
		"hello-2.1/doc/hello.1": ".TH HELLO 1\n",
	})

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/hello-2.1.zip" {
			http.NotFound(w, r)
			return
		}
		// The first attempt fails to exercise the retry path.
		if hits.Add(1) == 1 {
			http.Error(w, "try again", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(archive)))
		_, _ = w.Write(archive)
	}))
	defer server.Close()

	catalogPath := filepath.Join(tempDir, "catalog.yml")
	catalog := fmt.Sprintf(`tools:
  hello:
    version: "2.1"
    layout: single-binary
    platforms:
      linux: %[1]s/hello-${VERSION}.zip
      darwin: %[1]s/hello-${VERSION}.zip
      windows: %[1]s/hello-${VERSION}.zip
`, server.URL)
	if err := os.WriteFile(catalogPath, []byte(catalog), 0644); err != nil {
		t.Fatalf("Failed to write catalog: %v", err)
	}

	settingsPath := filepath.Join(tempDir, "toolprov.yml")
	settings := fmt.Sprintf("work_dir: %s\nretry_delay: 10ms\n", filepath.Join(tempDir, "work"))
	if err := os.WriteFile(settingsPath, []byte(settings), 0644); err != nil {
		t.Fatalf("Failed to write settings: %v", err)
	}
	common := []string{"--config", settingsPath, "--catalog", catalogPath}

	if _, err := run(t, env, append([]string{"install", "hello"}, common...)...); err != nil {
		t.Fatalf("Failed to install hello: %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("Expected 2 download attempts, got %d", got)
	}

	entry := filepath.Join(root, "hello", "bin", exe)
	if _, err := os.Stat(entry); err != nil {
		t.Fatalf("hello was not installed at %s: %v", entry, err)
	}

	out, err := run(t, env, append([]string{"version", "hello"}, common...)...)
	if err != nil {
		t.Fatalf("Failed to read installed version: %v", err)
	}
	if strings.TrimSpace(out) != "2.1" {
		t.Errorf("Expected version 2.1, got %q", out)
	}

	out, err = run(t, env, append([]string{"path", "hello"}, common...)...)
	if err != nil {
		t.Fatalf("Failed to resolve path: %v", err)
	}
	if strings.TrimSpace(out) != entry {
		t.Errorf("Expected path %s, got %q", entry, out)
	}

	if runtime.GOOS != "windows" {
		var stdout bytes.Buffer
		hello := exec.Command(entry)
		hello.Stdout = &stdout
		if err := hello.Run(); err != nil {
			t.Fatalf("Failed to run installed hello: %v", err)
		}
		if strings.TrimSpace(stdout.String()) != "hello 2.1" {
			t.Errorf("Unexpected hello output %q", stdout.String())
		}
	}

	out, err = run(t, env, append([]string{"check", "--json"}, common...)...)
	if err != nil {
		t.Fatalf("Failed to check updates: %v", err)
	}
	var updates map[string]struct {
		Installed       string `json:"installed"`
		Latest          string `json:"latest"`
		UpdateAvailable bool   `json:"update_available"`
	}
	if err := json.Unmarshal([]byte(out), &updates); err != nil {
		t.Fatalf("Failed to decode check output %q: %v", out, err)
	}
	if u := updates["hello"]; u.Installed != "2.1" || u.UpdateAvailable {
		t.Errorf("Unexpected update info for hello: %+v", u)
	}

	// Nothing but the install root is left behind.
	if entries, err := os.ReadDir(filepath.Join(tempDir, "work", "scratch")); err == nil && len(entries) > 0 {
		t.Errorf("Scratch directory not cleaned up: %v", entries)
	}
}

func TestInstallUnknownToolE2E(t *testing.T) {
	env := []string{"TOOLPROV_ROOT=" + t.TempDir()}
	out, err := run(t, env, "install", "no-such-tool")
	if err == nil {
		t.Fatal("Expected install of an unknown tool to fail")
	}
	if !strings.Contains(out, "unknown tool") {
		t.Errorf("Expected unknown tool in summary, got:\n%s", out)
	}
}
