// Package ledger persists the installed version of each tool.
package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/pkg/errors"
)

// FileName is the per-tool ledger record under the tool's install root.
const FileName = "version.json"

// Entry is one installed tool record.
type Entry struct {
	Version     string    `json:"version"`
	Platform    string    `json:"platform"`
	InstallDate time.Time `json:"install_date"`
	Path        string    `json:"path,omitempty"`
}

// Store reads and writes ledger records under Root/<tool>/version.json.
type Store struct {
	Root string
	// Now is overridable in tests.
	Now func() time.Time
}

// New returns a Store rooted at the tools root.
func New(root string) *Store {
	return &Store{Root: root, Now: time.Now}
}

// PathFor returns the ledger file for a tool.
func (s *Store) PathFor(tool string) string {
	return filepath.Join(s.Root, tool, FileName)
}

// Record writes the tool's record, replacing any previous one.
func (s *Store) Record(tool, version, platform, path string) (*Entry, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	entry := &Entry{
		Version:     version,
		Platform:    platform,
		InstallDate: now().UTC().Truncate(time.Second),
		Path:        path,
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode ledger entry")
	}
	data = append(data, '\n')

	target := s.PathFor(tool)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create tool directory")
	}
	if err := writeFileAtomic(target, data, 0644); err != nil {
		return nil, errors.Wrapf(err, "failed to write ledger for %s", tool)
	}
	return entry, nil
}

// Read returns the tool's record. A missing record yields an error
// satisfying os.IsNotExist via errors.Cause.
func (s *Store) Read(tool string) (*Entry, error) {
	data, err := os.ReadFile(s.PathFor(tool))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read ledger for %s", tool)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, errors.Wrapf(err, "failed to parse ledger for %s", tool)
	}
	return &entry, nil
}

// InstalledVersion returns the recorded version, if any. Unreadable or
// corrupt records count as not installed.
func (s *Store) InstalledVersion(tool string) (string, bool) {
	entry, err := s.Read(tool)
	if err != nil || entry.Version == "" {
		return "", false
	}
	return entry.Version, true
}

// Remove deletes the tool's record.
func (s *Store) Remove(tool string) error {
	if err := os.Remove(s.PathFor(tool)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove ledger for %s", tool)
	}
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary file")
	}
	tmpName := tmp.Name()
	cleanup := true
	defer func() {
		_ = tmp.Close()
		if cleanup {
			_ = os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(perm); err != nil {
		return errors.Wrap(err, "failed to set permissions")
	}
	if _, err := tmp.Write(data); err != nil {
		return errors.Wrap(err, "failed to write temporary file")
	}
	if err := tmp.Sync(); err != nil {
		return errors.Wrap(err, "failed to sync temporary file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close temporary file")
	}

	if err := os.Rename(tmpName, path); err != nil {
		if runtime.GOOS != "windows" {
			return errors.Wrap(err, "failed to move ledger into place")
		}
		// Windows refuses to rename over an existing file in some setups.
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "failed to remove previous ledger")
		}
		if err := os.Rename(tmpName, path); err != nil {
			return errors.Wrap(err, "failed to move ledger into place")
		}
	}
	cleanup = false
	return nil
}
