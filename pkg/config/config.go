package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/convertkit/toolprov/pkg/install"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned by Discover when no settings file exists.
var ErrNotFound = errors.New("no toolprov config found")

// Settings configures the provisioner.
type Settings struct {
	// ToolsRoot holds one install root per tool. TOOLPROV_ROOT overrides it.
	ToolsRoot string `yaml:"tools_root,omitempty"`
	// WorkDir holds downloads and scratch directories.
	WorkDir string `yaml:"work_dir,omitempty"`
	// Catalog is a catalog file replacing the embedded default. Relative
	// paths are resolved against the settings file.
	Catalog        string        `yaml:"catalog,omitempty"`
	MaxRetries     int           `yaml:"max_retries,omitempty"`
	RetryDelay     time.Duration `yaml:"retry_delay,omitempty"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout,omitempty"`
}

// Default returns settings with every default applied.
func Default() *Settings {
	s := &Settings{}
	s.SetDefaults()
	return s
}

// SetDefaults fills unset fields.
func (s *Settings) SetDefaults() {
	if s.MaxRetries <= 0 {
		s.MaxRetries = 3
	}
	if s.RetryDelay <= 0 {
		s.RetryDelay = 2 * time.Second
	}
	if s.AttemptTimeout <= 0 {
		s.AttemptTimeout = 30 * time.Second
	}
}

// Load reads and parses a toolprov config file from the given path
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file: %s", path)
	}

	var cfg Settings
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config file: %s", path)
	}

	if cfg.Catalog != "" && !filepath.IsAbs(cfg.Catalog) {
		cfg.Catalog = filepath.Join(filepath.Dir(path), cfg.Catalog)
	}

	// Apply defaults
	cfg.SetDefaults()

	return &cfg, nil
}

// Discover searches for .config/toolprov.yml in the current directory and
// its parents.
func Discover() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", errors.Wrap(err, "failed to get current directory")
	}
	return discoverFrom(dir)
}

func discoverFrom(dir string) (string, error) {
	for {
		configPath := filepath.Join(dir, ".config", "toolprov.yml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		// Check if we've reached the root
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", ErrNotFound
}

// LoadOrDiscover loads the config at configPath, or discovers one if
// configPath is empty. Finding no file is not an error; defaults are
// returned with an empty path.
func LoadOrDiscover(configPath string) (*Settings, string, error) {
	path := configPath
	if path == "" {
		var err error
		path, err = Discover()
		if errors.Is(err, ErrNotFound) {
			return Default(), "", nil
		}
		if err != nil {
			return nil, "", err
		}
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// Resolve turns ToolsRoot and WorkDir into absolute paths. TOOLPROV_ROOT
// takes precedence over the configured tools root.
func (s *Settings) Resolve() error {
	root := s.ToolsRoot
	if env := os.Getenv(install.EnvToolsRoot); env != "" {
		root = env
	}
	resolved, err := install.ResolveToolsRoot(root)
	if err != nil {
		return err
	}
	s.ToolsRoot = resolved

	if s.WorkDir == "" {
		s.WorkDir = filepath.Join(os.TempDir(), "toolprov")
	}
	work, err := install.ResolveToolsRoot(s.WorkDir)
	if err != nil {
		return errors.Wrap(err, "failed to resolve work directory")
	}
	s.WorkDir = work
	return nil
}
