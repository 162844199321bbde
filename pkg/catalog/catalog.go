// Package catalog holds the static per-tool, per-platform download metadata
// the provisioner installs from.
package catalog

import (
	"os"
	"runtime"
	"sort"
	"strings"

	"github.com/buildkite/interpolate"
	"github.com/goccy/go-yaml"
	"github.com/pkg/errors"
)

var (
	// ErrUnknownTool is returned when a tool name has no catalog entry.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrUnsupportedPlatform is returned when a tool has no source for the
	// requested platform.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

// Platform identifies a catalog platform key.
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformDarwin  Platform = "darwin"
	PlatformLinux   Platform = "linux"
)

// CurrentPlatform maps the running OS onto a catalog platform key.
// Anything that is neither Windows nor macOS is treated as Linux.
func CurrentPlatform() Platform {
	return PlatformFor(runtime.GOOS)
}

// PlatformFor maps a GOOS value onto a catalog platform key.
func PlatformFor(goos string) Platform {
	switch goos {
	case "windows":
		return PlatformWindows
	case "darwin":
		return PlatformDarwin
	default:
		return PlatformLinux
	}
}

// Layout names the strategy used to normalize a tool's extracted tree.
type Layout string

const (
	LayoutDualBinary   Layout = "dual-binary"
	LayoutSingleBinary Layout = "single-binary"
	LayoutSuite        Layout = "suite"
)

// Source is one downloadable artifact for a platform.
type Source struct {
	URL    string `yaml:"url"`
	SHA256 string `yaml:"sha256,omitempty"`
}

// UnmarshalYAML accepts either a bare URL string or a mapping.
func (s *Source) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var url string
	if err := unmarshal(&url); err == nil {
		s.URL = url
		return nil
	}
	type plain Source
	var p plain
	if err := unmarshal(&p); err != nil {
		return err
	}
	*s = Source(p)
	return nil
}

// ToolDescriptor describes one installable tool. Descriptors are read-only
// once loaded.
type ToolDescriptor struct {
	Name      string            `yaml:"-"`
	Version   string            `yaml:"version"`
	Layout    Layout            `yaml:"layout"`
	Repo      string            `yaml:"repo,omitempty"`
	Platforms map[string]Source `yaml:"platforms"`

	// Binaries names the executables the layout must produce, without any
	// platform suffix. The first one is the entry point. Defaults to the
	// tool name.
	Binaries []string `yaml:"binaries,omitempty"`
}

// Catalog maps tool names to descriptors.
type Catalog struct {
	Tools map[string]*ToolDescriptor `yaml:"tools"`
}

// Load reads and parses a catalog file from the given path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read catalog file: %s", path)
	}
	cat, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse catalog file: %s", path)
	}
	return cat, nil
}

// Parse decodes and validates catalog YAML.
func Parse(data []byte) (*Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal catalog")
	}
	for name, tool := range cat.Tools {
		if tool == nil {
			return nil, errors.Errorf("tool %s: empty entry", name)
		}
		tool.Name = name
		if err := tool.validate(); err != nil {
			return nil, err
		}
	}
	return &cat, nil
}

func (d *ToolDescriptor) validate() error {
	if strings.TrimSpace(d.Version) == "" {
		return errors.Errorf("tool %s: version is required", d.Name)
	}
	switch d.Layout {
	case LayoutDualBinary, LayoutSingleBinary, LayoutSuite:
	default:
		return errors.Errorf("tool %s: unknown layout %q", d.Name, d.Layout)
	}
	if d.Layout == LayoutDualBinary && len(d.Binaries) != 2 {
		return errors.Errorf("tool %s: dual-binary layout needs exactly two binaries", d.Name)
	}
	if len(d.Platforms) == 0 {
		return errors.Errorf("tool %s: no platforms defined", d.Name)
	}
	for p, src := range d.Platforms {
		if src.URL == "" {
			return errors.Errorf("tool %s: platform %s has no url", d.Name, p)
		}
	}
	return nil
}

// Marshal renders the catalog back to YAML.
func (c *Catalog) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Names returns the catalog's tool names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.Tools))
	for name := range c.Tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns a copy of the named tool's descriptor.
func (c *Catalog) Lookup(name string) (ToolDescriptor, error) {
	tool, ok := c.Tools[name]
	if !ok || tool == nil {
		return ToolDescriptor{}, errors.Wrapf(ErrUnknownTool, "%s", name)
	}
	return *tool, nil
}

// SourceFor resolves the download source for a platform, expanding
// ${VERSION}, ${OS} and ${ARCH} in the URL.
func (d ToolDescriptor) SourceFor(p Platform) (Source, error) {
	src, ok := d.Platforms[string(p)]
	if !ok {
		return Source{}, errors.Wrapf(ErrUnsupportedPlatform, "%s has no download for %s", d.Name, p)
	}
	url, err := expandURL(src.URL, d.Version, p)
	if err != nil {
		return Source{}, errors.Wrapf(err, "failed to expand url for %s", d.Name)
	}
	src.URL = url
	return src, nil
}

// EntryPoints returns the executables the tool provides, entry point first.
func (d ToolDescriptor) EntryPoints() []string {
	if len(d.Binaries) == 0 {
		return []string{d.Name}
	}
	return d.Binaries
}

// Supports reports whether the tool has a source for the platform.
func (d ToolDescriptor) Supports(p Platform) bool {
	_, ok := d.Platforms[string(p)]
	return ok
}

func expandURL(template, version string, p Platform) (string, error) {
	env := interpolate.NewMapEnv(map[string]string{
		"VERSION": version,
		"OS":      string(p),
		"ARCH":    runtime.GOARCH,
	})
	return interpolate.Interpolate(env, template)
}
