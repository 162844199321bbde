// Package platform reports what host the provisioner is running on.
//
// The catalog key is derived from runtime.GOOS alone; the distribution
// details gathered with gopsutil are informational and only used in logs and
// the platform report.
package platform

import (
	"context"
	"runtime"
	"strings"

	"github.com/apex/log"
	"github.com/convertkit/toolprov/pkg/catalog"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v4/host"
)

// Info describes the host.
type Info struct {
	OS       string           // runtime.GOOS
	Arch     string           // runtime.GOARCH
	Key      catalog.Platform // catalog platform key
	Distro   string           // e.g. "ubuntu" (Linux only)
	Family   string           // e.g. "debian" (Linux only)
	Version  string           // distro or OS version
	Hostname string
}

// Supported reports whether the host has first-class support. macOS is
// reachable through the catalog but its disk-image installers are not
// extracted, so it is reported as partial.
func (i *Info) Supported() bool {
	return i.Key == catalog.PlatformLinux || i.Key == catalog.PlatformWindows
}

// Detect gathers host information. Distribution lookup failures are not
// fatal; the OS and architecture are always filled in.
func Detect(ctx context.Context) (*Info, error) {
	info := &Info{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
		Key:  catalog.CurrentPlatform(),
	}

	hi, err := host.InfoWithContext(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), "platform detection cancelled")
		}
		log.WithError(err).Debug("host info unavailable")
		return info, nil
	}

	info.Hostname = hi.Hostname
	info.Version = strings.TrimSpace(hi.PlatformVersion)
	if runtime.GOOS == "linux" {
		info.Distro = strings.ToLower(strings.TrimSpace(hi.Platform))
		info.Family = strings.ToLower(strings.TrimSpace(hi.PlatformFamily))
	}
	return info, nil
}

// String renders a short description such as "linux/amd64 (ubuntu 22.04)".
func (i *Info) String() string {
	s := i.OS + "/" + i.Arch
	switch {
	case i.Distro != "" && i.Version != "":
		s += " (" + i.Distro + " " + i.Version + ")"
	case i.Version != "":
		s += " (" + i.Version + ")"
	}
	return s
}
