package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/apex/log"
	"github.com/convertkit/toolprov/pkg/catalog"
	"github.com/convertkit/toolprov/pkg/config"
	"github.com/convertkit/toolprov/pkg/fetch"
	"github.com/convertkit/toolprov/pkg/install"
	"github.com/convertkit/toolprov/pkg/provision"
)

// loadSettings loads the settings file and applies the global flags on top.
func loadSettings() (*config.Settings, error) {
	settings, path, err := config.LoadOrDiscover(configFile)
	if err != nil {
		log.WithError(err).Error("Failed to load settings")
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if path != "" {
		log.Debugf("Using settings file: %s", path)
	}

	if err := settings.Resolve(); err != nil {
		return nil, fmt.Errorf("failed to resolve directories: %w", err)
	}
	if toolsRoot != "" {
		root, err := install.ResolveToolsRoot(toolsRoot)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve tools root %s: %w", toolsRoot, err)
		}
		settings.ToolsRoot = root
	}
	if catalogFile != "" {
		settings.Catalog = catalogFile
	}
	log.Debugf("Tools root: %s", settings.ToolsRoot)
	return settings, nil
}

// loadCatalog loads the catalog from path, stdin ("-") or the embedded default.
func loadCatalog(path string) (*catalog.Catalog, error) {
	switch path {
	case "":
		log.Debug("Using embedded catalog")
		return catalog.Default()
	case "-":
		log.Debug("Reading catalog from stdin")
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog from stdin: %w", err)
		}
		cat, err := catalog.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse catalog from stdin: %w", err)
		}
		return cat, nil
	default:
		log.Debugf("Reading catalog from: %s", path)
		cat, err := catalog.Load(path)
		if err != nil {
			log.WithError(err).Errorf("Failed to load catalog: %s", path)
			return nil, fmt.Errorf("failed to load catalog %s: %w", path, err)
		}
		return cat, nil
	}
}

// newInstaller builds an Installer from the effective settings.
func newInstaller(settings *config.Settings, cat *catalog.Catalog, force bool) *provision.Installer {
	fetcher := fetch.New()
	fetcher.RetryDelay = settings.RetryDelay
	fetcher.AttemptTimeout = settings.AttemptTimeout

	return provision.New(cat, provision.Options{
		ToolsRoot:  settings.ToolsRoot,
		WorkDir:    settings.WorkDir,
		MaxRetries: settings.MaxRetries,
		Force:      force,
		Fetcher:    fetcher,
	})
}

// loadInstaller loads settings and catalog and returns an Installer.
func loadInstaller(force bool) (*provision.Installer, *catalog.Catalog, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, nil, err
	}
	cat, err := loadCatalog(settings.Catalog)
	if err != nil {
		return nil, nil, err
	}
	return newInstaller(settings, cat, force), cat, nil
}
