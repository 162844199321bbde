package catalog

import (
	_ "embed"

	"github.com/pkg/errors"
)

//go:embed default.yml
var defaultCatalog []byte

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	cat, err := Parse(defaultCatalog)
	if err != nil {
		return nil, errors.Wrap(err, "embedded catalog is invalid")
	}
	return cat, nil
}

// DefaultRaw returns the raw embedded catalog YAML.
func DefaultRaw() []byte {
	return defaultCatalog
}
