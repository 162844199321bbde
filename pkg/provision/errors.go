package provision

import (
	"github.com/convertkit/toolprov/pkg/archive"
	"github.com/convertkit/toolprov/pkg/catalog"
	"github.com/convertkit/toolprov/pkg/fetch"
	"github.com/convertkit/toolprov/pkg/layout"
	"github.com/pkg/errors"
)

// Failure classes. Each originates in the stage package that detects it;
// they are gathered here so callers need only this package to classify a
// Result.Err with errors.Is.
var (
	ErrUnknownTool         = catalog.ErrUnknownTool
	ErrUnsupportedPlatform = catalog.ErrUnsupportedPlatform
	ErrNetwork             = fetch.ErrNetwork
	ErrArchiveFormat       = archive.ErrArchiveFormat
	ErrLayoutNotFound      = layout.ErrLayoutNotFound

	// ErrInProgress rejects a second concurrent install of the same tool.
	ErrInProgress = errors.New("install already in progress")
)

// PartialCopyWarning is a non-fatal copy failure from the organize stage.
type PartialCopyWarning = layout.PartialCopyWarning

// Classify returns the failure class of err, or nil if it has none.
func Classify(err error) error {
	for _, class := range []error{
		ErrInProgress,
		ErrUnknownTool,
		ErrUnsupportedPlatform,
		ErrNetwork,
		ErrArchiveFormat,
		ErrLayoutNotFound,
	} {
		if errors.Is(err, class) {
			return class
		}
	}
	return nil
}
