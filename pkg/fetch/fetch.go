package fetch

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/apex/log"
	"github.com/convertkit/toolprov/pkg/archive"
	"github.com/convertkit/toolprov/pkg/httpclient"
	"github.com/convertkit/toolprov/pkg/verify"
	"github.com/pkg/errors"
)

// ErrNetwork marks a download that failed after all attempts were used.
var ErrNetwork = errors.New("network error")

const (
	DefaultMaxRetries     = 3
	DefaultRetryDelay     = 2 * time.Second
	DefaultAttemptTimeout = 5 * time.Minute
)

// ProgressFunc is a callback for download progress
type ProgressFunc func(downloaded, total int64)

// Request describes one download.
type Request struct {
	URL        string
	TargetPath string
	// MaxRetries bounds the total number of attempts.
	MaxRetries int
	Force      bool
	// SHA256 is checked after each attempt when set.
	SHA256   string
	Progress ProgressFunc
}

// Artifact is a completed download on local disk.
type Artifact struct {
	Path     string
	URL      string
	Size     int64
	Expected int64 // advertised length, -1 when unknown
	Cached   bool
	Attempts int
}

// Fetcher downloads artifacts with retry and cache short-circuiting.
type Fetcher struct {
	Client         *http.Client
	RetryDelay     time.Duration
	AttemptTimeout time.Duration
}

// New returns a Fetcher with the default client and timings.
func New() *Fetcher {
	return &Fetcher{
		Client:         httpclient.NewClient(0),
		RetryDelay:     DefaultRetryDelay,
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

// attemptError is a failed attempt; permanent ones are not retried.
type attemptError struct {
	err       error
	permanent bool
}

func (e *attemptError) Error() string { return e.err.Error() }
func (e *attemptError) Unwrap() error { return e.err }

// Fetch downloads req.URL to req.TargetPath. An existing non-empty artifact
// is reused unless req.Force is set.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Artifact, error) {
	progress := req.Progress
	if progress == nil {
		progress = func(int64, int64) {}
	}
	logger := log.WithField("url", req.URL)

	if !req.Force {
		if path, size, ok := cached(req.TargetPath); ok {
			logger.WithField("path", path).Debug("using cached download")
			progress(size, size)
			return &Artifact{Path: path, URL: req.URL, Size: size, Expected: size, Cached: true}, nil
		}
	}

	// Create destination directory if needed
	if err := os.MkdirAll(filepath.Dir(req.TargetPath), 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create destination directory")
	}

	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 && f.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, errors.Wrap(ctx.Err(), "download cancelled")
			case <-time.After(f.RetryDelay):
			}
		}

		artifact, err := f.attempt(ctx, req, progress)
		if err == nil {
			artifact.Attempts = attempt
			logger.WithFields(log.Fields{"attempts": attempt, "bytes": artifact.Size}).Debug("download complete")
			return artifact, nil
		}
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), "download cancelled")
		}

		lastErr = err
		logger.WithError(err).WithField("attempt", attempt).Warn("download attempt failed")

		var ae *attemptError
		if errors.As(err, &ae) && ae.permanent {
			return nil, errors.Wrapf(ErrNetwork, "%s: %v", req.URL, err)
		}
	}

	return nil, errors.Wrapf(ErrNetwork, "download failed after %d attempts: %v", maxRetries, lastErr)
}

func (f *Fetcher) attempt(ctx context.Context, req Request, progress ProgressFunc) (*Artifact, error) {
	if f.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.AttemptTimeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, &attemptError{err: errors.Wrap(err, "failed to create request"), permanent: true}
	}

	client := f.Client
	if client == nil {
		client = httpclient.NewClient(0)
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, &attemptError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		return nil, &attemptError{err: err, permanent: !retryableStatus(resp.StatusCode)}
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(req.TargetPath), ".download-*")
	if err != nil {
		return nil, &attemptError{err: errors.Wrap(err, "failed to create temporary file"), permanent: true}
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	total := resp.ContentLength
	written, err := copyWithProgress(tmpFile, resp.Body, total, progress)
	if closeErr := tmpFile.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		return nil, &attemptError{err: errors.Wrap(err, "failed to read response body")}
	}

	// Completeness: the advertised length when known, otherwise non-empty.
	if total >= 0 && written != total {
		return nil, &attemptError{err: fmt.Errorf("incomplete download: got %d of %d bytes", written, total)}
	}
	if written == 0 {
		return nil, &attemptError{err: fmt.Errorf("no content downloaded")}
	}

	if req.SHA256 != "" {
		if err := verify.VerifyChecksum(tmpPath, req.SHA256, verify.SHA256); err != nil {
			return nil, &attemptError{err: err}
		}
	}

	dest := renamedTarget(req.TargetPath, resp.Header.Get("Content-Disposition"))
	if err := os.Rename(tmpPath, dest); err != nil {
		return nil, &attemptError{err: errors.Wrap(err, "failed to move downloaded file"), permanent: true}
	}

	return &Artifact{Path: dest, URL: req.URL, Size: written, Expected: total}, nil
}

func retryableStatus(code int) bool {
	if code >= 500 {
		return true
	}
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

// cached returns an existing non-empty artifact for targetPath, including
// the variant carrying a server-supplied archive suffix.
func cached(targetPath string) (string, int64, bool) {
	candidates := []string{targetPath}
	if !archive.Known(targetPath) {
		for _, format := range []archive.Format{
			archive.FormatZip, archive.FormatTarGz, archive.FormatTarXz,
			archive.FormatMSI, archive.FormatInstaller, archive.FormatDMG,
		} {
			candidates = append(candidates, targetPath+format.Suffix())
		}
	}
	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() && info.Size() > 0 {
			return path, info.Size(), true
		}
	}
	return "", 0, false
}

// renamedTarget appends the archive suffix from a Content-Disposition
// filename when the target itself has no recognizable suffix. Some mirrors
// serve archives from extensionless URLs.
func renamedTarget(targetPath, disposition string) string {
	if disposition == "" || archive.Known(targetPath) {
		return targetPath
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return targetPath
	}
	name := filepath.Base(params["filename"])
	if !archive.Known(name) {
		return targetPath
	}
	return targetPath + archive.DetectFormat(name).Suffix()
}

// copyWithProgress copies data and reports progress when the total is known
func copyWithProgress(dst io.Writer, src io.Reader, total int64, progress ProgressFunc) (int64, error) {
	var written int64
	buf := make([]byte, 32*1024) // 32KB buffer

	for {
		nr, readErr := src.Read(buf)
		if nr > 0 {
			nw, writeErr := dst.Write(buf[0:nr])
			if writeErr != nil {
				return written, writeErr
			}
			written += int64(nw)

			if total > 0 {
				progress(written, total)
			}
		}

		if readErr != nil {
			if readErr == io.EOF {
				return written, nil
			}
			return written, readErr
		}
	}
}
