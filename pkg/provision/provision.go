// Package provision installs tools from the catalog: it fetches the
// platform artifact, extracts it into a scratch directory, normalizes the
// upstream layout into the tool's canonical install directory and records
// the installed version.
package provision

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/apex/log"
	"github.com/convertkit/toolprov/pkg/archive"
	"github.com/convertkit/toolprov/pkg/catalog"
	"github.com/convertkit/toolprov/pkg/fetch"
	"github.com/convertkit/toolprov/pkg/layout"
	"github.com/convertkit/toolprov/pkg/ledger"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Options configures an Installer. Zero values select defaults.
type Options struct {
	ToolsRoot  string
	WorkDir    string
	MaxRetries int
	// Force re-downloads and reinstalls even when up to date.
	Force bool

	Platform  catalog.Platform
	GOOS      string
	Fetcher   *fetch.Fetcher
	Extractor *archive.Extractor
}

// Installer drives install requests. It is safe for concurrent use; two
// installs of the same tool never run at once.
type Installer struct {
	catalog   *catalog.Catalog
	toolsRoot string
	workDir   string
	retries   int
	force     bool
	platform  catalog.Platform
	goos      string
	fetcher   *fetch.Fetcher
	extractor *archive.Extractor
	ledger    *ledger.Store

	mu         sync.Mutex
	inProgress map[string]bool
}

// New returns an Installer for the catalog.
func New(cat *catalog.Catalog, opts Options) *Installer {
	in := &Installer{
		catalog:    cat,
		toolsRoot:  opts.ToolsRoot,
		workDir:    opts.WorkDir,
		retries:    opts.MaxRetries,
		force:      opts.Force,
		platform:   opts.Platform,
		goos:       opts.GOOS,
		fetcher:    opts.Fetcher,
		extractor:  opts.Extractor,
		inProgress: map[string]bool{},
	}
	if in.workDir == "" {
		in.workDir = filepath.Join(in.toolsRoot, ".work")
	}
	if in.retries <= 0 {
		in.retries = fetch.DefaultMaxRetries
	}
	if in.goos == "" {
		in.goos = runtime.GOOS
	}
	if in.platform == "" {
		in.platform = catalog.PlatformFor(in.goos)
	}
	if in.fetcher == nil {
		in.fetcher = fetch.New()
	}
	if in.extractor == nil {
		in.extractor = archive.NewExtractor()
	}
	in.ledger = ledger.New(in.toolsRoot)
	return in
}

// Result is the outcome of one install request.
type Result struct {
	Tool    string
	State   State
	Success bool
	// Progress is the last percentage reported for the final stage.
	Progress int
	// Path is the canonical entry point on success.
	Path string
	// Err carries the classified cause on failure.
	Err error
	// Warnings lists files skipped during organize.
	Warnings []PartialCopyWarning
	// History lists every state entered, in order.
	History []State
}

// run is the state of one install invocation.
type run struct {
	tool     string
	logger   log.Interface
	progress ProgressFunc
	result   Result

	artifact string
	scratch  string
}

func (r *run) enter(s State) {
	r.result.State = s
	r.result.History = append(r.result.History, s)
	r.logger.WithField("state", s).Debug("transition")
}

func (r *run) report(stage Stage, pct int) {
	r.result.Progress = pct
	r.progress(ProgressEvent{Tool: r.tool, Stage: stage, Percent: pct})
}

func (r *run) fail(err error) Result {
	r.enter(StateFailed)
	r.result.Err = err
	r.result.Success = false
	r.logger.WithError(err).Error("install failed")
	return r.result
}

func (in *Installer) acquire(tool string) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.inProgress[tool] {
		return false
	}
	in.inProgress[tool] = true
	return true
}

func (in *Installer) release(tool string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	delete(in.inProgress, tool)
}

// Install runs the pipeline for one tool. Cancellation is honored between
// stages; the artifact and scratch directory are always removed.
func (in *Installer) Install(ctx context.Context, tool string, progress ProgressFunc) Result {
	if progress == nil {
		progress = func(ProgressEvent) {}
	}
	r := &run{
		tool: tool,
		logger: log.WithFields(log.Fields{
			"tool": tool,
			"run":  uuid.NewString(),
		}),
		progress: progress,
		result:   Result{Tool: tool},
	}
	r.enter(StateIdle)

	if !in.acquire(tool) {
		return r.fail(errors.Wrapf(ErrInProgress, "%s", tool))
	}
	defer in.release(tool)

	desc, err := in.catalog.Lookup(tool)
	if err != nil {
		return r.fail(err)
	}
	// Checked before any network I/O.
	src, err := desc.SourceFor(in.platform)
	if err != nil {
		return r.fail(err)
	}
	strategy, err := layout.For(desc, in.goos)
	if err != nil {
		return r.fail(err)
	}
	installRoot := filepath.Join(in.toolsRoot, tool)
	entry := strategy.EntryPoint(installRoot)

	if !in.force {
		if v, ok := in.ledger.InstalledVersion(tool); ok && v == desc.Version && fileExists(entry) {
			r.logger.WithField("version", v).Info("already installed")
			for _, stage := range []Stage{StageDownload, StageExtract, StageOrganize} {
				r.report(stage, 100)
			}
			r.enter(StateDone)
			r.result.Success = true
			r.result.Path = entry
			return r.result
		}
	}

	defer in.cleanup(r)

	// Downloading
	if err := ctx.Err(); err != nil {
		return r.fail(errors.Wrap(err, "install cancelled"))
	}
	r.enter(StateDownloading)
	r.report(StageDownload, 0)
	target := filepath.Join(in.workDir, "downloads", tool, artifactName(src.URL, tool))
	r.artifact = target
	artifact, err := in.fetcher.Fetch(ctx, fetch.Request{
		URL:        src.URL,
		TargetPath: target,
		MaxRetries: in.retries,
		Force:      in.force,
		SHA256:     src.SHA256,
		Progress: func(downloaded, total int64) {
			r.report(StageDownload, percent(downloaded, total))
		},
	})
	if err != nil {
		return r.fail(err)
	}
	r.artifact = artifact.Path
	r.report(StageDownload, 100)
	r.logger.WithFields(log.Fields{
		"bytes":    artifact.Size,
		"attempts": artifact.Attempts,
		"cached":   artifact.Cached,
	}).Info("downloaded")

	// Extracting
	if err := ctx.Err(); err != nil {
		return r.fail(errors.Wrap(err, "install cancelled"))
	}
	r.enter(StateExtracting)
	r.report(StageExtract, 0)
	r.scratch = filepath.Join(in.workDir, "scratch", tool)
	if err := os.RemoveAll(r.scratch); err != nil {
		return r.fail(errors.Wrap(err, "failed to clear scratch directory"))
	}
	extracted, err := in.extractor.Extract(ctx, artifact.Path, r.scratch, func(current, total int64) {
		r.report(StageExtract, percent(current, total))
	})
	if err != nil {
		return r.fail(err)
	}
	r.report(StageExtract, 100)

	// Organizing
	if err := ctx.Err(); err != nil {
		return r.fail(errors.Wrap(err, "install cancelled"))
	}
	r.enter(StateOrganizing)
	r.report(StageOrganize, 0)
	installed, report, err := strategy.Normalize(extracted.Dir, installRoot)
	if report != nil {
		r.result.Warnings = report.Warnings
	}
	if err != nil {
		return r.fail(err)
	}
	r.report(StageOrganize, 100)

	// Recording
	if err := ctx.Err(); err != nil {
		return r.fail(errors.Wrap(err, "install cancelled"))
	}
	r.enter(StateRecording)
	if !fileExists(installed) {
		return r.fail(errors.Wrapf(ErrLayoutNotFound, "%s disappeared before recording", installed))
	}
	if _, err := in.ledger.Record(tool, desc.Version, string(in.platform), installed); err != nil {
		return r.fail(err)
	}

	r.enter(StateDone)
	r.result.Success = true
	r.result.Path = installed
	r.logger.WithFields(log.Fields{
		"version":  desc.Version,
		"path":     installed,
		"warnings": len(r.result.Warnings),
	}).Info("installed")
	return r.result
}

func (in *Installer) cleanup(r *run) {
	if r.artifact != "" {
		if err := os.Remove(r.artifact); err != nil && !os.IsNotExist(err) {
			r.logger.WithError(err).Warn("failed to remove download")
		}
		// The per-tool download directory is left only if something else is in it.
		_ = os.Remove(filepath.Dir(r.artifact))
	}
	if r.scratch != "" {
		if err := os.RemoveAll(r.scratch); err != nil {
			r.logger.WithError(err).Warn("failed to remove scratch directory")
		}
	}
}

// InstallAll installs every catalog tool in name order. Each tool's events
// are wrapped by Start and Complete events.
func (in *Installer) InstallAll(ctx context.Context, progress ProgressFunc) map[string]Result {
	if progress == nil {
		progress = func(ProgressEvent) {}
	}
	results := make(map[string]Result, len(in.catalog.Tools))
	for _, tool := range in.catalog.Names() {
		progress(ProgressEvent{Tool: tool, Stage: StageStart})
		res := in.Install(ctx, tool, progress)
		results[tool] = res

		done := 0
		if res.Success {
			done = 100
		}
		progress(ProgressEvent{Tool: tool, Stage: StageComplete, Percent: done})
	}
	return results
}

// InstalledVersion returns the recorded version of a tool.
func (in *Installer) InstalledVersion(tool string) (string, bool) {
	return in.ledger.InstalledVersion(tool)
}

// Ledger exposes the installed-version store.
func (in *Installer) Ledger() *ledger.Store {
	return in.ledger
}

// UpdateInfo compares the installed and catalog versions of a tool.
type UpdateInfo struct {
	Installed       string `json:"installed,omitempty"`
	Latest          string `json:"latest"`
	UpdateAvailable bool   `json:"update_available"`
}

// CheckForUpdates reports every catalog tool. Versions are compared as
// plain strings; any difference counts as an update. Tools that are not
// installed never have an update available.
func (in *Installer) CheckForUpdates() map[string]UpdateInfo {
	updates := make(map[string]UpdateInfo, len(in.catalog.Tools))
	for _, name := range in.catalog.Names() {
		latest := in.catalog.Tools[name].Version
		info := UpdateInfo{Latest: latest}
		if installed, ok := in.ledger.InstalledVersion(name); ok {
			info.Installed = installed
			info.UpdateAvailable = installed != latest
		}
		updates[name] = info
	}
	return updates
}

// ToolPath returns the installed entry point of a tool, if present.
// Suites are also found in the portable-app locations older installs used.
func (in *Installer) ToolPath(tool string) (string, bool) {
	desc, err := in.catalog.Lookup(tool)
	if err != nil {
		return "", false
	}
	strategy, err := layout.For(desc, in.goos)
	if err != nil {
		return "", false
	}
	installRoot := filepath.Join(in.toolsRoot, tool)
	if entry := strategy.EntryPoint(installRoot); fileExists(entry) {
		return entry, true
	}
	if desc.Layout != catalog.LayoutSuite {
		return "", false
	}

	exe := layout.ExecutableName(desc.EntryPoints()[0], in.goos)
	for _, pattern := range []string{
		filepath.Join(installRoot, "App", "*", "program", exe),
		filepath.Join(in.toolsRoot, "*Portable", "App", "*", "program", exe),
	} {
		matches, _ := filepath.Glob(pattern)
		for _, m := range matches {
			if fileExists(m) {
				return m, true
			}
		}
	}
	return "", false
}

// artifactName derives the download filename from the URL path.
func artifactName(rawURL, tool string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return tool
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return tool
	}
	return name
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}
