// Package resolve looks up the latest upstream release of catalog tools
// hosted on GitHub.
package resolve

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/convertkit/toolprov/pkg/catalog"
	"github.com/convertkit/toolprov/pkg/httpclient"
	"github.com/google/go-github/v60/github"
	"github.com/pkg/errors"
)

// ErrNoRepo is returned for tools whose descriptor names no repository.
var ErrNoRepo = errors.New("no upstream repository")

// Resolver queries GitHub releases.
type Resolver struct {
	client *github.Client
}

// New returns a Resolver. The shared HTTP client authenticates with
// GITHUB_TOKEN when it is set.
func New() *Resolver {
	return &Resolver{client: github.NewClient(httpclient.NewClient(30 * time.Second))}
}

// NewWithClient returns a Resolver using the given GitHub client.
func NewWithClient(client *github.Client) *Resolver {
	return &Resolver{client: client}
}

// LatestTag returns the tag of the latest release of owner/name. When the
// repository has no release marked latest, the most recent one is used.
func (r *Resolver) LatestTag(ctx context.Context, repo string) (string, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", errors.Errorf("invalid repository format: %s", repo)
	}

	release, resp, err := r.client.Repositories.GetLatestRelease(ctx, owner, name)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			// Try to list releases and get the first one
			releases, _, err := r.client.Repositories.ListReleases(ctx, owner, name, &github.ListOptions{
				PerPage: 1,
			})
			if err != nil {
				return "", errors.Wrap(err, "failed to fetch releases")
			}
			if len(releases) == 0 {
				return "", errors.Errorf("no releases found for %s", repo)
			}
			return releases[0].GetTagName(), nil
		}
		return "", errors.Wrap(err, "failed to fetch latest release")
	}

	return release.GetTagName(), nil
}

// Upstream compares a tool's catalog version with its latest release.
type Upstream struct {
	Tool    string `json:"tool"`
	Repo    string `json:"repo"`
	Catalog string `json:"catalog"`
	Latest  string `json:"latest,omitempty"`
	// Newer is set when the latest tag differs from the catalog version,
	// ignoring a leading "v".
	Newer bool   `json:"newer"`
	Error string `json:"error,omitempty"`
}

// Check resolves the latest release for one descriptor.
func (r *Resolver) Check(ctx context.Context, desc catalog.ToolDescriptor) (Upstream, error) {
	u := Upstream{Tool: desc.Name, Repo: desc.Repo, Catalog: desc.Version}
	if desc.Repo == "" {
		return u, errors.Wrapf(ErrNoRepo, "%s", desc.Name)
	}
	tag, err := r.LatestTag(ctx, desc.Repo)
	if err != nil {
		return u, errors.Wrapf(err, "%s", desc.Name)
	}
	u.Latest = tag
	u.Newer = normalize(tag) != normalize(desc.Version)
	return u, nil
}

// CheckAll resolves every catalog tool that names a repository, in name
// order. Lookup failures are recorded per tool rather than aborting.
func (r *Resolver) CheckAll(ctx context.Context, cat *catalog.Catalog) []Upstream {
	var results []Upstream
	for _, name := range cat.Names() {
		desc, _ := cat.Lookup(name)
		if desc.Repo == "" {
			continue
		}
		u, err := r.Check(ctx, desc)
		if err != nil {
			log.WithField("tool", name).WithError(err).Warn("upstream lookup failed")
			u.Error = err.Error()
		}
		results = append(results, u)
	}
	return results
}

func normalize(version string) string {
	return strings.TrimPrefix(version, "v")
}
