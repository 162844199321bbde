package httpclient

import (
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// DefaultUserAgent is sent with every request. Some mirrors reject the Go
// default user agent outright.
const DefaultUserAgent = "toolprov/1.0"

// NewClient creates an HTTP client for artifact downloads. The timeout bounds
// a single request including reading the body; zero means no timeout.
// Requests to GitHub carry the GITHUB_TOKEN from the environment if set.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &transport{
			Base:      http.DefaultTransport,
			UserAgent: DefaultUserAgent,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

// transport adds the user agent and GitHub authentication.
type transport struct {
	Base      http.RoundTripper
	UserAgent string
}

// RoundTrip implements the http.RoundTripper interface
func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid modifying the original
	req2 := req.Clone(req.Context())

	if req2.Header.Get("User-Agent") == "" && t.UserAgent != "" {
		req2.Header.Set("User-Agent", t.UserAgent)
	}

	// An explicit Authorization header wins over the environment token.
	if req2.Header.Get("Authorization") == "" && isGitHubURL(req2.URL) {
		if token := os.Getenv("GITHUB_TOKEN"); token != "" {
			req2.Header.Set("Authorization", "Bearer "+token)
		}
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req2)
}

// isGitHubURL checks if a URL points at GitHub or its release CDN
func isGitHubURL(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	return host == "github.com" ||
		host == "api.github.com" ||
		strings.HasSuffix(host, ".githubusercontent.com")
}
