package resolve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/convertkit/toolprov/pkg/catalog"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-github/v60/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T, mux *http.ServeMux) *Resolver {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := github.NewClient(nil)
	base, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	client.BaseURL = base
	return NewWithClient(client)
}

func TestLatestTag(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/jgm/pandoc/releases/latest", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"tag_name":"3.2"}`)
	})
	mux.HandleFunc("/repos/acme/prerelease-only/releases/latest", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	})
	mux.HandleFunc("/repos/acme/prerelease-only/releases", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("per_page"))
		fmt.Fprint(w, `[{"tag_name":"v0.9.0-rc1"}]`)
	})
	mux.HandleFunc("/repos/acme/empty/releases/latest", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	})
	mux.HandleFunc("/repos/acme/empty/releases", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	mux.HandleFunc("/repos/acme/broken/releases/latest", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"boom"}`, http.StatusInternalServerError)
	})
	resolver := newTestResolver(t, mux)

	tests := []struct {
		name    string
		repo    string
		want    string
		wantErr string
	}{
		{name: "latest release", repo: "jgm/pandoc", want: "3.2"},
		{name: "falls back to release list", repo: "acme/prerelease-only", want: "v0.9.0-rc1"},
		{name: "no releases", repo: "acme/empty", wantErr: "no releases found"},
		{name: "server error", repo: "acme/broken", wantErr: "failed to fetch latest release"},
		{name: "invalid repo", repo: "pandoc", wantErr: "invalid repository format"},
		{name: "too many segments", repo: "a/b/c", wantErr: "invalid repository format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.LatestTag(context.Background(), tt.repo)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckAll(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/jgm/pandoc/releases/latest", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"tag_name":"3.1.9"}`)
	})
	mux.HandleFunc("/repos/acme/tool/releases/latest", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"tag_name":"v2.0.0"}`)
	})
	mux.HandleFunc("/repos/acme/gone/releases/latest", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"boom"}`, http.StatusInternalServerError)
	})
	resolver := newTestResolver(t, mux)

	cat, err := catalog.Parse([]byte(`tools:
  pandoc:
    version: "3.1.9"
    layout: single-binary
    repo: jgm/pandoc
    platforms:
      linux: https://example.com/pandoc.tar.gz
  tool:
    version: "1.0.0"
    layout: single-binary
    repo: acme/tool
    platforms:
      linux: https://example.com/tool.tar.gz
  gone:
    version: "1.0.0"
    layout: single-binary
    repo: acme/gone
    platforms:
      linux: https://example.com/gone.tar.gz
  local:
    version: "1.0.0"
    layout: single-binary
    platforms:
      linux: https://example.com/local.tar.gz
`))
	require.NoError(t, err)

	got := resolver.CheckAll(context.Background(), cat)
	require.Len(t, got, 3)
	assert.Contains(t, got[0].Error, "failed to fetch latest release")
	got[0].Error = ""

	want := []Upstream{
		{Tool: "gone", Repo: "acme/gone", Catalog: "1.0.0"},
		{Tool: "pandoc", Repo: "jgm/pandoc", Catalog: "3.1.9", Latest: "3.1.9", Newer: false},
		{Tool: "tool", Repo: "acme/tool", Catalog: "1.0.0", Latest: "v2.0.0", Newer: true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("CheckAll() mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckWithoutRepo(t *testing.T) {
	resolver := newTestResolver(t, http.NewServeMux())
	_, err := resolver.Check(context.Background(), catalog.ToolDescriptor{Name: "local", Version: "1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoRepo))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "1.2.3", normalize("v1.2.3"))
	assert.Equal(t, "1.2.3", normalize("1.2.3"))
}
