package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v5"

	"github.com/joelkehle/challenge-pipeline/internal/failure"
)

const workbook = "PK\x03\x04 fake xlsx bytes"

// fakeGraph serves the token endpoint and whatever graph routes a test
// registers, counting hits per path.
type fakeGraph struct {
	mu        sync.Mutex
	hits      map[string]int
	routes    map[string]func(w http.ResponseWriter, hit int)
	tokenCode int
}

func newFakeGraph(t *testing.T) (*fakeGraph, *httptest.Server) {
	t.Helper()
	g := &fakeGraph{hits: map[string]int{}, routes: map[string]func(http.ResponseWriter, int){}, tokenCode: http.StatusOK}
	srv := httptest.NewServer(http.HandlerFunc(g.serve))
	t.Cleanup(srv.Close)
	return g, srv
}

func (g *fakeGraph) serve(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	g.hits[r.URL.Path]++
	hit := g.hits[r.URL.Path]
	route := g.routes[r.URL.Path]
	tokenCode := g.tokenCode
	g.mu.Unlock()

	if r.URL.Path == "/tenant-1/oauth2/v2.0/token" {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		if tokenCode != http.StatusOK {
			w.WriteHeader(tokenCode)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		if r.PostForm.Get("scope") != graphScope || r.PostForm.Get("client_secret") != "shh" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_request"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "token_type": "Bearer", "expires_in": 3600})
		return
	}
	if r.Header.Get("Authorization") != "Bearer tok" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if route == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	route(w, hit)
}

func (g *fakeGraph) hitsFor(path string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hits[path]
}

func serveWorkbook(w http.ResponseWriter, _ int) { _, _ = w.Write([]byte(workbook)) }

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := New(Options{
		BaseURL:      srv.URL + "/v1.0",
		LoginURL:     srv.URL,
		TenantID:     "tenant-1",
		ClientID:     "client",
		ClientSecret: "shh",
		MaxAttempts:  3,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return c
}

func assertDownloaded(t *testing.T, dest string) {
	t.Helper()
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != workbook {
		t.Fatalf("content=%q", got)
	}
	if _, err := os.Stat(dest + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temporary file left behind: %v", err)
	}
}

func TestDownloadViaShareLink(t *testing.T) {
	g, srv := newFakeGraph(t)
	link := "https://contoso.sharepoint.com/:x:/s/Team/EaBc?e=1"
	g.routes["/v1.0/shares/"+ShareID(link)+"/driveItem/content"] = serveWorkbook

	dest := filepath.Join(t.TempDir(), "data", "form_data.xlsx")
	n, err := newTestClient(t, srv).Download(context.Background(), Target{ShareLink: link}, dest)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if n != int64(len(workbook)) {
		t.Fatalf("bytes=%d", n)
	}
	assertDownloaded(t, dest)
}

func TestShareIDIsUnpaddedBase64URL(t *testing.T) {
	if got := ShareID("https://a/b?c=d"); got != "u!aHR0cHM6Ly9hL2I_Yz1k" {
		t.Fatalf("ShareID=%q", got)
	}
}

func TestDownloadFromUserDrive(t *testing.T) {
	g, srv := newFakeGraph(t)
	g.routes["/v1.0/users/alice@contoso.com/drive/root:/Apps/Microsoft Forms/Responses.xlsx:/content"] = serveWorkbook

	dest := filepath.Join(t.TempDir(), "form.xlsx")
	target := Target{User: "alice@contoso.com", FilePath: "/Apps/Microsoft Forms/Responses.xlsx"}
	if _, err := newTestClient(t, srv).Download(context.Background(), target, dest); err != nil {
		t.Fatalf("Download: %v", err)
	}
	assertDownloaded(t, dest)
}

func TestDownloadFromSite(t *testing.T) {
	g, srv := newFakeGraph(t)
	g.routes["/v1.0/sites/contoso.sharepoint.com:/sites/Team"] = func(w http.ResponseWriter, _ int) {
		_, _ = w.Write([]byte(`{"id":"site-1"}`))
	}
	g.routes["/v1.0/sites/site-1/drive/root:/Shared Documents/form.xlsx:/content"] = serveWorkbook

	dest := filepath.Join(t.TempDir(), "form.xlsx")
	target := Target{SiteHost: "contoso.sharepoint.com", SitePath: "/sites/Team", FilePath: "Shared Documents/form.xlsx"}
	if _, err := newTestClient(t, srv).Download(context.Background(), target, dest); err != nil {
		t.Fatalf("Download: %v", err)
	}
	assertDownloaded(t, dest)
}

func TestUnresolvableSiteIsNotFound(t *testing.T) {
	g, srv := newFakeGraph(t)
	g.routes["/v1.0/sites/contoso.sharepoint.com:/sites/Team"] = func(w http.ResponseWriter, _ int) {
		_, _ = w.Write([]byte(`{}`))
	}
	target := Target{SiteHost: "contoso.sharepoint.com", SitePath: "/sites/Team", FilePath: "form.xlsx"}
	_, err := newTestClient(t, srv).Download(context.Background(), target, filepath.Join(t.TempDir(), "f.xlsx"))
	if !failure.Is(err, failure.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTransientFailuresAreRetried(t *testing.T) {
	g, srv := newFakeGraph(t)
	path := "/v1.0/shares/" + ShareID("https://x") + "/driveItem/content"
	g.routes[path] = func(w http.ResponseWriter, hit int) {
		if hit < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		serveWorkbook(w, hit)
	}
	dest := filepath.Join(t.TempDir(), "f.xlsx")
	if _, err := newTestClient(t, srv).Download(context.Background(), Target{ShareLink: "https://x"}, dest); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if n := g.hitsFor(path); n != 3 {
		t.Fatalf("hits=%d want 3", n)
	}
	assertDownloaded(t, dest)
}

func TestRetriesExhaustedIsNetworkError(t *testing.T) {
	g, srv := newFakeGraph(t)
	path := "/v1.0/shares/" + ShareID("https://x") + "/driveItem/content"
	g.routes[path] = func(w http.ResponseWriter, _ int) { w.WriteHeader(http.StatusTooManyRequests) }

	_, err := newTestClient(t, srv).Download(context.Background(), Target{ShareLink: "https://x"}, filepath.Join(t.TempDir(), "f.xlsx"))
	if !failure.Is(err, failure.KindNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
	if n := g.hitsFor(path); n != 3 {
		t.Fatalf("hits=%d want 3", n)
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	for _, tc := range []struct {
		code int
		kind failure.Kind
	}{
		{http.StatusNotFound, failure.KindNotFound},
		{http.StatusForbidden, failure.KindAuth},
		{http.StatusUnauthorized, failure.KindAuth},
	} {
		g, srv := newFakeGraph(t)
		path := "/v1.0/shares/" + ShareID("https://x") + "/driveItem/content"
		code := tc.code
		g.routes[path] = func(w http.ResponseWriter, _ int) { w.WriteHeader(code) }

		dest := filepath.Join(t.TempDir(), "f.xlsx")
		_, err := newTestClient(t, srv).Download(context.Background(), Target{ShareLink: "https://x"}, dest)
		if !failure.Is(err, tc.kind) {
			t.Fatalf("status %d: expected %s, got %v", tc.code, tc.kind, err)
		}
		if n := g.hitsFor(path); n != 1 {
			t.Fatalf("status %d: hits=%d want 1", tc.code, n)
		}
		if _, err := os.Stat(dest); !os.IsNotExist(err) {
			t.Fatalf("status %d: destination should not exist", tc.code)
		}
	}
}

func TestTokenRejectionIsAuthError(t *testing.T) {
	g, srv := newFakeGraph(t)
	g.tokenCode = http.StatusUnauthorized
	_, err := newTestClient(t, srv).Download(context.Background(), Target{ShareLink: "https://x"}, filepath.Join(t.TempDir(), "f.xlsx"))
	if !failure.Is(err, failure.KindAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if n := g.hitsFor("/tenant-1/oauth2/v2.0/token"); n != 1 {
		t.Fatalf("token hits=%d want 1", n)
	}
}

func TestMissingCredentialsFailBeforeNetwork(t *testing.T) {
	_, err := New(Options{TenantID: "t", ClientID: "c"})
	if !failure.Is(err, failure.KindAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestTargetValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		target Target
		ok     bool
	}{
		{"share link", Target{ShareLink: "https://x"}, true},
		{"user", Target{User: "a@b", FilePath: "f.xlsx"}, true},
		{"site", Target{SiteHost: "h", SitePath: "/sites/s", FilePath: "f.xlsx"}, true},
		{"none", Target{}, false},
		{"user without path", Target{User: "a@b"}, false},
		{"site without path", Target{SiteHost: "h", SitePath: "/sites/s"}, false},
		{"two modes", Target{ShareLink: "https://x", User: "a@b", FilePath: "f"}, false},
		{"share link with path", Target{ShareLink: "https://x", FilePath: "f"}, false},
	} {
		err := tc.target.Validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidTarget) {
			t.Fatalf("%s: expected ErrInvalidTarget, got %v", tc.name, err)
		}
	}
}
