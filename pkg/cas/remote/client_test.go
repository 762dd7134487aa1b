package remote

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"artifactcache/pkg/cas"
)

// fakeCacheServer implements just enough of the cache protocol for the
// client tests: action results under /ac/, blobs under /cas/. Blob
// bodies are stored decompressed and served zstd-encoded.
type fakeCacheServer struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	actions map[string][]byte
}

func newFakeCacheServer() *fakeCacheServer {
	return &fakeCacheServer{
		blobs:   make(map[string][]byte),
		actions: make(map[string][]byte),
	}
}

func (s *fakeCacheServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var store map[string][]byte
	var key string
	switch {
	case strings.HasPrefix(r.URL.Path, "/ac/"):
		store, key = s.actions, strings.TrimPrefix(r.URL.Path, "/ac/")
	case strings.HasPrefix(r.URL.Path, "/cas/"):
		store, key = s.blobs, strings.TrimPrefix(r.URL.Path, "/cas/")
	default:
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.Method {
	case http.MethodHead:
		if _, ok := store[key]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		data, ok := store[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if strings.HasPrefix(r.URL.Path, "/cas/") {
			compressed, err := compressZstd(data)
			if err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Encoding", "zstd")
			w.Write(compressed)
			return
		}
		w.Write(data)
	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if isZstdEncoded(r.Header.Get("Content-Encoding")) {
			body, err = decompressZstd(body)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
		}
		store[key] = body
		w.WriteHeader(http.StatusCreated)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func testAction(t *testing.T) *cas.ExecutableAction {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "input.txt"), []byte("input"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	action, err := cas.NewExecutableAction(dir, []string{"/bin/true"}, nil, time.Minute)
	if err != nil {
		t.Fatalf("NewExecutableAction: %v", err)
	}
	return action
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient("not a url", "", ClientOptions{}); err == nil {
		t.Error("expected error for endpoint without scheme")
	}
	if _, err := NewClient("/just/a/path", "", ClientOptions{}); err == nil {
		t.Error("expected error for endpoint without host")
	}
	c, err := NewClient("http://cache.example.com/", "", ClientOptions{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.baseURL != "http://cache.example.com" {
		t.Errorf("baseURL = %q, want trailing slash trimmed", c.baseURL)
	}
}

func TestCacheRoundTrip(t *testing.T) {
	server := newFakeCacheServer()
	ts := httptest.NewServer(server)
	defer ts.Close()

	workDir := t.TempDir()
	client, err := NewClient(ts.URL, workDir, ClientOptions{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	action := testAction(t)
	stdout := filepath.Join(t.TempDir(), "stdout.txt")
	if err := os.WriteFile(stdout, []byte("hello from the run\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	err = client.UploadCache(context.Background(), action, cas.ExecutableActionResult{
		ExitCode: 7,
		Stdout:   stdout,
	})
	if err != nil {
		t.Fatalf("UploadCache: %v", err)
	}

	result, err := client.LookupCache(context.Background(), action)
	if err != nil {
		t.Fatalf("LookupCache: %v", err)
	}
	if result == nil {
		t.Fatal("LookupCache returned a miss after UploadCache")
	}
	if result.ExitCode != 7 {
		t.Errorf("ExitCode = %d, want 7", result.ExitCode)
	}
	data, err := os.ReadFile(result.Stdout)
	if err != nil {
		t.Fatalf("ReadFile cached stdout: %v", err)
	}
	if string(data) != "hello from the run\n" {
		t.Errorf("cached stdout = %q", data)
	}
	if filepath.Dir(result.Stdout) != workDir {
		t.Errorf("cached stdout written outside work dir: %s", result.Stdout)
	}
}

func TestLookupCacheMiss(t *testing.T) {
	ts := httptest.NewServer(newFakeCacheServer())
	defer ts.Close()

	client, err := NewClient(ts.URL, t.TempDir(), ClientOptions{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	result, err := client.LookupCache(context.Background(), testAction(t))
	if err != nil {
		t.Fatalf("LookupCache: %v", err)
	}
	if result != nil {
		t.Errorf("miss should return nil result, got %+v", result)
	}
}

func TestPushManifestDedup(t *testing.T) {
	ts := httptest.NewServer(newFakeCacheServer())
	defer ts.Close()

	client, err := NewClient(ts.URL, "", ClientOptions{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	file := filepath.Join(t.TempDir(), "artifact.bin")
	if err := os.WriteFile(file, []byte("artifact payload"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	fileDigest, err := cas.FromFile(file)
	if err != nil {
		t.Fatalf("FromFile: %v", err)
	}
	blob := []byte("directory node bytes")

	manifest := cas.NewUploadManifestBuilder().
		AddFile(fileDigest, file).
		AddBlob(cas.FromBlob(blob), blob).
		Build()

	pushed, err := client.PushManifest(context.Background(), manifest)
	if err != nil {
		t.Fatalf("PushManifest: %v", err)
	}
	if pushed != 2 {
		t.Errorf("first push transferred %d entries, want 2", pushed)
	}

	pushed, err = client.PushManifest(context.Background(), manifest)
	if err != nil {
		t.Fatalf("PushManifest: %v", err)
	}
	if pushed != 0 {
		t.Errorf("second push transferred %d entries, want 0", pushed)
	}
}

func TestFetchBlobVerifiesDigest(t *testing.T) {
	server := newFakeCacheServer()
	ts := httptest.NewServer(server)
	defer ts.Close()

	client, err := NewClient(ts.URL, "", ClientOptions{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	blob := []byte("stored content")
	d := cas.FromBlob(blob)
	if err := client.pushBlob(context.Background(), d, blob); err != nil {
		t.Fatalf("pushBlob: %v", err)
	}

	got, err := client.FetchBlob(context.Background(), d)
	if err != nil {
		t.Fatalf("FetchBlob: %v", err)
	}
	if string(got) != string(blob) {
		t.Errorf("FetchBlob = %q, want %q", got, blob)
	}

	// Corrupt the stored bytes. The fetch must fail verification.
	server.mu.Lock()
	for key := range server.blobs {
		server.blobs[key] = []byte("tampered")
	}
	server.mu.Unlock()

	if _, err := client.FetchBlob(context.Background(), d); err == nil {
		t.Error("expected content mismatch error for tampered blob")
	}
}

func TestClientAuthToken(t *testing.T) {
	t.Setenv("ARTIFACTCACHE_TOKEN", "secret-token")

	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	client, err := NewClient(ts.URL, "", ClientOptions{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := client.HasBlob(context.Background(), cas.FromBlob([]byte("x"))); err != nil {
		t.Fatalf("HasBlob: %v", err)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
}
