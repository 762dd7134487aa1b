// Package remote implements cas.CacheClient over a plain HTTP cache
// protocol: action results live under /ac/{hash}/{size}, content blobs
// under /cas/{hash}/{size}. Blob bodies are zstd-compressed on the wire
// and every request is retried with exponential backoff on transient
// failures.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"artifactcache/pkg/cas"
)

// Response limits per endpoint type.
const (
	responseLimitAction = 1 << 20   // 1MB
	responseLimitBlob   = 256 << 20 // 256MB
)

// ClientOptions configures the remote cache client.
type ClientOptions struct {
	Timeout     time.Duration // HTTP client timeout (default 60s)
	MaxAttempts int           // retry attempts (default 3)
}

// Client talks to a remote artifact cache server.
type Client struct {
	baseURL     string
	workDir     string
	httpClient  *http.Client
	token       string
	user        string
	pass        string
	maxAttempts int
}

// NewClient creates a cache client for the given endpoint. Cached
// outputs retrieved by LookupCache are materialized under workDir.
//
// Auth resolution order:
// 1) ARTIFACTCACHE_TOKEN (Bearer)
// 2) ARTIFACTCACHE_USERNAME + ARTIFACTCACHE_PASSWORD (Basic)
func NewClient(baseURL, workDir string, opts ClientOptions) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse cache endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("cache endpoint must include scheme and host")
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}

	return &Client{
		baseURL:     baseURL,
		workDir:     workDir,
		httpClient:  &http.Client{Timeout: opts.Timeout},
		token:       strings.TrimSpace(os.Getenv("ARTIFACTCACHE_TOKEN")),
		user:        strings.TrimSpace(os.Getenv("ARTIFACTCACHE_USERNAME")),
		pass:        os.Getenv("ARTIFACTCACHE_PASSWORD"),
		maxAttempts: opts.MaxAttempts,
	}, nil
}

var _ cas.CacheClient = (*Client)(nil)

// actionResultPayload is the wire form of a cached action result.
type actionResultPayload struct {
	ExitCode     int32          `json:"exit_code"`
	StdoutDigest *digestPayload `json:"stdout_digest,omitempty"`
	StderrDigest *digestPayload `json:"stderr_digest,omitempty"`
}

type digestPayload struct {
	Hash      string `json:"hash"`
	SizeBytes int64  `json:"size_bytes"`
}

func toDigestPayload(d cas.Digest) *digestPayload {
	return &digestPayload{Hash: d.Hash, SizeBytes: d.SizeBytes}
}

// UploadCache stores or updates the cached result for an action. The
// stdout/stderr files, when present, are pushed to the blob store first
// so the stored result only references digests.
func (c *Client) UploadCache(ctx context.Context, action *cas.ExecutableAction, result cas.ExecutableActionResult) error {
	payload := actionResultPayload{ExitCode: result.ExitCode}

	if result.Stdout != "" {
		d, err := c.pushOutputFile(ctx, result.Stdout)
		if err != nil {
			return fmt.Errorf("upload cache: stdout: %w", err)
		}
		payload.StdoutDigest = toDigestPayload(d)
	}
	if result.Stderr != "" {
		d, err := c.pushOutputFile(ctx, result.Stderr)
		if err != nil {
			return fmt.Errorf("upload cache: stderr: %w", err)
		}
		payload.StderrDigest = toDigestPayload(d)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("upload cache: encode result: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPut, c.actionURL(action.ActionDigest), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := retryDo(c.httpClient, req, c.maxAttempts)
	if err != nil {
		return fmt.Errorf("upload cache: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("upload cache: %s", responseError(resp))
	}
	return nil
}

// LookupCache retrieves the cached result for an action. A cache miss
// returns (nil, nil). Referenced stdout/stderr blobs are downloaded into
// the client's work directory.
func (c *Client) LookupCache(ctx context.Context, action *cas.ExecutableAction) (*cas.ExecutableActionResult, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.actionURL(action.ActionDigest), nil)
	if err != nil {
		return nil, err
	}
	resp, err := retryDo(c.httpClient, req, c.maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("lookup cache: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lookup cache: %s", responseError(resp))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, responseLimitAction))
	if err != nil {
		return nil, fmt.Errorf("lookup cache: %w", err)
	}
	var payload actionResultPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("lookup cache: decode result: %w", err)
	}

	result := &cas.ExecutableActionResult{ExitCode: payload.ExitCode}
	if payload.StdoutDigest != nil {
		path, err := c.fetchOutputFile(ctx, "cached-stdout-", *payload.StdoutDigest)
		if err != nil {
			return nil, fmt.Errorf("lookup cache: stdout: %w", err)
		}
		result.Stdout = path
	}
	if payload.StderrDigest != nil {
		path, err := c.fetchOutputFile(ctx, "cached-stderr-", *payload.StderrDigest)
		if err != nil {
			return nil, fmt.Errorf("lookup cache: stderr: %w", err)
		}
		result.Stderr = path
	}
	return result, nil
}

// PushManifest uploads every blob and file from the manifest that the
// server does not already hold, and reports how many were transferred.
func (c *Client) PushManifest(ctx context.Context, m *cas.UploadManifest) (int, error) {
	pushed := 0
	for d, blob := range m.Blobs() {
		sent, err := c.pushIfMissing(ctx, d, blob)
		if err != nil {
			return pushed, err
		}
		if sent {
			pushed++
		}
	}
	for d, path := range m.Files() {
		data, err := os.ReadFile(path)
		if err != nil {
			return pushed, fmt.Errorf("push manifest: %w", err)
		}
		sent, err := c.pushIfMissing(ctx, d, data)
		if err != nil {
			return pushed, err
		}
		if sent {
			pushed++
		}
	}
	return pushed, nil
}

// FetchBlob downloads a blob from the content store and verifies it
// against the requested digest.
func (c *Client) FetchBlob(ctx context.Context, d cas.Digest) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.blobURL(d), nil)
	if err != nil {
		return nil, err
	}
	resp, err := retryDo(c.httpClient, req, c.maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("fetch blob %s: %w", d, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch blob %s: %s", d, responseError(resp))
	}

	reader := io.Reader(resp.Body)
	if isZstdEncoded(resp.Header.Get("Content-Encoding")) {
		zr, err := newZstdReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("fetch blob %s: %w", d, err)
		}
		defer zr.Close()
		reader = zr
	}
	data, err := io.ReadAll(io.LimitReader(reader, responseLimitBlob))
	if err != nil {
		return nil, fmt.Errorf("fetch blob %s: %w", d, err)
	}
	if got := cas.FromBlob(data); got != d {
		return nil, fmt.Errorf("fetch blob %s: content mismatch (got %s)", d, got)
	}
	return data, nil
}

// HasBlob reports whether the server already holds the blob.
func (c *Client) HasBlob(ctx context.Context, d cas.Digest) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodHead, c.blobURL(d), nil)
	if err != nil {
		return false, err
	}
	resp, err := retryDo(c.httpClient, req, c.maxAttempts)
	if err != nil {
		return false, fmt.Errorf("check blob %s: %w", d, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("check blob %s: %s", d, responseError(resp))
	}
}

func (c *Client) pushIfMissing(ctx context.Context, d cas.Digest, data []byte) (bool, error) {
	exists, err := c.HasBlob(ctx, d)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := c.pushBlob(ctx, d, data); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) pushBlob(ctx context.Context, d cas.Digest, data []byte) error {
	compressed, err := compressZstd(data)
	if err != nil {
		return fmt.Errorf("push blob %s: %w", d, err)
	}
	req, err := c.newRequest(ctx, http.MethodPut, c.blobURL(d), bytes.NewReader(compressed))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Encoding", "zstd")

	resp, err := retryDo(c.httpClient, req, c.maxAttempts)
	if err != nil {
		return fmt.Errorf("push blob %s: %w", d, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return nil
	default:
		return fmt.Errorf("push blob %s: %s", d, responseError(resp))
	}
}

// pushOutputFile digests an output file and pushes it to the blob store
// if the server lacks it.
func (c *Client) pushOutputFile(ctx context.Context, path string) (cas.Digest, error) {
	d, err := cas.FromFile(path)
	if err != nil {
		return cas.Digest{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cas.Digest{}, err
	}
	if _, err := c.pushIfMissing(ctx, d, data); err != nil {
		return cas.Digest{}, err
	}
	return d, nil
}

// fetchOutputFile downloads a referenced output blob into the work
// directory and returns its path.
func (c *Client) fetchOutputFile(ctx context.Context, prefix string, dp digestPayload) (string, error) {
	d := cas.Digest{Hash: dp.Hash, SizeBytes: dp.SizeBytes}
	data, err := c.FetchBlob(ctx, d)
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp(c.workDir, prefix+dp.Hash[:12]+"-*.txt")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func (c *Client) actionURL(d cas.Digest) string {
	return fmt.Sprintf("%s/ac/%s/%d", c.baseURL, d.Hash, d.SizeBytes)
}

func (c *Client) blobURL(d cas.Digest) string {
	return fmt.Sprintf("%s/cas/%s/%d", c.baseURL, d.Hash, d.SizeBytes)
}

func (c *Client) newRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Request-Id", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}
	return req, nil
}

func responseError(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return fmt.Sprintf("%d: %s", resp.StatusCode, msg)
}
