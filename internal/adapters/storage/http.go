package storage

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jobrunner/tilemerge/internal/domain"
)

// HTTPStorage implements ObjectStorage for HTTP(S) downloads. The object
// listing comes from an index file holding one key per line.
type HTTPStorage struct {
	client    *http.Client
	baseURL   string
	indexFile string
	username  string
	password  string

	mu    sync.Mutex
	index []string // cached after the first successful fetch
}

// HTTPConfig holds HTTP storage configuration.
type HTTPConfig struct {
	BaseURL   string
	IndexFile string // default: index.txt
	Timeout   time.Duration
	Username  string
	Password  string
}

// NewHTTPStorage creates a new HTTP storage adapter.
func NewHTTPStorage(cfg HTTPConfig) *HTTPStorage {
	if cfg.IndexFile == "" {
		cfg.IndexFile = "index.txt"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}

	return &HTTPStorage{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		indexFile: cfg.IndexFile,
		username:  cfg.Username,
		password:  cfg.Password,
	}
}

// List returns the keys of the index file under prefix.
func (s *HTTPStorage) List(ctx context.Context, prefix string, recursive bool) ([]domain.RemoteObject, error) {
	keys, err := s.loadIndex(ctx)
	if err != nil {
		return nil, &domain.StorageError{Operation: "list", Key: prefix, Err: err}
	}

	var objects []domain.RemoteObject
	for _, key := range keys {
		if inListing(key, prefix, recursive) {
			objects = append(objects, domain.RemoteObject{Key: key})
		}
	}
	return objects, nil
}

// loadIndex fetches and caches the index file.
func (s *HTTPStorage) loadIndex(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index != nil {
		return s.index, nil
	}

	resp, err := s.get(ctx, s.indexFile)
	if err != nil {
		return nil, fmt.Errorf("fetching index file: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	keys := []string{}
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys = append(keys, strings.TrimPrefix(line, "/"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading index file: %w", err)
	}

	s.index = keys
	return keys, nil
}

// Download downloads a file from HTTP to the local filesystem.
func (s *HTTPStorage) Download(ctx context.Context, key string, dest string) error {
	resp, err := s.get(ctx, key)
	if err != nil {
		return &domain.StorageError{Operation: "download", Key: key, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	return writeFile(dest, resp.Body)
}

// get issues a GET for key and fails on any status other than 200.
func (s *HTTPStorage) get(ctx context.Context, key string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/"+key, nil)
	if err != nil {
		return nil, err
	}

	if s.username != "" && s.password != "" {
		req.SetBasicAuth(s.username, s.password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp, nil
	case resp.StatusCode == http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: HTTP 404 for %s", domain.ErrObjectNotFound, key)
	case resp.StatusCode >= 500:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: HTTP %d for %s", domain.ErrStorageUnavailable, resp.StatusCode, key)
	default:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("HTTP %d for %s", resp.StatusCode, key)
	}
}
