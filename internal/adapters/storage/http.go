package storage

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/jobrunner/geodb-openeo/internal/domain"
	"github.com/jobrunner/geodb-openeo/internal/ports/output"
)

// HTTPConfig holds HTTP storage configuration. The index file lists one
// object key per line; blank lines and lines starting with # are ignored.
type HTTPConfig struct {
	BaseURL   string
	IndexFile string // default: index.txt
	Timeout   time.Duration
	Retries   int
	Username  string
	Password  string
}

// HTTPStorage downloads GeoPackages listed in an index file from a web
// server.
type HTTPStorage struct {
	rest      *resty.Client
	indexFile string
}

// NewHTTPStorage creates a new HTTP storage adapter.
func NewHTTPStorage(cfg HTTPConfig) *HTTPStorage {
	if cfg.IndexFile == "" {
		cfg.IndexFile = "index.txt"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}

	rest := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() >= http.StatusInternalServerError
		})
	if cfg.Username != "" && cfg.Password != "" {
		rest.SetBasicAuth(cfg.Username, cfg.Password)
	}

	return &HTTPStorage{rest: rest, indexFile: cfg.IndexFile}
}

// SetTransport replaces the HTTP transport.
func (s *HTTPStorage) SetTransport(rt http.RoundTripper) {
	s.rest.SetTransport(rt)
}

// List implements output.ObjectStorage.
func (s *HTTPStorage) List(ctx context.Context) ([]output.StorageObject, error) {
	body, err := s.get(ctx, s.indexFile)
	if err != nil {
		return nil, storageError("list", s.indexFile, err)
	}
	defer func() { _ = body.Close() }()

	var objects []output.StorageObject
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || !isPackageKey(line) {
			continue
		}
		objects = append(objects, output.StorageObject{Key: line})
	}
	if err := scanner.Err(); err != nil {
		return nil, storageError("list", s.indexFile, err)
	}
	return objects, nil
}

// Download implements output.ObjectStorage.
func (s *HTTPStorage) Download(ctx context.Context, key string, dest string) error {
	body, err := s.GetReader(ctx, key)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	if err := writeFile(dest, body); err != nil {
		return storageError("download", key, err)
	}
	return nil
}

// GetReader implements output.ObjectStorage.
func (s *HTTPStorage) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	body, err := s.get(ctx, key)
	if err != nil {
		return nil, storageError("get", key, err)
	}
	return body, nil
}

// Exists implements output.ObjectStorage.
func (s *HTTPStorage) Exists(ctx context.Context, key string) (bool, error) {
	resp, err := s.rest.R().SetContext(ctx).Head("/" + key)
	if err != nil {
		return false, storageError("head", key, fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err))
	}
	switch {
	case resp.StatusCode() == http.StatusOK:
		return true, nil
	case resp.StatusCode() == http.StatusNotFound:
		return false, nil
	default:
		return false, storageError("head", key, statusError(resp.StatusCode()))
	}
}

// get streams a file; the caller closes the body.
func (s *HTTPStorage) get(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.rest.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get("/" + key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}
	body := resp.RawBody()
	if resp.StatusCode() != http.StatusOK {
		_ = body.Close()
		return nil, statusError(resp.StatusCode())
	}
	return body, nil
}

func statusError(status int) error {
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("HTTP %d: %w", status, domain.ErrNotFound)
	case status >= http.StatusInternalServerError:
		return fmt.Errorf("HTTP %d: %w", status, domain.ErrStorageUnavailable)
	default:
		return fmt.Errorf("HTTP %d", status)
	}
}
