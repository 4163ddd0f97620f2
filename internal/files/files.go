package files

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	defaultDownloadTimeout = 60 * time.Second
	defaultMaxFileBytes    = 20 * 1024 * 1024 // Telegram bot API caps file downloads at 20MB
)

// Store implements domain.FileStore on the local filesystem.
type Store struct {
	client   *http.Client
	maxBytes int64
	logger   *slog.Logger
}

type StoreConfig struct {
	DownloadTimeout time.Duration
	MaxFileBytes    int64
	Logger          *slog.Logger
}

func NewStore(cfg StoreConfig) *Store {
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = defaultDownloadTimeout
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = defaultMaxFileBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Store{
		client:   &http.Client{Timeout: cfg.DownloadTimeout},
		maxBytes: cfg.MaxFileBytes,
		logger:   cfg.Logger,
	}
}

// TempDir creates a scoped temporary directory. The returned release func
// removes the directory and everything still inside it.
func (s *Store) TempDir() (string, func(), error) {
	dir, err := os.MkdirTemp("", "chatbridge-*")
	if err != nil {
		return "", nil, fmt.Errorf("create temp dir: %w", err)
	}
	release := func() {
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn("temp dir cleanup failed", "dir", dir, "err", err)
		}
	}
	return dir, release, nil
}

// Download fetches url into destPath. Oversized responses are rejected and
// the partial file is removed.
func (s *Store) Download(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download: unexpected status %d", resp.StatusCode)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	written, err := io.Copy(out, io.LimitReader(resp.Body, s.maxBytes+1))
	out.Close()
	if err != nil {
		os.Remove(destPath)
		return fmt.Errorf("write file: %w", err)
	}
	if written > s.maxBytes {
		os.Remove(destPath)
		return fmt.Errorf("file too large: more than %d bytes", s.maxBytes)
	}
	return nil
}

// EncodeBase64 reads the file at path and returns its standard base64 encoding.
func (s *Store) EncodeBase64(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func (s *Store) Delete(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// MimeForExtension maps a file extension (with or without the leading dot,
// any case) to a MIME type. Unrecognized or absent extensions fall back to
// image/jpeg, the dominant photo encoding on the platforms we bridge.
func (s *Store) MimeForExtension(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	switch ext {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "bmp":
		return "image/bmp"
	case "tif", "tiff":
		return "image/tiff"
	case "svg":
		return "image/svg+xml"
	default:
		return "image/jpeg"
	}
}
