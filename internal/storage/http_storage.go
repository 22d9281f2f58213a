package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ImageFetcher downloads the raw bytes behind a remote image reference
type ImageFetcher interface {
	FetchImage(ctx context.Context, imageURL string) ([]byte, error)
}

const maxAttempts = 3

// HTTPImageFetcher implements ImageFetcher with retries on transient failures
type HTTPImageFetcher struct {
	client   *http.Client
	maxBytes int64
	backoff  time.Duration
}

// NewHTTPImageFetcher creates an HTTP image fetcher capped at maxBytes per image
func NewHTTPImageFetcher(timeout time.Duration, maxBytes int64) *HTTPImageFetcher {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,

		// Connection pooling sized for single image downloads
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		MaxResponseHeaderBytes: 4096,
	}

	return &HTTPImageFetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("too many redirects (limit: 3)")
				}
				return nil
			},
		},
		maxBytes: maxBytes,
		backoff:  time.Second,
	}
}

// FetchImage downloads imageURL. 5xx responses and transport errors are
// retried with linear backoff; 4xx responses fail immediately.
func (h *HTTPImageFetcher) FetchImage(ctx context.Context, imageURL string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		data, retry, err := h.fetchOnce(ctx, imageURL)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !retry || attempt == maxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to fetch image: %w", ctx.Err())
		case <-time.After(time.Duration(attempt+1) * h.backoff):
		}
	}

	return nil, fmt.Errorf("failed to fetch image after %d attempts: %w", maxAttempts, lastErr)
}

func (h *HTTPImageFetcher) fetchOnce(ctx context.Context, imageURL string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("invalid URL: %w", err)
	}

	req.Header.Set("Accept", "image/jpeg, image/png, image/webp, image/gif, */*")
	req.Header.Set("User-Agent", "Go-Image-Classifier/1.0")

	resp, err := h.client.Do(req)
	if err != nil {
		// Context expiry is not transient
		return nil, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, false, fmt.Errorf("client error: status code %d", resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("server error: status code %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, h.maxBytes+1))
	if err != nil {
		return nil, true, fmt.Errorf("failed to read image body: %w", err)
	}
	if int64(len(data)) > h.maxBytes {
		return nil, false, fmt.Errorf("image exceeds %d bytes", h.maxBytes)
	}
	return data, false, nil
}
