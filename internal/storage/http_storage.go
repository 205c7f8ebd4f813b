package storage

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"time"

	"go-menu-annotator/pkg/models"
)

// MaxImageBytes bounds a single capture download.
const MaxImageBytes = 25 * 1024 * 1024

// ImageFetcher loads a captured menu image from a reference.
type ImageFetcher interface {
	FetchImage(ctx context.Context, reference string) (models.CapturedImage, error)
}

// HTTPImageFetcher implements ImageFetcher over HTTP(S)
type HTTPImageFetcher struct {
	client  *http.Client
	backoff time.Duration
}

// NewHTTPImageFetcher creates an HTTP image fetcher
func NewHTTPImageFetcher(timeout time.Duration) *HTTPImageFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	// Connection pooling sized for single image downloads
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		DisableCompression:     false,
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
		backoff: time.Second,
	}
}

func (h *HTTPImageFetcher) FetchImage(ctx context.Context, imageURL string) (models.CapturedImage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return models.CapturedImage{}, fmt.Errorf("invalid URL: %w", err)
	}

	req.Header.Set("Accept", "image/jpeg, image/png, image/gif, */*")
	req.Header.Set("User-Agent", "Go-Menu-Annotator/1.0")

	// Retry logic (3 attempts) - only retry on transient errors
	var resp *http.Response
	var lastErr error

retry:
	for attempt := 0; attempt < 3; attempt++ {
		resp, err = h.client.Do(req)

		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break retry
			}
		}

		if err == nil && resp != nil && resp.StatusCode == http.StatusOK {
			break retry
		}

		if err == nil && resp != nil {
			func() {
				defer resp.Body.Close()

				// 4xx client errors are non-retryable
				if resp.StatusCode >= 400 && resp.StatusCode < 500 {
					lastErr = fmt.Errorf("client error: status code %d", resp.StatusCode)
					return
				}

				if resp.StatusCode >= 500 {
					lastErr = fmt.Errorf("server error: status code %d", resp.StatusCode)
				} else {
					lastErr = fmt.Errorf("unexpected status code %d", resp.StatusCode)
				}
			}()

			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				resp = nil
				break retry
			}
		}

		// Back off before the next attempt, giving up early if ctx ends
		if attempt < 2 {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				resp = nil
				break retry
			case <-time.After(time.Duration(attempt+1) * h.backoff):
			}
		}

		if resp != nil && (err != nil || resp.StatusCode != http.StatusOK) {
			resp = nil
		}
	}

	if resp == nil || resp.StatusCode != http.StatusOK {
		if lastErr != nil {
			return models.CapturedImage{}, fmt.Errorf("failed to fetch image after 3 attempts: %w", lastErr)
		}
		return models.CapturedImage{}, fmt.Errorf("failed to fetch image after 3 attempts: unknown error")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageBytes+1))
	if err != nil {
		return models.CapturedImage{}, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) > MaxImageBytes {
		return models.CapturedImage{}, fmt.Errorf("image exceeds %d bytes", MaxImageBytes)
	}
	return decodeCaptured(imageURL, data)
}

// decodeCaptured reads the pixel dimensions without decoding the full image.
func decodeCaptured(reference string, data []byte) (models.CapturedImage, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return models.CapturedImage{}, fmt.Errorf("failed to decode image: %w", err)
	}
	return models.CapturedImage{
		Reference: reference,
		Data:      data,
		Width:     cfg.Width,
		Height:    cfg.Height,
	}, nil
}
