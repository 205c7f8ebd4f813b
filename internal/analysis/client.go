package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "go-menu-annotator/internal/errors"
	"go-menu-annotator/pkg/models"
)

// maxResponseBytes bounds how much of a backend response is read.
const maxResponseBytes = 10 * 1024 * 1024

// Analyzer requests per-dish analysis for a captured menu image.
type Analyzer interface {
	Analyze(ctx context.Context, img models.CapturedImage, restaurantContext string) (models.AnalysisResult, error)
}

type analyzeRequest struct {
	ImageRef          string `json:"image_ref"`
	ImageBase64       string `json:"image_base64,omitempty"`
	Width             int    `json:"width"`
	Height            int    `json:"height"`
	RestaurantContext string `json:"restaurant_context,omitempty"`
}

// HTTPClient calls the analysis backend over plain JSON.
type HTTPClient struct {
	url    string
	apiKey string
	client *http.Client
}

// NewHTTPClient creates a backend client. timeout caps every request in
// addition to the caller's context.
func NewHTTPClient(url, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

// Analyze posts the image reference and returns the ingested response.
// Images without a fetchable URL are sent inline.
func (c *HTTPClient) Analyze(ctx context.Context, img models.CapturedImage, restaurantContext string) (models.AnalysisResult, error) {
	payload := analyzeRequest{
		ImageRef:          img.Reference,
		Width:             img.Width,
		Height:            img.Height,
		RestaurantContext: restaurantContext,
	}
	if !strings.HasPrefix(img.Reference, "http://") && !strings.HasPrefix(img.Reference, "https://") {
		payload.ImageBase64 = base64.StdEncoding.EncodeToString(img.Data)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return models.AnalysisResult{}, apperrors.NewAnalysisError("failed to encode analysis request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return models.AnalysisResult{}, apperrors.NewAnalysisError("invalid analysis URL", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return models.AnalysisResult{}, apperrors.NewAnalysisError("analysis timed out", err)
		}
		return models.AnalysisResult{}, apperrors.NewAnalysisError("analysis request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return models.AnalysisResult{}, apperrors.NewAnalysisError("failed to read analysis response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return models.AnalysisResult{}, apperrors.NewAnalysisError(
			fmt.Sprintf("analysis backend returned status %d", resp.StatusCode),
			fmt.Errorf("%s", truncate(string(data), 200)))
	}
	return Ingest(data)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
