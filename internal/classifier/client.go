// Package classifier talks to an HTTP image classification service.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/blackmichael/post-pipeline/internal/domain"
)

// Client implements domain.Classifier against an inference endpoint that
// accepts a PNG body and answers with ranked predictions.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a classifier client for the given endpoint URL.
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Classify sends img to the service and returns at most k labels, highest
// confidence first.
func (c *Client) Classify(ctx context.Context, img image.Image, k int) ([]domain.Label, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive", domain.ErrInvalidInput)
	}

	var body bytes.Buffer
	if err := png.Encode(&body, img); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse classifier url: %w", err)
	}
	q := u.Query()
	q.Set("top_k", strconv.Itoa(k))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "image/png")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("classifier error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result predictResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	labels := make([]domain.Label, 0, len(result.Predictions))
	for _, p := range result.Predictions {
		if p.Label == "" {
			continue
		}
		labels = append(labels, domain.Label{Name: p.Label, Confidence: p.Confidence})
	}
	sort.SliceStable(labels, func(i, j int) bool {
		return labels[i].Confidence > labels[j].Confidence
	})
	if len(labels) > k {
		labels = labels[:k]
	}
	return labels, nil
}

// FormatTags renders labels as the tag string stored on a post: names with
// underscores turned into spaces, joined by ", ".
func FormatTags(labels []domain.Label) string {
	names := make([]string, 0, len(labels))
	for _, l := range labels {
		names = append(names, strings.ReplaceAll(l.Name, "_", " "))
	}
	return strings.Join(names, ", ")
}

type predictResponse struct {
	Predictions []prediction `json:"predictions"`
}

type prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}
