// Package extractor talks to the external appearance-embedding service. The
// service receives a player crop and returns per-region embedding vectors;
// everything downstream treats those vectors as opaque unit-norm floats.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/matchvision/player-gallery/internal/vecmath"
)

// ErrNoEmbedding is returned when the service responds successfully but
// produced no usable vector for the crop, typically because the box was too
// small or too blurry to embed.
var ErrNoEmbedding = errors.New("extractor: no usable embedding for crop")

// Extractor produces appearance embeddings for player crops.
type Extractor interface {
	// Extract embeds a JPEG crop and returns per-region vectors keyed by
	// region name. At minimum the "general" region is present on success.
	Extract(ctx context.Context, crop []byte) (map[string][]float32, error)
}

// Client is an HTTP client for the embedding service.
type Client struct {
	baseURL   *url.URL
	dimension int
	http      *http.Client
}

// NewClient validates the service URL and returns a client. The dimension is
// enforced on every returned vector.
func NewClient(rawURL string, dimension int) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("could not parse extractor url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("extractor url %q is missing scheme or host", rawURL)
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", dimension)
	}

	return &Client{
		baseURL:   parsed,
		dimension: dimension,
		http:      &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type extractResponse struct {
	Regions map[string][]float32 `json:"regions"`
}

// Extract sends the crop to the service's embed endpoint.
func (c *Client) Extract(ctx context.Context, crop []byte) (map[string][]float32, error) {
	endpoint := c.baseURL.JoinPath("embed").String()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(crop))
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity {
		return nil, ErrNoEmbedding
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed request failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read response body: %w", err)
	}

	var result extractResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("could not unmarshal response: %w", err)
	}

	regions := make(map[string][]float32, len(result.Regions))
	for name, vec := range result.Regions {
		if len(vec) != c.dimension {
			return nil, fmt.Errorf("region %q has dimension %d, expected %d", name, len(vec), c.dimension)
		}
		if !vecmath.Valid(vec) {
			continue // skip degenerate vectors rather than poison the profile
		}
		regions[name] = vecmath.Normalize(vec)
	}
	if len(regions) == 0 {
		return nil, ErrNoEmbedding
	}
	return regions, nil
}

// readErrorBody reads up to a short prefix of the response body for error
// messages.
func readErrorBody(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil || len(body) == 0 {
		return "(no body)"
	}
	return string(body)
}
