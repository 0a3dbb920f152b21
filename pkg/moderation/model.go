package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/trunet-labs/trunet/pkg/core/content"
)

// HTTPModelClient scores text against a remote moderation model over JSON.
type HTTPModelClient struct {
	endpoint string
	client   *http.Client
}

// NewHTTPModelClient creates a model client for the given endpoint.
func NewHTTPModelClient(endpoint string, timeout time.Duration) *HTTPModelClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPModelClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type scoreRequest struct {
	Text string `json:"text"`
}

type scoreResponse struct {
	Scores map[string]float64 `json:"scores"`
}

// Score submits text to the model endpoint. Any transport or protocol
// failure is reported as ModelUnavailable.
func (c *HTTPModelClient) Score(ctx context.Context, text string) (map[content.ModerationCategory]float64, error) {
	body, err := json.Marshal(scoreRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode request: %v", ErrModelUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: model returned status %d", ErrModelUnavailable, resp.StatusCode)
	}

	var decoded scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", ErrModelUnavailable, err)
	}

	scores := make(map[content.ModerationCategory]float64, len(decoded.Scores))
	for category, weight := range decoded.Scores {
		scores[content.ModerationCategory(category)] = weight
	}
	return scores, nil
}
