package matching

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"

	"github.com/trunet-labs/trunet/pkg/core/content"
)

// HTTPProviderConfig configures one remote reverse-search provider.
type HTTPProviderConfig struct {
	Name     string
	Endpoint string
	Timeout  time.Duration
	// SOCKSProxy routes provider traffic through a SOCKS5 proxy when set,
	// keeping the query origin private.
	SOCKSProxy string
}

// HTTPProvider queries a remote reverse-search service over JSON.
type HTTPProvider struct {
	config *HTTPProviderConfig
	client *http.Client
}

// NewHTTPProvider creates a provider for the given endpoint.
func NewHTTPProvider(config *HTTPProviderConfig) (*HTTPProvider, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("provider endpoint cannot be empty")
	}
	if config.Name == "" {
		config.Name = config.Endpoint
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	if config.SOCKSProxy != "" {
		dialer, err := proxy.SOCKS5("tcp", config.SOCKSProxy, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
	}

	return &HTTPProvider{
		config: config,
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
		},
	}, nil
}

// Name identifies the provider in logs and stats.
func (p *HTTPProvider) Name() string {
	return p.config.Name
}

type searchRequest struct {
	ContentHash        string    `json:"content_hash"`
	PerceptualFeatures []float64 `json:"perceptual_features,omitempty"`
	MimeType           string    `json:"mime_type"`
}

type searchResponse struct {
	Matches []Match `json:"matches"`
}

// Search posts the fingerprint to the provider and decodes its matches.
// Transport and protocol failures are reported as ProviderUnavailable.
func (p *HTTPProvider) Search(ctx context.Context, fp *content.Fingerprint) ([]Match, error) {
	body, err := json.Marshal(searchRequest{
		ContentHash:        fp.ContentHash,
		PerceptualFeatures: fp.PerceptualFeatures,
		MimeType:           fp.MimeType,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode search request: %v", ErrProviderUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: provider %s returned status %d", ErrProviderUnavailable, p.config.Name, resp.StatusCode)
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: failed to decode search response: %v", ErrProviderUnavailable, err)
	}

	// Clamp out-of-range similarities rather than trusting the provider.
	for i := range decoded.Matches {
		if decoded.Matches[i].Similarity < 0 {
			decoded.Matches[i].Similarity = 0
		}
		if decoded.Matches[i].Similarity > 1 {
			decoded.Matches[i].Similarity = 1
		}
	}

	return decoded.Matches, nil
}
