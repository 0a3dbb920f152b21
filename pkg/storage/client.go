package storage

import (
	"context"
	"fmt"

	"github.com/trunet-labs/trunet/pkg/core/content"
	"github.com/trunet-labs/trunet/pkg/infrastructure/logging"
	"github.com/trunet-labs/trunet/pkg/resilience"
)

// Client archives approved files through a backend with bounded retry.
type Client struct {
	backend Backend
	retry   *resilience.RetryConfig
	logger  *logging.Logger
}

// NewClient creates a store client over the backend.
func NewClient(backend Backend, retry *resilience.RetryConfig, logger *logging.Logger) *Client {
	if retry == nil {
		retry = resilience.DefaultRetryConfig()
	}
	if logger == nil {
		logger = logging.GetGlobalLogger().WithComponent("storage")
	}
	return &Client{backend: backend, retry: retry, logger: logger}
}

// Store puts the file's bytes into the backend and returns the receipt.
// Fails with StoreUnavailable when the backend stays unreachable through
// the retry budget.
func (c *Client) Store(ctx context.Context, file content.FileBlob) (*content.StorageReceipt, error) {
	var identifier string
	err := resilience.RetryWithConfig(ctx, func(ctx context.Context) error {
		id, err := c.backend.Put(ctx, file.Bytes)
		if err != nil {
			return err
		}
		identifier = id
		return nil
	}, c.retry)
	if err != nil {
		return nil, fmt.Errorf("failed to archive %s: %w", file.OriginalName, err)
	}

	c.logger.Debug("archived file", map[string]interface{}{
		"file":       file.OriginalName,
		"identifier": identifier,
		"backend":    c.backend.Name(),
	})

	return &content.StorageReceipt{ContentIdentifier: identifier}, nil
}

// Backend exposes the underlying backend, mainly for health checks.
func (c *Client) Backend() Backend {
	return c.backend
}
