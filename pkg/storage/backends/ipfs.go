package backends

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"

	"github.com/trunet-labs/trunet/pkg/storage"
)

func init() {
	storage.RegisterBackend("ipfs", func(config *storage.BackendConfig) (storage.Backend, error) {
		return NewIPFSBackend(config)
	})
}

// IPFSBackend archives content in an IPFS node. The CID returned by the
// node is the content address, so idempotence comes from IPFS itself.
type IPFSBackend struct {
	shell   *shell.Shell
	timeout time.Duration
}

// NewIPFSBackend connects to the IPFS HTTP API at the configured endpoint.
func NewIPFSBackend(config *storage.BackendConfig) (*IPFSBackend, error) {
	endpoint := "127.0.0.1:5001"
	timeout := 30 * time.Second
	if config != nil {
		if config.Endpoint != "" {
			endpoint = config.Endpoint
		}
		if config.TimeoutSeconds > 0 {
			timeout = time.Duration(config.TimeoutSeconds) * time.Second
		}
	}

	sh := shell.NewShell(endpoint)
	sh.SetTimeout(timeout)

	return &IPFSBackend{shell: sh, timeout: timeout}, nil
}

// Name identifies the backend type.
func (b *IPFSBackend) Name() string { return "ipfs" }

// Put adds the bytes to IPFS and returns the CID.
func (b *IPFSBackend) Put(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("cannot store empty content")
	}

	cid, err := b.shell.Add(bytes.NewReader(data), shell.Pin(true))
	if err != nil {
		return "", fmt.Errorf("%w: ipfs add failed: %v", storage.ErrStoreUnavailable, err)
	}
	return cid, nil
}

// Has checks whether the CID resolves on the node.
func (b *IPFSBackend) Has(ctx context.Context, identifier string) (bool, error) {
	if _, err := b.shell.ObjectStat(identifier); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: ipfs stat failed: %v", storage.ErrStoreUnavailable, err)
	}
	return true, nil
}

// HealthCheck verifies the node answers the ID call.
func (b *IPFSBackend) HealthCheck(ctx context.Context) error {
	if _, err := b.shell.ID(); err != nil {
		return fmt.Errorf("%w: ipfs node unreachable: %v", storage.ErrStoreUnavailable, err)
	}
	return nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "not found") || strings.Contains(msg, "no link")
}
