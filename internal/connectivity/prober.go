// Package connectivity maintains a best-effort reachability signal for the remote
// system of record.
package connectivity

import (
	"context"
	"fmt"
	"net/http"

	"github.com/stacklok/offline-sync/internal/httpclient"
)

//go:generate mockgen -destination=mocks/mock_prober.go -package=mocks -source=prober.go Prober

// Prober checks whether a single endpoint can be reached
type Prober interface {
	// Probe returns nil when the endpoint answered. The context carries the
	// per-endpoint deadline.
	Probe(ctx context.Context, endpoint string) error
}

// HTTPProber sends a HEAD request and treats any status below 500 as reachable.
// A server answering 404 or 401 still proves the network path is up.
type HTTPProber struct {
	client httpclient.Client
}

var _ Prober = (*HTTPProber)(nil)

// NewHTTPProber creates a prober using client
func NewHTTPProber(client httpclient.Client) *HTTPProber {
	return &HTTPProber{client: client}
}

// Probe issues a HEAD request against endpoint
func (p *HTTPProber) Probe(ctx context.Context, endpoint string) error {
	resp, err := p.client.Do(ctx, http.MethodHead, endpoint, nil, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return httpclient.NewHTTPError(resp.StatusCode, endpoint, fmt.Sprintf("probe returned HTTP %d", resp.StatusCode))
	}
	return nil
}
