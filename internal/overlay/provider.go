package overlay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPProvider reads overlay snapshots from the CRUD subsystem's
// /overlays endpoint. It is the bridge to the externally owned overlay
// store; failures surface as errors and the caller composites with
// zero overlays.
type HTTPProvider struct {
	url    string
	client *http.Client
}

// NewHTTPProvider builds a provider against url. timeout bounds the
// whole request; the compositor budget is small, so keep it short.
func NewHTTPProvider(url string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Snapshot fetches the current ordered overlay list.
func (p *HTTPProvider) Snapshot(ctx context.Context) ([]Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("overlay: building snapshot request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("overlay: snapshot request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("overlay: snapshot endpoint returned %s", resp.Status)
	}

	var records []Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("overlay: decoding snapshot: %w", err)
	}
	return records, nil
}
