package task

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tkrause/jobgate/internal/domain"
)

// maxResultBytes caps what a provider may return as a job result.
const maxResultBytes = 8 << 20

// Provider executes a task family by posting the job payload to an external
// provider endpoint (document conversion + vision analysis, outline
// generation, slide format rewriting). Connection errors, timeouts and 5xx
// responses are transient; 4xx responses are permanent caller errors. The
// provider's own retry policy is its concern, not ours.
type Provider struct {
	typ      domain.JobType
	endpoint string
	client   *http.Client
}

// NewProvider creates an executor for the given task family.
func NewProvider(typ domain.JobType, endpoint string) *Provider {
	return &Provider{
		typ:      typ,
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Minute},
	}
}

// Type returns the task family this provider serves.
func (p *Provider) Type() domain.JobType { return p.typ }

// Execute posts the payload and returns the provider's response body as the
// job result. The body is fully read before returning, so a completed job
// never references a result that was not durably produced.
func (p *Provider) Execute(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, domain.Permanent(fmt.Errorf("build provider request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.Transient(fmt.Errorf("provider call: %w", ctx.Err()))
		}
		return nil, domain.Transient(fmt.Errorf("provider call: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResultBytes))
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("read provider response: %w", err))
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, domain.Transient(fmt.Errorf("provider %s returned %d", p.endpoint, resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, domain.Permanent(fmt.Errorf("provider %s rejected payload: %d %s", p.endpoint, resp.StatusCode, bytes.TrimSpace(body)))
	}
	return body, nil
}
