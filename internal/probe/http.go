package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

type httpProber struct {
	client *http.Client
	url    string
}

func newHTTPProber(url string) Prober {
	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &httpProber{client: client, url: url}
}

// Probe succeeds on any HTTP response. The status code is not inspected: a
// server answering 500 is still accepting connections.
func (p *httpProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	return nil
}
