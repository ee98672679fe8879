package httpclient

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/xhspub/internal/common"
)

// NewDefaultHTTPClient creates a simple HTTP client with a timeout
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
	}
}

// NewDownloadClient creates a client for fetching remote artifacts.
// Redirects are followed up to a fixed limit and every request carries the service user agent.
func NewDownloadClient(timeout time.Duration) *http.Client {
	client := NewDefaultHTTPClient(timeout)
	client.Transport = &userAgentTransport{
		base:      http.DefaultTransport,
		userAgent: fmt.Sprintf("xhspub/%s", common.GetVersion()),
	}
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 10 {
			return fmt.Errorf("stopped after %d redirects", len(via))
		}
		return nil
	}
	return client
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.base.RoundTrip(req)
}
