package headless

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/caio-sobreiro/dicomview/errors"
)

// HTTPLoader fetches instances over HTTP (the wadouri scheme)
type HTTPLoader struct {
	client *http.Client
}

// NewHTTPLoader creates a loader using client, or http.DefaultClient when
// client is nil.
func NewHTTPLoader(client *http.Client) *HTTPLoader {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPLoader{client: client}
}

// Load implements interfaces.ImageLoader.
func (l *HTTPLoader) Load(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.NewTransportError("fetch", 0, err)
	}
	req.Header.Set("Accept", "application/dicom")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, errors.NewTransportError("fetch", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.NewTransportError("fetch", resp.StatusCode, fmt.Errorf("GET %s: %s", url, resp.Status))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewTransportError("fetch", resp.StatusCode, err)
	}
	return data, nil
}
