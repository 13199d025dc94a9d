package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/caio-sobreiro/dicomview/errors"
	"github.com/caio-sobreiro/dicomview/types"
)

// Config holds REST client configuration
type Config struct {
	BaseURL    string        // API root, for example http://localhost:8000/api/v1
	Timeout    time.Duration // Timeout for listing requests (default: 30s); uploads are not bounded
	HTTPClient *http.Client  // HTTP client (default: a new client without timeout)
	Logger     *slog.Logger  // Logger for the client (default: slog.Default())
}

// Client talks to the study listing and upload API. It implements
// interfaces.StudyService and interfaces.UploadService.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	logger  *slog.Logger
}

// New creates a REST client
func New(config Config) (*Client, error) {
	base := strings.TrimRight(config.BaseURL, "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid API base URL %q", config.BaseURL)
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Client{
		baseURL: base,
		timeout: config.Timeout,
		http:    config.HTTPClient,
		logger:  config.Logger,
	}, nil
}

// BaseURL returns the API root without trailing slash
func (c *Client) BaseURL() string {
	return c.baseURL
}

// apiError is the error body returned by the backend
type apiError struct {
	Detail string `json:"detail"`
}

// do sends a request and decodes a JSON response into out (when non-nil).
func (c *Client) do(ctx context.Context, op, method, path string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return errors.NewTransportError(op, 0, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.send(req)
	if err != nil {
		return errors.NewTransportError(op, 0, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(op, resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.NewTransportError(op, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Client) send(req *http.Request) (*http.Response, error) {
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WarnContext(req.Context(), "API request failed",
			"method", req.Method,
			"path", req.URL.Path,
			"request_id", requestID,
			"error", err)
		return nil, err
	}
	c.logger.DebugContext(req.Context(), "API request",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"request_id", requestID,
		"duration", time.Since(start))
	return resp, nil
}

func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr apiError
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Detail != "" {
		msg = apiErr.Detail
	}
	if msg == "" {
		msg = resp.Status
	}
	return errors.NewTransportError(op, resp.StatusCode, fmt.Errorf("%s", msg))
}

// List returns every stored study
func (c *Client) List(ctx context.Context) ([]types.Study, error) {
	var studies []types.Study
	if err := c.do(ctx, "list studies", http.MethodGet, "/studies", &studies); err != nil {
		return nil, err
	}
	if studies == nil {
		studies = []types.Study{}
	}
	return studies, nil
}

// Get returns a study with its series
func (c *Client) Get(ctx context.Context, studyUID string) (*types.StudyDetail, error) {
	var detail types.StudyDetail
	if err := c.do(ctx, "get study", http.MethodGet, "/studies/"+url.PathEscape(studyUID), &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// GetSeries returns a series with its instances
func (c *Client) GetSeries(ctx context.Context, studyUID, seriesUID string) (*types.SeriesDetail, error) {
	path := "/studies/" + url.PathEscape(studyUID) + "/series/" + url.PathEscape(seriesUID)
	var detail types.SeriesDetail
	if err := c.do(ctx, "get series", http.MethodGet, path, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Delete removes a study from the backend
func (c *Client) Delete(ctx context.Context, studyUID string) error {
	return c.do(ctx, "delete study", http.MethodDelete, "/studies/"+url.PathEscape(studyUID), nil)
}
