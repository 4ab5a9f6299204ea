// Package github implements ports.Remote against the GitHub REST API.
//
// Terminal conditions are translated at this boundary: a 404 on an
// existence check or lookup becomes an empty result, and disabling an
// already-disabled workflow is success. Everything else surfaces as an
// *APIError so the retry layer can decide.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/forkline/internal/logging"
)

// apiVersion pins the GitHub REST API version header.
const apiVersion = "2022-11-28"

// DefaultBaseURL is the public GitHub API.
const DefaultBaseURL = "https://api.github.com"

// maxBody bounds how much of a response body is read.
const maxBody = 8 << 20

// Config holds configuration for creating a Client.
type Config struct {
	// BaseURL is the root URL for API requests. Defaults to DefaultBaseURL.
	BaseURL string

	// Token is a personal access token. Required.
	Token string

	// HTTPClient is used for all requests. Defaults to a client with Timeout.
	HTTPClient *http.Client

	// Timeout bounds each request when HTTPClient is nil.
	Timeout time.Duration

	// Logger defaults to a no-op logger.
	Logger *slog.Logger
}

// Client is a token-authenticated GitHub REST API client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client from the given configuration.
func NewClient(config Config) (*Client, error) {
	if config.Token == "" {
		return nil, fmt.Errorf("github: no token configured")
	}

	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := config.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Client{
		baseURL:    baseURL,
		token:      config.Token,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// do executes an authenticated request against path (relative to the
// base URL). requestBody is JSON-encoded when non-nil. Non-2xx responses
// return an *APIError.
func (client *Client) do(ctx context.Context, method, path string, requestBody any) ([]byte, error) {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("github: encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	url := client.baseURL + path
	request, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("github: creating request: %w", err)
	}

	request.Header.Set("Authorization", "Bearer "+client.token)
	request.Header.Set("Accept", "application/vnd.github+json")
	request.Header.Set("X-GitHub-Api-Version", apiVersion)
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	client.logger.Debug("github request", "method", method, "path", path)

	response, err := client.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("github: %s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("github: reading response body: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, parseAPIError(response.StatusCode, body)
	}
	return body, nil
}

// get decodes a JSON GET response into result.
func (client *Client) get(ctx context.Context, path string, result any) error {
	body, err := client.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("github: decoding %s: %w", path, err)
	}
	return nil
}

// post sends requestBody and decodes the response into result when non-nil.
func (client *Client) post(ctx context.Context, path string, requestBody, result any) error {
	body, err := client.do(ctx, http.MethodPost, path, requestBody)
	if err != nil {
		return err
	}
	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("github: decoding %s: %w", path, err)
		}
	}
	return nil
}

// put sends requestBody, which may be nil.
func (client *Client) put(ctx context.Context, path string, requestBody any) error {
	_, err := client.do(ctx, http.MethodPut, path, requestBody)
	return err
}

func (client *Client) delete(ctx context.Context, path string) error {
	_, err := client.do(ctx, http.MethodDelete, path, nil)
	return err
}
