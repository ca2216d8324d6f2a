package renderservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OperationsPath is where the HTTP service accepts requests.
const OperationsPath = "/v1/operations"

// Client calls a remote render service.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient targets the service at baseURL, e.g. http://127.0.0.1:8790.
// A nil httpClient uses one without a timeout; operations can run for minutes.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 0}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Do posts req and decodes the service's Response.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		err = fmt.Errorf("encode request: %w", err)
		return Failure(err), err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+OperationsPath, bytes.NewReader(body))
	if err != nil {
		err = fmt.Errorf("build request: %w", err)
		return Failure(err), err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		err = fmt.Errorf("render service unreachable: %w", err)
		return Failure(err), err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		err = fmt.Errorf("read response: %w", err)
		return Failure(err), err
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		err = fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
		return Failure(err), err
	}
	if !out.Success {
		if out.Error == "" {
			out.Error = fmt.Sprintf("render service returned status %d", resp.StatusCode)
		}
		return out, codeError(out.Code, out.Error)
	}
	return out, nil
}

// Health checks that the service answers.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("render service unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("render service health status %d", resp.StatusCode)
	}
	return nil
}
