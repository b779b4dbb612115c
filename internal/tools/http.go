package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPTool performs a GET request against an allowlisted host. Host
// restriction is enforced by the policy Wrapper's AllowedHosts check.
type HTTPTool struct {
	Client *http.Client
}

func NewHTTPTool(timeout time.Duration) *HTTPTool {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &HTTPTool{Client: &http.Client{Timeout: timeout}}
}

func (t *HTTPTool) Name() string        { return "http" }
func (t *HTTPTool) Description() string { return "Fetch the contents of a URL via HTTP GET." }

func (t *HTTPTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{"type": "string", "description": "The URL to fetch"},
		},
		"required": []string{"url"},
	}
}

func (t *HTTPTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	url := GetString(params, "url", "")
	if url == "" {
		return "Error: url is required", nil
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "Error: url must be http or https", nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Sprintf("Error building request: %v", err), nil
	}

	resp, err := t.Client.Do(req)
	if err != nil {
		return fmt.Sprintf("Error fetching url: %v", err), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Sprintf("Error reading response: %v", err), nil
	}

	return fmt.Sprintf("HTTP %d\n%s", resp.StatusCode, string(body)), nil
}
