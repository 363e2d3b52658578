package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/me/rumpsched/pkg/model"
)

// Client is an HTTP client for the rumpsched trace API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewClient creates a trace API client.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{},
		Logger:     logger,
	}
}

// apiResponse is the parsed envelope.
type apiResponse struct {
	Status     string            `json:"status"`
	RequestID  string            `json:"request_id"`
	Data       json.RawMessage   `json:"data"`
	Pagination *model.Pagination `json:"pagination"`
	Error      *model.APIError   `json:"error"`
}

// do performs an HTTP request and returns the parsed envelope.
func (c *Client) do(method, path string, body any) (*apiResponse, error) {
	target := c.BaseURL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
		c.Logger.Debug("HTTP request body", "body", string(data))
	}

	req, err := http.NewRequest(method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "rumpsched-cli")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.Logger.Debug("HTTP request", "method", method, "url", target)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.Logger.Debug("HTTP response", "status", resp.StatusCode, "body", string(respBody))

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parse response (status %d): %w\nbody: %s", resp.StatusCode, err, string(respBody))
	}

	if apiResp.Status == "error" && apiResp.Error != nil {
		return &apiResp, apiResp.Error
	}

	return &apiResp, nil
}

// Get performs a GET request.
func (c *Client) Get(path string) (*apiResponse, error) {
	return c.do("GET", path, nil)
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(path string, body any) (*apiResponse, error) {
	return c.do("POST", path, body)
}

// ListRuns fetches one page of recorded runs.
func (c *Client) ListRuns(opts model.ListOptions) ([]*model.Run, *model.Pagination, error) {
	resp, err := c.Get("/api/v1/runs/?" + opts.Values().Encode())
	if err != nil {
		return nil, nil, err
	}
	var runs []*model.Run
	if err := json.Unmarshal(resp.Data, &runs); err != nil {
		return nil, nil, fmt.Errorf("parse runs: %w", err)
	}
	return runs, pageOrCount(resp.Pagination, len(runs)), nil
}

// GetRun fetches one run by ID.
func (c *Client) GetRun(id string) (*model.Run, error) {
	resp, err := c.Get("/api/v1/runs/" + url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	var run model.Run
	if err := json.Unmarshal(resp.Data, &run); err != nil {
		return nil, fmt.Errorf("parse run: %w", err)
	}
	return &run, nil
}

// ListEvents fetches one page of a run's switch trace.
func (c *Client) ListEvents(id string, opts model.ListOptions) ([]model.SwitchEvent, *model.Pagination, error) {
	resp, err := c.Get("/api/v1/runs/" + url.PathEscape(id) + "/events?" + opts.Values().Encode())
	if err != nil {
		return nil, nil, err
	}
	var events []model.SwitchEvent
	if err := json.Unmarshal(resp.Data, &events); err != nil {
		return nil, nil, fmt.Errorf("parse events: %w", err)
	}
	return events, pageOrCount(resp.Pagination, len(events)), nil
}

// pageOrCount tolerates servers that leave pagination out.
func pageOrCount(pg *model.Pagination, n int) *model.Pagination {
	if pg != nil {
		return pg
	}
	return &model.Pagination{Total: n, Limit: n}
}
