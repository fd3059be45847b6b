package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

// apiClient issues HTTP requests against forgeflowd's REST surface
// (spec.md §6), grounded on tombee-conductor's shared.MakeAPIRequest /
// BuildAPIURL idiom: base URL from an environment variable, a plain
// net/http client, JSON bodies in and out.
type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

func newAPIClient() *apiClient {
	base := os.Getenv("FORGEFLOW_SERVER_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	return &apiClient{baseURL: base, httpClient: &http.Client{Timeout: 30 * time.Second}}
}

// apiError carries the HTTP status alongside the server's {"error": ...}
// body so callers can translate it to an exit code (spec.md §6's 409 for
// conflicts, 422 for invalid state, 404 for unknown workflows).
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Body)
}

func (c *apiClient) do(method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("build url: %w", err)
	}

	req, err := http.NewRequest(method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &apiError{Status: resp.StatusCode, Body: string(respBody)}
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// translateErr maps a network/HTTP failure to the exit-coded error the
// command should surface, per spec.md §6's exit-code contract.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if apiErr, ok := err.(*apiError); ok {
		switch apiErr.Status {
		case http.StatusConflict:
			return newConflictError("conflict", apiErr)
		case http.StatusUnprocessableEntity, http.StatusNotFound:
			return newValidationError("invalid request", apiErr)
		default:
			return newNetworkError("server error", apiErr)
		}
	}
	return newNetworkError("request failed", err)
}
