package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPClient makes REST calls to the document backend.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a client targeting the given base URL (e.g. "http://127.0.0.1:8080").
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// BaseURL returns the backend base URL.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// SignInAnonymously sends POST /v1/auth/anonymous.
func (c *HTTPClient) SignInAnonymously(ctx context.Context) (*AuthUser, error) {
	var out AuthUser
	if err := c.do(ctx, http.MethodPost, "/v1/auth/anonymous", "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SignInWithCustomToken sends POST /v1/auth/custom-token.
func (c *HTTPClient) SignInWithCustomToken(ctx context.Context, token string) (*AuthUser, error) {
	body := map[string]string{"token": token}
	var out AuthUser
	if err := c.do(ctx, http.MethodPost, "/v1/auth/custom-token", "", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Me fetches /v1/auth/me. A revoked or expired token yields ErrUnauthorized.
func (c *HTTPClient) Me(ctx context.Context, idToken string) (*AuthUser, error) {
	var out AuthUser
	if err := c.do(ctx, http.MethodGet, "/v1/auth/me", idToken, nil, &out); err != nil {
		return nil, err
	}
	out.IDToken = idToken
	return &out, nil
}

// Refresh sends POST /v1/auth/refresh, trading a valid or recently expired
// ID token for a new one with the same uid.
func (c *HTTPClient) Refresh(ctx context.Context, idToken string) (*AuthUser, error) {
	var out AuthUser
	if err := c.do(ctx, http.MethodPost, "/v1/auth/refresh", idToken, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SignOut sends POST /v1/auth/signout.
func (c *HTTPClient) SignOut(ctx context.Context, idToken string) error {
	return c.do(ctx, http.MethodPost, "/v1/auth/signout", idToken, nil, nil)
}

// AddDocument sends POST /v1/documents?path=...
func (c *HTTPClient) AddDocument(ctx context.Context, idToken, path string, fields map[string]any) (*Record, error) {
	var out Record
	if err := c.do(ctx, http.MethodPost, "/v1/documents?path="+url.QueryEscape(path), idToken, fields, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path, idToken string, body, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idToken != "" {
		req.Header.Set("Authorization", "Bearer "+idToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Status: resp.StatusCode}
		var payload ErrorPayload
		if json.Unmarshal(respBody, &payload) == nil && payload.Code != "" {
			apiErr.Code = payload.Code
			apiErr.Message = payload.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
