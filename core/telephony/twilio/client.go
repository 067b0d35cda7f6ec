// Package twilio provides the conversation state of a Twilio phone call.
package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultBaseURL = "https://api.twilio.com/2010-04-01"

// Client is a minimal Twilio REST client covering call updates.
type Client struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

type Config struct {
	AccountSID string
	AuthToken  string
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.AccountSID == "" {
		return nil, fmt.Errorf("twilio account sid is required")
	}
	if cfg.AuthToken == "" {
		return nil, fmt.Errorf("twilio auth token is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   30 * time.Second,
		}
	}

	return &Client{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}, nil
}

// Call is the subset of the Twilio call resource used here.
type Call struct {
	SID    string `json:"sid"`
	To     string `json:"to"`
	From   string `json:"from"`
	Status string `json:"status"`
}

// IsEnded reports whether the call reached a final status.
func (c Call) IsEnded() bool {
	switch c.Status {
	case "completed", "canceled", "failed", "busy", "no-answer":
		return true
	}
	return false
}

// APIError is a non-success reply of the Twilio API.
type APIError struct {
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("twilio api error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("twilio api error %d: %s (status %d)", e.Code, e.Message, e.StatusCode)
}

func (c *Client) GetCall(ctx context.Context, callSID string) (*Call, error) {
	var call Call
	if err := c.do(ctx, http.MethodGet, c.callURL(callSID), nil, &call); err != nil {
		return nil, err
	}
	return &call, nil
}

// HangupCall ends an in-progress call.
func (c *Client) HangupCall(ctx context.Context, callSID string) (*Call, error) {
	data := url.Values{}
	data.Set("Status", "completed")

	var call Call
	if err := c.do(ctx, http.MethodPost, c.callURL(callSID), data, &call); err != nil {
		return nil, err
	}
	return &call, nil
}

func (c *Client) callURL(callSID string) string {
	return fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", c.baseURL, url.PathEscape(c.accountSID), url.PathEscape(callSID))
}

func (c *Client) do(ctx context.Context, method, endpoint string, data url.Values, result any) error {
	var body io.Reader
	if data != nil {
		body = strings.NewReader(data.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	if data != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(respBody, apiErr)
		return apiErr
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("error unmarshalling JSON: %w", err)
		}
	}
	return nil
}
