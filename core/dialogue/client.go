// Package dialogue is the client of the remote dialogue backend that turns a
// user utterance into a structured reply.
package dialogue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	completionPath = "/completion"

	defaultTimeout = 30 * time.Second
	// maxResponseBytes bounds how much of a reply is read
	maxResponseBytes = 1 << 20
)

// Client sends turn requests to the dialogue backend. It is safe for
// concurrent use by multiple conversations.
type Client struct {
	completionURL string
	httpClient    *http.Client
}

type ClientOption func(*clientOptions)

type clientOptions struct {
	httpClient *http.Client
	timeout    time.Duration
}

// WithHTTPClient replaces the HTTP client used to reach the backend. Its
// transport is used as is.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(o *clientOptions) { o.httpClient = client }
}

// WithTimeout bounds a single request, including reading the reply.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(o *clientOptions) { o.timeout = timeout }
}

func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("dialogue backend base url is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid dialogue backend base url: %w", err)
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return nil, fmt.Errorf("dialogue backend base url %q is not absolute", baseURL)
	}

	options := clientOptions{timeout: defaultTimeout}
	for _, opt := range opts {
		opt(&options)
	}

	httpClient := options.httpClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
					return operationName + " " + request.URL.Path
				}),
			),
			Timeout: options.timeout,
		}
	}

	return &Client{
		completionURL: strings.TrimRight(parsed.String(), "/") + completionPath,
		httpClient:    httpClient,
	}, nil
}

// Send performs a single completion request. It fails with an
// *UnavailableError when the backend cannot be reached and with a
// *ProtocolError when the reply is not a valid TurnResponse for the
// request's conversation.
func (c *Client) Send(ctx context.Context, request TurnRequest) (*TurnResponse, error) {
	ctx, span := tracer.Start(ctx, "send turn request")
	defer span.End()
	span.SetAttributes(
		attribute.String("conversation.id", request.ConversationID),
		attribute.Bool("request.has_phone_number", request.PhoneNumber != nil),
	)

	requestBodyBytes, err := json.Marshal(request)
	if err != nil {
		err = fmt.Errorf("error marshalling JSON: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	logger.InfoContext(ctx, "sending turn request",
		slog.String("url", c.completionURL),
		slog.String("payload", string(requestBodyBytes)),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.completionURL, bytes.NewBuffer(requestBodyBytes))
	if err != nil {
		err = fmt.Errorf("error creating HTTP request: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err := &UnavailableError{Err: fmt.Errorf("error sending request: %w", err)}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	respBodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		err := &UnavailableError{Err: fmt.Errorf("error reading response body: %w", err)}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.protocolError(ctx, &ProtocolError{
			StatusCode: resp.StatusCode,
			Reason:     fmt.Sprintf("non-success HTTP status: %s", resp.Status),
			Payload:    string(respBodyBytes),
		})
	}

	if err := validateTurnResponse(respBodyBytes); err != nil {
		return nil, c.protocolError(ctx, &ProtocolError{
			StatusCode: resp.StatusCode,
			Reason:     err.Error(),
			Payload:    string(respBodyBytes),
		})
	}

	var response TurnResponse
	if err := json.Unmarshal(respBodyBytes, &response); err != nil {
		return nil, c.protocolError(ctx, &ProtocolError{
			StatusCode: resp.StatusCode,
			Reason:     fmt.Sprintf("error unmarshalling JSON: %v", err),
			Payload:    string(respBodyBytes),
		})
	}

	if response.ConversationID != request.ConversationID {
		return nil, c.protocolError(ctx, &ProtocolError{
			StatusCode: resp.StatusCode,
			Reason:     fmt.Sprintf("reply belongs to conversation %q, expected %q", response.ConversationID, request.ConversationID),
			Payload:    string(respBodyBytes),
		})
	}

	span.SetAttributes(attribute.Bool("response.end_conversation", response.EndConversation))
	return &response, nil
}

func (c *Client) protocolError(ctx context.Context, err *ProtocolError) error {
	logger.ErrorContext(ctx, "dialogue backend replied with an invalid turn response",
		slog.Int("status_code", err.StatusCode),
		slog.String("reason", err.Reason),
		slog.String("payload", err.Payload),
	)

	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// CloseIdleConnections releases idle keep-alive connections to the backend.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}
