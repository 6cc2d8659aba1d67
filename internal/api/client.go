// Package api is the REST client for the chat backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"ecochat/internal/observability"
	"ecochat/models"
)

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token() string
}

// Client calls the chat REST endpoints.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	logger  *observability.APILogger
}

// NewClient returns a client for baseURL. tokens may be nil until login has happened.
func NewClient(baseURL string, timeout time.Duration, tokens TokenSource) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
		logger:  observability.NewAPILogger("chat-api"),
	}
}

// WithTokens returns a copy of c that authenticates with tokens.
func (c *Client) WithTokens(tokens TokenSource) *Client {
	clone := *c
	clone.tokens = tokens
	return &clone
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return models.NewValidationError(fmt.Sprintf("encode %s request: %v", op, err))
		}
		body = bytes.NewReader(raw)
	}
	contentType := ""
	if in != nil {
		contentType = "application/json"
	}
	return c.do(ctx, op, method, path, query, contentType, body, out)
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, contentType string, body io.Reader, out any) error {
	span, ctx := observability.NewSpan(ctx, "api."+op,
		attribute.String("http.method", method),
		attribute.String("http.route", path),
	)
	defer span.End()

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		span.SetError(err)
		return models.NewValidationError(fmt.Sprintf("build %s request: %v", op, err))
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	observability.InjectHeaders(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		observability.APIRequestLatency.WithLabelValues(op, "error").Observe(time.Since(start).Seconds())
		appErr := models.NewFetchError(op, err)
		c.fail(ctx, span, op, appErr)
		return appErr
	}
	defer resp.Body.Close()

	elapsed := time.Since(start)
	observability.APIRequestLatency.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Observe(elapsed.Seconds())
	span.AddAttributes(attribute.Int("http.status_code", resp.StatusCode))
	c.logger.LogCall(ctx, op, method, path, resp.StatusCode, elapsed.Milliseconds())

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		appErr := models.NewFetchError(op, err)
		c.fail(ctx, span, op, appErr)
		return appErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		appErr := statusError(op, resp.StatusCode, raw)
		c.fail(ctx, span, op, appErr)
		return appErr
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		appErr := models.NewFetchError(op, fmt.Errorf("decode response: %w", err))
		c.fail(ctx, span, op, appErr)
		return appErr
	}
	return nil
}

func (c *Client) fail(ctx context.Context, span *observability.Span, op string, err *models.AppError) {
	span.SetError(err)
	observability.APIErrors.WithLabelValues(op, err.Code).Inc()
	c.logger.LogError(ctx, op, err)
}

func statusError(op string, status int, raw []byte) *models.AppError {
	var body errorBody
	_ = json.Unmarshal(raw, &body)
	message := body.Message
	if message == "" {
		message = body.Error
	}

	var appErr *models.AppError
	switch status {
	case http.StatusUnauthorized:
		appErr = models.NewUnauthorizedError("session expired, please sign in again")
	case http.StatusForbidden:
		appErr = models.NewForbiddenError("you no longer have access to this room")
	case http.StatusNotFound:
		appErr = &models.AppError{Code: models.CodeNotFound, Message: "the requested resource no longer exists"}
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		appErr = models.NewValidationError("request rejected")
	default:
		appErr = models.NewFetchError(op, nil)
	}
	if message != "" {
		appErr.Message = message
	}
	appErr.Err = fmt.Errorf("%s: HTTP %d", op, status)
	return appErr
}

func roomPath(roomID int64, suffix string) string {
	return "/api/chat/rooms/" + strconv.FormatInt(roomID, 10) + suffix
}

func messagePath(messageID int64, suffix string) string {
	return "/api/chat/messages/" + strconv.FormatInt(messageID, 10) + suffix
}

func memberQuery(memberID int64) url.Values {
	return url.Values{"memberId": []string{strconv.FormatInt(memberID, 10)}}
}
