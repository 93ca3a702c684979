package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// Client is the generic request/response collaborator. Responses are
// unwrapped from the {"error", "data"} envelope and decoded into out.
type Client interface {
	Get(ctx context.Context, path string, params url.Values, out any) error
	Post(ctx context.Context, path string, body any, out any) error
	Put(ctx context.Context, path string, body any, out any) error
	Delete(ctx context.Context, path string, params url.Values, out any) error
}

// Error is an application error reported inside the response envelope.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// ErrUnexpectedStatus wraps non-2xx HTTP responses.
var ErrUnexpectedStatus = errors.New("unexpected http status")

// Config configures an HTTPClient.
type Config struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type envelope struct {
	Error *string         `json:"error"`
	Data  json.RawMessage `json:"data"`
}

// HTTPClient implements Client over fasthttp.
type HTTPClient struct {
	baseURL string
	timeout time.Duration
	client  *fasthttp.Client
	logger  zerolog.Logger
}

// NewHTTPClient creates a client rooted at cfg.BaseURL (e.g. "http://oj/api").
func NewHTTPClient(cfg Config, logger zerolog.Logger) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: timeout,
		client:  &fasthttp.Client{Name: "ojhub-realtime"},
		logger:  logger.With().Str("component", "api").Logger(),
	}
}

func (c *HTTPClient) Get(ctx context.Context, path string, params url.Values, out any) error {
	return c.do(ctx, fasthttp.MethodGet, path, params, nil, out)
}

func (c *HTTPClient) Post(ctx context.Context, path string, body any, out any) error {
	return c.do(ctx, fasthttp.MethodPost, path, nil, body, out)
}

func (c *HTTPClient) Put(ctx context.Context, path string, body any, out any) error {
	return c.do(ctx, fasthttp.MethodPut, path, nil, body, out)
}

func (c *HTTPClient) Delete(ctx context.Context, path string, params url.Values, out any) error {
	return c.do(ctx, fasthttp.MethodDelete, path, params, nil, out)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, params url.Values, body any, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	uri := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(params) > 0 {
		uri += "?" + params.Encode()
	}
	req.SetRequestURI(uri)
	req.Header.SetMethod(method)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(data)
	}

	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = c.client.DoDeadline(req, resp, deadline)
	} else {
		err = c.client.DoTimeout(req, resp, c.timeout)
	}
	if err != nil {
		c.logger.Debug().Err(err).Str("method", method).Str("path", path).Msg("request failed")
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		return fmt.Errorf("%s %s: %w %d", method, path, ErrUnexpectedStatus, status)
	}
	return decodeEnvelope(resp.Body(), out)
}

func decodeEnvelope(body []byte, out any) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.Error != nil && *env.Error != "" {
		apiErr := &Error{Code: *env.Error}
		var msg string
		if json.Unmarshal(env.Data, &msg) == nil {
			apiErr.Message = msg
		}
		return apiErr
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
