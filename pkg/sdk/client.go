// Package sdk provides the client-side library for the assessment backend.
// It supports both a remote HTTP connection and a local embedded mode.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/celerix-dev/assessment-bridge/internal/config"
	"github.com/celerix-dev/assessment-bridge/internal/platform/logger"
	"github.com/celerix-dev/assessment-bridge/pkg/engine"
	"github.com/celerix-dev/assessment-bridge/pkg/schema"
)

const maxAttempts = 3

// Client is a remote client for the assessment backend.
// It implements the Backend interface.
type Client struct {
	baseURL string
	apiKey  string
	header  string
	http    *http.Client
	log     *logger.Logger
	backoff time.Duration
}

type Option func(*Client)

// WithHeader overrides the header carrying the shared secret.
func WithHeader(name string) Option {
	return func(c *Client) { c.header = name }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithLogger(log *logger.Logger) Option {
	return func(c *Client) { c.log = log }
}

// Connect returns a client for the backend rooted at baseURL.
func Connect(baseURL, apiKey string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q", baseURL)
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		header:  config.DefaultAPIKeyHeader,
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     logger.Nop(),
		backoff: 200 * time.Millisecond,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// apiError is the {"error","code"} body the backend sends with non-2xx codes.
type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// do sends one request and decodes a 200 body into out. GET requests are
// retried on transport failures and 5xx responses.
func (c *Client) do(ctx context.Context, method, path string, body func() (io.Reader, string, error), out any) error {
	attempts := 1
	if method == http.MethodGet {
		attempts = maxAttempts
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrPeerUnreachable, ctx.Err())
			case <-time.After(time.Duration(i) * c.backoff):
			}
		}

		retry, err := c.once(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			return err
		}
		c.log.Warn("backend call failed", "method", method, "path", path, "attempt", i+1, "error", err)
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, method, path string, body func() (io.Reader, string, error), out any) (bool, error) {
	var reader io.Reader
	var contentType string
	if body != nil {
		var err error
		reader, contentType, err = body()
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return false, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(c.header, c.apiKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return true, fmt.Errorf("%w: %v", ErrPeerUnreachable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return true, fmt.Errorf("%w: read body: %v", ErrPeerUnreachable, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return false, nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return false, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return false, nil
	}

	var apiErr apiError
	_ = json.Unmarshal(raw, &apiErr)
	msg := apiErr.Error
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return false, ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return false, fmt.Errorf("%w: %s", engine.ErrNotFound, path)
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return false, fmt.Errorf("%w: %s", engine.ErrInvalidPackage, msg)
	case apiErr.Code == "invalid_status":
		return false, fmt.Errorf("%w: %s", engine.ErrInvalidStatus, msg)
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("%w: backend returned %d: %s", ErrPeerUnreachable, resp.StatusCode, msg)
	default:
		return false, fmt.Errorf("%w: backend returned %d: %s", ErrMalformedPayload, resp.StatusCode, msg)
	}
}

func jsonBody(v any) func() (io.Reader, string, error) {
	return func() (io.Reader, string, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(b), "application/json", nil
	}
}

func formBody(v url.Values) func() (io.Reader, string, error) {
	return func() (io.Reader, string, error) {
		return strings.NewReader(v.Encode()), "application/x-www-form-urlencoded", nil
	}
}

func (c *Client) ListPackages(ctx context.Context) (map[int]string, error) {
	var pkgs map[int]string
	if err := c.do(ctx, http.MethodGet, "/packages", nil, &pkgs); err != nil {
		return nil, err
	}
	if pkgs == nil {
		pkgs = map[int]string{}
	}
	return pkgs, nil
}

func (c *Client) CreateAssessment(ctx context.Context, req schema.CreateRequest) (schema.Assessment, error) {
	var rec schema.Assessment
	if err := c.do(ctx, http.MethodPost, "/assessments/", jsonBody(req), &rec); err != nil {
		return schema.Assessment{}, err
	}
	if rec.ID == "" {
		return schema.Assessment{}, fmt.Errorf("%w: created record has no id", ErrMalformedPayload)
	}
	return rec, nil
}

func (c *Client) GetAssessment(ctx context.Context, id string) (schema.Assessment, error) {
	var rec schema.Assessment
	if err := c.do(ctx, http.MethodGet, "/assessments/"+url.PathEscape(id), nil, &rec); err != nil {
		return schema.Assessment{}, err
	}
	return rec, nil
}

// UpdateStatus posts the change as form fields, the way the backend's status
// page submits it.
func (c *Client) UpdateStatus(ctx context.Context, id string, upd schema.StatusUpdate) (schema.Assessment, error) {
	form := url.Values{"status": {string(upd.Status)}}
	if upd.Score != nil {
		form.Set("score", strconv.Itoa(*upd.Score))
	}
	var rec schema.Assessment
	if err := c.do(ctx, http.MethodPost, "/assessments/"+url.PathEscape(id)+"/update", formBody(form), &rec); err != nil {
		return schema.Assessment{}, err
	}
	return rec, nil
}

func (c *Client) GetReport(ctx context.Context, id string) (schema.Report, error) {
	var rep schema.Report
	if err := c.do(ctx, http.MethodGet, "/assessments/reports/"+url.PathEscape(id), nil, &rep); err != nil {
		return schema.Report{}, err
	}
	return rep, nil
}

// Ping checks the backend's liveness endpoint.
func (c *Client) Ping(ctx context.Context) error {
	err := c.do(ctx, http.MethodGet, "/hello", nil, nil)
	if errors.Is(err, engine.ErrNotFound) {
		return fmt.Errorf("%w: no liveness endpoint at %s", ErrPeerUnreachable, c.baseURL)
	}
	return err
}
