// Package relay delivers status-change notifications to the webhook URL
// recorded on an assessment.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"

	"github.com/celerix-dev/assessment-bridge/internal/platform/tracing"
	"github.com/celerix-dev/assessment-bridge/internal/vault"
	"github.com/celerix-dev/assessment-bridge/pkg/schema"
)

// ErrNoDestination is returned when a notification has no webhook URL.
var ErrNoDestination = errors.New("relay: no webhook url")

// Notifier delivers one notification. Implementations decide the delivery
// guarantee; callers treat every error as non-fatal.
type Notifier interface {
	Notify(ctx context.Context, url string, n schema.Notification) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, url string, n schema.Notification) error

func (f NotifierFunc) Notify(ctx context.Context, url string, n schema.Notification) error {
	return f(ctx, url, n)
}

// StatusError reports a non-2xx answer from the webhook receiver.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("relay: webhook answered %d: %s", e.Code, e.Body)
}

// HTTPNotifier makes a single bounded POST per notification: best effort,
// at most once.
type HTTPNotifier struct {
	client     *http.Client
	signingKey []byte
}

// NewHTTPNotifier returns a notifier whose requests time out after timeout.
// When signingKey is non-empty every request carries an X-Verify signature.
func NewHTTPNotifier(timeout time.Duration, signingKey string) *HTTPNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	n := &HTTPNotifier{client: &http.Client{Timeout: timeout}}
	if signingKey != "" {
		n.signingKey = []byte(signingKey)
	}
	return n
}

func (h *HTTPNotifier) Notify(ctx context.Context, url string, n schema.Notification) error {
	if strings.TrimSpace(url) == "" {
		return ErrNoDestination
	}

	ctx, span := tracing.Tracer("relay").Start(ctx, "relay.Notify")
	defer span.End()
	span.SetAttributes(attribute.String("assessment.id", n.ID), attribute.String("assessment.status", string(n.Status)))

	body, err := json.Marshal(n)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad request")
		return fmt.Errorf("relay: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if len(h.signingKey) > 0 {
		req.Header.Set(vault.SignatureHeader, vault.Sign(body, h.signingKey))
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := h.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		return fmt.Errorf("relay: deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
