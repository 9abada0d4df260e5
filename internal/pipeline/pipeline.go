// Package pipeline performs the SDK's outbound HTTP calls. It attaches the bearer
// token and device headers, retries transient transport failures with backoff,
// validates response shape, and classifies every failure into the error taxonomy
// the rest of the SDK acts on. It never touches stored credentials itself: reading
// the current token is delegated to a callback and rotating it is the refresh
// coordinator's job.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"leadpilot/authkit/internal/identity"
	"leadpilot/authkit/internal/logger"
)

// Request describes one outbound call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	// Body is JSON-marshaled when non-nil.
	Body any
	// Out receives the decoded response body when non-nil. A body that does not
	// decode into Out, or whose Validate() fails, is a ValidationError.
	Out any
	// NoAuth skips the Authorization header (login, refresh).
	NoAuth bool
	// TokenOverride replaces the ambient access token for this call, e.g. the
	// management token during session-limit resolution.
	TokenOverride string
}

// validatable is implemented by response types that check their own shape after
// decoding.
type validatable interface {
	Validate() error
}

// Pipeline sends requests to the backend.
type Pipeline struct {
	baseURL    string
	clientType string
	deviceID   func() string
	token      func() string
	hc         *http.Client
	log        *zap.Logger
	tracer     trace.Tracer

	maxRetries    uint64
	retryInterval time.Duration
}

// New returns a Pipeline for baseURL. deviceID and token supply the current
// header values per attempt; token may return "" when anonymous. hc may be nil
// for a default client; log may be nil.
func New(baseURL, clientType string, deviceID, token func() string, hc *http.Client, log *zap.Logger) *Pipeline {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Pipeline{
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		clientType:    clientType,
		deviceID:      deviceID,
		token:         token,
		hc:            hc,
		log:           logger.OrNop(log),
		tracer:        otel.Tracer("leadpilot/authkit/pipeline"),
		maxRetries:    2,
		retryInterval: 500 * time.Millisecond,
	}
}

// SetRetryPolicy overrides the transport retry policy (attempts beyond the first,
// initial backoff interval). Zero retries disables retrying.
func (p *Pipeline) SetRetryPolicy(maxRetries uint64, initialInterval time.Duration) {
	p.maxRetries = maxRetries
	if initialInterval > 0 {
		p.retryInterval = initialInterval
	}
}

// Do performs the request and decodes the response into req.Out. Failures come
// back as *APIError, *ValidationError, or *SessionLimitError.
func (p *Pipeline) Do(ctx context.Context, req Request) error {
	var payload []byte
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("pipeline: marshal request body: %w", err)
		}
		payload = b
	}

	u := p.baseURL + req.Path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	ctx, span := p.tracer.Start(ctx, req.Method+" "+req.Path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("url.path", req.Path),
		))
	defer span.End()

	var (
		status int
		body   []byte
	)
	attempt := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, req.Method, u, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("pipeline: build request: %w", err))
		}
		p.setHeaders(httpReq, req)

		resp, err := p.hc.Do(httpReq)
		if err != nil {
			p.log.Debug("transport attempt failed",
				zap.String("method", req.Method), zap.String("path", req.Path), zap.Error(err))
			return err
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		status = resp.StatusCode
		body = b
		return nil
	}

	retries := p.maxRetries
	if !idempotent(req.Method) {
		// A timed-out POST may have reached the server; retrying it risks a
		// duplicate submission, so only idempotent methods retry automatically.
		retries = 0
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.retryInterval
	if err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(bo, retries), ctx)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		return &APIError{
			Kind:    KindTransport,
			Message: "could not reach the server; check your connection and try again",
			cause:   err,
		}
	}

	span.SetAttributes(attribute.Int("http.status_code", status))
	if status >= 200 && status < 300 {
		return p.decodeSuccess(req, body)
	}
	span.SetStatus(codes.Error, http.StatusText(status))
	return p.decodeFailure(req, status, body)
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return true
	}
	return false
}

func (p *Pipeline) setHeaders(httpReq *http.Request, req Request) {
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Device-Id", p.deviceID())
	httpReq.Header.Set("X-Client-Type", p.clientType)
	httpReq.Header.Set("X-Request-Id", uuid.New().String())

	tok := req.TokenOverride
	if tok == "" && !req.NoAuth && p.token != nil {
		tok = p.token()
	}
	if tok != "" {
		httpReq.Header.Set("Authorization", "Bearer "+tok)
	}
}

func (p *Pipeline) decodeSuccess(req Request, body []byte) error {
	if req.Out == nil {
		return nil
	}
	if err := json.Unmarshal(body, req.Out); err != nil {
		p.log.Warn("response shape mismatch",
			zap.String("path", req.Path), zap.Error(err))
		return &ValidationError{Reason: err.Error(), Raw: body}
	}
	if v, ok := req.Out.(validatable); ok {
		if err := v.Validate(); err != nil {
			p.log.Warn("response failed validation",
				zap.String("path", req.Path), zap.Error(err))
			return &ValidationError{Reason: err.Error(), Raw: body}
		}
	}
	return nil
}

// errorBody is the superset of error shapes the backend produces.
type errorBody struct {
	Status          int                          `json:"status"`
	Code            string                       `json:"code"`
	Message         string                       `json:"message"`
	ManagementToken string                       `json:"managementToken"`
	Sessions        []identity.SessionDescriptor `json:"sessions"`
}

func (p *Pipeline) decodeFailure(req Request, status int, body []byte) error {
	var eb errorBody
	_ = json.Unmarshal(body, &eb) // an undecodable body still classifies by status
	if eb.Message == "" {
		eb.Message = http.StatusText(status)
	}

	if eb.Code == CodeSessionLimit {
		return &SessionLimitError{
			ManagementToken: eb.ManagementToken,
			Sessions:        eb.Sessions,
			Message:         eb.Message,
		}
	}

	kind := classify(status, eb.Code, eb.Message)
	p.log.Debug("request failed",
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.Int("status", status),
		zap.String("code", eb.Code),
		zap.String("kind", string(kind)))
	return &APIError{
		Kind:    kind,
		Status:  status,
		Code:    eb.Code,
		Message: eb.Message,
		Body:    body,
	}
}
