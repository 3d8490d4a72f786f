package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"jobportal-admin/gateway/internal/routing"
	"jobportal-admin/shared/apperr"
	"jobportal-admin/shared/authx"
	"jobportal-admin/shared/httpx"
	"jobportal-admin/shared/logx"
	"jobportal-admin/shared/metricsx"
)

const (
	HeaderSubject = "X-Auth-Subject"
	HeaderEmail   = "X-Auth-Email"
	HeaderUserID  = "X-Auth-User-Id"

	maxErrorBodyBytes = 64 << 10
	maxBodyBytes      = 8 << 20
)

// Describer resolves an operation to a concrete call.
type Describer interface {
	Describe(service routing.Service, op routing.Operation, params map[string]string) (routing.CallDescriptor, error)
}

// Caller performs one upstream round trip. body is sent as JSON when non-nil
// and out receives the decoded response when non-nil.
type Caller interface {
	Call(ctx context.Context, service routing.Service, op routing.Operation, params map[string]string, body any, out any) error
}

type BreakerSettings struct {
	Threshold int
	Reset     time.Duration
}

// HTTPCaller is the HTTP transport adapter. It never retries.
type HTTPCaller struct {
	dir      Describer
	http     *http.Client
	logger   logx.Logger
	settings BreakerSettings

	mu       sync.Mutex
	breakers map[routing.Service]*circuitBreaker
}

func NewHTTPCaller(dir Describer, client *http.Client, logger logx.Logger, settings BreakerSettings) *HTTPCaller {
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if settings.Threshold <= 0 {
		settings.Threshold = 5
	}
	if settings.Reset <= 0 {
		settings.Reset = 30 * time.Second
	}
	return &HTTPCaller{
		dir:      dir,
		http:     client,
		logger:   logger,
		settings: settings,
		breakers: make(map[routing.Service]*circuitBreaker),
	}
}

func (c *HTTPCaller) breaker(service routing.Service) *circuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[service]
	if !ok {
		b = newCircuitBreaker(c.settings.Threshold, c.settings.Reset)
		c.breakers[service] = b
	}
	return b
}

func (c *HTTPCaller) Call(ctx context.Context, service routing.Service, op routing.Operation, params map[string]string, body any, out any) error {
	call, err := c.dir.Describe(service, op, params)
	if err != nil {
		return err
	}
	breaker := c.breaker(service)
	if !breaker.Allow() {
		metricsx.ObserveUpstreamCall(string(service), string(op), "circuit_open", 0)
		return apperr.New(apperr.UpstreamUnavailable, fmt.Sprintf("%s is temporarily unavailable", serviceNoun(service)))
	}

	start := time.Now()
	status, err := c.do(ctx, call, body, out)
	outcome := "ok"
	if err != nil {
		outcome = strings.ToLower(string(apperr.CategoryOf(err)))
		switch {
		case status == 0 && ctx.Err() != nil:
			breaker.Abandon()
		case status == 0 || status >= http.StatusInternalServerError:
			breaker.Fail()
		default:
			breaker.Success()
		}
		c.logger.Warn(ctx, "upstream_call_failed", "upstream call failed",
			slog.String("error_code", string(apperr.CategoryOf(err))),
			slog.String("error", err.Error()),
			slog.String("service", string(service)),
			slog.String("operation", string(op)),
			slog.Int("status", status),
		)
	} else {
		breaker.Success()
	}
	metricsx.ObserveUpstreamCall(string(service), string(op), outcome, time.Since(start))
	return err
}

func (c *HTTPCaller) do(ctx context.Context, call routing.CallDescriptor, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, apperr.Wrap(err, apperr.Internal, "encode upstream request")
		}
		reader = bytes.NewReader(payload)
	}

	callCtx, cancel := context.WithTimeout(ctx, call.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, call.Method, call.URL, reader)
	if err != nil {
		return 0, apperr.Wrap(err, apperr.Internal, "build upstream request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	propagateIdentity(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		noun := serviceNoun(call.Service)
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return 0, apperr.Wrap(err, apperr.UpstreamUnavailable, fmt.Sprintf("%s timed out", noun))
		}
		return 0, apperr.Wrap(err, apperr.UpstreamUnavailable, fmt.Sprintf("%s is unreachable", noun))
	}
	defer resp.Body.Close()

	if err := statusError(call, resp.StatusCode); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyBytes))
		return resp.StatusCode, err
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyBytes))
		return resp.StatusCode, nil
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return resp.StatusCode, apperr.Wrap(err, apperr.UpstreamUnavailable, fmt.Sprintf("%s timed out", serviceNoun(call.Service)))
		}
		return resp.StatusCode, apperr.Wrap(err, apperr.UpstreamError, fmt.Sprintf("%s returned an unreadable response", serviceNoun(call.Service)))
	}
	// Some writes answer 2xx with a plain text acknowledgement. The write has
	// committed, so out keeps whatever the client seeded it with.
	if !decodable(resp.Header.Get("Content-Type"), raw) {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp.StatusCode, apperr.Wrap(err, apperr.UpstreamError, fmt.Sprintf("%s returned an unreadable response", serviceNoun(call.Service)))
	}
	return resp.StatusCode, nil
}

// decodable reports whether a 2xx body should be decoded as JSON. Declared
// JSON must parse; undeclared bodies are decoded only when they are JSON.
func decodable(contentType string, body []byte) bool {
	if len(bytes.TrimSpace(body)) == 0 {
		return false
	}
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		if mediaType == "application/json" || strings.HasSuffix(mediaType, "+json") {
			return true
		}
	}
	return json.Valid(body)
}

// statusError maps an upstream status to the error taxonomy. The upstream
// body is never copied into the message.
func statusError(call routing.CallDescriptor, status int) error {
	noun := serviceNoun(call.Service)
	cause := fmt.Errorf("%s %s returned %d", call.Method, call.Operation, status)
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return apperr.Wrap(cause, apperr.NotFound, resourceNoun(call.Service)+" not found")
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity || status == http.StatusConflict:
		return apperr.Wrap(cause, apperr.InvalidRequest, fmt.Sprintf("%s rejected the request", noun))
	case status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout:
		return apperr.Wrap(cause, apperr.UpstreamUnavailable, fmt.Sprintf("%s is unavailable", noun))
	default:
		return apperr.Wrap(cause, apperr.UpstreamError, fmt.Sprintf("%s failed", noun))
	}
}

// propagateIdentity forwards the verified identity, never the raw credential.
func propagateIdentity(ctx context.Context, req *http.Request) {
	if id, ok := authx.FromContext(ctx); ok {
		req.Header.Set(HeaderSubject, id.Subject)
		if id.Email != "" {
			req.Header.Set(HeaderEmail, id.Email)
		}
		if id.UserID != "" {
			req.Header.Set(HeaderUserID, id.UserID)
		}
	}
	if rid := httpx.RequestIDFromContext(ctx); rid != "" {
		req.Header.Set("X-Request-ID", rid)
	}
	req.Header.Del("Authorization")
}

func serviceNoun(s routing.Service) string {
	switch s {
	case routing.ServiceJobs:
		return "job service"
	case routing.ServiceUsers:
		return "user service"
	case routing.ServiceApplications:
		return "job application service"
	}
	return strings.ToLower(string(s))
}

func resourceNoun(s routing.Service) string {
	switch s {
	case routing.ServiceJobs:
		return "job"
	case routing.ServiceUsers:
		return "user"
	case routing.ServiceApplications:
		return "job application"
	}
	return "resource"
}
