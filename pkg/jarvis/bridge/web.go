package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Response is the raw outcome of a web request.
type Response struct {
	StatusCode  int
	ContentType string
	Body        string
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Request failed with status %d: %s", e.StatusCode, excerpt(e.Body, 200))
}

// Web runs HTTP requests on the executor. FetchURL and PerformWebAction
// follow the caller-facing contract of always returning a displayable
// string; Do returns structured results for handlers that parse bodies.
type Web struct {
	exec    *Executor
	client  *http.Client
	guard   URLGuard
	timeout time.Duration
	maxBody int64
	agent   string
	logger  *slog.Logger
}

// WebConfig configures Web.
type WebConfig struct {
	Timeout   time.Duration
	MaxBody   int64
	UserAgent string
	// Guard validates URLs before they are requested. Nil disables checks.
	Guard URLGuard
	// Client overrides the HTTP client.
	Client *http.Client
}

// NewWeb creates a web helper bound to exec.
func NewWeb(exec *Executor, cfg WebConfig, logger *slog.Logger) *Web {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = 2 << 20
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "jarvis/1.0"
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Web{
		exec:    exec,
		client:  cfg.Client,
		guard:   cfg.Guard,
		timeout: cfg.Timeout,
		maxBody: cfg.MaxBody,
		agent:   cfg.UserAgent,
		logger:  logger.With("component", "web"),
	}
}

// FetchURL returns the body of rawURL or a descriptive error string.
func (w *Web) FetchURL(ctx context.Context, rawURL string) string {
	resp, err := w.Do(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return w.describe(rawURL, err)
	}
	return resp.Body
}

// PerformWebAction issues a GET or POST (payload JSON-encoded when non-nil)
// and returns the response body or a descriptive error string.
func (w *Web) PerformWebAction(ctx context.Context, method, rawURL string, payload any) string {
	resp, err := w.Do(ctx, method, rawURL, payload)
	if err != nil {
		return w.describe(rawURL, err)
	}
	return resp.Body
}

// Do performs the request on the executor and waits for it.
func (w *Web) Do(ctx context.Context, method, rawURL string, payload any) (Response, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method != http.MethodGet && method != http.MethodPost {
		return Response{}, &unsupportedMethodError{method: method}
	}

	if w.guard != nil {
		if err := w.guard.Check(rawURL); err != nil {
			return Response{}, err
		}
	}

	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Response{}, fmt.Errorf("encoding payload: %w", err)
		}
		body = b
	}

	var resp Response
	p, err := w.exec.Submit(func(opCtx context.Context) (string, error) {
		r, err := w.roundTrip(opCtx, method, rawURL, body)
		resp = r
		return r.Body, err
	})
	if err != nil {
		return Response{}, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, w.timeout+time.Second)
	defer cancel()
	if _, err := w.exec.AwaitContext(waitCtx, p); err != nil {
		var opErr *OperationError
		if errors.As(err, &opErr) && opErr.Cause != nil {
			return resp, opErr.Cause
		}
		return Response{}, err
	}
	return resp, nil
}

func (w *Web) roundTrip(ctx context.Context, method, rawURL string, body []byte) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return Response{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", w.agent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := w.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Response{}, fmt.Errorf("%w after %s", ErrTimeout, w.timeout)
		}
		return Response{}, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, w.maxBody))
	if err != nil {
		return Response{}, fmt.Errorf("reading body: %w", err)
	}

	resp := Response{
		StatusCode:  httpResp.StatusCode,
		ContentType: httpResp.Header.Get("Content-Type"),
		Body:        string(data),
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return resp, &StatusError{StatusCode: httpResp.StatusCode, Body: resp.Body}
	}

	w.logger.Debug("request done", "method", method, "url", rawURL, "status", httpResp.StatusCode, "bytes", len(data))
	return resp, nil
}

type unsupportedMethodError struct{ method string }

func (e *unsupportedMethodError) Error() string {
	return "Unsupported HTTP method: " + e.method
}

// describe renders err as the user-facing string for rawURL.
func (w *Web) describe(rawURL string, err error) string {
	var (
		statusErr *StatusError
		methodErr *unsupportedMethodError
	)
	switch {
	case errors.As(err, &statusErr):
		return statusErr.Error()
	case errors.As(err, &methodErr):
		return methodErr.Error()
	case errors.Is(err, ErrTimeout):
		return fmt.Sprintf("Request timed out after %s", w.timeout)
	default:
		w.logger.Warn("web request failed", "url", rawURL, "error", err)
		return fmt.Sprintf("Error fetching %s: %v", rawURL, err)
	}
}

func excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
