package metering

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

// RetryConfig 计量请求的重试配置
type RetryConfig struct {
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	RespectRetryAfter bool
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       100 * time.Millisecond,
		BackoffMax:        time.Second,
		RespectRetryAfter: true,
	}
}

// RetryTransport 对 429/5xx 与可重试网络错误做指数退避重试
type RetryTransport struct {
	Base http.RoundTripper
	cfg  RetryConfig
}

func NewRetryTransport(base http.RoundTripper, cfg RetryConfig) *RetryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &RetryTransport{Base: base, cfg: cfg}
}

func (rt *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if rt.cfg.MaxAttempts <= 1 {
		return rt.Base.RoundTrip(req)
	}

	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		data, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to cache request body: %w", err)
		}
		body = data
	}

	var lastErr error
	for attempt := 1; attempt <= rt.cfg.MaxAttempts; attempt++ {
		if err := req.Context().Err(); err != nil {
			return nil, err
		}

		resp, err := rt.Base.RoundTrip(cloneWithBody(req, body))
		last := attempt == rt.cfg.MaxAttempts
		if err != nil {
			lastErr = err
			if last || !retryableError(err) {
				return nil, err
			}
			logRetry(req, attempt, rt.cfg.MaxAttempts, err, 0)
			rt.backoff(req.Context(), attempt, nil)
			continue
		}

		if !last && retryableStatus(resp.StatusCode) {
			wait := rt.retryAfter(resp)
			logRetry(req, attempt, rt.cfg.MaxAttempts, nil, resp.StatusCode)
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			rt.backoff(req.Context(), attempt, wait)
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("retry exhausted after %d attempts: %w", rt.cfg.MaxAttempts, lastErr)
}

func cloneWithBody(req *http.Request, body []byte) *http.Request {
	clone := req.Clone(req.Context())
	if body == nil {
		clone.Body = http.NoBody
		clone.ContentLength = 0
		return clone
	}
	clone.Body = io.NopCloser(bytes.NewReader(body))
	clone.ContentLength = int64(len(body))
	return clone
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func retryableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE)
}

func (rt *RetryTransport) retryAfter(resp *http.Response) *time.Duration {
	if !rt.cfg.RespectRetryAfter {
		return nil
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs >= 0 {
		d := time.Duration(secs) * time.Second
		return &d
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return &d
		}
	}
	return nil
}

func (rt *RetryTransport) backoff(ctx context.Context, attempt int, wait *time.Duration) {
	var delay time.Duration
	if wait != nil {
		delay = *wait
	} else {
		delay = rt.cfg.BackoffBase * (1 << (attempt - 1))
		// ±25% 抖动
		delay += time.Duration(rand.Float64()*float64(delay)*0.5) - delay/4
	}
	if rt.cfg.BackoffMax > 0 && delay > rt.cfg.BackoffMax {
		delay = rt.cfg.BackoffMax
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func logRetry(req *http.Request, attempt, maxAttempts int, err error, status int) {
	fields := log.Fields{
		"host":        req.URL.Host,
		"path":        req.URL.Path,
		"attempt":     attempt,
		"maxAttempts": maxAttempts,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	if status != 0 {
		fields["statusCode"] = status
	}
	log.WithFields(fields).Warnf("metering: attempt %d/%d failed, will retry", attempt, maxAttempts)
}
