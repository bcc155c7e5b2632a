package client

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

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const maxResponseBytes = 1 << 20

var errServerStatus = errors.New("upstream server error")

// CallRecorder observes the outcome of every upstream call.
type CallRecorder interface {
	UpstreamCall(service, outcome string)
}

type Options struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *zap.Logger
	Recorder CallRecorder
}

type response struct {
	status int
	body   []byte
}

// upstream is a JSON-over-HTTP caller behind a circuit breaker. Transport
// failures and 5xx answers trip the breaker; any other status is handed back
// to the caller to interpret. Calls are never retried.
type upstream struct {
	name       string
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[response]
	logger     *zap.Logger
	recorder   CallRecorder
}

func newUpstream(name string, opts Options) *upstream {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	logger := opts.Logger.With(zap.String("upstream", name))
	breaker := gobreaker.NewCircuitBreaker[response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &upstream{
		name:       name,
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		httpClient: &http.Client{Timeout: opts.Timeout},
		breaker:    breaker,
		logger:     logger,
		recorder:   opts.Recorder,
	}
}

func (u *upstream) do(ctx context.Context, method, path, token string, payload any) (response, error) {
	res, err := u.breaker.Execute(func() (response, error) {
		var body io.Reader
		if payload != nil {
			raw, err := json.Marshal(payload)
			if err != nil {
				return response{}, fmt.Errorf("encode request: %w", err)
			}
			body = bytes.NewReader(raw)
		}

		req, err := http.NewRequestWithContext(ctx, method, u.baseURL+path, body)
		if err != nil {
			return response{}, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := u.httpClient.Do(req)
		if err != nil {
			return response{}, err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return response{}, fmt.Errorf("read response: %w", err)
		}

		out := response{status: resp.StatusCode, body: raw}
		if resp.StatusCode >= http.StatusInternalServerError {
			return out, fmt.Errorf("%w: %s %s returned %d", errServerStatus, method, path, resp.StatusCode)
		}
		return out, nil
	})

	u.record(res, err)
	if err != nil {
		u.logger.Error("upstream call failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
	}
	return res, err
}

func (u *upstream) record(res response, err error) {
	if u.recorder == nil {
		return
	}

	outcome := "ok"
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		outcome = "circuit_open"
	case err != nil:
		outcome = "error"
	case res.status != http.StatusOK:
		outcome = "rejected"
	}
	u.recorder.UpstreamCall(u.name, outcome)
}

// envelope is the response shape shared by the auth and wallet services.
type envelope[T any] struct {
	Success bool `json:"success"`
	Data    *T   `json:"data"`
}
