// Package solver talks to the remote model-computation service. The service
// is a pure function of its input, so successful answers may be cached.
package solver

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

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/decisionhub/backend/internal/metrics"
	"github.com/decisionhub/backend/pkg/circuitbreaker"
	"github.com/decisionhub/backend/pkg/logger"
	"github.com/decisionhub/backend/pkg/retry"
	"github.com/decisionhub/backend/pkg/utils"
)

const EndpointBWM = "bwm"

// ErrUnavailable wraps transport failures, non-2xx answers and an open breaker.
var ErrUnavailable = errors.New("model service unavailable")

// RemoteError is a well-formed answer with success=false. Msg is shown to
// the caller verbatim.
type RemoteError struct {
	Endpoint string
	Msg      string
}

func (e *RemoteError) Error() string {
	return e.Msg
}

type Config struct {
	BaseURL          string
	Timeout          time.Duration
	MaxAttempts      int
	FailureThreshold int
	OpenTimeout      time.Duration
	CacheTTL         time.Duration
}

// Cache stores raw successful answers. Get reports a miss with ok=false.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
	retryCfg   retry.Config
	cache      Cache
	cacheTTL   time.Duration
	inflight   singleflight.Group
}

// NewClient builds a client. cache may be nil.
func NewClient(cfg Config, cache Cache) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.Name = "model-service"
	retryCfg.MaxAttempts = cfg.MaxAttempts
	retryCfg.InitialDelay = 200 * time.Millisecond
	retryCfg.MaxDelay = 2 * time.Second
	retryCfg.ShouldRetry = func(err error) bool {
		return errors.Is(err, ErrUnavailable)
	}
	retryCfg.Logger = logger.Named("model-service")

	breaker := circuitbreaker.New("model-service", circuitbreaker.Config{
		FailureThreshold: cfg.FailureThreshold,
		Cooldown:         cfg.OpenTimeout,
		// A model that rejects its input is healthy.
		IsFailure: func(err error) bool {
			var remote *RemoteError
			return err != nil && !errors.As(err, &remote)
		},
		OnStateChange: func(_, to circuitbreaker.State) {
			metrics.SolverBreakerState.Set(float64(to))
		},
		Logger: logger.Named("model-service"),
	})

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    breaker,
		retryCfg:   retryCfg,
		cache:      cache,
		cacheTTL:   cfg.CacheTTL,
	}
}

// Request is the body every ranking and consensus endpoint accepts.
type Request struct {
	Matrices           interface{}            `json:"matrices"`
	ModelParameters    map[string]interface{} `json:"modelParameters"`
	CriterionTypes     []string               `json:"criterionTypes,omitempty"`
	ConsensusThreshold *float64               `json:"consensusThreshold,omitempty"`
}

type envelope struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Results json.RawMessage `json:"results"`
	Weights []float64       `json:"weights"`
}

// Run calls endpoint and returns its raw results object.
func (c *Client) Run(ctx context.Context, endpoint string, req Request) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal solver request: %w", err)
	}

	env, err := c.call(ctx, endpoint, body)
	if err != nil {
		return nil, err
	}
	if len(env.Results) == 0 || string(env.Results) == "null" {
		return nil, &RemoteError{Endpoint: endpoint, Msg: "model service returned no results"}
	}
	return env.Results, nil
}

// BWMInput is one expert's best-worst vectors over the canonical leaf order:
// MIC holds best-to-others scores, LIC others-to-worst.
type BWMInput struct {
	MIC []float64 `json:"mic"`
	LIC []float64 `json:"lic"`
}

// BWM aggregates best-worst submissions keyed by expert into one weight vector.
func (c *Client) BWM(ctx context.Context, experts map[string]BWMInput) ([]float64, error) {
	body, err := json.Marshal(struct {
		ExpertsData map[string]BWMInput `json:"experts_data"`
		EpsPenalty  int                 `json:"eps_penalty"`
	}{ExpertsData: experts, EpsPenalty: 1})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bwm request: %w", err)
	}

	env, err := c.call(ctx, EndpointBWM, body)
	if err != nil {
		return nil, err
	}

	weights := env.Weights
	if len(weights) == 0 && len(env.Results) > 0 {
		var nested struct {
			Weights []float64 `json:"weights"`
		}
		if err := json.Unmarshal(env.Results, &nested); err == nil {
			weights = nested.Weights
		}
	}
	if len(weights) == 0 {
		return nil, &RemoteError{Endpoint: EndpointBWM, Msg: "model service returned no weights"}
	}
	return weights, nil
}

func (c *Client) call(ctx context.Context, endpoint string, body []byte) (*envelope, error) {
	key := "solver:" + endpoint + ":" + utils.Digest(endpoint, string(body))
	if env, ok := c.cached(ctx, key); ok {
		return env, nil
	}

	// Identical concurrent requests share one round trip.
	v, err, _ := c.inflight.Do(key, func() (interface{}, error) {
		return c.fetch(ctx, endpoint, key, body)
	})
	if err != nil {
		return nil, err
	}
	return v.(*envelope), nil
}

func (c *Client) fetch(ctx context.Context, endpoint, key string, body []byte) (*envelope, error) {
	start := time.Now()
	var raw []byte
	err := retry.Do(ctx, c.retryCfg, func() error {
		return c.breaker.Execute(ctx, func() error {
			var err error
			raw, err = c.post(ctx, endpoint, body)
			return err
		})
	})
	metrics.SolverDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.SolverRequests.WithLabelValues(endpoint, "unavailable").Inc()
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrProbeInFlight) {
			err = fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		logger.Warn("Model service call failed", zap.String("endpoint", endpoint), zap.Error(err))
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		metrics.SolverRequests.WithLabelValues(endpoint, "malformed").Inc()
		return nil, fmt.Errorf("%w: malformed response from %s: %v", ErrUnavailable, endpoint, err)
	}
	if !env.Success {
		metrics.SolverRequests.WithLabelValues(endpoint, "rejected").Inc()
		msg := env.Msg
		if msg == "" {
			msg = fmt.Sprintf("model service rejected the %s request", endpoint)
		}
		return nil, &RemoteError{Endpoint: endpoint, Msg: msg}
	}

	metrics.SolverRequests.WithLabelValues(endpoint, "success").Inc()
	c.store(ctx, key, raw)
	return &env, nil
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrUnavailable, endpoint, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		// 4xx answers usually still carry {success:false, msg}.
		var env envelope
		if json.Unmarshal(data, &env) == nil && env.Msg != "" {
			return data, nil
		}
		return nil, &RemoteError{Endpoint: endpoint, Msg: fmt.Sprintf("model service returned status %d", resp.StatusCode)}
	}
	return data, nil
}

func (c *Client) cached(ctx context.Context, key string) (*envelope, bool) {
	if c.cache == nil {
		return nil, false
	}
	raw, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		logger.Warn("Solver cache read failed", zap.Error(err))
		return nil, false
	}
	if !ok {
		metrics.CacheMisses.WithLabelValues("solver").Inc()
		return nil, false
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || !env.Success {
		return nil, false
	}
	metrics.CacheHits.WithLabelValues("solver").Inc()
	return &env, true
}

func (c *Client) store(ctx context.Context, key string, raw []byte) {
	if c.cache == nil || c.cacheTTL <= 0 {
		return
	}
	if err := c.cache.Set(ctx, key, raw, c.cacheTTL); err != nil {
		logger.Warn("Solver cache write failed", zap.Error(err))
	}
}
