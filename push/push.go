// Package push delivers best-effort notifications to a user's registered
// devices through the push dispatch endpoint.
package push

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

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultRatePerMinute = 60
	defaultBurst         = 5
	defaultMaxFailures   = 5
	defaultOpenTimeout   = 30 * time.Second
	defaultTitle         = "New message"
)

// ErrThrottled is returned when the local send rate is exceeded.
var ErrThrottled = errors.New("push: rate limit exceeded")

// Config configures a Dispatcher.
type Config struct {
	Endpoint      string
	APIKey        string
	SenderName    string
	RatePerMinute int
	Burst         int
	MaxFailures   uint32
	OpenTimeout   time.Duration
	HTTPClient    *http.Client
}

// StatusError reports a non-2xx reply from the dispatch endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("push endpoint returned %d", e.Code)
	}
	return fmt.Sprintf("push endpoint returned %d: %s", e.Code, e.Body)
}

type payload struct {
	ReceiverID string `json:"receiver_id"`
	Title      string `json:"title"`
	Body       string `json:"body"`
}

// Dispatcher posts notifications behind a circuit breaker and a rate limiter.
type Dispatcher struct {
	endpoint string
	apiKey   string
	title    string
	client   *http.Client
	cb       *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	log      *zap.Logger
}

// New builds a Dispatcher.
func New(cfg Config, logger *zap.Logger) (*Dispatcher, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("push endpoint is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = defaultRatePerMinute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = defaultMaxFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaultOpenTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	title := defaultTitle
	if cfg.SenderName != "" {
		title = cfg.SenderName
	}

	maxFailures := cfg.MaxFailures
	st := gobreaker.Settings{
		Name:        "push",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}

	return &Dispatcher{
		endpoint: endpoint,
		apiKey:   cfg.APIKey,
		title:    title,
		client:   client,
		cb:       gobreaker.NewCircuitBreaker(st),
		limiter:  rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), cfg.Burst),
		log:      logger,
	}, nil
}

// Notify sends preview to every registered device of receiverID.
func (d *Dispatcher) Notify(ctx context.Context, receiverID, preview string) error {
	if receiverID == "" {
		return errors.New("receiver_id is required")
	}
	if !d.limiter.Allow() {
		d.log.Warn("push rate limit exceeded", zap.String("receiver_id", receiverID))
		return ErrThrottled
	}

	body, err := json.Marshal(payload{ReceiverID: receiverID, Title: d.title, Body: preview})
	if err != nil {
		return fmt.Errorf("encode push payload: %w", err)
	}

	res, err := d.cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if d.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+d.apiKey)
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		statusErr := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
		// 5xx counts against the breaker; 4xx is the caller's problem
		if resp.StatusCode >= 500 {
			return nil, statusErr
		}
		return statusErr, nil
	})
	if err != nil {
		d.log.Error("push dispatch failed", zap.String("receiver_id", receiverID), zap.Error(err))
		return fmt.Errorf("notify %q: %w", receiverID, err)
	}

	if statusErr, ok := res.(*StatusError); ok && (statusErr.Code < 200 || statusErr.Code > 299) {
		d.log.Warn("push dispatch rejected", zap.String("receiver_id", receiverID), zap.Int("status", statusErr.Code))
		return fmt.Errorf("notify %q: %w", receiverID, statusErr)
	}
	return nil
}

// State reports the breaker state, for diagnostics.
func (d *Dispatcher) State() gobreaker.State {
	return d.cb.State()
}
