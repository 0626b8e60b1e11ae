package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/recordflow/internal/config"
	"github.com/jwalitptl/recordflow/pkg/circuitbreaker"
	"github.com/jwalitptl/recordflow/pkg/errors"
	"github.com/jwalitptl/recordflow/pkg/logger"
)

type ValidateRequest struct {
	RecordID  string `json:"record_id"`
	Name      string `json:"name"`
	Domain    string `json:"domain"`
	DedupeKey string `json:"dedupe_key"`
}

type ValidateResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

type EnrichRequest struct {
	SlotID    string `json:"slot_id"`
	RecordID  string `json:"record_id"`
	Role      string `json:"role"`
	Domain    string `json:"domain"`
	DedupeKey string `json:"dedupe_key"`
}

type EnrichResult struct {
	Email string `json:"email"`
}

type VerifyRequest struct {
	SlotID    string `json:"slot_id"`
	Email     string `json:"email"`
	DedupeKey string `json:"dedupe_key"`
}

type VerifyResult struct {
	Deliverable bool   `json:"deliverable"`
	Reason      string `json:"reason,omitempty"`
}

type Validator interface {
	ValidateRecord(ctx context.Context, req ValidateRequest) (*ValidateResult, error)
}

type Enricher interface {
	EnrichContact(ctx context.Context, req EnrichRequest) (*EnrichResult, error)
}

type Verifier interface {
	VerifyEmail(ctx context.Context, req VerifyRequest) (*VerifyResult, error)
}

// Client talks to the enrichment/verification vendor. Every request
// carries a dedupe key; responses for a key are cached locally so a
// replayed event never produces a second outbound call from this
// process. Calls are rate limited and fused through a circuit breaker.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	cb      *circuitbreaker.CircuitBreaker
	cache   *gocache.Cache
	logger  *logger.Logger
}

func NewClient(cfg config.EnrichmentConfig, logger *logger.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 10
	}
	ttl := cfg.DedupeCacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "enrichment",
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		}),
		cache:  gocache.New(ttl, 2*ttl),
		logger: logger,
	}
}

func (c *Client) ValidateRecord(ctx context.Context, req ValidateRequest) (*ValidateResult, error) {
	var res ValidateResult
	if err := c.post(ctx, "/v1/records/validate", req.DedupeKey, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) EnrichContact(ctx context.Context, req EnrichRequest) (*EnrichResult, error) {
	var res EnrichResult
	if err := c.post(ctx, "/v1/contacts/enrich", req.DedupeKey, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) VerifyEmail(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	var res VerifyResult
	if err := c.post(ctx, "/v1/emails/verify", req.DedupeKey, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) post(ctx context.Context, path, dedupeKey string, req, res interface{}) error {
	if c.apiKey == "" {
		return errors.Fatal("enrichment api key is not configured", nil)
	}

	if cached, ok := c.cache.Get(dedupeKey); ok {
		return json.Unmarshal(cached.([]byte), res)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Transient("rate limiter wait interrupted", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return errors.Fatal("failed to marshal request", err)
	}

	var respBody []byte
	call := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return errors.Fatal("failed to build request", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("X-Api-Key", c.apiKey)
		httpReq.Header.Set("X-Dedupe-Key", dedupeKey)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			// Includes timeouts with unknown server-side effect. The
			// remote call is dedupable, so a retry is always safe.
			return errors.Transient("enrichment request failed", err)
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return errors.Transient("failed to read response", err)
		}

		return classifyStatus(resp.StatusCode)
	}

	if err := c.cb.Execute(call); err != nil {
		if _, ok := err.(*errors.AppError); ok {
			return err
		}
		return errors.Transient("enrichment circuit open", err)
	}

	if err := json.Unmarshal(respBody, res); err != nil {
		return errors.Transient("failed to decode response", err)
	}

	c.cache.SetDefault(dedupeKey, respBody)
	return nil
}

func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return errors.Fatal(fmt.Sprintf("enrichment credential rejected (status %d)", code), nil)
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return errors.Validation(fmt.Sprintf("enrichment rejected request (status %d)", code), nil)
	default:
		return errors.Transient(fmt.Sprintf("enrichment returned status %d", code), nil)
	}
}
