// Package supervisor talks to the Home Assistant Supervisor and, through its
// proxy, to the Core REST API.
package supervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"taskscheduler/internal/core"
)

const maxResponseBytes = 4 << 20

// Config holds the Supervisor connection settings.
type Config struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 disables limiting
	Burst     int
}

// APIError is returned for responses with status >= 400.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// Client is an authenticated Supervisor client. It implements
// core.ActionExecutor and core.StateProvider.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

var (
	_ core.ActionExecutor = (*Client)(nil)
	_ core.StateProvider  = (*Client)(nil)
)

// New creates a client.
func New(cfg Config, logger zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://supervisor"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	logger = logger.With().Str("component", "supervisor").Logger()
	if cfg.Token == "" {
		logger.Warn().Msg("SUPERVISOR_TOKEN is empty; control-plane calls will be rejected")
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		logger:  logger,
	}
}

// Call performs a single request and returns the raw JSON response body.
func (c *Client) Call(ctx context.Context, method, endpoint string, payload any) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug().
		Str("method", method).
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("supervisor call")

	if resp.StatusCode >= 400 {
		return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(data), nil
}

// GetState returns the state of one entity.
func (c *Client) GetState(ctx context.Context, entityID string) (*core.EntityState, error) {
	raw, err := c.Call(ctx, http.MethodGet, "/core/api/states/"+entityID, nil)
	if err != nil {
		return nil, err
	}
	var state core.EntityState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode state %s: %w", entityID, err)
	}
	return &state, nil
}

// Addon is an installed Supervisor add-on.
type Addon struct {
	Slug  string `json:"slug"`
	Name  string `json:"name"`
	State string `json:"state"`
}

// Addons lists installed add-ons from /supervisor/info.
func (c *Client) Addons(ctx context.Context) ([]Addon, error) {
	raw, err := c.Call(ctx, http.MethodGet, "/supervisor/info", nil)
	if err != nil {
		return nil, err
	}
	var info struct {
		Data struct {
			Addons []Addon `json:"addons"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("decode supervisor info: %w", err)
	}
	return info.Data.Addons, nil
}

// States lists entity states whose id starts with one of the prefixes,
// sorted by friendly name. No prefixes returns every entity.
func (c *Client) States(ctx context.Context, prefixes ...string) ([]core.EntityState, error) {
	raw, err := c.Call(ctx, http.MethodGet, "/core/api/states", nil)
	if err != nil {
		return nil, err
	}
	var all []core.EntityState
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, fmt.Errorf("decode states: %w", err)
	}
	out := make([]core.EntityState, 0, len(all))
	for _, st := range all {
		if matchesPrefix(st.EntityID, prefixes) {
			out = append(out, st)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return FriendlyName(out[i]) < FriendlyName(out[j])
	})
	return out, nil
}

// FriendlyName returns the friendly_name attribute, or the entity id.
func FriendlyName(st core.EntityState) string {
	if name, ok := st.Attributes["friendly_name"].(string); ok && name != "" {
		return name
	}
	return st.EntityID
}

func matchesPrefix(id string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(id, p) {
			return true
		}
	}
	return false
}
