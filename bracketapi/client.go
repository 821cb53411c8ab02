package bracketapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited marks a response rejected by the bracket service's rate
// limiter. Only this error class is retried.
var ErrRateLimited = errors.New("bracket service rate limited")

type Config struct {
	BaseURL           string
	Token             string
	MaxRetries        int           // attempts per call, default 3
	RetryBase         time.Duration // default 1s
	RetryMax          time.Duration // default 30s
	RequestsPerMinute int           // outbound budget, default 75
	CacheEntries      int           // 0 disables the response cache
	CacheTTL          time.Duration
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// Client is the query/mutation client to the bracket service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	maxRetries int
	retryBase  time.Duration
	retryMax   time.Duration
	limiter    *rate.Limiter
	cache      *responseCache
	cacheTTL   time.Duration
	logger     *slog.Logger
}

func NewClient(cfg Config) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 30 * time.Second
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 75
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	rps := float64(cfg.RequestsPerMinute) / 60.0
	return &Client{
		httpClient: cfg.HTTPClient,
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		maxRetries: cfg.MaxRetries,
		retryBase:  cfg.RetryBase,
		retryMax:   cfg.RetryMax,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		cache:      newResponseCache(cfg.CacheEntries),
		cacheTTL:   cfg.CacheTTL,
		logger:     cfg.Logger,
	}
}

const tournamentQuery = `
query TournamentBySlug($slug: String!) {
  tournament(slug: $slug) {
    id slug name state
    events { id name numEntrants state }
  }
}`

const eventSetsQuery = `
query EventSets($eventId: ID!, $page: Int!, $perPage: Int!) {
  event(id: $eventId) {
    sets(page: $page, perPage: $perPage) {
      total totalPages
      sets { id identifier round state slots { entrantId entrantName } }
    }
  }
}`

const eventEntrantsQuery = `
query EventEntrants($eventId: ID!, $page: Int!, $perPage: Int!) {
  event(id: $eventId) {
    entrants(page: $page, perPage: $perPage) {
      total totalPages
      entrants { id name }
    }
  }
}`

const reportResultMutation = `
mutation ReportSet($setId: ID!, $winnerEntrantId: ID!, $score: String, $dq: Boolean) {
  reportSet(setId: $setId, winnerEntrantId: $winnerEntrantId, score: $score, dq: $dq) { id }
}`

// GetTournament returns the remote tournament, or nil when the slug is
// unknown to the bracket service.
func (c *Client) GetTournament(ctx context.Context, slug string) (*Tournament, error) {
	var out struct {
		Tournament *Tournament `json:"tournament"`
	}
	key := "getTournament|" + slug
	if err := c.do(ctx, key, tournamentQuery, map[string]interface{}{"slug": slug}, &out); err != nil {
		return nil, err
	}
	return out.Tournament, nil
}

func (c *Client) GetEventSets(ctx context.Context, eventID string, page, perPage int) (*SetPage, error) {
	var out struct {
		Event *struct {
			Sets SetPage `json:"sets"`
		} `json:"event"`
	}
	key := fmt.Sprintf("getEventSets|%s|%d|%d", eventID, page, perPage)
	vars := map[string]interface{}{"eventId": eventID, "page": page, "perPage": perPage}
	if err := c.do(ctx, key, eventSetsQuery, vars, &out); err != nil {
		return nil, err
	}
	if out.Event == nil {
		return nil, fmt.Errorf("event %s not found", eventID)
	}
	return &out.Event.Sets, nil
}

func (c *Client) GetEventEntrants(ctx context.Context, eventID string, page, perPage int) (*EntrantPage, error) {
	var out struct {
		Event *struct {
			Entrants EntrantPage `json:"entrants"`
		} `json:"event"`
	}
	key := fmt.Sprintf("getEventEntrants|%s|%d|%d", eventID, page, perPage)
	vars := map[string]interface{}{"eventId": eventID, "page": page, "perPage": perPage}
	if err := c.do(ctx, key, eventEntrantsQuery, vars, &out); err != nil {
		return nil, err
	}
	if out.Event == nil {
		return nil, fmt.Errorf("event %s not found", eventID)
	}
	return &out.Event.Entrants, nil
}

// ReportResult writes the final outcome of a set back to the bracket
// service. Mutations are never cached.
func (c *Client) ReportResult(ctx context.Context, setID string, outcome ReportedOutcome) error {
	var out struct {
		ReportSet *struct {
			ID string `json:"id"`
		} `json:"reportSet"`
	}
	vars := map[string]interface{}{
		"setId":           setID,
		"winnerEntrantId": outcome.WinnerEntrantID,
		"score":           outcome.Score,
		"dq":              outcome.DQ,
	}
	if err := c.do(ctx, "", reportResultMutation, vars, &out); err != nil {
		return err
	}
	if out.ReportSet == nil {
		return fmt.Errorf("report for set %s was not acknowledged", setID)
	}
	return nil
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// do executes one logical call: cache lookup, then up to maxRetries posting
// attempts. Only rate-limited failures are retried; anything else propagates
// immediately.
func (c *Client) do(ctx context.Context, cacheKey, query string, vars map[string]interface{}, out interface{}) error {
	if cacheKey != "" {
		if data, ok := c.cache.get(cacheKey, time.Now()); ok {
			return json.Unmarshal(data, out)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if attempt > 1 {
			delay := c.backoff(attempt - 1)
			c.logger.Warn("bracket service rate limited, backing off",
				slog.Int("attempt", attempt-1),
				slog.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		data, err := c.post(ctx, query, vars)
		if err == nil {
			if cacheKey != "" {
				c.cache.set(cacheKey, data, c.cacheTTL, time.Now())
			}
			return json.Unmarshal(data, out)
		}
		if !errors.Is(err, ErrRateLimited) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("retries exhausted after %d attempts: %w", c.maxRetries, lastErr)
}

// backoff computes the delay after the given failed attempt (1-based):
// min(retryMax, retryBase * 2^(attempt-1) * (1 + U(0, 0.3))).
func (c *Client) backoff(failedAttempt int) time.Duration {
	d := float64(c.retryBase) * math.Pow(2, float64(failedAttempt-1))
	d *= 1 + 0.3*rand.Float64()
	if d > float64(c.retryMax) {
		d = float64(c.retryMax)
	}
	return time.Duration(d)
}

func (c *Client) post(ctx context.Context, query string, vars map[string]interface{}) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: status 429", ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bracket service returned %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var gql graphQLResponse
	if err := json.Unmarshal(raw, &gql); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(gql.Errors) > 0 {
		msg := gql.Errors[0].Message
		if isRateLimitMessage(msg) {
			return nil, fmt.Errorf("%w: %s", ErrRateLimited, msg)
		}
		return nil, fmt.Errorf("bracket service error: %s", msg)
	}
	return gql.Data, nil
}

// isRateLimitMessage distinguishes the rate-limited error class when the
// service reports it in-band instead of via the status code.
func isRateLimitMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "rate limit") || strings.Contains(lower, "429")
}

func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
