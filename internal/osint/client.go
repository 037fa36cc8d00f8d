package osint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Maksone34334/x402new/internal/infra/logger"
)

// Sentinel errors the transport layer maps to HTTP statuses.
var (
	// ErrNotConfigured means no upstream API token is set.
	ErrNotConfigured = errors.New("osint: api token not configured")
	// ErrInvalidToken means the upstream rejected our credentials.
	ErrInvalidToken = errors.New("osint: invalid api token")
	// ErrEmptyQuery means the caller submitted a blank search.
	ErrEmptyQuery = errors.New("osint: search query is required")
)

// ReportedError is a domain error code the upstream returned in an
// otherwise successful response.
type ReportedError struct {
	Code string
}

func (e *ReportedError) Error() string {
	return fmt.Sprintf("osint: upstream reported error: %s", e.Code)
}

// StatusError is a non-2xx upstream HTTP response.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("osint: upstream returned status %d", e.Status)
}

const (
	defaultLimit = 100
	defaultLang  = "ru"
)

// Query is one intelligence lookup.
type Query struct {
	Request string
	Limit   int
	Lang    string
}

// Config configures the upstream client.
type Config struct {
	APIURL   string
	APIToken string
	Timeout  time.Duration
}

// Client calls the third-party intelligence-lookup API. The API is an
// opaque function: the result document is passed through untouched.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// New builds the upstream client.
func New(cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log,
	}
}

type upstreamRequest struct {
	Token   string `json:"token"`
	Request string `json:"request"`
	Limit   int    `json:"limit"`
	Lang    string `json:"lang"`
	Type    string `json:"type"`
}

// Search runs one lookup. Only the first line of the query is forwarded,
// mirroring the upstream's reference client.
func (c *Client) Search(ctx context.Context, q Query) (json.RawMessage, error) {
	if c.cfg.APIToken == "" {
		return nil, ErrNotConfigured
	}

	query := strings.SplitN(q.Request, "\n", 2)[0]
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	lang := q.Lang
	if lang == "" {
		lang = defaultLang
	}

	payload, err := json.Marshal(upstreamRequest{
		Token:   c.cfg.APIToken,
		Request: query,
		Limit:   limit,
		Lang:    lang,
		Type:    "json",
	})
	if err != nil {
		return nil, fmt.Errorf("osint: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("osint: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Info("osint lookup",
		zap.String("query", logger.MaskQuery(query)),
		zap.Int("limit", limit),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("osint: call upstream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Status: resp.StatusCode}
	}

	var document json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&document); err != nil {
		return nil, fmt.Errorf("osint: decode upstream response: %w", err)
	}

	// The upstream reports domain errors inside a 200 response.
	var probe struct {
		ErrorCode string `json:"Error code"`
	}
	if err := json.Unmarshal(document, &probe); err == nil && probe.ErrorCode != "" {
		if probe.ErrorCode == "bad token" {
			return nil, ErrInvalidToken
		}
		return nil, &ReportedError{Code: probe.ErrorCode}
	}

	return document, nil
}
