package pos

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nerrad567/scalesync/internal/catalog"
	"github.com/nerrad567/scalesync/internal/infrastructure/config"
)

// DefaultBaseURL is the ITRetail API root.
const DefaultBaseURL = "https://retailnext.itretail.com"

// API endpoints.
const (
	tokenEndpoint    = "/token?accesslevel=0&securityCode=undefined"
	productsEndpoint = "/api/ProductsData/GetAllProducts"
	updateEndpoint   = "/api/ProductsData/UpdateOnly"
)

const (
	defaultTimeout         = 30 * time.Second
	defaultMaxRetries      = 3
	defaultInitialInterval = 500 * time.Millisecond
	maxErrorBody           = 512
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Client talks to the ITRetail API.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	baseURL   string
	username  string
	password  string
	storeID   string
	tokenFile string

	httpClient      *http.Client
	maxRetries      int
	initialInterval time.Duration

	mu    sync.Mutex
	token *Token

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a client from the pos configuration section.
//
// Returns:
//   - *Client: Ready for use; the first call logs in or reuses the cached token
//   - error: ErrNotConfigured if credentials or store id are missing
func New(cfg config.POSConfig) (*Client, error) {
	var missing []string
	if cfg.Username == "" {
		missing = append(missing, "username")
	}
	if cfg.Password == "" {
		missing = append(missing, "password")
	}
	if cfg.StoreID == "" {
		missing = append(missing, "store_id")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrNotConfigured, strings.Join(missing, ", "))
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = defaultMaxRetries
	}

	return &Client{
		baseURL:         baseURL,
		username:        cfg.Username,
		password:        cfg.Password,
		storeID:         cfg.StoreID,
		tokenFile:       expandHome(cfg.TokenFile),
		httpClient:      &http.Client{Timeout: timeout},
		maxRetries:      retries,
		initialInterval: defaultInitialInterval,
		logger:          noopLogger{},
	}, nil
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) log() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// Products fetches the full product catalog.
func (c *Client) Products(ctx context.Context) ([]catalog.Item, error) {
	body, err := c.call(ctx, http.MethodGet, productsEndpoint, "", nil)
	if err != nil {
		return nil, err
	}

	var items []catalog.Item
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("%w: products: %w", ErrDecode, err)
	}

	c.log().Debug("fetched POS catalog", "items", len(items))
	return items, nil
}

// SetPLUs pushes PLU corrections in one upload. The POS applies the whole
// file or rejects it.
func (c *Client) SetPLUs(ctx context.Context, assignments []catalog.Assignment) error {
	if len(assignments) == 0 {
		return nil
	}

	body, contentType, err := buildUpdateForm(c.storeID, assignments)
	if err != nil {
		return err
	}

	if _, err := c.call(ctx, http.MethodPost, updateEndpoint, contentType, body); err != nil {
		return err
	}

	c.log().Info("pushed PLU corrections to POS", "count", len(assignments))
	return nil
}

// HealthCheck verifies that a token can be obtained.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.accessToken(ctx)
	return err
}

// call performs an authenticated request. A 401 discards the token and
// retries once with a fresh one.
func (c *Client) call(ctx context.Context, method, endpoint, contentType string, body []byte) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		token, err := c.accessToken(ctx)
		if err != nil {
			return nil, err
		}

		resp, err := c.retry(ctx, endpoint, func() (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, bytes.NewReader(body))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Authorization", "Bearer "+token)
			req.Header.Set("Accept", "application/json")
			if contentType != "" {
				req.Header.Set("Content-Type", contentType)
			}
			return req, nil
		})

		var serr *StatusError
		if attempt == 0 && errors.As(err, &serr) && serr.StatusCode == http.StatusUnauthorized {
			c.log().Warn("POS rejected token, logging in again", "endpoint", endpoint)
			c.invalidate()
			continue
		}
		return resp, err
	}
}

// accessToken returns a valid token, logging in if the cached one is
// missing or expired.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if c.token == nil {
		c.token = loadToken(c.tokenFile)
	}
	if c.token.Valid(now) {
		return c.token.AccessToken, nil
	}

	tok, err := c.login(ctx)
	if err != nil {
		return "", err
	}
	tok.stamp(now)
	c.token = tok

	if err := saveToken(c.tokenFile, tok); err != nil {
		c.log().Warn("failed to cache POS token", "path", c.tokenFile, "error", err)
	}
	return tok.AccessToken, nil
}

// login requests a new token with the password grant.
func (c *Client) login(ctx context.Context) (*Token, error) {
	form := url.Values{
		"grant_type": {"password"},
		"username":   {c.username},
		"password":   {c.password},
	}
	encoded := form.Encode()

	c.log().Debug("requesting POS token", "username", c.username)
	body, err := c.retry(ctx, tokenEndpoint, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenEndpoint, strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuth, err)
	}

	var tok Token
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("%w: %w: %w", ErrAuth, ErrDecode, err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: response carried no access token", ErrAuth)
	}
	return &tok, nil
}

// invalidate drops the in-memory and cached token.
func (c *Client) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = nil
	if err := clearToken(c.tokenFile); err != nil {
		c.log().Warn("failed to clear POS token cache", "path", c.tokenFile, "error", err)
	}
}

// retry sends the request built by newReq, retrying network errors and
// 5xx responses with exponential backoff.
func (c *Client) retry(ctx context.Context, endpoint string, newReq func() (*http.Request, error)) ([]byte, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialInterval
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.maxRetries)), ctx) //nolint:gosec // maxRetries is never negative

	op := func() ([]byte, error) {
		req, err := newReq()
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		body, err := c.do(req)
		if err != nil {
			var serr *StatusError
			if errors.As(err, &serr) && !serr.Temporary() {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return body, nil
	}

	notify := func(err error, wait time.Duration) {
		c.log().Warn("POS request failed, retrying", "endpoint", endpoint, "error", err, "wait", wait)
	}

	return backoff.RetryNotifyWithData(op, b, notify)
}

// do sends one request and reads the body.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", req.URL.Path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := strings.TrimSpace(string(body))
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return nil, &StatusError{
			Method:     req.Method,
			Endpoint:   req.URL.Path,
			StatusCode: resp.StatusCode,
			Body:       text,
		}
	}
	return body, nil
}
