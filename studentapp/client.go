// Package studentapp is the credentialed client for the student-app
// catalog and seats API. It owns OAuth2 client-credentials token
// acquisition and performs a single transparent re-authentication when a
// request comes back 401.
package studentapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const (
	// DefaultBaseURL is the production student-app API root.
	DefaultBaseURL = "https://api.princeton.edu:443/student-app/1.0.3"
	// DefaultTokenURL is the production OAuth2 token endpoint.
	DefaultTokenURL = "https://api.princeton.edu:443/token"

	// tokenSkew is subtracted from the token lifetime so we refresh
	// before the server-side expiry.
	tokenSkew = 30 * time.Second

	defaultTokenTTL = 5 * time.Minute
)

// HTTPError indicates a non-OK response from the API.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.URL)
}

// IsAuthError checks if an error is a 401 Unauthorized response.
func IsAuthError(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusUnauthorized
}

func isClientError(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode >= 400 && httpErr.StatusCode < 500
}

// Config holds client construction parameters. ConsumerKey and
// ConsumerSecret are required; everything else has defaults.
type Config struct {
	ConsumerKey    string
	ConsumerSecret string
	BaseURL        string
	TokenURL       string
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

// Client talks to the student-app API.
type Client struct {
	httpClient     *http.Client
	logger         *slog.Logger
	baseURL        string
	tokenURL       string
	consumerKey    string
	consumerSecret string

	token       string
	tokenExpiry time.Time
}

// New creates a new student-app client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		httpClient:     cfg.HTTPClient,
		logger:         cfg.Logger,
		baseURL:        strings.TrimSuffix(cfg.BaseURL, "/"),
		tokenURL:       cfg.TokenURL,
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
	}
}

// ensureToken acquires an access token unless a fresh one is cached.
func (c *Client) ensureToken(ctx context.Context) error {
	if c.token != "" && time.Now().Before(c.tokenExpiry.Add(-tokenSkew)) {
		return nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.consumerKey, c.consumerSecret)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("token request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close token response body", "error", closeErr)
		}
	}()

	c.logger.Debug("Token request completed",
		"status_code", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode != http.StatusOK {
		return &HTTPError{URL: c.tokenURL, StatusCode: resp.StatusCode}
	}

	var body struct {
		AccessToken string      `json:"access_token"`
		ExpiresIn   json.Number `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode token response: %w", err)
	}
	if body.AccessToken == "" {
		return errors.New("token response missing access_token")
	}

	ttl := defaultTokenTTL
	if secs, err := body.ExpiresIn.Int64(); err == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}

	c.token = body.AccessToken
	c.tokenExpiry = time.Now().Add(ttl)
	return nil
}

// get performs an authenticated GET against the API. A 401 drops the
// cached token and retries exactly once with a fresh one; transient
// transport failures are retried with backoff. Other 4xx responses are
// not retried.
func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	reqURL := c.baseURL + path + "?" + params.Encode()

	var data []byte
	err := retry.Do(
		func() error {
			if err := c.ensureToken(ctx); err != nil {
				return fmt.Errorf("ensure token: %w", err)
			}

			body, err := c.doGet(ctx, reqURL)
			if IsAuthError(err) {
				// Token may have been revoked server-side; re-auth once.
				c.logger.Warn("Request unauthorized, refreshing token", "url", reqURL)
				c.token = ""
				if err := c.ensureToken(ctx); err != nil {
					return retry.Unrecoverable(fmt.Errorf("refresh token: %w", err))
				}
				body, err = c.doGet(ctx, reqURL)
			}
			if err != nil {
				if isClientError(err) {
					return retry.Unrecoverable(err)
				}
				return err
			}

			data = body
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(2*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying API request after error", "attempt", n, "url", reqURL, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("after retries: %w", err)
	}

	return data, nil
}

func (c *Client) doGet(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	c.logger.Debug("API request completed",
		"url", reqURL,
		"status_code", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{URL: reqURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// Terms fetches the term listing. Records are returned as loose maps:
// the term resolver scans arbitrary fields for a code-bearing value.
func (c *Client) Terms(ctx context.Context) ([]map[string]any, error) {
	body, err := c.get(ctx, "/courses/terms", url.Values{"fmt": {"json"}})
	if err != nil {
		return nil, fmt.Errorf("fetch terms: %w", err)
	}

	// The listing usually arrives wrapped in a "term" key, but the
	// shape has changed before; accept a bare array too.
	var wrapped struct {
		Term []map[string]any `json:"term"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Term != nil {
		return wrapped.Term, nil
	}

	var bare []map[string]any
	if err := json.Unmarshal(body, &bare); err != nil {
		return nil, fmt.Errorf("decode terms response: %w", err)
	}
	return bare, nil
}

// Courses fetches the catalog slice for one subject and catalog number.
func (c *Client) Courses(ctx context.Context, term, subject, catnum string) (*CourseListing, error) {
	// The API expects a leading space on the catalog number.
	if !strings.HasPrefix(catnum, " ") {
		catnum = " " + catnum
	}

	params := url.Values{
		"fmt":     {"json"},
		"term":    {term},
		"subject": {subject},
		"catnum":  {catnum},
	}
	body, err := c.get(ctx, "/courses/courses", params)
	if err != nil {
		return nil, fmt.Errorf("fetch courses: %w", err)
	}

	var listing CourseListing
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("decode courses response: %w", err)
	}
	return &listing, nil
}

// Seats fetches seat-status records for a set of courses in one call,
// keyed by the comma-joined course ids.
func (c *Client) Seats(ctx context.Context, term string, courseIDs []string) (*SeatsResponse, error) {
	params := url.Values{
		"fmt":        {"json"},
		"term":       {term},
		"course_ids": {strings.Join(courseIDs, ",")},
	}
	body, err := c.get(ctx, "/courses/seats", params)
	if err != nil {
		return nil, fmt.Errorf("fetch seats: %w", err)
	}

	var seats SeatsResponse
	if err := json.Unmarshal(body, &seats); err != nil {
		return nil, fmt.Errorf("decode seats response: %w", err)
	}
	return &seats, nil
}
