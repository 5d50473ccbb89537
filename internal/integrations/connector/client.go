// Package connector posts activities back to the Bot Framework channel
// service that sent the turn.
package connector

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

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"upload-files-skill/internal/domain"
)

const (
	defaultTenant = "botframework.com"
	tokenScope    = "https://api.botframework.com/.default"
)

// SecretFunc returns the bot app password. It is called lazily, until it
// first succeeds.
type SecretFunc func(ctx context.Context) (string, error)

// HTTPStatusError captures non-2xx connector responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("connector: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type sendResponse struct {
	ID string `json:"id"`
}

// Client sends activities to {serviceUrl}/v3/conversations. Without an app
// id it sends anonymously, which the local emulator accepts.
type Client struct {
	httpClient *http.Client
	appID      string
	tenantID   string
	tokenURL   string
	secret     SecretFunc

	mu     sync.Mutex
	creds  *clientcredentials.Config
	cached *oauth2.Token
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithCredentials enables OAuth2 client credentials for appID. An empty
// tenantID uses the multi-tenant botframework.com authority.
func WithCredentials(appID, tenantID string, secret SecretFunc) Option {
	return func(c *Client) {
		c.appID = strings.TrimSpace(appID)
		c.tenantID = strings.TrimSpace(tenantID)
		c.secret = secret
	}
}

func WithTokenURL(tokenURL string) Option {
	return func(c *Client) {
		c.tokenURL = strings.TrimSpace(tokenURL)
	}
}

func NewClient(opts ...Option) (*Client, error) {
	c := &Client{httpClient: &http.Client{Timeout: 15 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	if c.appID != "" && c.secret == nil {
		return nil, errors.New("connector: app password source must not be nil")
	}
	if c.tokenURL == "" {
		tenant := c.tenantID
		if tenant == "" {
			tenant = defaultTenant
		}
		c.tokenURL = "https://login.microsoftonline.com/" + url.PathEscape(tenant) + "/oauth2/v2.0/token"
	}
	return c, nil
}

// Anonymous reports whether requests go out without a bearer token.
func (c *Client) Anonymous() bool {
	return c.appID == ""
}

// Token returns the bot's bearer token, fetching a new one once the cached
// token expires. Loading the app password and the token request are both
// bounded by ctx.
func (c *Client) Token(ctx context.Context) (*oauth2.Token, error) {
	if c.Anonymous() {
		return nil, errors.New("connector: anonymous client has no token")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached.Valid() {
		return c.cached, nil
	}
	if c.creds == nil {
		secret, err := c.secret(ctx)
		if err != nil {
			return nil, fmt.Errorf("connector: load app password: %w", err)
		}
		c.creds = &clientcredentials.Config{
			ClientID:     c.appID,
			ClientSecret: secret,
			TokenURL:     c.tokenURL,
			Scopes:       []string{tokenScope},
		}
	}
	tok, err := c.creds.Token(context.WithValue(ctx, oauth2.HTTPClient, c.httpClient))
	if err != nil {
		return nil, fmt.Errorf("connector: acquire token: %w", err)
	}
	c.cached = tok
	return tok, nil
}

// ActivitiesURL is the endpoint an activity is posted to. Replies go to
// /activities/{replyToId}; everything else to /activities.
func ActivitiesURL(serviceURL, conversationID, replyToID string) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(serviceURL), "/")
	if base == "" {
		return "", errors.New("connector: service url is required")
	}
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("connector: invalid service url %q", serviceURL)
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return "", errors.New("connector: conversation id is required")
	}
	endpoint := base + "/v3/conversations/" + url.PathEscape(conversationID) + "/activities"
	if replyToID = strings.TrimSpace(replyToID); replyToID != "" {
		endpoint += "/" + url.PathEscape(replyToID)
	}
	return endpoint, nil
}

// SendActivity posts activity to the conversation it addresses and returns
// the id assigned by the channel, if any.
func (c *Client) SendActivity(ctx context.Context, activity domain.Activity) (string, error) {
	endpoint, err := ActivitiesURL(activity.ServiceURL, activity.ConversationID(), activity.ReplyToID)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(activity)
	if err != nil {
		return "", fmt.Errorf("connector: marshal activity: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("connector: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if !c.Anonymous() {
		tok, err := c.Token(ctx)
		if err != nil {
			return "", err
		}
		tok.SetAuthHeader(req)
	}

	raw, err := c.do(req, endpoint)
	if err != nil {
		return "", fmt.Errorf("connector: send %s activity: %w", activity.Type, err)
	}
	var out sendResponse
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return "", fmt.Errorf("connector: decode response: %w", err)
		}
	}
	return out.ID, nil
}

func (c *Client) do(req *http.Request, endpoint string) ([]byte, error) {
	httpClient := c.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	res, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        endpoint,
			Body:       string(buf),
		}
	}
	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
