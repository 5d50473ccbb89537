// Package source opens streaming downloads of attachment bytes.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// HTTPStatusError captures non-2xx download responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("source: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// TokenProvider issues the bearer token sent to channel-hosted downloads.
type TokenProvider interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// Client issues GET requests and hands back the unread response body.
type Client struct {
	httpClient *http.Client
	tokens     TokenProvider
	authHosts  []string
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithChannelAuth attaches a bearer token from tokens to downloads whose host
// ends with one of hosts. Channel-hosted contentUrls require the bot token;
// pre-signed download URLs must not receive it.
func WithChannelAuth(tokens TokenProvider, hosts ...string) Option {
	return func(c *Client) {
		c.tokens = tokens
		for _, h := range hosts {
			if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
				c.authHosts = append(c.authHosts, h)
			}
		}
	}
}

// NewClient creates a Client. The default HTTP client bounds connection setup
// and response headers only; the body read is bounded by the caller's context.
func NewClient(opts ...Option) *Client {
	c := &Client{httpClient: defaultHTTPClient()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func defaultHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			MaxIdleConnsPerHost:   4,
		},
	}
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return defaultHTTPClient()
}

// Open starts the download of sourceURL. The caller must close the body.
func (c *Client) Open(ctx context.Context, sourceURL string) (io.ReadCloser, error) {
	u, err := url.Parse(strings.TrimSpace(sourceURL))
	if err != nil {
		return nil, fmt.Errorf("source: parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("source: unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("source: url has no host")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("source: create request: %w", err)
	}
	req.Header.Set("Accept", "*/*")
	if c.needsAuth(u.Hostname()) {
		tok, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("source: acquire channel token: %w", err)
		}
		tok.SetAuthHeader(req)
	}

	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			uerr.URL = redact(u)
			return nil, fmt.Errorf("source: %w", uerr)
		}
		return nil, fmt.Errorf("source: GET %s: %w", redact(u), err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		defer func() { _ = res.Body.Close() }()
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        redact(u),
			Body:       string(buf),
		}
	}
	return res.Body, nil
}

func (c *Client) needsAuth(host string) bool {
	if c.tokens == nil {
		return false
	}
	host = strings.ToLower(host)
	for _, h := range c.authHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// redact drops the query string, which carries signatures on pre-signed
// download URLs.
func redact(u *url.URL) string {
	clean := *u
	clean.RawQuery = ""
	clean.Fragment = ""
	clean.User = nil
	return clean.String()
}
