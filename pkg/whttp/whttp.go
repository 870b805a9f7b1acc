package whttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/http/httpproxy"
)

const DefaultUserAgent = "rua/1.0 (+https://github.com/rua-project/rua)"

// ErrInvalidProxy is returned by NewClient when the proxy URL can't be used.
var ErrInvalidProxy = errors.New("invalid proxy URL")

type WHTTPRes struct {
	StatusCode int
	HTTPTitle  string
	BodyString string
}

// IsSuccess reports whether the status code is in the 2xx range.
func (r *WHTTPRes) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Options configures a Client. All fields are optional.
type Options struct {
	Proxy     string
	NoProxy   string
	Timeout   time.Duration
	UserAgent string
}

// Client wraps an *http.Client with the proxy and header setup shared by
// every request the tool sends.
type Client struct {
	http      *http.Client
	userAgent string
	proxy     *url.URL
}

// NewClient builds a Client. An empty Options.Proxy means direct connections.
func NewClient(opts Options) (*Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	var proxyURL *url.URL
	if opts.Proxy != "" {
		u, err := ParseProxy(opts.Proxy)
		if err != nil {
			return nil, err
		}
		proxyURL = u
		proxyFunc := (&httpproxy.Config{
			HTTPProxy:  u.String(),
			HTTPSProxy: u.String(),
			NoProxy:    opts.NoProxy,
		}).ProxyFunc()
		transport.Proxy = func(req *http.Request) (*url.URL, error) {
			return proxyFunc(req.URL)
		}
	} else {
		transport.Proxy = nil
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}

	return &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		userAgent: ua,
		proxy:     proxyURL,
	}, nil
}

// ParseProxy validates a proxy URL. Scheme-less values such as
// "127.0.0.1:8080" are treated as http proxies.
func ParseProxy(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProxy, err)
	}
	switch u.Scheme {
	case "http", "https", "socks5":
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidProxy, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host in %q", ErrInvalidProxy, raw)
	}
	return u, nil
}

// Proxy returns the configured proxy, or nil for direct connections.
func (c *Client) Proxy() *url.URL {
	return c.proxy
}

func (c *Client) newRequest(ctx context.Context, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en")
	return req, nil
}

// Get performs a single GET. A non-2xx status is not an error here; callers
// inspect StatusCode.
func (c *Client) Get(ctx context.Context, rawURL string) (*WHTTPRes, error) {
	req, err := c.newRequest(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	return readResponse(resp)
}

func readResponse(resp *http.Response) (*WHTTPRes, error) {
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	wRes := &WHTTPRes{
		StatusCode: resp.StatusCode,
		BodyString: string(bodyBytes),
	}
	if isHTML(resp.Header.Get("Content-Type"), wRes.BodyString) {
		wRes.HTTPTitle = getHTMLTitle(wRes.BodyString)
	}
	return wRes, nil
}

func isHTML(contentType, body string) bool {
	if strings.Contains(strings.ToLower(contentType), "html") {
		return true
	}
	return strings.Contains(strings.ToLower(body), "<title")
}

// getHTMLTitle pulls the <title> out of an HTML error page (proxies and CDNs
// answer with those instead of JSON).
func getHTMLTitle(body string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return ""
	}
	title := doc.Find("title").First().Text()
	title = strings.ReplaceAll(strings.ReplaceAll(title, "\n", ""), "\r", "")
	return strings.ToValidUTF8(strings.TrimSpace(title), "")
}

// StatusError describes a response outside the 2xx range.
type StatusError struct {
	URL        string
	StatusCode int
	Title      string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("HTTP %d %s for %s", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
	if e.Title != "" {
		msg += fmt.Sprintf(" (%q)", e.Title)
	}
	return msg
}
