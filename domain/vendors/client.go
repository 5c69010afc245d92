package vendors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/engagic/engagic/internal/config"
	"github.com/engagic/engagic/internal/version"
	"github.com/engagic/engagic/pkg/apperror"
	"github.com/engagic/engagic/pkg/logger"
)

const (
	backoffBase = 1 * time.Second
	backoffCap  = 30 * time.Second
)

// Client is the HTTP client shared by every adapter: pooled connections, a
// cookie jar (several ASPX vendors demand session cookies), an identifying
// User-Agent, per-host politeness delays and retry with exponential backoff
// on 429/5xx. All methods return vendor-family errors only.
type Client struct {
	httpClient  *http.Client
	log         *slog.Logger
	userAgent   string
	maxRetries  int
	minDelay    time.Duration
	maxDownload int64
	backoffBase time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

type clientSettings struct {
	timeout     time.Duration
	maxRetries  int
	minDelay    time.Duration
	maxDownload int64
	backoffBase time.Duration
}

// NewClient builds the shared vendor client from configuration.
func NewClient(cfg *config.Config, log *slog.Logger) *Client {
	return newClient(clientSettings{
		timeout:     cfg.Vendors.HTTPTimeout(),
		maxRetries:  cfg.Vendors.MaxRetries,
		minDelay:    cfg.Vendors.MinDelay(),
		maxDownload: int64(cfg.Vendors.MaxDownloadMB) << 20,
	}, log)
}

func newClient(settings clientSettings, log *slog.Logger) *Client {
	if settings.timeout <= 0 {
		settings.timeout = 30 * time.Second
	}
	if settings.maxRetries < 0 {
		settings.maxRetries = 0
	}
	if settings.maxDownload <= 0 {
		settings.maxDownload = 100 << 20
	}
	if settings.backoffBase <= 0 {
		settings.backoffBase = backoffBase
	}

	// Jar construction only fails on a nil public suffix list
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})

	return &Client{
		httpClient: &http.Client{
			Timeout: settings.timeout,
			Jar:     jar,
		},
		log:         log.With(logger.Scope("vendors.client")),
		userAgent:   fmt.Sprintf("engagic/%s (civic agenda indexing; contact@engagic.org)", version.Version),
		maxRetries:  settings.maxRetries,
		minDelay:    settings.minDelay,
		maxDownload: settings.maxDownload,
		backoffBase: settings.backoffBase,
		limiters:    make(map[string]*rate.Limiter),
	}
}

// Get fetches a URL and returns the response body.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := c.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxDownload))
	if err != nil {
		return nil, apperror.ErrVendorHTTP.WithMessagef("read response from %s", rawURL).WithInternal(err)
	}
	return body, nil
}

// GetJSON fetches a URL and unmarshals the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, rawURL string, out any) error {
	body, err := c.Get(ctx, rawURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperror.ErrVendorParsing.WithMessagef("decode JSON from %s", rawURL).WithInternal(err)
	}
	return nil
}

// PostForm submits an urlencoded form and returns the response body. ASPX
// portals use postbacks for paging, so the form is rebuilt on every retry.
func (c *Client) PostForm(ctx context.Context, rawURL string, form url.Values) ([]byte, error) {
	encoded := form.Encode()
	resp, err := c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxDownload))
	if err != nil {
		return nil, apperror.ErrVendorHTTP.WithMessagef("read response from %s", rawURL).WithInternal(err)
	}
	return body, nil
}

// Download holds a fetched document.
type Download struct {
	Body        []byte
	ContentType string
	FinalURL    string
	Truncated   bool
}

// Download fetches a document with the size cap applied, reporting the
// content type and whether the body was cut off.
func (c *Client) Download(ctx context.Context, rawURL string) (*Download, error) {
	resp, err := c.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// Read one byte past the cap to detect truncation
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxDownload+1))
	if err != nil {
		return nil, apperror.ErrVendorHTTP.WithMessagef("read response from %s", rawURL).WithInternal(err)
	}
	truncated := int64(len(body)) > c.maxDownload
	if truncated {
		body = body[:c.maxDownload]
	}

	return &Download{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		FinalURL:    resp.Request.URL.String(),
		Truncated:   truncated,
	}, nil
}

// do runs one request with politeness and retry. The response body is open on
// return; the caller owns closing it.
func (c *Client) do(ctx context.Context, build func() (*http.Request, error)) (*http.Response, error) {
	var lastStatus int
	var lastURL, lastMethod string

	for attempt := 0; ; attempt++ {
		req, err := build()
		if err != nil {
			return nil, apperror.ErrVendorHTTP.WithMessage("build vendor request").WithInternal(err)
		}
		lastURL = req.URL.String()
		lastMethod = req.Method
		req.Header.Set("User-Agent", c.userAgent)

		if err := c.limiter(req.URL.Host).Wait(ctx); err != nil {
			return nil, apperror.ErrVendorHTTP.WithMessagef("wait for %s rate limit", req.URL.Host).WithInternal(err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, apperror.ErrVendorHTTP.WithMessagef("%s %s", req.Method, lastURL).WithInternal(ctx.Err())
			}
			if attempt < c.maxRetries {
				if werr := c.sleep(ctx, c.backoff(attempt)); werr != nil {
					return nil, apperror.ErrVendorHTTP.WithMessagef("%s %s", req.Method, lastURL).WithInternal(werr)
				}
				continue
			}
			return nil, apperror.ErrVendorHTTP.WithMessagef("%s %s", req.Method, lastURL).WithInternal(err)
		}

		if resp.StatusCode < 400 {
			return resp, nil
		}

		lastStatus = resp.StatusCode
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		if !retryable || attempt >= c.maxRetries {
			resp.Body.Close()
			break
		}

		delay := c.backoff(attempt)
		if after := retryAfter(resp.Header.Get("Retry-After")); after > delay {
			delay = after
		}
		resp.Body.Close()

		c.log.Debug("retrying vendor request",
			slog.String("url", lastURL),
			slog.Int("status", resp.StatusCode),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay))

		if err := c.sleep(ctx, delay); err != nil {
			return nil, apperror.ErrVendorHTTP.WithMessagef("%s %s", req.Method, lastURL).WithInternal(err)
		}
	}

	if lastStatus == http.StatusTooManyRequests {
		return nil, apperror.ErrVendorRateLimited.WithMessagef("%s %s: still rate limited after %d attempts", lastMethod, lastURL, c.maxRetries+1)
	}
	return nil, apperror.ErrVendorHTTP.WithMessagef("%s %s returned HTTP %d", lastMethod, lastURL, lastStatus)
}

// limiter returns the politeness limiter for one vendor host, creating it on
// first use. Shared across all workers in the process.
func (c *Client) limiter(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	lim, ok := c.limiters[host]
	if !ok {
		if c.minDelay > 0 {
			lim = rate.NewLimiter(rate.Every(c.minDelay), 1)
		} else {
			lim = rate.NewLimiter(rate.Inf, 1)
		}
		c.limiters[host] = lim
	}
	return lim
}

func (c *Client) backoff(attempt int) time.Duration {
	delay := c.backoffBase << attempt
	if delay > backoffCap {
		delay = backoffCap
	}
	return delay
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryAfter parses a Retry-After header, either delay-seconds or an HTTP
// date. Returns 0 when absent or unparseable.
func retryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
