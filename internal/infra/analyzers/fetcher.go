package analyzers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/sync/singleflight"

	"github.com/bryanwahyu/domain-insight/internal/domain/analysis"
)

const (
	defaultUserAgent = "domain-insight/1.0 (+https://github.com/bryanwahyu/domain-insight)"
	maxBodyBytes     = 4 << 20
	maxRedirects     = 5
)

// Page is a fetched homepage. It is shared between capabilities and must
// be treated as read-only.
type Page struct {
	Target     string
	URL        string // after redirects
	StatusCode int
	Header     http.Header
	Body       []byte
	Doc        *html.Node
	Elapsed    time.Duration
	Truncated  bool
}

// HTTPS reports whether the final URL was served over TLS.
func (p *Page) HTTPS() bool { return strings.HasPrefix(p.URL, "https://") }

// Fetcher downloads homepages. Concurrent fetches of one target share a
// single request, so sibling capabilities of a run hit the site once.
type Fetcher struct {
	client  *http.Client
	timeout time.Duration
	// UserAgent sent with every request.
	UserAgent string
	// URLFor maps a target to the URL fetched. Defaults to https://<target>/.
	URLFor func(target string) string

	group singleflight.Group
}

// NewFetcher creates a fetcher whose requests time out after timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: checkRedirect,
		},
		timeout:   timeout,
		UserAgent: defaultUserAgent,
		URLFor:    func(target string) string { return "https://" + target + "/" },
	}
}

// checkRedirect caps the hops and only follows redirects that stay on the
// starting host or lead to another public domain.
func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("too many redirects")
	}
	host := req.URL.Hostname()
	if host == via[0].URL.Hostname() {
		return nil
	}
	if _, err := analysis.NormalizeTarget(host); err != nil {
		return fmt.Errorf("redirect to %s refused: %w", host, err)
	}
	return nil
}

// Fetch returns the homepage of target. Transport failures and 5xx
// responses are reported as analysis.ErrUpstreamUnavailable; other statuses
// come back as a Page for the caller to judge.
func (f *Fetcher) Fetch(ctx context.Context, target string) (*Page, error) {
	url := f.URLFor(target)
	ch := f.group.DoChan(url, func() (any, error) {
		// Detached so one caller giving up does not fail the others.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
		defer cancel()
		return f.fetch(fctx, target, url)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Page), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Fetcher) fetch(ctx context.Context, target, url string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", analysis.ErrUpstreamUnavailable, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: %s returned HTTP %d", analysis.ErrUpstreamUnavailable, target, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: read %s: %v", analysis.ErrUpstreamUnavailable, target, err)
	}
	elapsed := time.Since(start)

	truncated := len(body) > maxBodyBytes
	if truncated {
		body = body[:maxBodyBytes]
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", target, err)
	}

	return &Page{
		Target:     target,
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		Doc:        doc,
		Elapsed:    elapsed,
		Truncated:  truncated,
	}, nil
}
