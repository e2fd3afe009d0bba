package source

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/partsledger/partsledger/internal/model"
)

// ScrapeOption configures the web-scrape adapter.
type ScrapeOption func(*ScrapeAdapter)

// WithScrapeReaderURL overrides the reader-proxy base URL (for testing).
func WithScrapeReaderURL(u string) ScrapeOption {
	return func(a *ScrapeAdapter) { a.readerURL = u }
}

// WithScrapeHTTPClient overrides the HTTP client.
func WithScrapeHTTPClient(hc *http.Client) ScrapeOption {
	return func(a *ScrapeAdapter) { a.http = hc }
}

// ScrapeAdapter is the last-resort tier: it fetches a distributor part
// page as markdown through a reader proxy and extracts parameters from
// spec tables heuristically. Highest latency, independently toggleable.
type ScrapeAdapter struct {
	readerURL string
	targetURL string // part page URL template with %s for the MPN
	apiKey    string
	http      *http.Client
	limiter   *rate.Limiter
	now       func() time.Time
}

// NewScrapeAdapter creates the web-scrape fallback tier. targetTemplate is
// a part-page URL with one %s placeholder for the escaped MPN.
func NewScrapeAdapter(readerAPIKey, targetTemplate string, opts ...ScrapeOption) *ScrapeAdapter {
	a := &ScrapeAdapter{
		readerURL: "https://r.jina.ai",
		targetURL: targetTemplate,
		apiKey:    readerAPIKey,
		http: &http.Client{
			Timeout: 45 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(0.5), 1),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *ScrapeAdapter) Name() string { return TierScrape }

func (a *ScrapeAdapter) Fetch(ctx context.Context, mpn, manufacturer string) (*model.RawSourceResult, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "scrape: rate limit")
	}

	target := strings.Replace(a.targetURL, "%s", url.PathEscape(mpn), 1)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.readerURL+"/"+target, nil)
	if err != nil {
		return nil, eris.Wrap(err, "scrape: create request")
	}
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
	req.Header.Set("X-Return-Format", "markdown")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, NewTransient(TierScrape, eris.Wrap(err, "scrape: request"), 0)
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, NewTransient(TierScrape, eris.Wrap(readErr, "scrape: read body"), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(TierScrape, resp.StatusCode, body)
	}

	markdown := string(body)
	if !strings.Contains(strings.ToUpper(markdown), strings.ToUpper(mpn)) {
		return nil, ErrNotFound
	}

	params := extractMarkdownParams(markdown)
	if len(params) == 0 {
		return nil, ErrNotFound
	}

	return &model.RawSourceResult{
		Source:       TierScrape,
		MPN:          mpn,
		Manufacturer: manufacturer,
		Parameters:   params,
		FetchedAt:    a.now().UTC(),
	}, nil
}

// tableRowRe matches two-column markdown table rows: | name | value |
var tableRowRe = regexp.MustCompile(`(?m)^\|\s*([^|]+?)\s*\|\s*([^|]+?)\s*\|\s*$`)

// boldFieldRe matches "**Name:** value" lines produced by reader proxies.
var boldFieldRe = regexp.MustCompile(`(?m)^\*\*([^*]+?):\*\*\s*(.+?)\s*$`)

// extractMarkdownParams pulls name/value pairs out of spec tables and
// bolded field lines. Separator rows and headers are skipped; the alias
// table downstream decides which names are meaningful.
func extractMarkdownParams(markdown string) map[string]string {
	params := make(map[string]string)

	for _, m := range tableRowRe.FindAllStringSubmatch(markdown, -1) {
		name, value := strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
		if name == "" || value == "" || strings.HasPrefix(name, "-") || strings.HasPrefix(value, "-") {
			continue
		}
		if strings.EqualFold(name, "parameter") || strings.EqualFold(name, "attribute") {
			continue // header row
		}
		params[name] = value
	}

	for _, m := range boldFieldRe.FindAllStringSubmatch(markdown, -1) {
		name, value := strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
		if name != "" && value != "" {
			params[name] = value
		}
	}

	return params
}
