// Package browser is the reference navigation driver: a headless chromium
// session per page visit, readability text extraction and deterministic
// field heuristics per extraction schema. The engine core never imports
// this package; hosts hand it to the engine as the BrowserDriver
// collaborator.
package browser

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-shiori/go-readability"
	"github.com/temoto/robotstxt"
	"golang.org/x/time/rate"

	"github.com/scourhq/scour/config"
	"github.com/scourhq/scour/internal/helpers"
	"github.com/scourhq/scour/internal/research"
)

const (
	// statusFetchFailed marks navigations where chromium never produced a
	// document. Soft failure: the engine records it and moves on.
	statusFetchFailed = 599

	robotsTTL         = time.Hour
	maxHarvestedLinks = 50
)

// Driver implements research.BrowserDriver. One chromium process is spawned
// per navigation so a crashed render never poisons later visits; robots
// verdicts and per-domain rate limiters are cached across visits.
type Driver struct {
	cfg    config.BrowserConfig
	logger *log.Logger
	client *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	robots   map[string]robotsEntry
	visits   map[string]helpers.PageMark
}

type robotsEntry struct {
	group   *robotstxt.Group
	fetched time.Time
}

// NewDriver builds a driver from browser config. The config is normalized,
// so zero values fall back to the documented defaults.
func NewDriver(cfg config.BrowserConfig, logger *log.Logger) *Driver {
	if logger == nil {
		logger = log.New(log.Writer(), "[BROWSER] ", log.LstdFlags)
	}
	return &Driver{
		cfg:      cfg.Normalize(),
		logger:   logger,
		client:   &http.Client{Timeout: 10 * time.Second},
		limiters: make(map[string]*rate.Limiter),
		robots:   make(map[string]robotsEntry),
		visits:   make(map[string]helpers.PageMark),
	}
}

// Navigate loads one page. Policy denials, robots disallows and render
// failures come back as non-2xx PageContents with a nil error; only an
// unusable URL or a canceled context is a hard error.
func (d *Driver) Navigate(ctx context.Context, target string) (*research.PageContent, error) {
	canonical, err := helpers.CanonicalURL(target)
	if err != nil {
		return nil, fmt.Errorf("navigate %q: %w", target, err)
	}
	parsed, err := url.Parse(canonical)
	if err != nil {
		return nil, fmt.Errorf("navigate %q: %w", target, err)
	}
	domain, err := helpers.Domain(canonical)
	if err != nil {
		return nil, fmt.Errorf("navigate %q: %w", target, err)
	}
	started := time.Now()

	switch d.cfg.Policy.Decision(domain) {
	case config.VerdictDeny:
		d.logger.Printf("crawl policy denies %s", domain)
		return softFailure(canonical, http.StatusForbidden, started), nil
	case config.VerdictPaywall:
		d.logger.Printf("skipping paywalled host %s", domain)
		return softFailure(canonical, http.StatusPaymentRequired, started), nil
	case config.VerdictAllow:
		// listed hosts bypass the robots gate
	default:
		if d.cfg.Policy.RespectRobots && !d.robotsAllowed(ctx, parsed) {
			d.logger.Printf("robots.txt disallows %s", canonical)
			return softFailure(canonical, http.StatusForbidden, started), nil
		}
	}

	if err := d.limiter(domain).Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit %s: %w", domain, err)
	}

	html, finalURL, err := d.fetchHTML(ctx, canonical)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.logger.Printf("fetch %s failed: %v", canonical, err)
		return softFailure(canonical, statusFetchFailed, started), nil
	}
	if finalURL == "" {
		finalURL = canonical
	}

	var title, text string
	if article, err := readability.FromReader(strings.NewReader(html), parsed); err == nil {
		title = helpers.PlainText(article.Title)
		text = strings.TrimSpace(article.TextContent)
		if text == "" {
			// some pages defeat readability's content scoring; a strict
			// sanitize of the extracted fragment still yields plain text
			text = helpers.PlainText(article.Content)
		}
	}

	page := &research.PageContent{
		URL:         canonical,
		FinalURL:    finalURL,
		Title:       title,
		Text:        text,
		Links:       harvestLinks(html, parsed),
		StatusCode:  http.StatusOK,
		FetchedAt:   started,
		LoadTime:    time.Since(started),
		WordCount:   len(strings.Fields(text)),
		ContentHash: helpers.ContentHash(text),
	}
	d.noteVisit(canonical, text)
	return page, nil
}

// fetchHTML drives one chromium session: navigate, wait for the body, let
// late scripts settle, then capture the final location and rendered markup.
func (d *Driver) fetchHTML(ctx context.Context, target string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.NavigationTimeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", d.cfg.Headless),
		chromedp.UserAgent(d.cfg.UserAgent),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	actions := []chromedp.Action{
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if d.cfg.StabilizeDelay > 0 {
		actions = append(actions, chromedp.Sleep(d.cfg.StabilizeDelay))
	}
	var html, finalURL string
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(bctx, actions...); err != nil {
		return "", "", err
	}
	return html, finalURL, nil
}

// robotsAllowed checks the target path against the host's robots.txt,
// fetched at most once per robotsTTL. An unreachable or unparseable
// robots.txt allows the visit.
func (d *Driver) robotsAllowed(ctx context.Context, page *url.URL) bool {
	host := page.Host
	d.mu.Lock()
	entry, ok := d.robots[host]
	d.mu.Unlock()

	if !ok || time.Since(entry.fetched) > robotsTTL {
		entry = robotsEntry{group: d.fetchRobots(ctx, page), fetched: time.Now()}
		d.mu.Lock()
		d.robots[host] = entry
		d.mu.Unlock()
	}
	if entry.group == nil {
		return true
	}
	path := page.Path
	if path == "" {
		path = "/"
	}
	return entry.group.Test(path)
}

func (d *Driver) fetchRobots(ctx context.Context, page *url.URL) *robotstxt.Group {
	robotsURL := page.Scheme + "://" + page.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", d.cfg.UserAgent)
	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Printf("robots fetch %s failed: %v", robotsURL, err)
		return nil
	}
	body, err := helpers.ReadAllAndClose(resp.Body)
	if err != nil {
		return nil
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		d.logger.Printf("robots parse %s failed: %v", robotsURL, err)
		return nil
	}
	return data.FindGroup(d.cfg.UserAgent)
}

func (d *Driver) limiter(domain string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	lim, ok := d.limiters[domain]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(d.cfg.RequestsPerSecond), d.cfg.Burst)
		d.limiters[domain] = lim
	}
	return lim
}

// noteVisit tracks the content hash per page key so repeat visits that
// serve identical content show up in the logs.
func (d *Driver) noteVisit(canonical, text string) {
	key, err := helpers.PageKey(canonical)
	if err != nil {
		return
	}
	now := time.Now()

	d.mu.Lock()
	prev, seen := d.visits[key]
	result := helpers.CheckRevisit(prev, text, now, 0)
	d.visits[key] = helpers.PageMark{Hash: result.Hash, SeenAt: now}
	d.mu.Unlock()

	if seen && !result.Changed {
		d.logger.Printf("content unchanged since %s: %s", prev.SeenAt.Format(time.RFC3339), canonical)
	}
}

func softFailure(canonical string, status int, started time.Time) *research.PageContent {
	return &research.PageContent{
		URL:        canonical,
		FinalURL:   canonical,
		StatusCode: status,
		FetchedAt:  started,
		LoadTime:   time.Since(started),
	}
}

var hrefPattern = regexp.MustCompile(`href=["']([^"'#>]+)["']`)

// harvestLinks pulls http(s) links out of the rendered markup, resolved
// against the page URL and canonicalized for deduplication.
func harvestLinks(html string, base *url.URL) []string {
	matches := hrefPattern.FindAllStringSubmatch(html, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	var links []string
	for _, m := range matches {
		ref, err := url.Parse(strings.TrimSpace(m[1]))
		if err != nil {
			continue
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			continue
		}
		canonical, err := helpers.CanonicalURL(resolved.String())
		if err != nil || seen[canonical] {
			continue
		}
		seen[canonical] = true
		links = append(links, canonical)
		if len(links) == maxHarvestedLinks {
			break
		}
	}
	return links
}
