package changelogbot

import (
	"context"
	"fmt"
	"golang.org/x/net/html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// SearchResult is a single web search hit
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// WebSearcher runs a text web search. Zero results is a valid outcome,
// not an error.
type WebSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// DuckDuckGoSearcher scrapes DuckDuckGo's HTML endpoint, which needs no
// API key.
type DuckDuckGoSearcher struct {
	endpoint   string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewDuckDuckGoSearcher(
	config SearchConfig,
	httpClient *http.Client,
	logger *slog.Logger,
) *DuckDuckGoSearcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = DefaultSearchEndpoint
	}
	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = DefaultSearchUserAgent
	}
	return &DuckDuckGoSearcher{
		endpoint:   endpoint,
		userAgent:  userAgent,
		httpClient: httpClient,
		logger:     logger.With(loggerNameKey, "web_search"),
	}
}

func (d *DuckDuckGoSearcher) Search(
	ctx context.Context,
	query string,
	limit int,
) ([]SearchResult, error) {
	if limit <= 0 {
		limit = DefaultSearchMaxResults
	}
	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		d.endpoint,
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: search request failed: %w", ErrUpstreamFailure, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf(
			"%w: search returned %d: %s",
			ErrUpstreamFailure,
			resp.StatusCode,
			strings.TrimSpace(string(body)),
		)
	}

	results, err := parseDuckDuckGoResults(resp.Body, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: parse search results: %w", ErrUpstreamFailure, err)
	}
	d.logger.DebugContext(ctx, "web search finished", "query", query, "results", len(results))
	return results, nil
}

// parseDuckDuckGoResults extracts up to limit results from a DuckDuckGo
// HTML results page. Each organic result is a container with the 'result'
// class holding 'result__a' (title link), 'result__snippet' and
// 'result__url' elements. Ads carry 'result--ad' and are skipped, as are
// results without a title or URL.
func parseDuckDuckGoResults(r io.Reader, limit int) ([]SearchResult, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var results []SearchResult
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if len(results) >= limit {
			return
		}
		if n.Type == html.ElementNode && hasClass(n, "result") {
			if !hasClass(n, "result--ad") {
				if res, ok := extractDuckDuckGoResult(n); ok {
					results = append(results, res)
				}
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results, nil
}

func extractDuckDuckGoResult(n *html.Node) (SearchResult, bool) {
	var res SearchResult
	if a := findByClass(n, "result__a"); a != nil {
		res.Title = nodeText(a)
		res.URL = unwrapDuckDuckGoURL(attr(a, "href"))
	}
	if s := findByClass(n, "result__snippet"); s != nil {
		res.Snippet = nodeText(s)
	}
	if res.URL == "" {
		if u := findByClass(n, "result__url"); u != nil {
			res.URL = unwrapDuckDuckGoURL(nodeText(u))
		}
	}
	if res.Title == "" || res.URL == "" {
		return res, false
	}
	return res, true
}

// unwrapDuckDuckGoURL returns the destination of a DuckDuckGo redirect
// link (//duckduckgo.com/l/?uddg=...), or the link itself.
func unwrapDuckDuckGoURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "" {
		return "https://" + href
	}
	return href
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func findByClass(n *html.Node, class string) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && hasClass(c, class) {
			return c
		}
		if found := findByClass(c, class); found != nil {
			return found
		}
	}
	return nil
}

// nodeText returns the node's text content with whitespace collapsed
func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
