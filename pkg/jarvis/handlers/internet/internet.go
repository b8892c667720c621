// Package internet implements the internet domain: web search, weather,
// news and page summaries. Every request runs on the bridge executor.
package internet

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jholhewres/jarvis/pkg/jarvis/bridge"
	"github.com/jholhewres/jarvis/pkg/jarvis/dispatch"
)

// Default endpoints. %s receives the escaped query or location.
const (
	DefaultSearchURL  = "https://html.duckduckgo.com/html/?q=%s"
	DefaultWeatherURL = "https://wttr.in/%s?format=3"
	DefaultNewsURL    = "https://text.npr.org/"
)

const (
	maxResults = 3
	maxSummary = 300
)

var (
	weatherRe = regexp.MustCompile(`(?i)\b(?:weather|forecast|temperature)\b(?:.*?\b(?:in|for|at)\s+([^?.!]+))?`)
	newsRe    = regexp.MustCompile(`(?i)\b(?:news|headlines)\b(?:\s+(?:about|on|for)\s+([^?.!]+))?`)
	schemeRe  = regexp.MustCompile(`(?i)https?://\S+`)
	fetchRe   = regexp.MustCompile(`(?i)^(?:open|fetch|visit|browse|go to|read|download)\s+(?:the\s+)?(?:page\s+|site\s+|website\s+)?([a-z0-9-]+(?:\.[a-z0-9-]+)*\.[a-z]{2,}(?:/\S*)?)$`)
	searchRe  = regexp.MustCompile(`(?i)^(?:search(?:\s+the\s+(?:web|internet))?(?:\s+for)?|look\s+up|google|find(?:\s+information\s+(?:about|on))?)\s+(.+)$`)
)

// Config sets the endpoints used by the handler.
type Config struct {
	SearchURL  string
	WeatherURL string
	NewsURL    string
}

// Handler answers the internet domain.
type Handler struct {
	cfg    Config
	web    *bridge.Web
	logger *slog.Logger
}

// New creates an internet handler over web.
func New(cfg Config, web *bridge.Web, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SearchURL == "" {
		cfg.SearchURL = DefaultSearchURL
	}
	if cfg.WeatherURL == "" {
		cfg.WeatherURL = DefaultWeatherURL
	}
	if cfg.NewsURL == "" {
		cfg.NewsURL = DefaultNewsURL
	}
	return &Handler{cfg: cfg, web: web, logger: logger.With("component", "internet")}
}

// Operations implements dispatch.Operator.
func (h *Handler) Operations() []string {
	return []string{dispatch.OpFetchInformation}
}

// Handle implements dispatch.Handler.
func (h *Handler) Handle(ctx context.Context, command string) (string, error) {
	return h.FetchInformation(ctx, command)
}

// FetchInformation answers command from the web. Network failures become
// descriptive replies rather than errors.
func (h *Handler) FetchInformation(ctx context.Context, command string) (string, error) {
	text := strings.TrimSpace(command)

	if u := schemeRe.FindString(text); u != "" {
		return h.Summarize(ctx, strings.TrimRight(u, ".,;!?)")), nil
	}
	if m := fetchRe.FindStringSubmatch(text); m != nil {
		return h.Summarize(ctx, "https://"+m[1]), nil
	}
	if m := weatherRe.FindStringSubmatch(text); m != nil {
		return h.Weather(ctx, strings.TrimSpace(m[1])), nil
	}
	if m := newsRe.FindStringSubmatch(text); m != nil {
		if topic := strings.TrimSpace(m[1]); topic != "" {
			return h.Search(ctx, topic+" news"), nil
		}
		return h.News(ctx), nil
	}
	if m := searchRe.FindStringSubmatch(text); m != nil {
		return h.Search(ctx, strings.TrimSpace(m[1])), nil
	}
	return h.Search(ctx, text), nil
}

// Search returns the top result titles for query.
func (h *Handler) Search(ctx context.Context, query string) string {
	target := fmt.Sprintf(h.cfg.SearchURL, url.QueryEscape(query))
	doc, err := h.document(ctx, target)
	if err != nil {
		return fmt.Sprintf("I couldn't search for %s: %v", query, err)
	}

	var results []string
	doc.Find("a.result__a, h2 a, h3 a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if t := cleanText(s.Text()); t != "" && !containsString(results, t) {
			results = append(results, t)
		}
		return len(results) < maxResults
	})
	if len(results) == 0 {
		return fmt.Sprintf("I couldn't find anything for %s.", query)
	}
	return fmt.Sprintf("Top results for %s: %s", query, strings.Join(results, "; "))
}

// Weather returns the current conditions for location (empty means the
// endpoint's default, usually IP-based).
func (h *Handler) Weather(ctx context.Context, location string) string {
	target := fmt.Sprintf(h.cfg.WeatherURL, url.PathEscape(location))
	resp, err := h.web.Do(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Sprintf("I couldn't get the weather: %v", err)
	}
	if strings.Contains(resp.ContentType, "html") {
		_, summary := extract(resp.Body)
		if summary != "" {
			return summary
		}
	}
	body := cleanText(resp.Body)
	if body == "" {
		return "The weather service returned no data."
	}
	return truncate(body, maxSummary)
}

// News returns current headlines.
func (h *Handler) News(ctx context.Context) string {
	doc, err := h.document(ctx, h.cfg.NewsURL)
	if err != nil {
		return fmt.Sprintf("I couldn't get the news: %v", err)
	}
	var headlines []string
	doc.Find("h1, h2, h3, li a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		t := cleanText(s.Text())
		if len(t) > 20 && !containsString(headlines, t) {
			headlines = append(headlines, t)
		}
		return len(headlines) < maxResults
	})
	if len(headlines) == 0 {
		return "I couldn't find any headlines."
	}
	return "Top headlines: " + strings.Join(headlines, "; ")
}

// Summarize fetches rawURL and returns its title and a short summary.
func (h *Handler) Summarize(ctx context.Context, rawURL string) string {
	resp, err := h.web.Do(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Sprintf("I couldn't fetch %s: %v", rawURL, err)
	}
	if resp.ContentType != "" && !strings.Contains(resp.ContentType, "html") {
		return fmt.Sprintf("Fetched %s: %s", rawURL, truncate(cleanText(resp.Body), maxSummary))
	}

	title, summary := extract(resp.Body)
	switch {
	case title != "" && summary != "":
		return fmt.Sprintf("%s: %s", title, summary)
	case title != "":
		return title
	case summary != "":
		return summary
	}
	return fmt.Sprintf("Fetched %s, but found no readable content.", rawURL)
}

func (h *Handler) document(ctx context.Context, target string) (*goquery.Document, error) {
	resp, err := h.web.Do(ctx, http.MethodGet, target, nil)
	if err != nil {
		h.logger.Warn("request failed", "url", target, "error", err)
		return nil, err
	}
	return goquery.NewDocumentFromReader(strings.NewReader(resp.Body))
}

// extract returns the page title and the meta description or, failing
// that, the first substantial paragraph.
func extract(html string) (title, summary string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", ""
	}
	title = cleanText(doc.Find("title").First().Text())

	for _, sel := range []string{`meta[name="description"]`, `meta[property="og:description"]`} {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && cleanText(v) != "" {
			return title, truncate(cleanText(v), maxSummary)
		}
	}
	doc.Find("p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if t := cleanText(s.Text()); len(t) >= 40 {
			summary = truncate(t, maxSummary)
			return false
		}
		return true
	})
	return title, summary
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := strings.LastIndex(s[:n], " ")
	if cut <= 0 {
		cut = n
	}
	return s[:cut] + "..."
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
