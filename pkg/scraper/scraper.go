package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/halcyonsec/quest/internal/models"
)

type ScraperConfig struct {
	MaxDepth       int
	RateLimit      float64 // requests per second
	IgnorePatterns []string
	Timeout        time.Duration
	Logger         zerolog.Logger
}

// Scraper fetches policy pages listed in urls.txt and turns them into web
// SourceDocuments. Link following is bounded by MaxDepth (default 1: only
// the listed pages themselves) and restricted to each page's own host.
type Scraper struct {
	config  ScraperConfig
	client  *http.Client
	visited map[string]bool
	limiter *rate.Limiter
}

func NewWithConfig(config ScraperConfig) *Scraper {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxDepth == 0 {
		config.MaxDepth = 1
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2
	}

	return &Scraper{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		visited: make(map[string]bool),
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
}

func New() *Scraper {
	return NewWithConfig(ScraperConfig{})
}

// ScrapeAll fetches every listed URL. A failure on one page is logged and
// skipped; it never aborts the rest of the list. The returned count is the
// number of pages that could not be fetched.
func (s *Scraper) ScrapeAll(ctx context.Context, urls []string) ([]models.SourceDocument, int) {
	var docs []models.SourceDocument
	skipped := 0

	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" || strings.HasPrefix(u, "#") {
			continue
		}
		if !strings.HasPrefix(u, "http") {
			u = "https://" + u
		}

		fetched, err := s.Scrape(ctx, u)
		if err != nil {
			s.config.Logger.Warn().Err(err).Str("url", u).Msg("skipping page")
			skipped++
			continue
		}
		docs = append(docs, fetched...)
	}

	return docs, skipped
}

// Scrape fetches one URL and, within MaxDepth, same-host pages it links to.
func (s *Scraper) Scrape(ctx context.Context, pageURL string) ([]models.SourceDocument, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %s: %w", pageURL, err)
	}

	var docs []models.SourceDocument
	if err := s.scrapeRecursive(ctx, pageURL, parsed.Host, 1, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *Scraper) scrapeRecursive(ctx context.Context, pageURL, host string, depth int, docs *[]models.SourceDocument) error {
	if depth > s.config.MaxDepth || s.visited[pageURL] {
		return nil
	}
	if !s.shouldProcessURL(pageURL, host) {
		return nil
	}
	s.visited[pageURL] = true

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, pageURL)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return err
	}

	content := s.extractMainContent(doc)
	if content != "" {
		*docs = append(*docs, models.SourceDocument{
			SourceID:   pageURL,
			Content:    content,
			PageNumber: 1,
			Type:       models.TypeWeb,
		})
	}

	if depth >= s.config.MaxDepth {
		return nil
	}

	doc.Find("a[href]").Each(func(_ int, selection *goquery.Selection) {
		href, exists := selection.Attr("href")
		if !exists {
			return
		}

		absoluteURL, err := url.Parse(href)
		if err != nil {
			return
		}
		if !absoluteURL.IsAbs() {
			base, err := url.Parse(pageURL)
			if err != nil {
				return
			}
			absoluteURL = base.ResolveReference(absoluteURL)
		}

		if err := s.scrapeRecursive(ctx, absoluteURL.String(), host, depth+1, docs); err != nil {
			s.config.Logger.Debug().Err(err).Str("url", absoluteURL.String()).Msg("link skipped")
		}
	})

	return nil
}

func (s *Scraper) shouldProcessURL(urlStr, host string) bool {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	if parsedURL.Host != host {
		return false
	}

	for _, pattern := range s.config.IgnorePatterns {
		if strings.Contains(urlStr, pattern) {
			return false
		}
	}

	return true
}

func (s *Scraper) extractMainContent(doc *goquery.Document) string {
	selectors := []string{
		"main",
		"article",
		".content",
		"#content",
		".policy",
		"#policy",
	}

	var content string
	for _, selector := range selectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			content = selected.Text()
			break
		}
	}

	if content == "" {
		content = doc.Find("body").Text()
	}

	return cleanContent(content)
}

func cleanContent(content string) string {
	content = strings.Join(strings.Fields(content), " ")

	noisePatterns := []string{
		"Cookie Policy",
		"Accept Cookies",
		"Terms of Service",
	}
	for _, pattern := range noisePatterns {
		content = strings.ReplaceAll(content, pattern, "")
	}

	return strings.TrimSpace(content)
}
