package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/smarthome-agent/backend/internal/llm"
	"github.com/smarthome-agent/backend/pkg/logger"
)

// SearchConfig is the fixed search shape the orchestrator uses while
// troubleshooting.
type SearchConfig struct {
	MaxResults  int
	ContextSize string // "low", "medium", "high"; bounds scraped content length
	QueryPrefix string // scopes results to the smart home domain
}

// DefaultSearchConfig is the troubleshooting-mode configuration.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		MaxResults:  3,
		ContextSize: "medium",
		QueryPrefix: "smart home",
	}
}

func (c SearchConfig) contentLimit() int {
	switch c.ContextSize {
	case "low":
		return 1500
	case "high":
		return 8000
	default:
		return 4000
	}
}

type completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

type Client struct {
	serpAPIKey string
	llmClient  completer
	httpClient *http.Client
}

type SearchResult struct {
	Title   string
	URL     string
	Snippet string
	Content string
}

// NewClient wires a search client. timeout bounds each outbound HTTP call;
// zero means 10s.
func NewClient(serpAPIKey string, llmClient completer, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		serpAPIKey: serpAPIKey,
		llmClient:  llmClient,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) Search(ctx context.Context, query string, cfg SearchConfig) ([]SearchResult, error) {
	logger.Info("Performing web search", zap.String("query", query))

	optimizedQuery, err := c.optimizeQuery(ctx, query, cfg)
	if err != nil {
		logger.Warn("Failed to optimize query, using original", zap.Error(err))
		optimizedQuery = strings.TrimSpace(cfg.QueryPrefix + " " + query)
	}

	if c.serpAPIKey != "" {
		return c.searchWithSerpAPI(ctx, optimizedQuery, cfg)
	}

	return c.searchWithGoogle(ctx, optimizedQuery, cfg)
}

func (c *Client) optimizeQuery(ctx context.Context, query string, cfg SearchConfig) (string, error) {
	systemPrompt := `You are a search query optimizer for smart home troubleshooting.
Transform user queries into effective web search queries.

Rules:
1. Keep the device type and symptom in the query
2. Add solution-oriented keywords ("how to fix", "troubleshoot", "resolve")
3. Prefer community forums and manufacturer support sources
4. Drop filler words and personal phrasing

Return ONLY the optimized query, nothing else.`

	userPrompt := fmt.Sprintf("Optimize this query for smart home web search: %s", query)

	resp, err := c.llmClient.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.1,
		MaxTokens:    100,
	})

	if err != nil {
		return "", err
	}

	optimized := strings.TrimSpace(cfg.QueryPrefix + " " + strings.TrimSpace(resp.Content))
	logger.Debug("Query optimized", zap.String("original", query), zap.String("optimized", optimized))

	return optimized, nil
}

func (c *Client) searchWithSerpAPI(ctx context.Context, query string, cfg SearchConfig) ([]SearchResult, error) {
	baseURL := "https://serpapi.com/search"
	params := url.Values{}
	params.Add("q", query)
	params.Add("api_key", c.serpAPIKey)
	params.Add("num", fmt.Sprintf("%d", cfg.MaxResults))

	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s?%s", baseURL, params.Encode()), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var searchResp struct {
		OrganicResults []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic_results"`
	}

	err = json.Unmarshal(body, &searchResp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]SearchResult, 0, len(searchResp.OrganicResults))
	for _, r := range searchResp.OrganicResults {
		if len(results) >= cfg.MaxResults {
			break
		}
		content, err := c.scrapeContent(r.Link, cfg.contentLimit())
		if err != nil {
			logger.Warn("Failed to scrape content", zap.String("url", r.Link), zap.Error(err))
			content = r.Snippet
		}

		results = append(results, SearchResult{
			Title:   r.Title,
			URL:     r.Link,
			Snippet: r.Snippet,
			Content: content,
		})
	}

	logger.Info("Web search completed", zap.Int("results", len(results)))

	return results, nil
}

func (c *Client) searchWithGoogle(ctx context.Context, query string, cfg SearchConfig) ([]SearchResult, error) {
	searchQuery := url.QueryEscape(fmt.Sprintf("site:community.smartthings.com OR site:support.smartthings.com %s", query))
	searchURL := fmt.Sprintf("https://www.google.com/search?q=%s&num=%d", searchQuery, cfg.MaxResults)

	req, err := http.NewRequestWithContext(ctx, "GET", searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	results := make([]SearchResult, 0)
	doc.Find("div.g").Each(func(i int, s *goquery.Selection) {
		if i >= cfg.MaxResults {
			return
		}

		title := s.Find("h3").Text()
		link, _ := s.Find("a").Attr("href")
		snippet := s.Find("div.VwiC3b").Text()

		if title != "" && link != "" {
			content, err := c.scrapeContent(link, cfg.contentLimit())
			if err != nil {
				content = snippet
			}

			results = append(results, SearchResult{
				Title:   title,
				URL:     link,
				Snippet: snippet,
				Content: content,
			})
		}
	})

	logger.Info("Google search completed", zap.Int("results", len(results)))

	return results, nil
}

func (c *Client) scrapeContent(urlStr string, limit int) (string, error) {
	resp, err := c.httpClient.Get(urlStr)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", err
	}

	doc.Find("script, style, nav, footer, header").Remove()
	text := doc.Find("body").Text()
	text = strings.TrimSpace(text)

	if len(text) > limit {
		text = text[:limit]
	}

	return text, nil
}
