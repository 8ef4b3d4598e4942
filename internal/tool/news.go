package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"soschat/internal/domain"
)

const (
	DefaultNewsEndpoint = "https://newsapi.org/v2"
	maxArticles         = 5
	summaryLength       = 200
)

// Article is the projection of a news article returned to callers.
type Article struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Source      string `json:"source"`
	PublishedAt string `json:"publishedAt"`
	Description string `json:"description"`
	Summary     string `json:"summary"`
}

type NewsConfig struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

// NewsClient talks to NewsAPI. It backs both the news and headlines tools.
type NewsClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewNewsClient(cfg NewsConfig) *NewsClient {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultNewsEndpoint
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(0)
	}
	return &NewsClient{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		client:   cfg.Client,
	}
}

// Search returns the top articles about topic.
func (c *NewsClient) Search(ctx context.Context, topic, language, sortBy string) (domain.Result, error) {
	if c.apiKey == "" {
		return missingNewsKey(), nil
	}
	if language == "" {
		language = "en"
	}
	if sortBy == "" {
		sortBy = "publishedAt"
	}
	q := url.Values{}
	q.Set("q", topic)
	q.Set("language", language)
	q.Set("sortBy", sortBy)
	q.Set("pageSize", "10")

	nr, failure, err := c.fetch(ctx, "/everything", q)
	if err != nil {
		return domain.Result{}, err
	}
	if failure != nil {
		return *failure, nil
	}
	return domain.Success(map[string]any{
		"topic":         topic,
		"articles":      projectArticles(nr.Articles),
		"total_results": nr.TotalResults,
	}), nil
}

// Headlines returns top headlines filtered by country, category or query.
func (c *NewsClient) Headlines(ctx context.Context, country, category, query string) (domain.Result, error) {
	if c.apiKey == "" {
		return missingNewsKey(), nil
	}
	if country == "" && query == "" && category == "" {
		country = "us"
	}
	q := url.Values{}
	if country != "" {
		q.Set("country", country)
	}
	if category != "" {
		q.Set("category", category)
	}
	if query != "" {
		q.Set("q", query)
	}
	q.Set("pageSize", "10")

	nr, failure, err := c.fetch(ctx, "/top-headlines", q)
	if err != nil {
		return domain.Result{}, err
	}
	if failure != nil {
		return *failure, nil
	}
	data := map[string]any{
		"headlines":     projectArticles(nr.Articles),
		"total_results": nr.TotalResults,
	}
	if country != "" {
		data["country"] = country
	}
	if category != "" {
		data["category"] = category
	}
	if query != "" {
		data["query"] = query
	}
	return domain.Success(data), nil
}

func missingNewsKey() domain.Result {
	return domain.Failure(domain.KindConfig, http.StatusInternalServerError, "NEWS_API_KEY is not configured")
}

// fetch calls NewsAPI. NewsAPI reports errors as JSON bodies with
// status "error", so the body is decoded whatever the HTTP status.
func (c *NewsClient) fetch(ctx context.Context, path string, q url.Values) (*newsResponse, *domain.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", userAgentString)
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("news API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, nil, fmt.Errorf("read news API response: %w", err)
	}

	code := 0
	if resp.StatusCode >= 400 {
		code = resp.StatusCode
	}

	var nr newsResponse
	if err := json.Unmarshal(body, &nr); err != nil {
		if code != 0 {
			f := domain.Failure(domain.KindUpstream, code, "%s", newStatusError("news API", resp).Error())
			return nil, &f, nil
		}
		return nil, nil, fmt.Errorf("parse news API response: %w", err)
	}
	if nr.Status != "ok" {
		msg := nr.Message
		if msg == "" {
			msg = "Failed to fetch news"
		}
		f := domain.Failure(domain.KindUpstream, code, "%s", msg)
		return nil, &f, nil
	}
	return &nr, nil, nil
}

func projectArticles(in []newsArticle) []Article {
	if len(in) > maxArticles {
		in = in[:maxArticles]
	}
	out := make([]Article, 0, len(in))
	for _, a := range in {
		out = append(out, Article{
			Title:       a.Title,
			URL:         a.URL,
			Source:      a.Source.Name,
			PublishedAt: a.PublishedAt,
			Description: a.Description,
			Summary:     summarize(a.Content, a.Description),
		})
	}
	return out
}

// summarize returns the first 200 characters of content, or description
// when there is no content.
func summarize(content, description string) string {
	if content == "" {
		return description
	}
	r := []rune(content)
	if len(r) > summaryLength {
		return string(r[:summaryLength])
	}
	return content
}

type newsResponse struct {
	Status       string        `json:"status"`
	Code         string        `json:"code"`
	Message      string        `json:"message"`
	TotalResults int           `json:"totalResults"`
	Articles     []newsArticle `json:"articles"`
}

type newsArticle struct {
	Source struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"source"`
	Author      string `json:"author"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	PublishedAt string `json:"publishedAt"`
	Content     string `json:"content"`
}

// NewsSearchTool adapts NewsClient.Search to the tool interface.
type NewsSearchTool struct {
	client *NewsClient
}

func NewNewsSearchTool(client *NewsClient) *NewsSearchTool {
	return &NewsSearchTool{client: client}
}

func (t *NewsSearchTool) Name() domain.ToolName { return domain.ToolNews }
func (t *NewsSearchTool) Description() string {
	return "Search recent news articles about a topic."
}
func (t *NewsSearchTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"topic":    {Type: "string", Description: "Topic or keywords to search for"},
			"language": {Type: "string", Description: "Two-letter language code (default en)"},
			"sortBy":   {Type: "string", Description: "relevancy, popularity or publishedAt (default)"},
		},
		[]string{"topic"},
	)
}

func (t *NewsSearchTool) Handle(ctx context.Context, params domain.Params) (domain.Result, error) {
	topic := strings.TrimSpace(ArgsString(params, "topic"))
	if topic == "" {
		return domain.Failure(domain.KindInput, http.StatusBadRequest, "Missing required parameter: topic"), nil
	}
	return t.client.Search(ctx, topic, ArgsString(params, "language"), ArgsString(params, "sortBy"))
}

// HeadlinesTool adapts NewsClient.Headlines to the tool interface.
type HeadlinesTool struct {
	client *NewsClient
}

func NewHeadlinesTool(client *NewsClient) *HeadlinesTool {
	return &HeadlinesTool{client: client}
}

func (t *HeadlinesTool) Name() domain.ToolName { return domain.ToolHeadlines }
func (t *HeadlinesTool) Description() string {
	return "Get today's top news headlines, optionally by country, category or keyword."
}
func (t *HeadlinesTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"country":  {Type: "string", Description: "Two-letter country code (default us)"},
			"category": {Type: "string", Description: "business, entertainment, general, health, science, sports or technology"},
			"query":    {Type: "string", Description: "Keywords to filter headlines"},
		},
		nil,
	)
}

func (t *HeadlinesTool) Handle(ctx context.Context, params domain.Params) (domain.Result, error) {
	return t.client.Headlines(ctx,
		strings.TrimSpace(ArgsString(params, "country")),
		strings.TrimSpace(ArgsString(params, "category")),
		strings.TrimSpace(ArgsString(params, "query")),
	)
}
