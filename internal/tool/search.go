package tool

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"soschat/internal/domain"
)

const (
	DefaultSearchEndpoint = "https://api.duckduckgo.com/"
	defaultSearchResults  = 5
	maxSearchResults      = 25
)

// SearchResult is one entry of a web search answer.
type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Snippet     string `json:"snippet"`
	Source      string `json:"source,omitempty"`
	Category    string `json:"category,omitempty"`
	IsTopResult bool   `json:"is_top_result,omitempty"`
}

type SearchConfig struct {
	Endpoint       string
	DefaultResults int
	Client         *http.Client
}

// WebSearchTool searches the web using the DuckDuckGo Instant Answer API.
type WebSearchTool struct {
	endpoint       string
	defaultResults int
	client         *http.Client
	now            func() time.Time
}

func NewWebSearchTool(cfg SearchConfig) *WebSearchTool {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultSearchEndpoint
	}
	if cfg.DefaultResults <= 0 {
		cfg.DefaultResults = defaultSearchResults
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(0)
	}
	return &WebSearchTool{
		endpoint:       cfg.Endpoint,
		defaultResults: cfg.DefaultResults,
		client:         cfg.Client,
		now:            time.Now,
	}
}

func (t *WebSearchTool) Name() domain.ToolName { return domain.ToolSearch }
func (t *WebSearchTool) Description() string {
	return "Search the web for information. Returns titled results with snippets and links."
}
func (t *WebSearchTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"query":       {Type: "string", Description: "Search query"},
			"region":      {Type: "string", Description: "Region code, e.g. us-en"},
			"time":        {Type: "string", Description: "Time filter: d, w, m or y"},
			"num_results": {Type: "integer", Description: "Maximum number of results (default 5)"},
		},
		[]string{"query"},
	)
}

func (t *WebSearchTool) Handle(ctx context.Context, params domain.Params) (domain.Result, error) {
	query := strings.TrimSpace(ArgsString(params, "query"))
	if query == "" {
		return domain.Failure(domain.KindInput, http.StatusBadRequest, "Missing required parameter: query"), nil
	}
	limit := ArgsInt(params, "num_results", t.defaultResults)
	if limit <= 0 {
		limit = t.defaultResults
	}
	if limit > maxSearchResults {
		limit = maxSearchResults
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("no_html", "1")
	q.Set("skip_disambig", "1")
	if region := ArgsString(params, "region"); region != "" {
		q.Set("kl", region)
	}
	if df := ArgsString(params, "time"); df != "" {
		q.Set("df", df)
	}

	var ddg ddgResponse
	if err := getJSON(ctx, t.client, "search API", t.endpoint+"?"+q.Encode(), nil, &ddg); err != nil {
		return upstreamFailure(err)
	}

	results := flattenResults(ddg)
	total := len(results)
	if len(results) > limit {
		results = results[:limit]
	}

	data := map[string]any{
		"query":         query,
		"results":       results,
		"total_results": total,
		"timestamp":     t.now().UTC().Format(time.RFC3339),
	}
	if answer, ok := ddg.Answer.(string); ok && answer != "" {
		data["answer"] = answer
	}
	return domain.Success(data), nil
}

// flattenResults turns the nested topic tree into a flat list, with the
// abstract (if any) first.
func flattenResults(ddg ddgResponse) []SearchResult {
	var out []SearchResult
	if ddg.Abstract != "" || ddg.AbstractText != "" {
		snippet := ddg.AbstractText
		if snippet == "" {
			snippet = ddg.Abstract
		}
		title := ddg.Heading
		if title == "" {
			title = titleFromText(snippet)
		}
		out = append(out, SearchResult{
			Title:       title,
			URL:         ddg.AbstractURL,
			Snippet:     snippet,
			Source:      ddg.AbstractSource,
			IsTopResult: true,
		})
	}

	var walk func(topics []ddgTopic, category string)
	walk = func(topics []ddgTopic, category string) {
		for _, topic := range topics {
			if len(topic.Topics) > 0 {
				walk(topic.Topics, topic.Name)
				continue
			}
			if topic.Text == "" && topic.FirstURL == "" {
				continue
			}
			out = append(out, SearchResult{
				Title:    titleFromText(topic.Text),
				URL:      topic.FirstURL,
				Snippet:  topic.Text,
				Category: category,
			})
		}
	}
	walk(ddg.RelatedTopics, "")
	return out
}

// titleFromText takes the part of "Title - description" before the first dash.
func titleFromText(text string) string {
	title, _, _ := strings.Cut(text, " - ")
	return strings.TrimSpace(title)
}

type ddgResponse struct {
	Abstract       string     `json:"Abstract"`
	AbstractText   string     `json:"AbstractText"`
	AbstractURL    string     `json:"AbstractURL"`
	AbstractSource string     `json:"AbstractSource"`
	Heading        string     `json:"Heading"`
	Answer         any        `json:"Answer"` // usually a string, sometimes an object
	Type           string     `json:"Type"`
	RelatedTopics  []ddgTopic `json:"RelatedTopics"`
}

// ddgTopic is either a leaf (Text, FirstURL) or a named group of Topics.
type ddgTopic struct {
	Text     string     `json:"Text"`
	FirstURL string     `json:"FirstURL"`
	Name     string     `json:"Name"`
	Topics   []ddgTopic `json:"Topics"`
}
