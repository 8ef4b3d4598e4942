package tool

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"soschat/internal/domain"
)

// ddgPayload builds a DuckDuckGo-shaped response with flat topics and one
// group of nested topics.
func ddgPayload(abstract string, flat, nested int) string {
	topics := ""
	for i := 0; i < flat; i++ {
		topics += fmt.Sprintf(`{"Text":"Topic %d - about topic %d","FirstURL":"https://duckduckgo.com/Topic_%d"},`, i, i, i)
	}
	sub := ""
	for i := 0; i < nested; i++ {
		if i > 0 {
			sub += ","
		}
		sub += fmt.Sprintf(`{"Text":"Nested %d - nested topic","FirstURL":"https://duckduckgo.com/Nested_%d"}`, i, i)
	}
	topics += fmt.Sprintf(`{"Name":"See also","Topics":[%s]}`, sub)
	return fmt.Sprintf(`{
		"Abstract": %q,
		"AbstractText": %q,
		"AbstractURL": "https://en.wikipedia.org/wiki/Go",
		"AbstractSource": "Wikipedia",
		"Heading": "Go",
		"Answer": "",
		"RelatedTopics": [%s]
	}`, abstract, abstract, topics)
}

func newSearchServer(t *testing.T, status int, body string, seen *atomic.Value) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			seen.Store(r.URL.Query())
		}
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWebSearch_TruncatesAndCounts(t *testing.T) {
	srv := newSearchServer(t, http.StatusOK, ddgPayload("", 5, 3), nil)
	tool := NewWebSearchTool(SearchConfig{Endpoint: srv.URL, Client: srv.Client()})

	res, err := tool.Handle(context.Background(), domain.Params{"query": "golang", "num_results": 3.0})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !res.OK() {
		t.Fatalf("expected success, got %+v", res)
	}
	results := res.Data["results"].([]SearchResult)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if res.Data["total_results"] != 8 {
		t.Fatalf("expected total_results 8, got %v", res.Data["total_results"])
	}
	if res.Data["query"] != "golang" {
		t.Fatalf("unexpected query: %v", res.Data["query"])
	}
	if _, err := time.Parse(time.RFC3339, res.Data["timestamp"].(string)); err != nil {
		t.Fatalf("timestamp not RFC3339: %v", err)
	}
	if results[0].Title != "Topic 0" {
		t.Fatalf("expected title derived from text, got %q", results[0].Title)
	}
}

func TestWebSearch_FlattensNestedTopics(t *testing.T) {
	srv := newSearchServer(t, http.StatusOK, ddgPayload("", 1, 2), nil)
	tool := NewWebSearchTool(SearchConfig{Endpoint: srv.URL, Client: srv.Client()})

	res, _ := tool.Handle(context.Background(), domain.Params{"query": "go"})
	results := res.Data["results"].([]SearchResult)
	if len(results) != 3 {
		t.Fatalf("expected 3 flattened results, got %d", len(results))
	}
	if results[2].Title != "Nested 1" || results[2].Category != "See also" {
		t.Fatalf("unexpected nested result: %+v", results[2])
	}
}

func TestWebSearch_DefaultLimit(t *testing.T) {
	srv := newSearchServer(t, http.StatusOK, ddgPayload("", 10, 0), nil)
	tool := NewWebSearchTool(SearchConfig{Endpoint: srv.URL, Client: srv.Client()})

	res, _ := tool.Handle(context.Background(), domain.Params{"query": "go"})
	if n := len(res.Data["results"].([]SearchResult)); n != 5 {
		t.Fatalf("expected default of 5 results, got %d", n)
	}
	if res.Data["total_results"] != 10 {
		t.Fatalf("expected total 10, got %v", res.Data["total_results"])
	}
}

func TestWebSearch_AbstractFirst(t *testing.T) {
	srv := newSearchServer(t, http.StatusOK, ddgPayload("Go is a programming language.", 2, 0), nil)
	tool := NewWebSearchTool(SearchConfig{Endpoint: srv.URL, Client: srv.Client()})

	res, _ := tool.Handle(context.Background(), domain.Params{"query": "go"})
	results := res.Data["results"].([]SearchResult)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	top := results[0]
	if !top.IsTopResult || top.Title != "Go" || top.Source != "Wikipedia" {
		t.Fatalf("unexpected top result: %+v", top)
	}
	if results[1].IsTopResult {
		t.Fatal("only the abstract should be flagged as top result")
	}
}

func TestWebSearch_ForwardsFilters(t *testing.T) {
	var seen atomic.Value
	srv := newSearchServer(t, http.StatusOK, ddgPayload("", 1, 0), &seen)
	tool := NewWebSearchTool(SearchConfig{Endpoint: srv.URL, Client: srv.Client()})

	tool.Handle(context.Background(), domain.Params{"query": "news", "region": "uk-en", "time": "w"})
	q, _ := seen.Load().(url.Values)
	if q.Get("q") != "news" || q.Get("kl") != "uk-en" || q.Get("df") != "w" || q.Get("format") != "json" {
		t.Fatalf("unexpected query string: %v", q)
	}
}

func TestWebSearch_UpstreamError(t *testing.T) {
	srv := newSearchServer(t, http.StatusServiceUnavailable, "down", nil)
	tool := NewWebSearchTool(SearchConfig{Endpoint: srv.URL, Client: srv.Client()})

	res, err := tool.Handle(context.Background(), domain.Params{"query": "go"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.OK() || res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 failure, got %+v", res)
	}
	if res.Error != "search API error: Service Unavailable" {
		t.Fatalf("unexpected message: %q", res.Error)
	}
}

func TestWebSearch_MissingQuery(t *testing.T) {
	tool := NewWebSearchTool(SearchConfig{Endpoint: "http://127.0.0.1:0"})
	res, err := tool.Handle(context.Background(), domain.Params{})
	if err != nil || res.OK() || res.Code != 400 {
		t.Fatalf("expected input failure, got %+v, %v", res, err)
	}
}

func TestTitleFromText(t *testing.T) {
	cases := map[string]string{
		"Go (language) - A programming language": "Go (language)",
		"No dash here":                           "No dash here",
		"":                                       "",
	}
	for in, want := range cases {
		if got := titleFromText(in); got != want {
			t.Errorf("titleFromText(%q) = %q, want %q", in, got, want)
		}
	}
}
