package search_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fogmoe/fogchat/internal/fogchat/search"
)

func TestSearch_FormatsResults(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"search_result": []map[string]string{
				{
					"title":        "Go 1.25 Release Notes",
					"content":      "The latest Go release.",
					"link":         "https://go.dev/doc/go1.25",
					"media":        "go.dev",
					"publish_date": "2025-08-12",
				},
				{
					"title": "Second hit",
					"link":  "https://example.com",
				},
			},
		})
	}))
	defer srv.Close()

	c := search.NewClient(search.Config{
		APIKey:     "test-key",
		BaseURL:    srv.URL,
		MaxResults: 5,
		Timeout:    2 * time.Second,
	}, nil)

	out, err := c.Search(context.Background(), "go release")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody["search_query"] != "go release" {
		t.Errorf("search_query = %v", gotBody["search_query"])
	}
	if gotBody["search_engine"] != "search_std" {
		t.Errorf("search_engine = %v", gotBody["search_engine"])
	}

	for _, want := range []string{
		"1. Go 1.25 Release Notes",
		"摘要：The latest Go release.",
		"链接：https://go.dev/doc/go1.25",
		"来源：go.dev",
		"发布时间：2025-08-12",
		"2. Second hit",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("digest missing %q:\n%s", want, out)
		}
	}
}

func TestSearch_EmptyResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"search_result": []any{}})
	}))
	defer srv.Close()

	c := search.NewClient(search.Config{APIKey: "k", BaseURL: srv.URL}, nil)
	out, err := c.Search(context.Background(), "nothing")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if out != "未找到相关搜索结果" {
		t.Errorf("got %q, want the fixed empty marker", out)
	}
}

func TestSearch_TruncatesToMaxResults(t *testing.T) {
	items := make([]map[string]string, 8)
	for i := range items {
		items[i] = map[string]string{"title": "hit"}
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"search_result": items})
	}))
	defer srv.Close()

	c := search.NewClient(search.Config{APIKey: "k", BaseURL: srv.URL, MaxResults: 3}, nil)
	out, err := c.Search(context.Background(), "q")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if strings.Contains(out, "4. ") {
		t.Errorf("digest exceeds max results:\n%s", out)
	}
	if !strings.Contains(out, "3. ") {
		t.Errorf("digest missing third result:\n%s", out)
	}
}

func TestSearch_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": "1002", "message": "invalid api key"},
		})
	}))
	defer srv.Close()

	c := search.NewClient(search.Config{APIKey: "bad", BaseURL: srv.URL}, nil)
	_, err := c.Search(context.Background(), "q")
	if err == nil {
		t.Fatal("expected an error for an API error response")
	}
	if !strings.Contains(err.Error(), "invalid api key") {
		t.Errorf("error does not surface the API message: %v", err)
	}
}
