package samgov

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/opphound/opphound/internal/interfaces"
)

func TestSearchAll_Paginates(t *testing.T) {
	total := 5
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("api_key") != "test-key" {
			t.Errorf("missing api_key")
		}
		if r.URL.Query().Get("postedFrom") == "" || r.URL.Query().Get("postedTo") == "" {
			t.Errorf("expected default date window to be applied")
		}

		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		var records []map[string]any
		for i := offset; i < total && i < offset+limit; i++ {
			records = append(records, map[string]any{
				"noticeId": fmt.Sprintf("%032x", i),
				"title":    fmt.Sprintf("Opportunity %d", i),
				"uiLink":   fmt.Sprintf("https://sam.gov/opp/%032x/view", i),
			})
		}
		w.Header().Set("X-RateLimit-Remaining", "99")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"totalRecords":      total,
			"opportunitiesData": records,
		})
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.APIKey = "test-key"
	cfg.RequestsPerSecond = 1000
	c := NewClient(cfg, srv.Client(), interfaces.NewTestLogger(false))

	opps, err := c.SearchAll(context.Background(), SearchParams{Limit: 2})
	if err != nil {
		t.Fatalf("SearchAll: %v", err)
	}
	if len(opps) != total {
		t.Fatalf("got %d opportunities, want %d", len(opps), total)
	}
	if opps[0].Title != "Opportunity 0" {
		t.Fatalf("unexpected first record %+v", opps[0])
	}
	if opps[0].NoticeID == "" {
		t.Fatal("notice id not mapped")
	}
}

func TestSearch_TerminalErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.RequestsPerSecond = 1000
	c := NewClient(cfg, srv.Client(), interfaces.NewTestLogger(false))

	if _, _, err := c.Search(context.Background(), SearchParams{}); err == nil {
		t.Fatal("expected error for 400 response")
	}
}
