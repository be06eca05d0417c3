package demoserver

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	body, _ := io.ReadAll(rec.Body)
	return rec.Code, string(body)
}

func TestBidsListingHasTable(t *testing.T) {
	s := NewDemoServer(DefaultConfig())
	h := s.Handler()

	code, body := get(t, h, "/bids")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	for _, want := range []string{"<table", "Road Resurfacing RFP", "Dept of Transportation", "2026-10-15", "/opp/1001"} {
		if !strings.Contains(body, want) {
			t.Errorf("listing missing %q", want)
		}
	}
}

func TestBumpChangesListing(t *testing.T) {
	s := NewDemoServer(DefaultConfig())
	h := s.Handler()

	_, before := get(t, h, "/bids")
	if _, body := get(t, h, "/demo/bump"); !strings.Contains(body, `"version":2`) {
		t.Fatalf("bump response: %s", body)
	}
	_, after := get(t, h, "/bids")

	if before == after {
		t.Fatal("listing unchanged after bump")
	}
	if !strings.Contains(after, "Sewer Upgrade RFP") {
		t.Error("version 2 listing missing new opportunity")
	}
	if strings.Contains(after, "Road Resurfacing RFP") {
		t.Error("version 2 listing still shows removed opportunity")
	}
}

func TestBumpPastLastVersionSticks(t *testing.T) {
	s := NewDemoServer(DefaultConfig())
	h := s.Handler()

	for i := 0; i < 5; i++ {
		get(t, h, "/demo/bump")
	}
	_, body := get(t, h, "/bids")
	if !strings.Contains(body, "Sewer Upgrade RFP") {
		t.Error("listing lost contents after repeated bumps")
	}
}

func TestOpportunityDetailPage(t *testing.T) {
	s := NewDemoServer(DefaultConfig())
	h := s.Handler()

	code, body := get(t, h, "/opp/1001")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if !strings.Contains(body, "Road Resurfacing RFP") || !strings.Contains(body, "Response deadline") {
		t.Errorf("unexpected detail page: %s", body)
	}

	if code, _ := get(t, h, "/opp/9999"); code != http.StatusNotFound {
		t.Errorf("unknown opportunity status = %d, want 404", code)
	}
}

func TestLoginSetsSessionCookie(t *testing.T) {
	s := NewDemoServer(DefaultConfig())
	h := s.Handler()

	req := httptest.NewRequest("POST", "/login", strings.NewReader("username=a&password=b"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", rec.Code)
	}
	cookies := rec.Result().Cookies()
	found := false
	for _, c := range cookies {
		if c.Name == "portal_session" {
			found = true
		}
	}
	if !found {
		t.Error("no portal_session cookie set")
	}
}

func TestResetRestoresInitialVersion(t *testing.T) {
	s := NewDemoServer(DefaultConfig())
	h := s.Handler()

	get(t, h, "/demo/bump")
	if _, body := get(t, h, "/demo/reset"); !strings.Contains(body, `"version":1`) {
		t.Fatalf("reset response: %s", body)
	}
	_, listing := get(t, h, "/bids")
	if !strings.Contains(listing, "Road Resurfacing RFP") {
		t.Error("reset did not restore version 1 listing")
	}
}
