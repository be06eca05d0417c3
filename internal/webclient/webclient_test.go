package webclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opphound/opphound/internal/interfaces"
	"github.com/opphound/opphound/internal/model"
)

func TestNetHTTPClient_Get(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "opphound-test" {
			t.Errorf("expected user agent to be forwarded, got %q", ua)
		}
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html><body>bids</body></html>"))
	}))
	defer srv.Close()

	wc := NewNetHTTPClient(srv.Client(), "opphound-test", interfaces.NewTestLogger(false))
	resp, err := wc.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if string(resp.Body) != "<html><body>bids</body></html>" {
		t.Fatalf("unexpected body %q", resp.Body)
	}
	if resp.FetchedAt.IsZero() {
		t.Fatal("FetchedAt not set")
	}
}

func TestNetHTTPClient_NilRequest(t *testing.T) {
	wc := NewNetHTTPClient(nil, "", nil)
	if _, err := wc.Do(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil request")
	}
}

func TestNetHTTPClient_ContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	wc := NewNetHTTPClient(srv.Client(), "", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := wc.Do(ctx, &model.Request{Method: "GET", URL: srv.URL}); err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestFactory_UnknownBackend(t *testing.T) {
	cfg := Config{Backend: "no-such-backend"}
	if _, err := New(cfg, nil); err == nil {
		t.Fatal("expected error for unregistered backend")
	}
}

func TestFactory_RegisteredBackend(t *testing.T) {
	RegisterDefaultBackends()

	cfg := DefaultConfig()
	wc, err := New(cfg, interfaces.NewTestLogger(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer wc.Close()

	if _, ok := wc.(*NetHTTPClient); !ok {
		t.Fatalf("expected *NetHTTPClient, got %T", wc)
	}
}
