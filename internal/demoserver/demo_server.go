// Package demoserver runs a small fake procurement portal for exercising
// the pipeline end to end: a home page, a bid listing whose contents can be
// bumped between versions so change detection has something to detect,
// per-opportunity detail pages and an optional login form.
package demoserver

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"sync"
)

// demoOpportunity is one row of the fake bid listing.
type demoOpportunity struct {
	ID     string
	Title  string
	Agency string
	Due    string
	Value  string
}

// listingVersions holds the listing contents per version. Bumping past the
// last version sticks at the last one.
var listingVersions = map[int][]demoOpportunity{
	1: {
		{ID: "1001", Title: "Road Resurfacing RFP", Agency: "Dept of Transportation", Due: "2026-10-15", Value: "$2,400,000"},
		{ID: "1002", Title: "IT Services RFQ", Agency: "Office of Technology", Due: "2026-11-01", Value: "$350,000"},
		{ID: "1003", Title: "School Lunch Program Solicitation", Agency: "Board of Education", Due: "2026-10-30", Value: "$1,100,000"},
	},
	2: {
		{ID: "1002", Title: "IT Services RFQ", Agency: "Office of Technology", Due: "2026-11-01", Value: "$350,000"},
		{ID: "1003", Title: "School Lunch Program Solicitation", Agency: "Board of Education", Due: "2026-10-30", Value: "$1,100,000"},
		{ID: "1004", Title: "Sewer Upgrade RFP", Agency: "Public Works", Due: "2026-12-01", Value: "$4,800,000"},
	},
}

var homeTmpl = template.Must(template.New("home").Parse(`<!DOCTYPE html>
<html>
<head><title>Springfield Procurement Portal</title></head>
<body>
<h1>Springfield Procurement Portal</h1>
<p>Welcome to the county procurement system.</p>
<ul>
  <li><a href="/bids">Current Bid Opportunities</a></li>
  <li><a href="/login">Vendor Login</a></li>
  <li><a href="/about">About</a></li>
</ul>
</body>
</html>`))

var bidsTmpl = template.Must(template.New("bids").Parse(`<!DOCTYPE html>
<html>
<head><title>Current Bid Opportunities</title></head>
<body>
<h1>Current Bid Opportunities</h1>
<table border="1">
  <thead><tr><th>Title</th><th>Agency</th><th>Due Date</th><th>Estimated Value</th></tr></thead>
  <tbody>
  {{range .}}
    <tr>
      <td><a href="/opp/{{.ID}}">{{.Title}}</a></td>
      <td>{{.Agency}}</td>
      <td>{{.Due}}</td>
      <td>{{.Value}}</td>
    </tr>
  {{end}}
  </tbody>
</table>
</body>
</html>`))

var oppTmpl = template.Must(template.New("opp").Parse(`<!DOCTYPE html>
<html>
<head><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
<p>Solicitation number: {{.ID}}</p>
<p>Issuing agency: {{.Agency}}</p>
<p>Response deadline: {{.Due}}</p>
<p>Estimated value: {{.Value}}</p>
<p>Sealed bids must be received by the due date above.</p>
</body>
</html>`))

// DemoServer is the fake procurement portal.
type DemoServer struct {
	cfg     Config
	version int
	mu      sync.RWMutex
}

// NewDemoServer creates a new demo portal instance.
func NewDemoServer(cfg Config) *DemoServer {
	if cfg.InitialVersion < 1 {
		cfg.InitialVersion = 1
	}
	return &DemoServer{cfg: cfg, version: cfg.InitialVersion}
}

// Handler returns the portal's routes, usable directly in tests.
func (s *DemoServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.homeHandler)
	mux.HandleFunc("/bids", s.bidsHandler)
	mux.HandleFunc("/opp/", s.oppHandler)
	mux.HandleFunc("/login", s.loginHandler)
	mux.HandleFunc("/about", s.aboutHandler)

	// Control endpoints for demos and tests.
	mux.HandleFunc("/demo/bump", s.bumpHandler)
	mux.HandleFunc("/demo/reset", s.resetHandler)
	mux.HandleFunc("/demo/version", s.versionHandler)

	return mux
}

// Start starts the demo portal.
func (s *DemoServer) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	fmt.Printf("Demo portal starting on http://localhost%s\n", addr)
	fmt.Printf("Bid listing at http://localhost%s/bids\n", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *DemoServer) currentListing() []demoOpportunity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if opps, ok := listingVersions[s.version]; ok {
		return opps
	}
	// Stick at the highest known version.
	best := 0
	for v := range listingVersions {
		if v > best && v <= s.version {
			best = v
		}
	}
	return listingVersions[best]
}

func (s *DemoServer) homeHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = homeTmpl.Execute(w, nil)
}

func (s *DemoServer) bidsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = bidsTmpl.Execute(w, s.currentListing())
}

func (s *DemoServer) oppHandler(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Path[len("/opp/"):]
	for _, opp := range s.currentListing() {
		if opp.ID == id {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_ = oppTmpl.Execute(w, opp)
			return
		}
	}
	http.NotFound(w, r)
}

func (s *DemoServer) loginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		// Any credentials pass; this portal only simulates a session.
		http.SetCookie(w, &http.Cookie{
			Name:     "portal_session",
			Value:    "demo-session",
			Path:     "/",
			HttpOnly: true,
		})
		http.Redirect(w, r, "/bids", http.StatusSeeOther)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<!DOCTYPE html>
<html><body>
<h1>Vendor Login</h1>
<form method="POST" action="/login">
  <input name="username" placeholder="Username">
  <input name="password" type="password" placeholder="Password">
  <button type="submit">Sign In</button>
</form>
</body></html>`)
}

func (s *DemoServer) aboutHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<!DOCTYPE html>
<html><body>
<h1>About</h1>
<p>This portal publishes bid opportunities for Springfield County.</p>
</body></html>`)
}

func (s *DemoServer) bumpHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.version++
	v := s.version
	s.mu.Unlock()
	writeVersion(w, v)
}

func (s *DemoServer) resetHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.version = s.cfg.InitialVersion
	v := s.version
	s.mu.Unlock()
	writeVersion(w, v)
}

func (s *DemoServer) versionHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	v := s.version
	s.mu.RUnlock()
	writeVersion(w, v)
}

func writeVersion(w http.ResponseWriter, v int) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"version": v})
}
