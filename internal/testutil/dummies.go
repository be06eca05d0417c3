// Package testutil provides shared test doubles for use across package tests.
// All dummies implement the corresponding interfaces from the production code,
// allowing injection into components under test without real I/O or side effects.
package testutil

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/opphound/opphound/internal/interfaces"
	"github.com/opphound/opphound/internal/logging"
	"github.com/opphound/opphound/internal/model"
	"github.com/opphound/opphound/internal/utils"
)

// ─── Logger ────────────────────────────────────────────────────────────

// DummyLogger implements logging.Logger with in-memory recording.
type DummyLogger struct {
	mu     sync.Mutex
	Errors []string
	Infos  []string
	Debugs []string
	Warns  []string
}

func (l *DummyLogger) Debug(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Debugs = append(l.Debugs, msg)
}

func (l *DummyLogger) Info(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Infos = append(l.Infos, msg)
}

func (l *DummyLogger) Warn(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Warns = append(l.Warns, msg)
}

func (l *DummyLogger) Error(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Errors = append(l.Errors, msg)
}

func (l *DummyLogger) With(_ ...logging.Field) logging.Logger { return l }

// ─── WebClient ─────────────────────────────────────────────────────────

// DummyWebClient implements interfaces.WebClient.
// Pages maps URLs to canned HTML bodies; unmapped URLs return "ok:<url>"
// with status 200. Set FailURLs[url] = true to force an error for a URL.
// URLs are matched in canonical form.
type DummyWebClient struct {
	ResponseDelay time.Duration
	Pages         map[string]string
	ContentTypes  map[string]string
	FailURLs      map[string]bool
	mu            sync.Mutex
	Requests      []*model.Request
}

func (d *DummyWebClient) Do(ctx context.Context, req *model.Request) (*model.Response, error) {
	if d.ResponseDelay > 0 {
		select {
		case <-time.After(d.ResponseDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.Requests = append(d.Requests, req)
	d.mu.Unlock()

	canonical := utils.CanonicalURL(req.URL)
	if d.FailURLs != nil && (d.FailURLs[req.URL] || d.FailURLs[canonical]) {
		return nil, &errString{"dummy fetch fail for " + req.URL}
	}

	body := "ok:" + req.URL
	contentType := "text/html; charset=utf-8"
	if d.Pages != nil {
		if page, ok := d.Pages[req.URL]; ok {
			body = page
		} else if page, ok := d.Pages[canonical]; ok {
			body = page
		}
	}
	if d.ContentTypes != nil {
		if ct, ok := d.ContentTypes[canonical]; ok {
			contentType = ct
		}
	}

	headers := http.Header{}
	headers.Set("Content-Type", contentType)
	return &model.Response{
		Request:    req,
		Headers:    headers,
		Body:       []byte(body),
		StatusCode: 200,
		FetchedAt:  time.Now(),
	}, nil
}

func (d *DummyWebClient) Get(ctx context.Context, url string) (*model.Response, error) {
	return d.Do(ctx, &model.Request{Method: "GET", URL: url})
}

func (d *DummyWebClient) Close() error { return nil }

// RequestCount returns how many requests the client has served.
func (d *DummyWebClient) RequestCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Requests)
}

// ─── Store ─────────────────────────────────────────────────────────────

// FakeStore implements interfaces.Store entirely in memory. Zero value is
// usable. Set Err to force every operation to fail.
type FakeStore struct {
	Err error

	mu            sync.Mutex
	Portals       map[string]*model.Portal
	Credentials   map[string]*model.PortalCredentials
	WorkItems     map[string]*model.WorkItem
	Summaries     map[string]*model.ScanSummary
	Events        map[string][]model.ScanEvent
	Opportunities map[string][]model.Opportunity
	Fingerprints  map[string]string
}

var _ interfaces.Store = (*FakeStore)(nil)

func (s *FakeStore) init() {
	if s.Portals == nil {
		s.Portals = make(map[string]*model.Portal)
		s.Credentials = make(map[string]*model.PortalCredentials)
		s.WorkItems = make(map[string]*model.WorkItem)
		s.Summaries = make(map[string]*model.ScanSummary)
		s.Events = make(map[string][]model.ScanEvent)
		s.Opportunities = make(map[string][]model.Opportunity)
		s.Fingerprints = make(map[string]string)
	}
}

func (s *FakeStore) GetPortal(_ context.Context, id string) (*model.Portal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	if s.Err != nil {
		return nil, s.Err
	}
	p, ok := s.Portals[id]
	if !ok {
		return nil, &errString{"portal not found: " + id}
	}
	cp := *p
	return &cp, nil
}

func (s *FakeStore) GetPortalWithCredentials(ctx context.Context, id string) (*model.Portal, *model.PortalCredentials, error) {
	p, err := s.GetPortal(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.Credentials[id]; ok {
		cp := *c
		return p, &cp, nil
	}
	return p, nil, nil
}

func (s *FakeStore) ListPortals(_ context.Context) ([]model.Portal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []model.Portal
	for _, p := range s.Portals {
		out = append(out, *p)
	}
	return out, nil
}

func (s *FakeStore) CreatePortal(_ context.Context, p *model.Portal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	if s.Err != nil {
		return s.Err
	}
	cp := *p
	s.Portals[p.ID] = &cp
	return nil
}

func (s *FakeStore) TouchPortalScan(_ context.Context, id string, at int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	if s.Err != nil {
		return s.Err
	}
	if p, ok := s.Portals[id]; ok {
		p.LastScanAt = at
	}
	return nil
}

func (s *FakeStore) CreateWorkItem(_ context.Context, item *model.WorkItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	if s.Err != nil {
		return s.Err
	}
	cp := *item
	s.WorkItems[item.ID] = &cp
	return nil
}

func (s *FakeStore) CompleteWorkItem(_ context.Context, id, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	if s.Err != nil {
		return s.Err
	}
	if item, ok := s.WorkItems[id]; ok {
		item.Status = model.WorkCompleted
		item.Result = result
	}
	return nil
}

func (s *FakeStore) FailWorkItem(_ context.Context, id, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	if s.Err != nil {
		return s.Err
	}
	if item, ok := s.WorkItems[id]; ok {
		item.Status = model.WorkFailed
		item.Error = errMsg
	}
	return nil
}

func (s *FakeStore) GetWorkItem(_ context.Context, id string) (*model.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	if s.Err != nil {
		return nil, s.Err
	}
	item, ok := s.WorkItems[id]
	if !ok {
		return nil, &errString{"work item not found: " + id}
	}
	cp := *item
	return &cp, nil
}

func (s *FakeStore) SaveScanSummary(_ context.Context, sum *model.ScanSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	if s.Err != nil {
		return s.Err
	}
	cp := *sum
	s.Summaries[sum.ScanID] = &cp
	return nil
}

func (s *FakeStore) GetScan(_ context.Context, scanID string) (*model.ScanSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	if s.Err != nil {
		return nil, s.Err
	}
	sum, ok := s.Summaries[scanID]
	if !ok {
		return nil, &errString{"scan not found: " + scanID}
	}
	cp := *sum
	return &cp, nil
}

func (s *FakeStore) SaveScanEvents(_ context.Context, scanID string, events []model.ScanEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	if s.Err != nil {
		return s.Err
	}
	s.Events[scanID] = append([]model.ScanEvent(nil), events...)
	return nil
}

func (s *FakeStore) GetScanEvents(_ context.Context, scanID string) ([]model.ScanEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	if s.Err != nil {
		return nil, s.Err
	}
	return append([]model.ScanEvent(nil), s.Events[scanID]...), nil
}

func (s *FakeStore) SaveOpportunities(_ context.Context, portalID string, opps []model.Opportunity) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	if s.Err != nil {
		return 0, s.Err
	}
	seen := make(map[string]bool, len(s.Opportunities[portalID]))
	for _, existing := range s.Opportunities[portalID] {
		seen[utils.OpportunityKey(existing.Title, existing.SourceURL)] = true
	}
	inserted := 0
	for _, opp := range opps {
		key := utils.OpportunityKey(opp.Title, opp.SourceURL)
		if seen[key] {
			continue
		}
		seen[key] = true
		s.Opportunities[portalID] = append(s.Opportunities[portalID], opp)
		inserted++
	}
	return inserted, nil
}

func (s *FakeStore) GetFingerprint(_ context.Context, portalID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	if s.Err != nil {
		return "", s.Err
	}
	return s.Fingerprints[portalID], nil
}

func (s *FakeStore) SaveFingerprint(_ context.Context, portalID, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	if s.Err != nil {
		return s.Err
	}
	s.Fingerprints[portalID] = fingerprint
	return nil
}

func (s *FakeStore) Close() error { return nil }

// ─── helpers ───────────────────────────────────────────────────────────

type errString struct{ s string }

func (e *errString) Error() string { return e.s }
