// Package coordinator runs a portal through the four-stage discovery
// sequence: authenticate, scan, extract, monitor. Each stage is delegated
// to a capability-matched specialist agent and drives the scan lifecycle
// manager as it completes.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opphound/opphound/internal/extraction"
	"github.com/opphound/opphound/internal/fetcher"
	"github.com/opphound/opphound/internal/interfaces"
	"github.com/opphound/opphound/internal/logging"
	"github.com/opphound/opphound/internal/model"
	"github.com/opphound/opphound/internal/monitor"
	"github.com/opphound/opphound/internal/spider"
	"github.com/opphound/opphound/internal/utils"
)

var (
	// ErrContextNotFound means a stage ran without its sequence context.
	// That is a programming-contract violation, not a transient error.
	ErrContextNotFound = errors.New("work context not found")

	// ErrNoSpecialist means no active agent covers a stage's capability.
	ErrNoSpecialist = errors.New("no available specialist")
)

// Task type names recorded on work items and assignments.
const (
	TaskAuthentication = "portal_authentication"
	TaskScan           = "portal_scan"
	TaskExtraction     = "opportunity_extraction"
	TaskMonitoring     = "portal_monitoring"
)

// Config bounds a coordinator's stage behavior.
type Config struct {
	// SpecialistTier restricts agent selection; empty matches any tier.
	SpecialistTier string `yaml:"specialist_tier"`

	// StageDeadlines maps task types to advisory completion deadlines
	// recorded on assignments. Unlisted task types use DefaultDeadline.
	StageDeadlines  map[string]time.Duration `yaml:"stage_deadlines"`
	DefaultDeadline time.Duration            `yaml:"default_deadline"`

	CrawlDepth       int  `yaml:"crawl_depth"`
	CrawlMaxPages    int  `yaml:"crawl_max_pages"`
	FetchConcurrency int  `yaml:"fetch_concurrency"`
	ParallelExtract  bool `yaml:"parallel_extract"`
}

func DefaultConfig() Config {
	return Config{
		StageDeadlines: map[string]time.Duration{
			TaskAuthentication: 5 * time.Minute,
			TaskScan:           10 * time.Minute,
			TaskExtraction:     15 * time.Minute,
			TaskMonitoring:     5 * time.Minute,
		},
		DefaultDeadline:  15 * time.Minute,
		CrawlDepth:       2,
		CrawlMaxPages:    50,
		FetchConcurrency: 4,
		ParallelExtract:  true,
	}
}

func (c Config) deadlineFor(taskType string) time.Duration {
	if d, ok := c.StageDeadlines[taskType]; ok && d > 0 {
		return d
	}
	if c.DefaultDeadline > 0 {
		return c.DefaultDeadline
	}
	return 15 * time.Minute
}

// WebClientFactory builds a page-retrieval client for one portal. Portals
// that need a headless browser get one here; everything else gets plain
// HTTP.
type WebClientFactory func(portal *model.Portal) (interfaces.WebClient, error)

// portalComponents bundles the per-portal crawl machinery, built once and
// cached across sequences for the same portal.
type portalComponents struct {
	wc      interfaces.WebClient
	spider  *spider.Spider
	fetcher *fetcher.Fetcher
}

// Coordinator owns the sequence contexts and specialist assignments of all
// in-flight discovery sequences.
type Coordinator struct {
	cfg       Config
	store     interfaces.Store
	registry  interfaces.AgentRegistry
	scans     interfaces.ScanManager
	engine    *extraction.Engine
	detector  *monitor.Detector
	newClient WebClientFactory
	logger    logging.Logger

	mu          sync.Mutex
	contexts    map[string]*model.PortalWorkContext // keyed by portal id
	assignments map[string]model.SpecialistAssignment
	components  map[string]*portalComponents
}

func New(cfg Config, store interfaces.Store, registry interfaces.AgentRegistry,
	scans interfaces.ScanManager, engine *extraction.Engine,
	newClient WebClientFactory, logger logging.Logger) *Coordinator {
	def := DefaultConfig()
	if cfg.StageDeadlines == nil {
		cfg.StageDeadlines = def.StageDeadlines
	}
	if cfg.DefaultDeadline <= 0 {
		cfg.DefaultDeadline = def.DefaultDeadline
	}
	if cfg.CrawlDepth <= 0 {
		cfg.CrawlDepth = def.CrawlDepth
	}
	if cfg.CrawlMaxPages <= 0 {
		cfg.CrawlMaxPages = def.CrawlMaxPages
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = def.FetchConcurrency
	}

	return &Coordinator{
		cfg:         cfg,
		store:       store,
		registry:    registry,
		scans:       scans,
		engine:      engine,
		detector:    monitor.New(logger),
		newClient:   newClient,
		logger:      logger,
		contexts:    make(map[string]*model.PortalWorkContext),
		assignments: make(map[string]model.SpecialistAssignment),
		components:  make(map[string]*portalComponents),
	}
}

// GetContext returns the live work context for a portal's in-flight
// sequence, or ErrContextNotFound.
func (c *Coordinator) GetContext(portalID string) (*model.PortalWorkContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wctx, ok := c.contexts[portalID]
	if !ok {
		return nil, ErrContextNotFound
	}
	return wctx, nil
}

// Assignments returns the active specialist assignments, for stall
// detection by external monitors.
func (c *Coordinator) Assignments() []model.SpecialistAssignment {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.SpecialistAssignment, 0, len(c.assignments))
	for _, a := range c.assignments {
		out = append(out, a)
	}
	return out
}

// RunSequence drives one portal through all four stages. The work item is
// completed with the final report on success and failed with the stage
// error otherwise. Stage order is fixed; the first failure aborts the
// sequence.
func (c *Coordinator) RunSequence(ctx context.Context, portalID, workItemID string) (*model.SequenceReport, error) {
	portal, creds, wctx, err := c.beginSequence(ctx, portalID)
	if err != nil {
		return nil, err
	}
	return c.runStages(ctx, portal, creds, wctx, workItemID)
}

// StartSequenceAsync admits the scan synchronously and runs the stages in
// a background goroutine, so callers can hand out the scan id immediately
// and observe progress over the event stream.
func (c *Coordinator) StartSequenceAsync(ctx context.Context, portalID, workItemID string) (string, error) {
	portal, creds, wctx, err := c.beginSequence(ctx, portalID)
	if err != nil {
		return "", err
	}
	go func() {
		// The sequence outlives the admitting request; the scan safety
		// deadline bounds it instead.
		if _, err := c.runStages(context.Background(), portal, creds, wctx, workItemID); err != nil && c.logger != nil {
			c.logger.Error("discovery sequence failed",
				logging.Field{Key: "portal_id", Value: portal.ID},
				logging.Field{Key: "scan_id", Value: wctx.ScanID},
				logging.Field{Key: "error", Value: err.Error()})
		}
	}()
	return wctx.ScanID, nil
}

func (c *Coordinator) beginSequence(ctx context.Context, portalID string) (*model.Portal, *model.PortalCredentials, *model.PortalWorkContext, error) {
	portal, creds, err := c.store.GetPortalWithCredentials(ctx, portalID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("portal lookup failed: %w", err)
	}

	scanID := c.scans.StartScan(portal.ID, portal.Name)
	sequenceID := uuid.New().String()

	wctx := &model.PortalWorkContext{
		PortalID:   portal.ID,
		PortalName: portal.Name,
		ScanID:     scanID,
		SequenceID: sequenceID,
		StartedAt:  time.Now().UTC(),
	}
	c.mu.Lock()
	c.contexts[portal.ID] = wctx
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Info("discovery sequence started",
			logging.Field{Key: "portal_id", Value: portal.ID},
			logging.Field{Key: "scan_id", Value: scanID},
			logging.Field{Key: "sequence_id", Value: sequenceID})
	}
	return portal, creds, wctx, nil
}

func (c *Coordinator) runStages(ctx context.Context, portal *model.Portal, creds *model.PortalCredentials, wctx *model.PortalWorkContext, workItemID string) (*model.SequenceReport, error) {
	if err := c.authenticateStage(ctx, portal, creds, workItemID); err != nil {
		return nil, c.sequenceFailed(wctx, workItemID, TaskAuthentication, err)
	}
	if err := c.scanStage(ctx, portal, workItemID); err != nil {
		return nil, c.sequenceFailed(wctx, workItemID, TaskScan, err)
	}
	if err := c.extractStage(ctx, portal, workItemID); err != nil {
		return nil, c.sequenceFailed(wctx, workItemID, TaskExtraction, err)
	}
	report, err := c.monitorStage(ctx, portal, workItemID)
	if err != nil {
		return nil, c.sequenceFailed(wctx, workItemID, TaskMonitoring, err)
	}

	if resultJSON, err := json.Marshal(report); err == nil {
		if err := c.store.CompleteWorkItem(ctx, workItemID, string(resultJSON)); err != nil && c.logger != nil {
			c.logger.Warn("completing work item failed",
				logging.Field{Key: "work_item_id", Value: workItemID},
				logging.Field{Key: "error", Value: err.Error()})
		}
	}

	c.releaseSequence(wctx)
	c.scans.CompleteScan(wctx.ScanID, true)
	return report, nil
}

// --- stages ---

func (c *Coordinator) authenticateStage(ctx context.Context, portal *model.Portal, creds *model.PortalCredentials, workItemID string) error {
	return c.runStage(ctx, portal.ID, workItemID, TaskAuthentication,
		interfaces.NewCapabilitySet(interfaces.CapAuthentication),
		func(ctx context.Context, wctx *model.PortalWorkContext) error {
			if !creds.Configured() {
				// Public portal: trivial success, no session to establish.
				wctx.Authenticated = true
				wctx.Progress.Authentication = 100
				return nil
			}

			comps, err := c.componentsFor(portal)
			if err != nil {
				return err
			}
			loginURL := creds.LoginURL
			if loginURL == "" {
				loginURL = portal.URL
			}
			resp, err := comps.wc.Get(ctx, loginURL)
			if err != nil {
				return fmt.Errorf("login page unreachable: %w", err)
			}
			if resp.StatusCode >= 400 {
				return fmt.Errorf("login page returned status %d", resp.StatusCode)
			}

			wctx.SessionToken = uuid.New().String()
			wctx.Authenticated = true
			wctx.AuthExpiry = time.Now().Add(time.Hour)
			wctx.Progress.Authentication = 100
			return nil
		},
		func(wctx *model.PortalWorkContext) {
			c.scans.UpdateStep(wctx.ScanID, model.StepAuthenticated, 20, "portal session established")
		},
		func(wctx *model.PortalWorkContext) { wctx.Progress.Authentication = 0 })
}

func (c *Coordinator) scanStage(ctx context.Context, portal *model.Portal, workItemID string) error {
	return c.runStage(ctx, portal.ID, workItemID, TaskScan,
		interfaces.NewCapabilitySet(interfaces.CapScanning),
		func(ctx context.Context, wctx *model.PortalWorkContext) error {
			comps, err := c.componentsFor(portal)
			if err != nil {
				return err
			}
			contentMap, err := comps.spider.Crawl(ctx, portal.URL)
			if err != nil {
				return fmt.Errorf("content discovery failed: %w", err)
			}
			wctx.ContentMap = contentMap
			wctx.Progress.Scanning = 100
			return nil
		},
		func(wctx *model.PortalWorkContext) {
			c.scans.UpdateStep(wctx.ScanID, model.StepExtracting, 50,
				fmt.Sprintf("content map built: %d pages", len(wctx.ContentMap)))
		},
		func(wctx *model.PortalWorkContext) { wctx.Progress.Scanning = 0 })
}

func (c *Coordinator) extractStage(ctx context.Context, portal *model.Portal, workItemID string) error {
	return c.runStage(ctx, portal.ID, workItemID, TaskExtraction,
		interfaces.NewCapabilitySet(interfaces.CapExtraction),
		func(ctx context.Context, wctx *model.PortalWorkContext) error {
			comps, err := c.componentsFor(portal)
			if err != nil {
				return err
			}

			pages := comps.fetcher.FetchAll(ctx, wctx.ContentMap)

			opts := extraction.Options{Parallel: c.cfg.ParallelExtract}
			seen := make(map[string]bool)
			for _, page := range pages {
				if page.Err != nil {
					wctx.Errors = append(wctx.Errors, fmt.Sprintf("fetch %s: %v", page.URL, page.Err))
					continue
				}
				result := c.engine.Process(ctx, page.Response.Body, page.URL, portal.Type, opts)
				wctx.Errors = append(wctx.Errors, result.Errors...)
				for _, opp := range result.Opportunities {
					key := utils.OpportunityKey(opp.Title, opp.SourceURL)
					if seen[key] {
						continue
					}
					seen[key] = true
					wctx.Opportunities = append(wctx.Opportunities, opp)
					c.scans.RecordDiscovery(wctx.ScanID, opp)
				}
			}

			if len(wctx.Opportunities) > 0 {
				if _, err := c.store.SaveOpportunities(ctx, portal.ID, wctx.Opportunities); err != nil {
					wctx.Errors = append(wctx.Errors, fmt.Sprintf("persisting opportunities: %v", err))
				}
			}
			wctx.Progress.Extraction = 100
			return nil
		},
		func(wctx *model.PortalWorkContext) {
			c.scans.UpdateStep(wctx.ScanID, model.StepParsing, 70,
				fmt.Sprintf("%d opportunities extracted", len(wctx.Opportunities)))
		},
		func(wctx *model.PortalWorkContext) { wctx.Progress.Extraction = 0 })
}

func (c *Coordinator) monitorStage(ctx context.Context, portal *model.Portal, workItemID string) (*model.SequenceReport, error) {
	var report *model.SequenceReport
	err := c.runStage(ctx, portal.ID, workItemID, TaskMonitoring,
		interfaces.NewCapabilitySet(interfaces.CapMonitoring),
		func(ctx context.Context, wctx *model.PortalWorkContext) error {
			fingerprint := monitor.Fingerprint(wctx.ContentMap, wctx.Opportunities)

			previous, err := c.store.GetFingerprint(ctx, portal.ID)
			if err != nil {
				return fmt.Errorf("loading fingerprint: %w", err)
			}
			changes := c.detector.Compare(previous, fingerprint)
			if err := c.store.SaveFingerprint(ctx, portal.ID, fingerprint); err != nil {
				return fmt.Errorf("saving fingerprint: %w", err)
			}
			if err := c.store.TouchPortalScan(ctx, portal.ID, time.Now().Unix()); err != nil && c.logger != nil {
				c.logger.Warn("touching portal failed",
					logging.Field{Key: "portal_id", Value: portal.ID},
					logging.Field{Key: "error", Value: err.Error()})
			}

			wctx.Progress.Monitoring = 100
			report = &model.SequenceReport{
				SequenceID:       wctx.SequenceID,
				PortalID:         portal.ID,
				ScanID:           wctx.ScanID,
				Authenticated:    wctx.Authenticated,
				Scanned:          wctx.Progress.Scanning == 100,
				Extracted:        wctx.Progress.Extraction == 100,
				Monitored:        true,
				OpportunityCount: len(wctx.Opportunities),
				PageCount:        len(wctx.ContentMap),
				Elapsed:          time.Since(wctx.StartedAt),
				Errors:           append([]string(nil), wctx.Errors...),
				Monitoring:       monitor.BuildConfig(portal, fingerprint),
				ChangeSummary:    changes.Summary,
			}
			return nil
		},
		func(wctx *model.PortalWorkContext) {},
		func(wctx *model.PortalWorkContext) { wctx.Progress.Monitoring = 0 })
	if err != nil {
		return nil, err
	}
	return report, nil
}

// runStage wraps one stage with the shared mechanics: context lookup,
// specialist assignment, the advisory deadline, and busy/active agent
// status. onSuccess runs after fn succeeds; onFailure resets the stage's
// progress counter.
func (c *Coordinator) runStage(ctx context.Context, portalID, workItemID, taskType string,
	caps interfaces.CapabilitySet,
	fn func(context.Context, *model.PortalWorkContext) error,
	onSuccess func(*model.PortalWorkContext),
	onFailure func(*model.PortalWorkContext)) error {

	wctx, err := c.GetContext(portalID)
	if err != nil {
		return err
	}

	agent, err := c.assignSpecialist(ctx, workItemID, taskType, caps)
	if err != nil {
		onFailure(wctx)
		return err
	}
	defer c.releaseSpecialist(ctx, agent.ID, workItemID, taskType)

	if err := fn(ctx, wctx); err != nil {
		onFailure(wctx)
		return err
	}
	onSuccess(wctx)
	return nil
}

// assignSpecialist selects the first active capability match and marks it
// busy. The recorded deadline is advisory only.
func (c *Coordinator) assignSpecialist(ctx context.Context, workItemID, taskType string, caps interfaces.CapabilitySet) (*interfaces.Agent, error) {
	candidates, err := c.registry.FindAgentsByCapability(ctx, caps, c.cfg.SpecialistTier)
	if err != nil {
		return nil, fmt.Errorf("agent lookup failed: %w", err)
	}

	var selected *interfaces.Agent
	for i := range candidates {
		if candidates[i].Status == interfaces.AgentActive {
			selected = &candidates[i]
			break
		}
	}
	if selected == nil {
		return nil, fmt.Errorf("%w for task %s", ErrNoSpecialist, taskType)
	}

	if err := c.registry.UpdateAgentStatus(ctx, selected.ID, interfaces.AgentBusy); err != nil && c.logger != nil {
		c.logger.Warn("marking agent busy failed",
			logging.Field{Key: "agent_id", Value: selected.ID},
			logging.Field{Key: "error", Value: err.Error()})
	}

	now := time.Now().UTC()
	assignment := model.SpecialistAssignment{
		WorkItemID:         workItemID,
		AgentID:            selected.ID,
		TaskType:           taskType,
		AssignedAt:         now,
		ExpectedCompletion: now.Add(c.cfg.deadlineFor(taskType)),
	}
	c.mu.Lock()
	c.assignments[assignmentKey(workItemID, taskType)] = assignment
	c.mu.Unlock()

	return selected, nil
}

func (c *Coordinator) releaseSpecialist(ctx context.Context, agentID, workItemID, taskType string) {
	c.mu.Lock()
	delete(c.assignments, assignmentKey(workItemID, taskType))
	c.mu.Unlock()

	if err := c.registry.UpdateAgentStatus(ctx, agentID, interfaces.AgentActive); err != nil && c.logger != nil {
		c.logger.Warn("releasing agent failed",
			logging.Field{Key: "agent_id", Value: agentID},
			logging.Field{Key: "error", Value: err.Error()})
	}
}

// sequenceFailed is the single failure path: the error lands in the
// context, the work item, the scan log, and the returned error.
func (c *Coordinator) sequenceFailed(wctx *model.PortalWorkContext, workItemID, taskType string, stageErr error) error {
	wctx.Errors = append(wctx.Errors, stageErr.Error())

	bg, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.store.FailWorkItem(bg, workItemID, stageErr.Error()); err != nil && c.logger != nil {
		c.logger.Warn("failing work item failed",
			logging.Field{Key: "work_item_id", Value: workItemID},
			logging.Field{Key: "error", Value: err.Error()})
	}

	c.scans.Log(wctx.ScanID, interfaces.LogError, fmt.Sprintf("%s stage failed: %v", taskType, stageErr))
	c.scans.CompleteScan(wctx.ScanID, false)
	c.releaseSequence(wctx)

	return fmt.Errorf("%s stage: %w", taskType, stageErr)
}

// releaseSequence drops the sequence's context and any assignments still
// recorded against its work items.
func (c *Coordinator) releaseSequence(wctx *model.PortalWorkContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.contexts, wctx.PortalID)
}

func (c *Coordinator) componentsFor(portal *model.Portal) (*portalComponents, error) {
	c.mu.Lock()
	if comps, ok := c.components[portal.ID]; ok {
		c.mu.Unlock()
		return comps, nil
	}
	c.mu.Unlock()

	wc, err := c.newClient(portal)
	if err != nil {
		return nil, fmt.Errorf("building web client: %w", err)
	}
	comps := &portalComponents{
		wc:      wc,
		spider:  spider.New(c.cfg.CrawlDepth, c.cfg.CrawlMaxPages, wc, c.logger),
		fetcher: fetcher.New(c.cfg.FetchConcurrency, wc, c.logger),
	}

	c.mu.Lock()
	c.components[portal.ID] = comps
	c.mu.Unlock()
	return comps, nil
}

func assignmentKey(workItemID, taskType string) string {
	return workItemID + "|" + taskType
}

// Close releases cached per-portal web clients.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for id, comps := range c.components {
		if err := comps.wc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.components, id)
	}
	return firstErr
}
