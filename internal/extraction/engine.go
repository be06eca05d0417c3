package extraction

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/opphound/opphound/internal/logging"
	"github.com/opphound/opphound/internal/model"
	"github.com/opphound/opphound/internal/utils"
)

// Options control one Process invocation.
type Options struct {
	// Parallel runs primary extractors concurrently, collecting all
	// results. Sequential mode stops early once a result set crosses
	// ConfidenceThreshold.
	Parallel bool

	// MaxPrimary caps the primary extractor list. Zero means 3.
	MaxPrimary int

	// ConfidenceThreshold is the sequential-mode early-exit bar. Zero
	// means 0.7.
	ConfidenceThreshold float64
}

// Result is what Process hands back.
type Result struct {
	Opportunities  []model.Opportunity   `json:"opportunities"`
	ExtractorsUsed []string              `json:"extractors_used"`
	Analysis       model.ContentAnalysis `json:"analysis"`
	Confidence     float64               `json:"confidence"`
	Errors         []string              `json:"errors,omitempty"`
	Success        bool                  `json:"success"`
}

// fallbackBar: a primary pass whose average confidence lands below this
// triggers the fallback chain.
const fallbackBar = 0.5

// indicatorThreshold: minimum fingerprint score before the portal-specific
// extractor joins the primary list.
const indicatorThreshold = 0.3

// Engine selects and runs extractors over raw content.
type Engine struct {
	mu         sync.RWMutex
	extractors []Extractor
	byName     map[string]Extractor
	logger     logging.Logger
}

// NewEngine registers the given extractors in priority order.
func NewEngine(logger logging.Logger, extractors ...Extractor) *Engine {
	e := &Engine{
		byName: make(map[string]Extractor),
		logger: logger,
	}
	for _, ex := range extractors {
		e.Register(ex)
	}
	return e
}

// Register adds an extractor. Re-registering a name replaces it.
func (e *Engine) Register(ex Extractor) {
	if ex == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.byName[ex.Name()]; !exists {
		e.extractors = append(e.extractors, ex)
	} else {
		for i, existing := range e.extractors {
			if existing.Name() == ex.Name() {
				e.extractors[i] = ex
				break
			}
		}
	}
	e.byName[ex.Name()] = ex
}

// Process analyzes content, picks an extraction strategy, executes it with
// fallback, and post-processes the merged results.
func (e *Engine) Process(ctx context.Context, body []byte, sourceURL string, portalType model.PortalType, opts Options) *Result {
	if opts.MaxPrimary <= 0 {
		opts.MaxPrimary = 3
	}
	if opts.ConfidenceThreshold <= 0 {
		opts.ConfidenceThreshold = 0.7
	}

	analysis := Analyze(body, sourceURL, portalType)
	content := Content{Body: body, SourceURL: sourceURL, PortalType: portalType, Analysis: analysis}

	primary, fallbacks := e.selectStrategy(&analysis, portalType, opts.MaxPrimary)
	analysis.Recommended = names(primary)

	result := &Result{Analysis: analysis}

	batches := e.execute(ctx, content, primary, opts, result)
	merged := e.postProcess(batches)

	if len(merged) == 0 || averageConfidence(merged) < fallbackBar {
		if fbBatches := e.runFallbacks(ctx, content, fallbacks, result); len(fbBatches) > 0 {
			merged = e.postProcess(append(batches, fbBatches...))
		}
	}

	result.Opportunities = merged
	result.Confidence = averageConfidence(merged)
	result.Success = len(merged) > 0

	if e.logger != nil {
		e.logger.Info("extraction finished",
			logging.Field{Key: "url", Value: sourceURL},
			logging.Field{Key: "extractors", Value: result.ExtractorsUsed},
			logging.Field{Key: "opportunities", Value: len(merged)},
			logging.Field{Key: "confidence", Value: result.Confidence})
	}
	return result
}

// selectStrategy builds the primary list: the portal-specific extractor
// when its fingerprint clears the threshold, a content-type extractor when
// structure was detected, and the keyword extractor on high confidence.
// Everything registered but unselected becomes a fallback.
func (e *Engine) selectStrategy(analysis *model.ContentAnalysis, portalType model.PortalType, maxPrimary int) (primary, fallbacks []Extractor) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	selected := map[string]bool{}
	add := func(name string) {
		if len(primary) >= maxPrimary || selected[name] {
			return
		}
		if ex, ok := e.byName[name]; ok {
			primary = append(primary, ex)
			selected[name] = true
		}
	}

	if analysis.PortalScore > indicatorThreshold {
		if name := portalExtractor(portalType); name != "" {
			add(name)
		}
	}

	switch analysis.Kind {
	case model.ContentAPI:
		add(NameAPI)
	case model.ContentMarkup:
		if analysis.HasTables || analysis.HasJSONLD || analysis.HasListings {
			add(NameStructured)
		}
	}

	if analysis.Confidence >= 0.5 {
		add(NameGeneric)
	}

	for _, ex := range e.extractors {
		if !selected[ex.Name()] {
			fallbacks = append(fallbacks, ex)
		}
	}
	return primary, fallbacks
}

// portalExtractor maps a portal type to its dedicated extractor name.
func portalExtractor(portalType model.PortalType) string {
	if portalType == model.PortalSAMGov {
		return NameAPI
	}
	return ""
}

type batch struct {
	name string
	opps []model.Opportunity
}

// execute runs the primary extractors, either all in parallel or
// sequentially with early exit.
func (e *Engine) execute(ctx context.Context, content Content, primary []Extractor, opts Options, result *Result) []batch {
	if len(primary) == 0 {
		return nil
	}

	if opts.Parallel {
		return e.executeParallel(ctx, content, primary, result)
	}
	return e.executeSequential(ctx, content, primary, opts.ConfidenceThreshold, result)
}

func (e *Engine) executeParallel(ctx context.Context, content Content, primary []Extractor, result *Result) []batch {
	var mu sync.Mutex
	var batches []batch

	g, gctx := errgroup.WithContext(ctx)
	for _, ex := range primary {
		g.Go(func() error {
			opps, err := ex.Extract(gctx, content)
			mu.Lock()
			defer mu.Unlock()
			result.ExtractorsUsed = append(result.ExtractorsUsed, ex.Name())
			if err != nil {
				// Individual failures are tolerated in parallel mode.
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", ex.Name(), err))
				return nil
			}
			batches = append(batches, batch{name: ex.Name(), opps: opps})
			return nil
		})
	}
	_ = g.Wait()
	return batches
}

func (e *Engine) executeSequential(ctx context.Context, content Content, primary []Extractor, threshold float64, result *Result) []batch {
	var batches []batch
	for _, ex := range primary {
		opps, err := ex.Extract(ctx, content)
		result.ExtractorsUsed = append(result.ExtractorsUsed, ex.Name())
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", ex.Name(), err))
			continue
		}
		batches = append(batches, batch{name: ex.Name(), opps: opps})

		scored := e.postProcess([]batch{{name: ex.Name(), opps: opps}})
		if len(scored) > 0 && averageConfidence(scored) >= threshold {
			break
		}
	}
	return batches
}

// runFallbacks tries fallback extractors in order until one yields a
// non-empty result.
func (e *Engine) runFallbacks(ctx context.Context, content Content, fallbacks []Extractor, result *Result) []batch {
	for _, ex := range fallbacks {
		opps, err := ex.Extract(ctx, content)
		result.ExtractorsUsed = append(result.ExtractorsUsed, ex.Name())
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", ex.Name(), err))
			continue
		}
		if len(opps) > 0 {
			return []batch{{name: ex.Name(), opps: opps}}
		}
	}
	return nil
}

// postProcess scores every record, drops those under the producing
// extractor's floor, and deduplicates by normalized (title, url) keeping
// the higher-confidence record.
func (e *Engine) postProcess(batches []batch) []model.Opportunity {
	seen := map[string]int{}
	var out []model.Opportunity

	for _, b := range batches {
		floor := floorFor(b.name)
		for _, opp := range b.opps {
			opp.Confidence = scoreOpportunity(&opp)
			if opp.Confidence < floor {
				continue
			}
			key := utils.OpportunityKey(opp.Title, opp.SourceURL)
			if idx, dup := seen[key]; dup {
				if opp.Confidence > out[idx].Confidence {
					out[idx] = opp
				}
				continue
			}
			seen[key] = len(out)
			out = append(out, opp)
		}
	}
	return out
}

func names(extractors []Extractor) []string {
	out := make([]string, 0, len(extractors))
	for _, ex := range extractors {
		out = append(out, ex.Name())
	}
	return out
}
