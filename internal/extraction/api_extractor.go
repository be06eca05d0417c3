package extraction

import (
	"context"
	"fmt"

	"github.com/opphound/opphound/internal/logging"
	"github.com/opphound/opphound/internal/model"
	"github.com/opphound/opphound/internal/samgov"
)

// APIExtractor talks to the external structured search API. When an access
// credential is configured it always prefers the direct API call and only
// falls back to markup scraping when the API yields zero results; the
// structured path is far more reliable, so this ordering is a correctness
// requirement.
type APIExtractor struct {
	client   *samgov.Client
	fallback Extractor
	logger   logging.Logger
}

func NewAPIExtractor(client *samgov.Client, fallback Extractor, logger logging.Logger) *APIExtractor {
	if fallback == nil {
		fallback = NewStructuredExtractor()
	}
	return &APIExtractor{client: client, fallback: fallback, logger: logger}
}

func (e *APIExtractor) Name() string { return NameAPI }

func (e *APIExtractor) Extract(ctx context.Context, content Content) ([]model.Opportunity, error) {
	if e.client == nil || !e.client.HasKey() {
		if e.logger != nil {
			e.logger.Debug("no api credential configured, using markup fallback")
		}
		return e.fallback.Extract(ctx, content)
	}

	opps, err := e.client.SearchAll(ctx, samgov.SearchParams{})
	if err != nil {
		return nil, fmt.Errorf("api search: %w", err)
	}
	if len(opps) > 0 {
		return opps, nil
	}

	if e.logger != nil {
		e.logger.Debug("api search returned no records, using markup fallback",
			logging.Field{Key: "url", Value: content.SourceURL})
	}
	return e.fallback.Extract(ctx, content)
}
