package extraction

import (
	"context"

	"github.com/opphound/opphound/internal/model"
)

// Extractor names used in selection, results and logs.
const (
	NameAPI        = "sam_api"
	NameStructured = "structured_markup"
	NameGeneric    = "generic_markup"
)

// Content is the raw input handed to extractors.
type Content struct {
	Body       []byte
	SourceURL  string
	PortalType model.PortalType
	Analysis   model.ContentAnalysis
}

// Extractor turns raw content into opportunity records. Implementations
// must be safe for concurrent use.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, content Content) ([]model.Opportunity, error)
}

// minConfidence is the per-extractor floor applied during post-processing.
// Structured sources warrant stricter floors than generic scrapes.
var minConfidence = map[string]float64{
	NameAPI:        0.6,
	NameStructured: 0.5,
	NameGeneric:    0.35,
}

// floorFor returns the confidence floor for an extractor name, defaulting
// to the generic floor for unknown extractors.
func floorFor(name string) float64 {
	if f, ok := minConfidence[name]; ok {
		return f
	}
	return minConfidence[NameGeneric]
}
