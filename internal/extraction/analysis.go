package extraction

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/opphound/opphound/internal/model"
)

// rfpKeywords are the domain terms whose presence marks procurement
// content. Matching is case-insensitive.
var rfpKeywords = []string{
	"rfp", "request for proposal", "solicitation", "procurement",
	"bid", "tender", "contract opportunity", "rfq", "request for quote",
	"notice id", "due date", "pre-bid", "award",
}

// portalFingerprints are per-portal-type indicator strings used to score
// how strongly raw content matches a known portal family.
var portalFingerprints = map[model.PortalType][]string{
	model.PortalSAMGov: {
		"sam.gov", "noticeid", "opportunitiesdata", "naics", "set-aside",
	},
	model.PortalStateBid: {
		"bid number", "solicitation number", "purchasing division",
		"vendor portal", "addendum",
	},
}

// Analyze classifies raw content and produces the analysis the strategy
// selector works from. It never fails; unparseable content degrades to
// plain text with zero structure.
func Analyze(body []byte, sourceURL string, portalType model.PortalType) model.ContentAnalysis {
	analysis := model.ContentAnalysis{Kind: model.ContentPlain}
	lower := strings.ToLower(string(body))

	if looksLikeJSON(body) {
		analysis.Kind = model.ContentAPI
	} else if strings.Contains(lower, "<html") || strings.Contains(lower, "<body") || strings.Contains(lower, "<div") {
		analysis.Kind = model.ContentMarkup
		if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
			analysis.HasTables = doc.Find("table").Length() > 0
			analysis.HasListings = doc.Find("ul li a, ol li a, .listing, .opportunity, .bid-item").Length() > 0
			analysis.HasJSONLD = doc.Find(`script[type="application/ld+json"]`).Length() > 0
		}
	}

	for _, kw := range rfpKeywords {
		if strings.Contains(lower, kw) {
			analysis.Keywords = append(analysis.Keywords, kw)
		}
	}

	analysis.PortalScore = fingerprintScore(lower, portalType)
	analysis.Confidence = combineConfidence(&analysis)
	return analysis
}

func looksLikeJSON(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return false
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return false
	}
	return json.Valid(trimmed)
}

func fingerprintScore(lower string, portalType model.PortalType) float64 {
	indicators := portalFingerprints[portalType]
	if len(indicators) == 0 {
		return 0
	}
	hits := 0
	for _, ind := range indicators {
		if strings.Contains(lower, ind) {
			hits++
		}
	}
	return float64(hits) / float64(len(indicators))
}

// combineConfidence folds structure, keywords and fingerprint into one
// 0.0-1.0 value.
func combineConfidence(a *model.ContentAnalysis) float64 {
	score := 0.0

	switch a.Kind {
	case model.ContentAPI:
		score += 0.4
	case model.ContentMarkup:
		score += 0.2
	}
	if a.HasTables || a.HasListings || a.HasJSONLD {
		score += 0.15
	}

	// Keyword density saturates at five distinct hits.
	kw := float64(len(a.Keywords)) / 5.0
	if kw > 1 {
		kw = 1
	}
	score += 0.25 * kw

	score += 0.2 * a.PortalScore

	if score > 1 {
		score = 1
	}
	return score
}
