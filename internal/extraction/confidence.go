package extraction

import (
	"net/url"
	"strings"

	"github.com/opphound/opphound/internal/model"
)

// fieldWeights maps opportunity fields to their contribution when present
// and well formed. These are heuristic and can be tuned over time.
var fieldWeights = map[string]float64{
	"title":       0.25,
	"description": 0.10,
	"agency":      0.15,
	"deadline":    0.15,
	"url":         0.20,
	"value":       0.05,
	"notice_id":   0.10,
}

// scoreOpportunity computes a 0.0-1.0 confidence for one record. Presence
// of each field earns its weight; malformed URLs earn nothing.
func scoreOpportunity(opp *model.Opportunity) float64 {
	score := 0.0

	if strings.TrimSpace(opp.Title) != "" {
		score += fieldWeights["title"]
	}
	if strings.TrimSpace(opp.Description) != "" {
		score += fieldWeights["description"]
	}
	if strings.TrimSpace(opp.Agency) != "" {
		score += fieldWeights["agency"]
	}
	if opp.Deadline != nil && !opp.Deadline.IsZero() {
		score += fieldWeights["deadline"]
	}
	if wellFormedURL(opp.SourceURL) {
		score += fieldWeights["url"]
	}
	if opp.EstimatedValue > 0 {
		score += fieldWeights["value"]
	}
	if opp.NoticeID != "" {
		score += fieldWeights["notice_id"]
	}

	if score > 1 {
		score = 1
	}
	return score
}

func wellFormedURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func averageConfidence(opps []model.Opportunity) float64 {
	if len(opps) == 0 {
		return 0
	}
	sum := 0.0
	for _, o := range opps {
		sum += o.Confidence
	}
	return sum / float64(len(opps))
}
