package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/opphound/opphound/internal/model"
	"github.com/opphound/opphound/internal/utils"
)

// StructuredExtractor reads opportunities out of structured markup: listing
// tables with recognizable headers and JSON-LD blocks.
type StructuredExtractor struct{}

func NewStructuredExtractor() *StructuredExtractor { return &StructuredExtractor{} }

func (e *StructuredExtractor) Name() string { return NameStructured }

func (e *StructuredExtractor) Extract(ctx context.Context, content Content) ([]model.Opportunity, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content.Body))
	if err != nil {
		return nil, err
	}

	var opps []model.Opportunity
	opps = append(opps, e.fromTables(doc, content.SourceURL)...)
	opps = append(opps, e.fromJSONLD(doc, content.SourceURL)...)
	return opps, nil
}

// headerAliases maps normalized table-header text to opportunity fields.
var headerAliases = map[string]string{
	"title":        "title",
	"opportunity":  "title",
	"solicitation": "title",
	"bid":          "title",
	"description":  "description",
	"summary":      "description",
	"agency":       "agency",
	"department":   "agency",
	"organization": "agency",
	"deadline":     "deadline",
	"due date":     "deadline",
	"close date":   "deadline",
	"closing":      "deadline",
	"value":        "value",
	"amount":       "value",
	"category":     "category",
	"type":         "category",
}

func (e *StructuredExtractor) fromTables(doc *goquery.Document, sourceURL string) []model.Opportunity {
	base, _ := utils.NewURLTools(sourceURL)
	var opps []model.Opportunity

	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		cols := map[int]string{}
		table.Find("thead th, tr:first-child th").Each(func(i int, th *goquery.Selection) {
			text := strings.ToLower(strings.TrimSpace(th.Text()))
			for alias, field := range headerAliases {
				if strings.Contains(text, alias) {
					cols[i] = field
					break
				}
			}
		})
		if len(cols) == 0 {
			return
		}

		table.Find("tbody tr, tr").Each(func(_ int, row *goquery.Selection) {
			if row.Find("th").Length() > 0 {
				return
			}
			opp := model.Opportunity{}
			row.Find("td").Each(func(i int, td *goquery.Selection) {
				field, ok := cols[i]
				if !ok {
					return
				}
				text := strings.TrimSpace(td.Text())
				switch field {
				case "title":
					opp.Title = text
					if href, ok := td.Find("a").Attr("href"); ok && base != nil {
						if resolved, err := base.ResolveFullURLString(href); err == nil {
							opp.SourceURL = resolved
						}
					}
				case "description":
					opp.Description = text
				case "agency":
					opp.Agency = text
				case "deadline":
					if t, ok := utils.ParseLooseDate(text); ok {
						opp.Deadline = &t
					}
				case "value":
					opp.EstimatedValue = parseMoney(text)
				case "category":
					opp.Category = text
				}
			})
			if opp.Title == "" {
				return
			}
			if opp.SourceURL == "" {
				opp.SourceURL = sourceURL
			}
			opps = append(opps, opp)
		})
	})

	return opps
}

// jsonLDGov matches schema.org GovernmentService/Offer-ish blocks portals
// embed for search engines.
type jsonLDEntry struct {
	Type        string `json:"@type"`
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Provider    struct {
		Name string `json:"name"`
	} `json:"provider"`
	ValidThrough string `json:"validThrough"`
}

func (e *StructuredExtractor) fromJSONLD(doc *goquery.Document, sourceURL string) []model.Opportunity {
	var opps []model.Opportunity

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return
		}

		var entries []jsonLDEntry
		if strings.HasPrefix(raw, "[") {
			if err := json.Unmarshal([]byte(raw), &entries); err != nil {
				return
			}
		} else {
			var one jsonLDEntry
			if err := json.Unmarshal([]byte(raw), &one); err != nil {
				return
			}
			entries = []jsonLDEntry{one}
		}

		for _, entry := range entries {
			if entry.Name == "" {
				continue
			}
			opp := model.Opportunity{
				Title:       entry.Name,
				Description: entry.Description,
				Agency:      entry.Provider.Name,
				SourceURL:   entry.URL,
			}
			if opp.SourceURL == "" {
				opp.SourceURL = sourceURL
			}
			if t, ok := utils.ParseLooseDate(entry.ValidThrough); ok {
				opp.Deadline = &t
			}
			opps = append(opps, opp)
		}
	})

	return opps
}

// parseMoney strips currency punctuation and parses the remainder.
func parseMoney(text string) float64 {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return -1
	}, text)
	if cleaned == "" {
		return 0
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return v
}
