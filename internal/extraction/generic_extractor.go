package extraction

import (
	"bytes"
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/opphound/opphound/internal/model"
	"github.com/opphound/opphound/internal/utils"
)

// GenericExtractor is the keyword-driven last-resort scrape: it walks every
// link on the page and keeps the ones whose text reads like a procurement
// notice.
type GenericExtractor struct{}

func NewGenericExtractor() *GenericExtractor { return &GenericExtractor{} }

func (e *GenericExtractor) Name() string { return NameGeneric }

func (e *GenericExtractor) Extract(ctx context.Context, content Content) ([]model.Opportunity, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content.Body))
	if err != nil {
		return nil, err
	}

	// Navigation chrome only produces noise.
	doc.Find("script, style, nav, header, footer, noscript, iframe").Remove()

	base, _ := utils.NewURLTools(content.SourceURL)
	var opps []model.Opportunity

	doc.Find("a").Each(func(_ int, a *goquery.Selection) {
		text := collapseWhitespace(a.Text())
		if text == "" || !keywordMatch(text) {
			return
		}

		href, _ := a.Attr("href")
		link := content.SourceURL
		if href != "" && base != nil {
			if resolved, err := base.ResolveFullURLString(href); err == nil {
				link = resolved
			}
		}

		opp := model.Opportunity{
			Title:     text,
			SourceURL: link,
		}

		// The surrounding block often carries agency or deadline text.
		if parent := a.Closest("li, tr, article, .listing, .opportunity"); parent.Length() > 0 {
			context := collapseWhitespace(parent.Text())
			if len(context) > len(text) {
				opp.Description = truncateText(context, 300)
			}
		}

		opps = append(opps, opp)
	})

	return opps, nil
}

func keywordMatch(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range rfpKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
