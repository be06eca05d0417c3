package spider

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/html"

	"github.com/opphound/opphound/internal/interfaces"
	"github.com/opphound/opphound/internal/model"
	"github.com/opphound/opphound/internal/utils"
)

// listingHints mark URLs that likely lead to procurement listings. Pages
// matching more hints crawl and rank earlier.
var listingHints = []string{
	"bid", "rfp", "rfq", "solicitation", "opportunit",
	"procurement", "contract", "tender", "award", "notice",
}

// Spider walks a portal breadth-first and returns the content map: every
// same-domain page URL found, listing-like pages first.
type Spider struct {
	MaxDepth int
	MaxPages int
	wc       interfaces.WebClient
	logger   interfaces.Logger
}

func New(maxDepth, maxPages int, wc interfaces.WebClient, logger interfaces.Logger) *Spider {
	if maxDepth <= 0 {
		maxDepth = 2
	}
	if maxPages <= 0 {
		maxPages = 50
	}
	return &Spider{MaxDepth: maxDepth, MaxPages: maxPages, wc: wc, logger: logger}
}

type crawl struct {
	spider  *Spider
	root    *utils.URLTools
	depth   map[string]int
	results []string
	re      *regexp.Regexp
}

func newCrawl(spider *Spider, root string) (*crawl, error) {
	rootURL, err := utils.NewURLTools(root)
	if err != nil {
		return nil, err
	}
	canonical := rootURL.URL.String()
	return &crawl{
		spider:  spider,
		root:    rootURL,
		depth:   map[string]int{canonical: 0},
		results: []string{canonical},
		re:      regexp.MustCompile(`https?://[^\s"'<>]+`),
	}, nil
}

func (c *crawl) resolveFullURLs(baseURL string, links []string) []string {
	base, err := utils.NewURLTools(baseURL)
	if err != nil {
		return nil
	}

	var result []string
	for _, v := range links {
		resolved, err := base.ResolveFullURLString(v)
		if err != nil {
			if c.spider.logger != nil {
				c.spider.logger.Warn("couldn't resolve url",
					interfaces.Field{Key: "url", Value: v},
					interfaces.Field{Key: "error", Value: err.Error()})
			}
			continue
		}
		result = append(result, resolved)
	}
	return result
}

func (c *crawl) extractLinksHTML(node *html.Node, baseURL string, links *[]string) {
	if node.Type == html.ElementNode {
		var cLinks []string
		for _, attr := range node.Attr {
			if attr.Key == "href" {
				cLinks = append(cLinks, attr.Val)
			}
		}
		*links = append(*links, c.resolveFullURLs(baseURL, cLinks)...)
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		c.extractLinksHTML(child, baseURL, links)
	}
}

func (c *crawl) crawlPage(ctx context.Context, target string) ([]string, error) {
	req := &model.Request{
		Method:  "GET",
		URL:     target,
		Headers: http.Header{},
	}

	resp, err := c.spider.wc.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("error making http request: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("received status %d from %s", resp.StatusCode, target)
	}

	bodyStr := string(resp.Body)
	var links []string
	contentType := resp.Headers.Get("Content-Type")
	if contentType == "" || strings.HasPrefix(contentType, "text/html") {
		doc, err := html.Parse(strings.NewReader(bodyStr))
		if err != nil {
			return nil, fmt.Errorf("couldn't parse %s: %w", target, err)
		}
		c.extractLinksHTML(doc, target, &links)
	} else {
		links = c.re.FindAllString(bodyStr, -1)
	}
	return links, nil
}

func (c *crawl) appendPages(pages []string, lastDepth int) {
	for _, page := range pages {
		if len(c.results) >= c.spider.MaxPages {
			return
		}

		pageURL, err := utils.NewURLTools(page)
		if err != nil {
			continue
		}
		if !c.root.DomainIsSame(pageURL) {
			continue
		}

		pageStr := pageURL.URL.String()
		if _, exists := c.depth[pageStr]; !exists {
			c.depth[pageStr] = lastDepth + 1
			c.results = append(c.results, pageStr)
		}
	}
}

func (c *crawl) run(ctx context.Context) error {
	for currPage := 0; currPage < len(c.results); currPage++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		target := c.results[currPage]
		if c.depth[target] >= c.spider.MaxDepth {
			continue
		}

		crawled, err := c.crawlPage(ctx, target)
		if err != nil {
			// An unreachable entry page means the portal can't be scanned
			// at all; deeper failures just prune that branch.
			if currPage == 0 {
				return fmt.Errorf("portal entry page unreachable: %w", err)
			}
			if c.spider.logger != nil {
				c.spider.logger.Error("error while crawling page",
					interfaces.Field{Key: "url", Value: target},
					interfaces.Field{Key: "error", Value: err.Error()})
			}
			continue
		}
		c.appendPages(crawled, c.depth[target])
	}
	return nil
}

// listingScore counts listing hints in a URL's path and query.
func listingScore(rawURL string) int {
	lower := strings.ToLower(rawURL)
	score := 0
	for _, hint := range listingHints {
		if strings.Contains(lower, hint) {
			score++
		}
	}
	return score
}

// Crawl builds the content map for a portal starting at target. The
// returned slice always contains target itself; listing-like URLs sort
// ahead of the rest, ties keep discovery order.
func (s *Spider) Crawl(ctx context.Context, target string) ([]string, error) {
	c, err := newCrawl(s, target)
	if err != nil {
		return nil, err
	}
	if err := c.run(ctx); err != nil {
		return nil, err
	}

	results := c.results
	sort.SliceStable(results, func(i, j int) bool {
		return listingScore(results[i]) > listingScore(results[j])
	})
	return results, nil
}
