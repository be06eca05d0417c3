package fetcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/opphound/opphound/internal/interfaces"
	"github.com/opphound/opphound/internal/logging"
	"github.com/opphound/opphound/internal/model"
)

// Page is one fetched portal page. Err is set when the fetch failed; the
// page still appears in the result set so callers see every URL accounted
// for.
type Page struct {
	URL      string
	Response *model.Response
	Err      error
}

// Fetcher retrieves portal pages with bounded concurrency.
type Fetcher struct {
	MaxConcurrency int
	wc             interfaces.WebClient
	logger         logging.Logger
}

func New(maxConcurrency int, wc interfaces.WebClient, logger logging.Logger) *Fetcher {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &Fetcher{MaxConcurrency: maxConcurrency, wc: wc, logger: logger}
}

// FetchAll retrieves every URL concurrently and returns pages in the input
// order. Individual failures are recorded per page, not returned as one
// error; a canceled context stops scheduling new fetches.
func (f *Fetcher) FetchAll(ctx context.Context, pageURLs []string) []Page {
	pages := make([]Page, len(pageURLs))

	var wg sync.WaitGroup
	sem := make(chan struct{}, f.MaxConcurrency)

	for i, pageURL := range pageURLs {
		if ctx.Err() != nil {
			for j := i; j < len(pageURLs); j++ {
				pages[j] = Page{URL: pageURLs[j], Err: ctx.Err()}
			}
			break
		}

		wg.Add(1)
		go func(i int, pageURL string) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			resp, err := f.get(ctx, pageURL)
			if err != nil {
				if f.logger != nil {
					f.logger.Error("error while fetching page",
						logging.Field{Key: "url", Value: pageURL},
						logging.Field{Key: "error", Value: err.Error()})
				}
				pages[i] = Page{URL: pageURL, Err: err}
				return
			}
			pages[i] = Page{URL: pageURL, Response: resp}
		}(i, pageURL)
	}

	wg.Wait()
	return pages
}

func (f *Fetcher) get(ctx context.Context, pageURL string) (*model.Response, error) {
	if f.wc == nil {
		return nil, fmt.Errorf("fetcher: webclient is nil")
	}
	resp, err := f.wc.Get(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("error GETting %s: %w", pageURL, err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("received status %d from %s", resp.StatusCode, pageURL)
	}
	return resp, nil
}
