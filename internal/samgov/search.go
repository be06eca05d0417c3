package samgov

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/opphound/opphound/internal/model"
)

// apiDateFormat is the provider's required MM/dd/yyyy date format.
const apiDateFormat = "01/02/2006"

// SearchParams filter a paginated opportunity search. A zero date window
// defaults to the current year.
type SearchParams struct {
	Keywords     string
	Organization string
	PostedFrom   time.Time
	PostedTo     time.Time
	Limit        int
	Offset       int
}

type searchResponse struct {
	TotalRecords int            `json:"totalRecords"`
	Records      []searchRecord `json:"opportunitiesData"`
}

type searchRecord struct {
	NoticeID         string `json:"noticeId"`
	Title            string `json:"title"`
	Description      string `json:"description"`
	FullParentPath   string `json:"fullParentPathName"`
	ResponseDeadline string `json:"responseDeadLine"`
	UILink           string `json:"uiLink"`
	Type             string `json:"type"`
	Award            *struct {
		Amount string `json:"amount"`
	} `json:"award"`
}

// NormalizeDate renders t in the provider's required format.
func NormalizeDate(t time.Time) string {
	return t.Format(apiDateFormat)
}

// DefaultDateWindow is the current calendar year, used when the caller
// supplies no explicit window.
func DefaultDateWindow(now time.Time) (time.Time, time.Time) {
	from := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(now.Year(), time.December, 31, 0, 0, 0, 0, time.UTC)
	return from, to
}

// Search runs one page of the paginated search through the retry wrapper
// and maps records onto the pipeline's opportunity model.
func (c *Client) Search(ctx context.Context, params SearchParams) ([]model.Opportunity, int, error) {
	if params.Limit <= 0 {
		params.Limit = 100
	}
	if params.PostedFrom.IsZero() || params.PostedTo.IsZero() {
		params.PostedFrom, params.PostedTo = DefaultDateWindow(c.now())
	}

	q := url.Values{}
	q.Set("api_key", c.cfg.APIKey)
	q.Set("limit", strconv.Itoa(params.Limit))
	q.Set("offset", strconv.Itoa(params.Offset))
	q.Set("postedFrom", NormalizeDate(params.PostedFrom))
	q.Set("postedTo", NormalizeDate(params.PostedTo))
	if params.Keywords != "" {
		q.Set("title", params.Keywords)
	}
	if params.Organization != "" {
		q.Set("organizationName", params.Organization)
	}

	endpoint := c.cfg.BaseURL + "/search?" + q.Encode()

	resp, err := c.ExecuteWithRetry(ctx, "search", func(ctx context.Context) (*model.Response, error) {
		return c.get(ctx, endpoint)
	})
	if err != nil {
		return nil, 0, err
	}

	var parsed searchResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, 0, fmt.Errorf("decode search response: %w", err)
	}

	opps := make([]model.Opportunity, 0, len(parsed.Records))
	for _, rec := range parsed.Records {
		opps = append(opps, rec.toOpportunity())
	}
	return opps, parsed.TotalRecords, nil
}

// SearchAll pages through every result for params.
func (c *Client) SearchAll(ctx context.Context, params SearchParams) ([]model.Opportunity, error) {
	if params.Limit <= 0 {
		params.Limit = 100
	}
	var all []model.Opportunity
	offset := params.Offset

	for {
		params.Offset = offset
		page, total, err := c.Search(ctx, params)
		if err != nil {
			return all, err
		}
		all = append(all, page...)
		offset += len(page)
		if len(page) == 0 || offset >= total {
			return all, nil
		}
	}
}

func (c *Client) get(ctx context.Context, rawURL string) (*model.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &model.Response{
		Body:       body,
		Headers:    resp.Header,
		StatusCode: resp.StatusCode,
		FetchedAt:  time.Now(),
	}, nil
}

func (r searchRecord) toOpportunity() model.Opportunity {
	opp := model.Opportunity{
		Title:       r.Title,
		Description: r.Description,
		Agency:      r.FullParentPath,
		SourceURL:   r.UILink,
		Category:    r.Type,
		NoticeID:    r.NoticeID,
	}
	if r.ResponseDeadline != "" {
		if t, err := time.Parse(time.RFC3339, r.ResponseDeadline); err == nil {
			opp.Deadline = &t
		} else if t, err := time.Parse("2006-01-02", r.ResponseDeadline); err == nil {
			opp.Deadline = &t
		}
	}
	if r.Award != nil && r.Award.Amount != "" {
		if v, err := strconv.ParseFloat(r.Award.Amount, 64); err == nil {
			opp.EstimatedValue = v
		}
	}
	return opp
}
