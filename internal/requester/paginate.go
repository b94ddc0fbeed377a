package requester

import (
	"context"
	"net/url"
	"strconv"

	"github.com/dpeinsight/backend/internal/domain"
)

// ProgressReporter is told the cumulative record count after each page.
// It runs on the fetching goroutine and must not block
type ProgressReporter interface {
	Report(fetched, total int)
}

// ProgressFunc adapts a function to ProgressReporter
type ProgressFunc func(fetched, total int)

func (f ProgressFunc) Report(fetched, total int) { f(fetched, total) }

// Page is the envelope of a lines-style dataset API
type Page struct {
	Results []domain.Record `json:"results"`
	Next    string          `json:"next"`
	Total   int             `json:"total"`
}

// PageQuery scopes a paginated fetch
type PageQuery struct {
	URL    string
	Params url.Values
	Size   int
	// Limit caps the number of records; nil means everything
	Limit *int
}

// Paginate follows the next cursors of a lines endpoint and returns every
// record in receipt order.
//
// A size=1 probe learns the total first. Fetching stops on an empty page, a
// missing cursor, or once Limit records are held. The last page is kept whole
// even when it goes past Limit
func Paginate(ctx context.Context, f *Fetcher, q PageQuery, progress ProgressReporter) ([]domain.Record, error) {
	params := cloneValues(q.Params)
	if q.Size > 0 {
		params.Set("size", strconv.Itoa(q.Size))
	}

	total, err := countLines(ctx, f, q.URL, params)
	if err != nil {
		return nil, err
	}
	if q.Limit != nil && *q.Limit < total {
		total = *q.Limit
	}
	if total < 0 {
		total = 0
	}

	if progress != nil {
		progress.Report(0, total)
	}
	if total == 0 {
		return nil, nil
	}

	var records []domain.Record
	next := q.URL
	for next != "" {
		if q.Limit != nil && len(records) >= *q.Limit {
			break
		}

		var page Page
		found, err := f.GetJSON(ctx, next, params, &page)
		if err != nil {
			return nil, err
		}
		if !found || len(page.Results) == 0 {
			break
		}
		records = append(records, page.Results...)
		if progress != nil {
			progress.Report(len(records), total)
		}

		next = page.Next
		// the cursor carries the query from here on
		params = nil
	}
	return records, nil
}

func countLines(ctx context.Context, f *Fetcher, rawURL string, params url.Values) (int, error) {
	probe := cloneValues(params)
	probe.Set("size", "1")

	var page Page
	found, err := f.GetJSON(ctx, rawURL, probe, &page)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	return page.Total, nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
