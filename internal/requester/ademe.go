package requester

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/dpeinsight/backend/internal/domain"
)

const (
	ademeExistingDataset = "dpe03existant"
	ademeNewDataset      = "dpe02neuf"
)

// AdemeClient reads the ADEME DPE datasets of existing and new dwellings
type AdemeClient struct {
	fetcher  *Fetcher
	baseURL  string
	pageSize int
}

// NewAdemeClient creates a client rooted at the data-fair datasets URL
func NewAdemeClient(fetcher *Fetcher, baseURL string, pageSize int) *AdemeClient {
	if pageSize <= 0 {
		pageSize = 2500
	}
	return &AdemeClient{
		fetcher:  fetcher,
		baseURL:  strings.TrimRight(baseURL, "/"),
		pageSize: pageSize,
	}
}

// LinesQuery selects the records to fetch
type LinesQuery struct {
	// New selects the new-dwellings dataset instead of existing ones
	New        bool
	Department string
	Limit      *int
	// Size overrides the client page size when positive
	Size int
	// Extra query parameters passed through to the lines endpoint
	Extra url.Values
}

// Field describes one column of an ADEME dataset
type Field struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Group       string `json:"group"`
}

// DepartmentCount is the number of DPE records of one department
type DepartmentCount struct {
	Value string `json:"value"`
	Total int    `json:"total"`
}

func (c *AdemeClient) datasetURL(newHousing bool) string {
	if newHousing {
		return c.baseURL + "/" + ademeNewDataset
	}
	return c.baseURL + "/" + ademeExistingDataset
}

// Lines fetches dataset records, optionally restricted to a department
func (c *AdemeClient) Lines(ctx context.Context, q LinesQuery, progress ProgressReporter) ([]domain.Record, error) {
	params := cloneValues(q.Extra)
	if q.Department != "" {
		params.Set("qs", "code_departement_ban:"+q.Department)
	}
	size := c.pageSize
	if q.Size > 0 {
		size = q.Size
	}

	records, err := Paginate(ctx, c.fetcher, PageQuery{
		URL:    c.datasetURL(q.New) + "/lines",
		Params: params,
		Size:   size,
		Limit:  q.Limit,
	}, progress)
	if err != nil {
		return nil, fmt.Errorf("ademe: failed to fetch lines: %w", err)
	}
	return records, nil
}

// Fields lists the schema of a dataset
func (c *AdemeClient) Fields(ctx context.Context, newHousing bool) ([]Field, error) {
	var info struct {
		Schema []struct {
			Key         string `json:"key"`
			Label       string `json:"label"`
			Title       string `json:"title"`
			Type        string `json:"type"`
			Description string `json:"description"`
			Group       string `json:"x-group"`
		} `json:"schema"`
	}
	found, err := c.fetcher.GetJSON(ctx, c.datasetURL(newHousing), nil, &info)
	if err != nil {
		return nil, fmt.Errorf("ademe: failed to fetch schema: %w", err)
	}
	if !found {
		return nil, nil
	}

	fields := make([]Field, 0, len(info.Schema))
	for _, s := range info.Schema {
		f := Field{Key: s.Key, Label: s.Label, Type: s.Type, Description: s.Description, Group: s.Group}
		if f.Label == "" {
			f.Label = s.Title
		}
		if f.Label == "" {
			f.Label = s.Key
		}
		if f.Group == "" {
			f.Group = "Non classé"
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// DepartmentCounts aggregates the record count per department
func (c *AdemeClient) DepartmentCounts(ctx context.Context, newHousing bool) ([]DepartmentCount, error) {
	var agg struct {
		Aggs []DepartmentCount `json:"aggs"`
	}
	params := url.Values{
		"field":    {"code_departement_ban"},
		"agg_size": {strconv.Itoa(400)},
	}
	found, err := c.fetcher.GetJSON(ctx, c.datasetURL(newHousing)+"/values_agg", params, &agg)
	if err != nil {
		return nil, fmt.Errorf("ademe: failed to aggregate departments: %w", err)
	}
	if !found {
		return nil, nil
	}
	return agg.Aggs, nil
}
