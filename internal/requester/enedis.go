package requester

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// EnedisClient reads the residential annual consumption dataset of Enedis
type EnedisClient struct {
	fetcher    *Fetcher
	datasetURL string
}

// NewEnedisClient creates a client for the dataset at datasetURL
func NewEnedisClient(fetcher *Fetcher, datasetURL string) *EnedisClient {
	return &EnedisClient{fetcher: fetcher, datasetURL: strings.TrimRight(datasetURL, "/")}
}

// EnedisField describes one column of the Enedis dataset
type EnedisField struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Fields lists the dataset columns
func (c *EnedisClient) Fields(ctx context.Context) ([]EnedisField, error) {
	var info struct {
		Fields []EnedisField `json:"fields"`
	}
	found, err := c.fetcher.GetJSON(ctx, c.datasetURL, nil, &info)
	if err != nil {
		return nil, fmt.Errorf("enedis: failed to fetch fields: %w", err)
	}
	if !found {
		return nil, nil
	}
	return info.Fields, nil
}

// Count returns the number of records matching an ODSQL where clause, or
// every record when where is empty
func (c *EnedisClient) Count(ctx context.Context, where string) (int, error) {
	params := url.Values{"limit": {"0"}}
	if where != "" {
		params.Set("where", where)
	}
	var resp struct {
		TotalCount int `json:"total_count"`
	}
	found, err := c.fetcher.GetJSON(ctx, c.datasetURL+"/records", params, &resp)
	if err != nil {
		return 0, fmt.Errorf("enedis: failed to count records: %w", err)
	}
	if !found {
		return 0, nil
	}
	return resp.TotalCount, nil
}
