package service

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/mmcloughlin/geohash"

	"github.com/dpeinsight/backend/internal/cache"
	"github.com/dpeinsight/backend/internal/requester"
)

// elevationPrecision is the geohash length used as cache key (~5m cells)
const elevationPrecision = 9

// ElevationService looks up the altitude of a point
type ElevationService struct {
	fetcher *requester.Fetcher
	url     string
	cache   cache.Store
	ttl     time.Duration
	logger  *slog.Logger
}

// NewElevationService creates an elevation client. store may be nil
func NewElevationService(fetcher *requester.Fetcher, elevationURL string, store cache.Store, ttl time.Duration) *ElevationService {
	return &ElevationService{
		fetcher: fetcher,
		url:     elevationURL,
		cache:   store,
		ttl:     ttl,
		logger:  slog.Default().With("component", "elevation"),
	}
}

type elevationResponse struct {
	ResultCount int `json:"resultCount"`
	GeoPoints   []struct {
		Elevation float64 `json:"elevation"`
	} `json:"geoPoints"`
}

// Elevation returns the altitude in meters, or nil when it is unknown.
// Missing or zero coordinates return nil without calling the API
func (s *ElevationService) Elevation(ctx context.Context, lat, lon *float64) (*float64, error) {
	if lat == nil || lon == nil || *lat == 0 || *lon == 0 {
		return nil, nil
	}

	key := "elevation:" + geohash.EncodeWithPrecision(*lat, *lon, elevationPrecision)
	if s.cache != nil {
		var cached float64
		if ok, err := s.cache.Get(ctx, key, &cached); err != nil {
			s.logger.Warn("Elevation cache read failed", "error", err)
		} else if ok {
			return &cached, nil
		}
	}

	params := url.Values{
		"lat": {strconv.FormatFloat(*lat, 'f', -1, 64)},
		"lon": {strconv.FormatFloat(*lon, 'f', -1, 64)},
	}
	var resp elevationResponse
	found, err := s.fetcher.GetJSON(ctx, s.url, params, &resp)
	if err != nil {
		var statusErr *requester.StatusError
		if errors.As(err, &statusErr) {
			s.logger.Warn("Elevation lookup failed", "error", err)
			return nil, nil
		}
		return nil, err
	}
	if !found || resp.ResultCount == 0 || len(resp.GeoPoints) == 0 {
		return nil, nil
	}

	alt := resp.GeoPoints[0].Elevation
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, alt, s.ttl); err != nil {
			s.logger.Warn("Elevation cache write failed", "error", err)
		}
	}
	return &alt, nil
}
