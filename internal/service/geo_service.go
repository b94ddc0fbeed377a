package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/dpeinsight/backend/internal/cache"
	"github.com/dpeinsight/backend/internal/domain"
	"github.com/dpeinsight/backend/internal/reference"
	"github.com/dpeinsight/backend/internal/requester"
	"github.com/dpeinsight/backend/pkg/utils"
)

// AddressProperties are the properties of an address-search feature that
// carry department hints. Any of them may be empty
type AddressProperties struct {
	Label    string `json:"label"`
	City     string `json:"city"`
	Context  string `json:"context"`
	Postcode string `json:"postcode"`
	Citycode string `json:"citycode"`
}

type addressFeature struct {
	Geometry struct {
		Coordinates []float64 `json:"coordinates"`
	} `json:"geometry"`
	Properties AddressProperties `json:"properties"`
}

type addressSearch struct {
	Features []addressFeature `json:"features"`
}

// DepartmentExtractor derives a department code from address properties
type DepartmentExtractor func(p AddressProperties) (string, bool)

// DefaultExtractors try the context label, then the postcode, then the INSEE city code
var DefaultExtractors = []DepartmentExtractor{
	DepartmentFromContext,
	DepartmentFromPostcode,
	DepartmentFromCitycode,
}

// DepartmentFromContext reads the leading token of "69, Rhône, Auvergne-Rhône-Alpes"
func DepartmentFromContext(p AddressProperties) (string, bool) {
	if p.Context == "" {
		return "", false
	}
	first := strings.TrimSpace(strings.SplitN(p.Context, ",", 2)[0])
	if utils.IsDigits(first) {
		return utils.ZeroPad(first, 2), true
	}
	if up := strings.ToUpper(first); up == "2A" || up == "2B" {
		return up, true
	}
	return "", false
}

// DepartmentFromPostcode takes 2 characters of the postcode, 3 for overseas (97x, 98x)
func DepartmentFromPostcode(p AddressProperties) (string, bool) {
	pc := strings.TrimSpace(p.Postcode)
	if pc == "" {
		return "", false
	}
	if (strings.HasPrefix(pc, "97") || strings.HasPrefix(pc, "98")) && len(pc) >= 3 {
		return pc[:3], true
	}
	if len(pc) < 2 {
		return "", false
	}
	return pc[:2], true
}

// DepartmentFromCitycode takes the first 2 digits of a numeric INSEE code
func DepartmentFromCitycode(p AddressProperties) (string, bool) {
	cc := strings.TrimSpace(p.Citycode)
	if !utils.IsDigits(cc) || len(cc) < 2 {
		return "", false
	}
	return cc[:2], true
}

// IsInseeCode reports whether s looks like an INSEE commune code:
// 5 characters, the last 3 numeric ("69123", "2A004")
func IsInseeCode(s string) bool {
	return len(s) == 5 && utils.IsDigits(s[2:])
}

// GeoService resolves a city name or INSEE code to its location, department
// and climate zone
type GeoService struct {
	fetcher    *requester.Fetcher
	searchURL  string
	communeURL string
	zones      *reference.ClimateZoneTable
	extractors []DepartmentExtractor
	cache      cache.Store
	ttl        time.Duration
	logger     *slog.Logger
}

// NewGeoService creates a resolver. store may be nil
func NewGeoService(fetcher *requester.Fetcher, searchURL, communeURL string, zones *reference.ClimateZoneTable, store cache.Store, ttl time.Duration) *GeoService {
	return &GeoService{
		fetcher:    fetcher,
		searchURL:  searchURL,
		communeURL: strings.TrimRight(communeURL, "/"),
		zones:      zones,
		extractors: DefaultExtractors,
		cache:      store,
		ttl:        ttl,
		logger:     slog.Default().With("component", "geo"),
	}
}

// ResolveCity returns nil with a nil error when the input cannot be resolved.
//
// A department missing from the zone table resolves to H1. The batch cleaner
// leaves such rows without a zone instead
func (s *GeoService) ResolveCity(ctx context.Context, query string) (*domain.CityInfo, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	key := "city:" + strings.ToLower(query)
	if s.cache != nil {
		var cached domain.CityInfo
		if ok, err := s.cache.Get(ctx, key, &cached); err != nil {
			s.logger.Warn("City cache read failed", "error", err)
		} else if ok {
			return &cached, nil
		}
	}

	info, err := s.resolve(ctx, query)
	if err != nil || info == nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, info, s.ttl); err != nil {
			s.logger.Warn("City cache write failed", "error", err)
		}
	}
	return info, nil
}

func (s *GeoService) resolve(ctx context.Context, query string) (*domain.CityInfo, error) {
	var department, cityName string
	text := query

	if IsInseeCode(query) {
		code := strings.ToUpper(query)
		department = code[:2]
		name, err := s.communeName(ctx, code)
		if err != nil || name == "" {
			return nil, err
		}
		cityName, text = name, name
	}

	feature, err := s.search(ctx, text)
	if err != nil || feature == nil {
		return nil, err
	}
	coords := feature.Geometry.Coordinates
	if len(coords) < 2 {
		return nil, nil
	}

	if department == "" {
		dep, ok := s.extractDepartment(feature.Properties)
		if !ok {
			s.logger.Debug("No department in address match", "query", query)
			return nil, nil
		}
		department = dep
	}
	if cityName == "" {
		cityName = feature.Properties.City
	}
	if cityName == "" {
		cityName = query
	}

	zone, ok := s.zones.Lookup(department)
	if !ok {
		zone = domain.ZoneH1
	}

	return &domain.CityInfo{
		City:        cityName,
		Department:  department,
		Latitude:    coords[1],
		Longitude:   coords[0],
		ClimateZone: zone,
	}, nil
}

func (s *GeoService) extractDepartment(p AddressProperties) (string, bool) {
	for _, extract := range s.extractors {
		if dep, ok := extract(p); ok {
			return dep, true
		}
	}
	return "", false
}

func (s *GeoService) communeName(ctx context.Context, code string) (string, error) {
	var commune struct {
		Nom string `json:"nom"`
	}
	found, err := s.fetcher.GetJSON(ctx, s.communeURL+"/"+url.PathEscape(code), nil, &commune)
	if err != nil {
		return "", fmt.Errorf("geo: failed to fetch commune %s: %w", code, err)
	}
	if !found {
		return "", nil
	}
	return commune.Nom, nil
}

func (s *GeoService) search(ctx context.Context, text string) (*addressFeature, error) {
	var result addressSearch
	params := url.Values{"q": {text}, "limit": {"1"}}
	found, err := s.fetcher.GetJSON(ctx, s.searchURL, params, &result)
	if err != nil {
		return nil, fmt.Errorf("geo: address search failed: %w", err)
	}
	if !found || len(result.Features) == 0 {
		return nil, nil
	}
	return &result.Features[0], nil
}
