// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package services contains the clients for the external systems a committed
// place touches. This file, `places.go`, defines the PlacesService, which
// resolves a candidate place against the Places API (New) text search.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jaycherian/gcp-go-place-saver/internal/cloud"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/model"
	"golang.org/x/time/rate"
)

const (
	DefaultPlacesBaseURL = "https://places.googleapis.com/v1"
	mapsSearchURL        = "https://www.google.com/maps/search/?api=1"
	placesFieldMask      = "places.id,places.displayName,places.formattedAddress,places.location,places.rating,places.userRatingCount,places.priceLevel,places.types"
)

// ErrLookupFailed is returned when the Places API answers with anything but
// a usable response. The VerifiedPlace returned with it still carries a
// search link.
var ErrLookupFailed = errors.New("places lookup failed")

// priceLevels maps the Places API price enum to the "$" notation used in
// records and the spreadsheet.
var priceLevels = map[string]string{
	"PRICE_LEVEL_INEXPENSIVE":    "$",
	"PRICE_LEVEL_MODERATE":       "$$",
	"PRICE_LEVEL_EXPENSIVE":      "$$$",
	"PRICE_LEVEL_VERY_EXPENSIVE": "$$$$",
}

// PlacesService encapsulates the HTTP client and settings used to look up
// places. Calls are rate limited so a burst of multi-place posts stays under
// the project quota.
type PlacesService struct {
	client       *resty.Client
	limiter      *rate.Limiter
	apiKey       string
	regionCode   string
	languageCode string
}

type searchTextRequest struct {
	TextQuery      string `json:"textQuery"`
	RegionCode     string `json:"regionCode,omitempty"`
	LanguageCode   string `json:"languageCode,omitempty"`
	MaxResultCount int    `json:"maxResultCount"`
}

type searchTextResponse struct {
	Places []struct {
		ID          string `json:"id"`
		DisplayName struct {
			Text string `json:"text"`
		} `json:"displayName"`
		FormattedAddress string `json:"formattedAddress"`
		Location         *struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"location"`
		Rating          *float64 `json:"rating"`
		UserRatingCount *int     `json:"userRatingCount"`
		PriceLevel      string   `json:"priceLevel"`
		Types           []string `json:"types"`
	} `json:"places"`
}

// NewPlacesService creates a PlacesService from its configuration section.
func NewPlacesService(config cloud.Places) *PlacesService {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultPlacesBaseURL
	}
	timeout := time.Duration(config.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}
	region := config.RegionCode
	if region == "" {
		region = "TW"
	}
	language := config.LanguageCode
	if language == "" {
		language = "zh-TW"
	}
	return &PlacesService{
		client: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
		limiter:      rate.NewLimiter(limit, 1),
		apiKey:       config.APIKey,
		regionCode:   region,
		languageCode: language,
	}
}

// IsConfigured reports whether an API key is set.
func (s *PlacesService) IsConfigured() bool {
	return s.apiKey != ""
}

// Search looks up the best match for query.
//
// Inputs:
//   - ctx: The context for the request, used for cancellation and tracing.
//   - query: Free text, usually "name city".
//
// Outputs:
//   - *model.VerifiedPlace: Never nil. When nothing matches (or no API key is
//     configured) Found is false and GoogleMapsURL is a plain search link.
//   - error: ErrLookupFailed (wrapped) on transport or API errors. An empty
//     result is not an error.
func (s *PlacesService) Search(ctx context.Context, query string) (*model.VerifiedPlace, error) {
	notFound := &model.VerifiedPlace{Found: false, GoogleMapsURL: SearchURL(query)}
	if !s.IsConfigured() {
		slog.InfoContext(ctx, "places api key not set, returning search link", "query", query)
		return notFound, nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return notFound, fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}

	var out searchTextResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("X-Goog-Api-Key", s.apiKey).
		SetHeader("X-Goog-FieldMask", placesFieldMask).
		SetBody(searchTextRequest{
			TextQuery:      query,
			RegionCode:     s.regionCode,
			LanguageCode:   s.languageCode,
			MaxResultCount: 1,
		}).
		SetResult(&out).
		Post("/places:searchText")
	if err != nil {
		return notFound, fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}
	if resp.StatusCode() != http.StatusOK {
		slog.ErrorContext(ctx, "places api error", "status", resp.StatusCode(), "body", resp.String())
		return notFound, fmt.Errorf("%w: status %d", ErrLookupFailed, resp.StatusCode())
	}
	if len(out.Places) == 0 {
		slog.InfoContext(ctx, "no place matched", "query", query)
		return notFound, nil
	}

	p := out.Places[0]
	v := &model.VerifiedPlace{
		Found:       true,
		PlaceID:     strings.TrimPrefix(p.ID, "places/"),
		Name:        p.DisplayName.Text,
		Address:     p.FormattedAddress,
		Rating:      p.Rating,
		ReviewCount: p.UserRatingCount,
		PriceLevel:  priceLevels[p.PriceLevel],
		Types:       p.Types,
	}
	if p.Location != nil {
		lat, lng := p.Location.Latitude, p.Location.Longitude
		v.Lat, v.Lng = &lat, &lng
	}
	v.GoogleMapsURL = MapsURL(v.PlaceID, v.Lat, v.Lng, query)
	slog.InfoContext(ctx, "place found", "query", query, "place_id", v.PlaceID, "name", v.Name)
	return v, nil
}

// MapsURL builds a Maps URLs API link that opens the app on phones. The most
// specific form available wins: place id with coordinates, place id alone,
// the text query, then bare coordinates.
func MapsURL(placeID string, lat, lng *float64, query string) string {
	switch {
	case placeID != "" && lat != nil && lng != nil:
		return fmt.Sprintf("%s&query=%v,%v&query_place_id=%s", mapsSearchURL, *lat, *lng, placeID)
	case placeID != "":
		return fmt.Sprintf("%s&query_place_id=%s", mapsSearchURL, placeID)
	case query != "":
		return SearchURL(query)
	case lat != nil && lng != nil:
		return fmt.Sprintf("%s&query=%v,%v", mapsSearchURL, *lat, *lng)
	}
	return ""
}

// SearchURL is a Maps search link for free text. It needs no API key.
func SearchURL(query string) string {
	return fmt.Sprintf("%s&query=%s", mapsSearchURL, strings.ReplaceAll(url.QueryEscape(query), "+", "%20"))
}
