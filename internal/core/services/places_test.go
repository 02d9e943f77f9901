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

package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/jaycherian/gcp-go-place-saver/internal/cloud"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPlacesServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/places:searchText", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Goog-Api-Key"))
		assert.Contains(t, r.Header.Get("X-Goog-FieldMask"), "places.id")

		var req map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Blue Door Café Taipei", req["textQuery"])
		assert.Equal(t, "TW", req["regionCode"])
		assert.Equal(t, "zh-TW", req["languageCode"])
		assert.Equal(t, float64(1), req["maxResultCount"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestPlacesSearchFound(t *testing.T) {
	srv, _ := newPlacesServer(t, http.StatusOK, `{"places":[{
		"id":"places/ChIJ123",
		"displayName":{"text":"藍門咖啡"},
		"formattedAddress":"台北市大安區",
		"location":{"latitude":25.03,"longitude":121.54},
		"rating":4.5,
		"userRatingCount":321,
		"priceLevel":"PRICE_LEVEL_MODERATE",
		"types":["cafe","food"]}]}`)

	svc := services.NewPlacesService(cloud.Places{APIKey: "test-key", BaseURL: srv.URL})
	v, err := svc.Search(context.Background(), "Blue Door Café Taipei")
	require.NoError(t, err)

	assert.True(t, v.Found)
	assert.Equal(t, "ChIJ123", v.PlaceID)
	assert.Equal(t, "藍門咖啡", v.Name)
	assert.Equal(t, "台北市大安區", v.Address)
	require.NotNil(t, v.Rating)
	assert.Equal(t, 4.5, *v.Rating)
	require.NotNil(t, v.ReviewCount)
	assert.Equal(t, 321, *v.ReviewCount)
	assert.Equal(t, "$$", v.PriceLevel)
	assert.Equal(t, []string{"cafe", "food"}, v.Types)
	assert.Equal(t, "https://www.google.com/maps/search/?api=1&query=25.03,121.54&query_place_id=ChIJ123", v.GoogleMapsURL)
}

func TestPlacesSearchEmptyIsNotAnError(t *testing.T) {
	srv, _ := newPlacesServer(t, http.StatusOK, `{}`)
	svc := services.NewPlacesService(cloud.Places{APIKey: "test-key", BaseURL: srv.URL})

	v, err := svc.Search(context.Background(), "Blue Door Café Taipei")
	require.NoError(t, err)
	assert.False(t, v.Found)
	assert.Equal(t, "https://www.google.com/maps/search/?api=1&query=Blue%20Door%20Caf%C3%A9%20Taipei", v.GoogleMapsURL)
}

func TestPlacesSearchAPIError(t *testing.T) {
	srv, _ := newPlacesServer(t, http.StatusForbidden, `{"error":{"message":"denied"}}`)
	svc := services.NewPlacesService(cloud.Places{APIKey: "test-key", BaseURL: srv.URL})

	v, err := svc.Search(context.Background(), "Blue Door Café Taipei")
	assert.True(t, errors.Is(err, services.ErrLookupFailed))
	require.NotNil(t, v)
	assert.False(t, v.Found)
	assert.NotEmpty(t, v.GoogleMapsURL)
}

func TestPlacesSearchWithoutKey(t *testing.T) {
	srv, calls := newPlacesServer(t, http.StatusOK, `{}`)
	svc := services.NewPlacesService(cloud.Places{BaseURL: srv.URL})

	assert.False(t, svc.IsConfigured())
	v, err := svc.Search(context.Background(), "阿宗麵線 台北")
	require.NoError(t, err)
	assert.False(t, v.Found)
	assert.Contains(t, v.GoogleMapsURL, "query=")
	assert.Equal(t, int32(0), calls.Load())
}

func TestMapsURL(t *testing.T) {
	lat, lng := 25.5, 121.25
	assert.Equal(t, "https://www.google.com/maps/search/?api=1&query_place_id=abc", services.MapsURL("abc", nil, nil, "q"))
	assert.Equal(t, "https://www.google.com/maps/search/?api=1&query=25.5,121.25", services.MapsURL("", &lat, &lng, ""))
	assert.Equal(t, services.SearchURL("q"), services.MapsURL("", nil, nil, "q"))
	assert.Equal(t, "", services.MapsURL("", nil, nil, ""))
}
