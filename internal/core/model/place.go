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

// Package model defines the data structures shared by the workflows, the
// services and the chat front-end. Places move through three shapes:
//
//  1. CandidatePlace: what the language model extracted from the content.
//  2. VerifiedPlace: the candidate's best match in the Places API.
//  3. PlaceRecord: the durable row, keyed uniquely by its source reference.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Record statuses.
const (
	StatusConfirmed = "confirmed"
	StatusPending   = "pending"
)

// CandidatePlace is a single place mentioned in a piece of content, as
// extracted by the language model. It is immutable once produced.
type CandidatePlace struct {
	Name           string   `json:"name"`
	NameEn         string   `json:"name_en,omitempty"`
	City           string   `json:"city,omitempty"`
	Country        string   `json:"country,omitempty"`
	Address        string   `json:"address,omitempty"`
	PlaceTypes     []string `json:"place_type,omitempty"`
	Highlights     []string `json:"highlights,omitempty"`
	PriceRange     string   `json:"price_range,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	Confidence     string   `json:"confidence,omitempty"`
	SearchKeywords []string `json:"search_keywords,omitempty"`

	// Audit artifacts, filled by the extraction workflow rather than the model.
	Transcript        string `json:"-"`
	VisualDescription string `json:"-"`
	RawResponse       string `json:"-"`
	SourceURL         string `json:"-"`
	SourceAccount     string `json:"-"`
	ChatID            int64  `json:"-"`
}

// SearchQuery builds the text sent to the Places API: "name city" when both
// are known, else the first search keyword, else the bare name.
func (c *CandidatePlace) SearchQuery() string {
	if c.Name != "" && c.City != "" {
		return fmt.Sprintf("%s %s", c.Name, c.City)
	}
	if len(c.SearchKeywords) > 0 && strings.TrimSpace(c.SearchKeywords[0]) != "" {
		return c.SearchKeywords[0]
	}
	return c.Name
}

// VerifiedPlace is the Places API view of a candidate.
type VerifiedPlace struct {
	Found         bool     `json:"found"`
	PlaceID       string   `json:"place_id,omitempty"`
	Name          string   `json:"name,omitempty"`
	Address       string   `json:"address,omitempty"`
	Lat           *float64 `json:"lat,omitempty"`
	Lng           *float64 `json:"lng,omitempty"`
	Rating        *float64 `json:"rating,omitempty"`
	ReviewCount   *int     `json:"review_count,omitempty"`
	PriceLevel    string   `json:"price_level,omitempty"`
	Types         []string `json:"types,omitempty"`
	GoogleMapsURL string   `json:"google_maps_url,omitempty"`
}

// PlaceRecord is the persisted row for one place from one source reference.
type PlaceRecord struct {
	ID                string    `json:"id"`
	SourceRef         string    `json:"source_ref"`
	SourceURL         string    `json:"source_url"`
	SourceAccount     string    `json:"source_account,omitempty"`
	ChatID            int64     `json:"chat_id,omitempty"`
	Name              string    `json:"name"`
	NameEn            string    `json:"name_en,omitempty"`
	Address           string    `json:"address,omitempty"`
	City              string    `json:"city,omitempty"`
	Country           string    `json:"country,omitempty"`
	Lat               *float64  `json:"lat,omitempty"`
	Lng               *float64  `json:"lng,omitempty"`
	GooglePlaceID     string    `json:"google_place_id,omitempty"`
	GoogleMapsURL     string    `json:"google_maps_url,omitempty"`
	Rating            *float64  `json:"rating,omitempty"`
	ReviewCount       *int      `json:"review_count,omitempty"`
	PriceRange        string    `json:"price_range,omitempty"`
	PlaceTypes        []string  `json:"place_types,omitempty"`
	Highlights        []string  `json:"highlights,omitempty"`
	Tags              []string  `json:"tags,omitempty"`
	Recommendation    string    `json:"recommendation,omitempty"`
	Confidence        string    `json:"confidence,omitempty"`
	Status            string    `json:"status"`
	SheetSynced       bool      `json:"sheet_synced"`
	Transcript        string    `json:"-"`
	VisualDescription string    `json:"-"`
	RawResponse       string    `json:"-"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// RecordID derives the stable record id for a source reference. The same
// source reference always maps to the same id.
func RecordID(sourceRef string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(sourceRef)).String()
}

// NewPlaceRecord merges a candidate and its (possibly empty) verification into
// a record ready for upsert. Timestamps are left to the store.
func NewPlaceRecord(sourceRef string, c *CandidatePlace, v *VerifiedPlace) *PlaceRecord {
	out := &PlaceRecord{
		ID:                RecordID(sourceRef),
		SourceRef:         sourceRef,
		SourceURL:         c.SourceURL,
		SourceAccount:     c.SourceAccount,
		ChatID:            c.ChatID,
		Name:              c.Name,
		NameEn:            c.NameEn,
		Address:           c.Address,
		City:              c.City,
		Country:           c.Country,
		PriceRange:        c.PriceRange,
		PlaceTypes:        nonNil(c.PlaceTypes),
		Highlights:        nonNil(c.Highlights),
		Tags:              nonNil(c.Tags),
		Recommendation:    c.Recommendation,
		Confidence:        c.Confidence,
		Status:            StatusPending,
		Transcript:        c.Transcript,
		VisualDescription: c.VisualDescription,
		RawResponse:       c.RawResponse,
	}
	if out.Name == "" {
		out.Name = "未知地點"
	}
	if v != nil && v.Found {
		out.Status = StatusConfirmed
		out.GooglePlaceID = v.PlaceID
		if v.Address != "" {
			out.Address = v.Address
		}
		out.Lat, out.Lng = v.Lat, v.Lng
		out.Rating = v.Rating
		out.ReviewCount = v.ReviewCount
	}
	if v != nil {
		out.GoogleMapsURL = v.GoogleMapsURL
	}
	return out
}

// KeepVerification copies the verification fields of existing into r when
// existing was matched to a place. A verified place id never changes for a
// source reference, so a later commit without a match must not clear it.
func (r *PlaceRecord) KeepVerification(existing *PlaceRecord) {
	if existing == nil || existing.GooglePlaceID == "" {
		return
	}
	r.Status = existing.Status
	r.GooglePlaceID = existing.GooglePlaceID
	r.GoogleMapsURL = existing.GoogleMapsURL
	r.Address = existing.Address
	r.Lat, r.Lng = existing.Lat, existing.Lng
	r.Rating = existing.Rating
	r.ReviewCount = existing.ReviewCount
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

// SourceRef returns the uniqueness key of the index-th place (zero based)
// extracted from a link: "ig:<shortcode>" for the first place and
// "ig:<shortcode>#<n>" for the n-th one.
func SourceRef(link *ContentLink, index int) string {
	prefix := "ig"
	if link.Kind == ContentThreads {
		prefix = "threads"
	}
	base := link.URL
	if link.Shortcode != "" {
		base = fmt.Sprintf("%s:%s", prefix, link.Shortcode)
	}
	if index == 0 {
		return base
	}
	return fmt.Sprintf("%s#%d", base, index+1)
}

// ExtractionResult is what the extraction workflow hands to the commit stage.
type ExtractionResult struct {
	Found             bool              `json:"found"`
	Places            []*CandidatePlace `json:"places"`
	Notes             string            `json:"notes,omitempty"`
	Caption           string            `json:"-"`
	Transcript        string            `json:"-"`
	VisualDescription string            `json:"-"`
	RawResponse       string            `json:"-"`
}

// PlaceFilter narrows listing queries.
type PlaceFilter struct {
	ChatID int64
	City   string
	Limit  int
}
