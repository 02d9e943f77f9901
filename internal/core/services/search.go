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
// place touches. This file, `search.go`, defines the ListingService, which
// answers "what did I save recently" queries from the chat and the API.
package services

import (
	"context"
	"fmt"

	"github.com/jaycherian/gcp-go-place-saver/internal/core/model"
)

const (
	DefaultListLimit = 10
	MaxListLimit     = 100
)

// ListingService reads place records back out of the store.
type ListingService struct {
	Store PlaceStore
}

// Recent returns the newest places of a chat, optionally narrowed to a city.
//
// Inputs:
//   - ctx: The context for the request.
//   - chatID: The chat whose places to list; 0 lists every chat.
//   - city: A substring of the city, or "".
//   - limit: Maximum number of records. Values <= 0 mean DefaultListLimit and
//     values above MaxListLimit are capped.
//
// Outputs:
//   - []*model.PlaceRecord: Newest first, never nil.
//   - error: The store error, if any.
func (s *ListingService) Recent(ctx context.Context, chatID int64, city string, limit int) ([]*model.PlaceRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	out, err := s.Store.Search(ctx, model.PlaceFilter{ChatID: chatID, City: city, Limit: limit})
	if err != nil {
		return make([]*model.PlaceRecord, 0), fmt.Errorf("failed to list places: %w", err)
	}
	return out, nil
}
