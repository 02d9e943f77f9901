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
// place touches. This file, `store.go`, defines the PlaceStore contract shared
// by the SQL and BigQuery implementations, and the per-key lock both use to
// serialize upserts of the same source reference.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/jaycherian/gcp-go-place-saver/internal/cloud"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/model"
)

// ErrNotFound is returned when no record exists for a source reference.
var ErrNotFound = errors.New("place record not found")

// PlaceStore is the durable home of place records. Records are unique by
// source reference.
type PlaceStore interface {
	// Upsert inserts or overwrites the record with the same SourceRef.
	// CreatedAt of an existing record is kept and UpdatedAt always moves
	// forward. The stored record is returned.
	Upsert(ctx context.Context, record *model.PlaceRecord) (*model.PlaceRecord, error)
	Get(ctx context.Context, sourceRef string) (*model.PlaceRecord, error)
	// GetAll returns every record, newest first.
	GetAll(ctx context.Context) ([]*model.PlaceRecord, error)
	Search(ctx context.Context, filter model.PlaceFilter) ([]*model.PlaceRecord, error)
	MarkSynced(ctx context.Context, sourceRef string, synced bool) error
	// ListUnsynced returns up to limit records not yet mirrored, oldest first.
	ListUnsynced(ctx context.Context, limit int) ([]*model.PlaceRecord, error)
	Close() error
}

// NewPlaceStore opens the store selected by config.Driver: "bigquery" uses
// bq, anything else is a SQL database URL.
func NewPlaceStore(ctx context.Context, config cloud.Store, bq *bigquery.Client) (PlaceStore, error) {
	if strings.EqualFold(config.Driver, "bigquery") {
		if bq == nil {
			return nil, fmt.Errorf("bigquery store selected without a bigquery client")
		}
		return NewBigQueryStore(ctx, bq, config.Dataset, config.Table)
	}
	return OpenStore(ctx, config.DatabaseURL)
}

// keyedMutex hands out one lock per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock blocks until key is free and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// nextTimestamps returns the created_at and updated_at for a write over
// existing (which may be nil) at time now.
func nextTimestamps(existing *model.PlaceRecord, now time.Time) (time.Time, time.Time) {
	if existing == nil {
		return now, now
	}
	if !now.After(existing.UpdatedAt) {
		now = existing.UpdatedAt.Add(time.Microsecond)
	}
	return existing.CreatedAt, now
}
