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
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jaycherian/gcp-go-place-saver/internal/core/model"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *services.SQLStore {
	t.Helper()
	store, err := services.OpenStore(context.Background(), "sqlite:///"+filepath.Join(t.TempDir(), "places.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testRecord(sourceRef, name, city string, chatID int64) *model.PlaceRecord {
	rating := 4.5
	return model.NewPlaceRecord(sourceRef,
		&model.CandidatePlace{Name: name, City: city, ChatID: chatID, SourceURL: "https://www.instagram.com/reel/abc123/", PlaceTypes: []string{"咖啡廳"}},
		&model.VerifiedPlace{Found: true, PlaceID: "ChIJ123", Rating: &rating})
}

func TestParseDatabaseURL(t *testing.T) {
	cases := []struct {
		in, driver, dsn string
	}{
		{"", "sqlite", services.DefaultDatabasePath},
		{"sqlite+aiosqlite:///./food_places.db", "sqlite", "./food_places.db"},
		{"sqlite:////var/lib/places.db", "sqlite", "/var/lib/places.db"},
		{"file:places.db", "sqlite", "places.db"},
		{"postgresql+asyncpg://u:p@db:5432/places", "pgx", "postgresql://u:p@db:5432/places"},
		{"postgres://u@db/places?sslmode=disable", "pgx", "postgres://u@db/places?sslmode=disable"},
	}
	for _, c := range cases {
		driver, dsn, err := services.ParseDatabaseURL(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.driver, driver, c.in)
		assert.Equal(t, c.dsn, dsn, c.in)
	}

	_, _, err := services.ParseDatabaseURL("mysql://db/places")
	assert.Error(t, err)
}

func TestUpsertIsIdempotentPerSourceRef(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	first, err := store.Upsert(ctx, testRecord("ig:abc123", "Blue Door Café", "Taipei", 1))
	require.NoError(t, err)
	second, err := store.Upsert(ctx, testRecord("ig:abc123", "Blue Door Cafe & Bar", "Taipei", 1))
	require.NoError(t, err)

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	got := all[0]
	assert.Equal(t, "Blue Door Cafe & Bar", got.Name)
	assert.Equal(t, model.RecordID("ig:abc123"), got.ID)
	assert.True(t, got.CreatedAt.Equal(first.CreatedAt))
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
	assert.True(t, got.UpdatedAt.Equal(second.UpdatedAt))
	require.NotNil(t, got.Rating)
	assert.Equal(t, 4.5, *got.Rating)
	assert.Equal(t, []string{"咖啡廳"}, got.PlaceTypes)
	assert.Equal(t, []string{}, got.Tags)
	assert.Equal(t, model.StatusConfirmed, got.Status)
}

func TestConcurrentUpsertsOfOneSourceRef(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Upsert(ctx, testRecord("ig:same", fmt.Sprintf("name-%d", i), "Tainan", 1))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetMissingRecord(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Get(context.Background(), "ig:nope")
	assert.True(t, errors.Is(err, services.ErrNotFound))
	assert.True(t, errors.Is(store.MarkSynced(context.Background(), "ig:nope", true), services.ErrNotFound))
}

func TestSearchAndSyncTracking(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	for _, r := range []*model.PlaceRecord{
		testRecord("ig:a", "阿宗麵線", "台北", 1),
		testRecord("ig:b", "度小月", "台南", 1),
		testRecord("ig:c", "鼎泰豐", "台北", 2),
	} {
		_, err := store.Upsert(ctx, r)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"ig:c", "ig:b", "ig:a"}, []string{all[0].SourceRef, all[1].SourceRef, all[2].SourceRef})

	chat1, err := store.Search(ctx, model.PlaceFilter{ChatID: 1})
	require.NoError(t, err)
	assert.Len(t, chat1, 2)

	taipei, err := store.Search(ctx, model.PlaceFilter{ChatID: 1, City: "台北"})
	require.NoError(t, err)
	require.Len(t, taipei, 1)
	assert.Equal(t, "阿宗麵線", taipei[0].Name)

	limited, err := store.Search(ctx, model.PlaceFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	require.NoError(t, store.MarkSynced(ctx, "ig:a", true))
	unsynced, err := store.ListUnsynced(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unsynced, 2)
	assert.Equal(t, "ig:b", unsynced[0].SourceRef)

	got, err := store.Get(ctx, "ig:a")
	require.NoError(t, err)
	assert.True(t, got.SheetSynced)

	// A new upsert resets the mirror flag until the row is synced again.
	_, err = store.Upsert(ctx, testRecord("ig:a", "阿宗麵線", "台北", 1))
	require.NoError(t, err)
	got, err = store.Get(ctx, "ig:a")
	require.NoError(t, err)
	assert.False(t, got.SheetSynced)
}

func TestListingServiceRecent(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	for i := 0; i < 12; i++ {
		_, err := store.Upsert(ctx, testRecord(fmt.Sprintf("ig:%d", i), fmt.Sprintf("place-%d", i), "台北", 7))
		require.NoError(t, err)
	}

	listing := &services.ListingService{Store: store}
	recent, err := listing.Recent(ctx, 7, "", 0)
	require.NoError(t, err)
	assert.Len(t, recent, services.DefaultListLimit)

	none, err := listing.Recent(ctx, 8, "", 5)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}
