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

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/model"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// BigQueryStore is a PlaceStore on a BigQuery table, for deployments that
// already analyse their places there. Upserts are MERGE statements keyed by
// source reference.
type BigQueryStore struct {
	BigqueryClient *bigquery.Client
	DatasetName    string
	PlacesTable    string
	locks          *keyedMutex
	now            func() time.Time
}

// bqPlaceRow is the BigQuery shape of a PlaceRecord. Nullable numbers use the
// bigquery.Null* types, which schema inference and row loading understand.
type bqPlaceRow struct {
	ID                string               `bigquery:"id"`
	SourceRef         string               `bigquery:"source_ref"`
	SourceURL         string               `bigquery:"source_url"`
	SourceAccount     string               `bigquery:"source_account"`
	ChatID            int64                `bigquery:"chat_id"`
	Name              string               `bigquery:"name"`
	NameEn            string               `bigquery:"name_en"`
	Address           string               `bigquery:"address"`
	City              string               `bigquery:"city"`
	Country           string               `bigquery:"country"`
	Lat               bigquery.NullFloat64 `bigquery:"lat"`
	Lng               bigquery.NullFloat64 `bigquery:"lng"`
	GooglePlaceID     string               `bigquery:"google_place_id"`
	GoogleMapsURL     string               `bigquery:"google_maps_url"`
	Rating            bigquery.NullFloat64 `bigquery:"rating"`
	ReviewCount       bigquery.NullInt64   `bigquery:"review_count"`
	PriceRange        string               `bigquery:"price_range"`
	PlaceTypes        []string             `bigquery:"place_types"`
	Highlights        []string             `bigquery:"highlights"`
	Tags              []string             `bigquery:"tags"`
	Recommendation    string               `bigquery:"recommendation"`
	Confidence        string               `bigquery:"confidence"`
	Status            string               `bigquery:"status"`
	SheetSynced       bool                 `bigquery:"sheet_synced"`
	Transcript        string               `bigquery:"transcript"`
	VisualDescription string               `bigquery:"visual_description"`
	RawResponse       string               `bigquery:"raw_response"`
	CreatedAt         time.Time            `bigquery:"created_at"`
	UpdatedAt         time.Time            `bigquery:"updated_at"`
}

// NewBigQueryStore returns a store on dataset.table, creating the table when
// it does not exist.
func NewBigQueryStore(ctx context.Context, client *bigquery.Client, dataset, table string) (*BigQueryStore, error) {
	if table == "" {
		table = placesTable
	}
	s := &BigQueryStore{
		BigqueryClient: client,
		DatasetName:    dataset,
		PlacesTable:    table,
		locks:          newKeyedMutex(),
		now:            time.Now,
	}
	schema, err := bigquery.InferSchema(bqPlaceRow{})
	if err != nil {
		return nil, fmt.Errorf("failed to infer places schema: %w", err)
	}
	err = client.Dataset(dataset).Table(table).Create(ctx, &bigquery.TableMetadata{Schema: schema})
	var apiErr *googleapi.Error
	if err != nil && !(errors.As(err, &apiErr) && apiErr.Code == 409) {
		return nil, fmt.Errorf("failed to create table %s: %w", s.GetFQN(), err)
	}
	return s, nil
}

// GetFQN returns the table name with dots only, e.g. `project.dataset.places`.
func (s *BigQueryStore) GetFQN() string {
	fqn := s.BigqueryClient.Dataset(s.DatasetName).Table(s.PlacesTable).FullyQualifiedName()
	return strings.Replace(fqn, ":", ".", -1)
}

func (s *BigQueryStore) Close() error {
	return nil
}

func (s *BigQueryStore) Upsert(ctx context.Context, record *model.PlaceRecord) (*model.PlaceRecord, error) {
	if record == nil || record.SourceRef == "" {
		return nil, errors.New("record has no source reference")
	}
	unlock := s.locks.Lock(record.SourceRef)
	defer unlock()

	row := toBQRow(record)
	if row.ID == "" {
		row.ID = model.RecordID(row.SourceRef)
	}
	params := []bigquery.QueryParameter{
		{Name: "id", Value: row.ID},
		{Name: "source_ref", Value: row.SourceRef},
		{Name: "source_url", Value: row.SourceURL},
		{Name: "source_account", Value: row.SourceAccount},
		{Name: "chat_id", Value: row.ChatID},
		{Name: "name", Value: row.Name},
		{Name: "name_en", Value: row.NameEn},
		{Name: "address", Value: row.Address},
		{Name: "city", Value: row.City},
		{Name: "country", Value: row.Country},
		{Name: "lat", Value: row.Lat},
		{Name: "lng", Value: row.Lng},
		{Name: "google_place_id", Value: row.GooglePlaceID},
		{Name: "google_maps_url", Value: row.GoogleMapsURL},
		{Name: "rating", Value: row.Rating},
		{Name: "review_count", Value: row.ReviewCount},
		{Name: "price_range", Value: row.PriceRange},
		{Name: "place_types", Value: row.PlaceTypes},
		{Name: "highlights", Value: row.Highlights},
		{Name: "tags", Value: row.Tags},
		{Name: "recommendation", Value: row.Recommendation},
		{Name: "confidence", Value: row.Confidence},
		{Name: "status", Value: row.Status},
		{Name: "sheet_synced", Value: row.SheetSynced},
		{Name: "transcript", Value: row.Transcript},
		{Name: "visual_description", Value: row.VisualDescription},
		{Name: "raw_response", Value: row.RawResponse},
		{Name: "now", Value: s.now().UTC().Truncate(time.Microsecond)},
	}
	if err := s.exec(ctx, fmt.Sprintf(QryMergePlace, s.GetFQN()), params); err != nil {
		return nil, fmt.Errorf("failed to merge %s: %w", record.SourceRef, err)
	}
	return s.Get(ctx, record.SourceRef)
}

func (s *BigQueryStore) Get(ctx context.Context, sourceRef string) (*model.PlaceRecord, error) {
	rows, err := s.read(ctx, fmt.Sprintf(QryFindPlaceBySourceRef, s.GetFQN()),
		[]bigquery.QueryParameter{{Name: "source_ref", Value: sourceRef}})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sourceRef)
	}
	return rows[0], nil
}

func (s *BigQueryStore) GetAll(ctx context.Context) ([]*model.PlaceRecord, error) {
	return s.read(ctx, fmt.Sprintf(QryListPlaces, s.GetFQN(), ""), nil)
}

func (s *BigQueryStore) Search(ctx context.Context, filter model.PlaceFilter) ([]*model.PlaceRecord, error) {
	var where []string
	var params []bigquery.QueryParameter
	if filter.ChatID != 0 {
		where = append(where, "chat_id = @chat_id")
		params = append(params, bigquery.QueryParameter{Name: "chat_id", Value: filter.ChatID})
	}
	if city := strings.TrimSpace(filter.City); city != "" {
		where = append(where, "STRPOS(city, @city) > 0")
		params = append(params, bigquery.QueryParameter{Name: "city", Value: city})
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}
	query := fmt.Sprintf(QryListPlaces, s.GetFQN(), clause)
	if filter.Limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, filter.Limit)
	}
	return s.read(ctx, query, params)
}

func (s *BigQueryStore) MarkSynced(ctx context.Context, sourceRef string, synced bool) error {
	return s.exec(ctx, fmt.Sprintf(QryMarkSynced, s.GetFQN()), []bigquery.QueryParameter{
		{Name: "synced", Value: synced},
		{Name: "source_ref", Value: sourceRef},
	})
}

func (s *BigQueryStore) ListUnsynced(ctx context.Context, limit int) ([]*model.PlaceRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.read(ctx, fmt.Sprintf(QryListUnsyncedPlaces, s.GetFQN()),
		[]bigquery.QueryParameter{{Name: "limit", Value: limit}})
}

func (s *BigQueryStore) exec(ctx context.Context, query string, params []bigquery.QueryParameter) error {
	q := s.BigqueryClient.Query(query)
	q.Parameters = params
	job, err := q.Run(ctx)
	if err != nil {
		return err
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return err
	}
	return status.Err()
}

func (s *BigQueryStore) read(ctx context.Context, query string, params []bigquery.QueryParameter) ([]*model.PlaceRecord, error) {
	q := s.BigqueryClient.Query(query)
	q.Parameters = params
	itr, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read from BigQuery: %w", err)
	}
	out := make([]*model.PlaceRecord, 0)
	for {
		var row bqPlaceRow
		err := itr.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate results: %w", err)
		}
		out = append(out, fromBQRow(&row))
	}
	return out, nil
}

func toBQRow(r *model.PlaceRecord) *bqPlaceRow {
	row := &bqPlaceRow{
		ID:                r.ID,
		SourceRef:         r.SourceRef,
		SourceURL:         r.SourceURL,
		SourceAccount:     r.SourceAccount,
		ChatID:            r.ChatID,
		Name:              r.Name,
		NameEn:            r.NameEn,
		Address:           r.Address,
		City:              r.City,
		Country:           r.Country,
		GooglePlaceID:     r.GooglePlaceID,
		GoogleMapsURL:     r.GoogleMapsURL,
		PriceRange:        r.PriceRange,
		PlaceTypes:        nonNilList(r.PlaceTypes),
		Highlights:        nonNilList(r.Highlights),
		Tags:              nonNilList(r.Tags),
		Recommendation:    r.Recommendation,
		Confidence:        r.Confidence,
		Status:            r.Status,
		SheetSynced:       r.SheetSynced,
		Transcript:        r.Transcript,
		VisualDescription: r.VisualDescription,
		RawResponse:       r.RawResponse,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if r.Lat != nil {
		row.Lat = bigquery.NullFloat64{Float64: *r.Lat, Valid: true}
	}
	if r.Lng != nil {
		row.Lng = bigquery.NullFloat64{Float64: *r.Lng, Valid: true}
	}
	if r.Rating != nil {
		row.Rating = bigquery.NullFloat64{Float64: *r.Rating, Valid: true}
	}
	if r.ReviewCount != nil {
		row.ReviewCount = bigquery.NullInt64{Int64: int64(*r.ReviewCount), Valid: true}
	}
	return row
}

func fromBQRow(row *bqPlaceRow) *model.PlaceRecord {
	r := &model.PlaceRecord{
		ID:                row.ID,
		SourceRef:         row.SourceRef,
		SourceURL:         row.SourceURL,
		SourceAccount:     row.SourceAccount,
		ChatID:            row.ChatID,
		Name:              row.Name,
		NameEn:            row.NameEn,
		Address:           row.Address,
		City:              row.City,
		Country:           row.Country,
		GooglePlaceID:     row.GooglePlaceID,
		GoogleMapsURL:     row.GoogleMapsURL,
		PriceRange:        row.PriceRange,
		PlaceTypes:        nonNilList(row.PlaceTypes),
		Highlights:        nonNilList(row.Highlights),
		Tags:              nonNilList(row.Tags),
		Recommendation:    row.Recommendation,
		Confidence:        row.Confidence,
		Status:            row.Status,
		SheetSynced:       row.SheetSynced,
		Transcript:        row.Transcript,
		VisualDescription: row.VisualDescription,
		RawResponse:       row.RawResponse,
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
	}
	if row.Lat.Valid {
		v := row.Lat.Float64
		r.Lat = &v
	}
	if row.Lng.Valid {
		v := row.Lng.Float64
		r.Lng = &v
	}
	if row.Rating.Valid {
		v := row.Rating.Float64
		r.Rating = &v
	}
	if row.ReviewCount.Valid {
		v := int(row.ReviewCount.Int64)
		r.ReviewCount = &v
	}
	return r
}

func nonNilList(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
