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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/model"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// DefaultDatabasePath is used when no database URL is configured.
const DefaultDatabasePath = "./data/places.db"

var placeColumns = []string{
	"id", "source_ref", "source_url", "source_account", "chat_id", "name", "name_en", "address", "city", "country",
	"lat", "lng", "google_place_id", "google_maps_url", "rating", "review_count", "price_range", "place_types",
	"highlights", "tags", "recommendation", "confidence", "status", "sheet_synced", "transcript",
	"visual_description", "raw_response", "created_at", "updated_at",
}

// SQLStore is a PlaceStore on SQLite (modernc.org/sqlite) or PostgreSQL
// (pgx). Both support INSERT ... ON CONFLICT, so the statements are shared
// and only the placeholder format differs.
type SQLStore struct {
	db      *sql.DB
	builder sq.StatementBuilderType
	driver  string
	locks   *keyedMutex
	now     func() time.Time
}

// ParseDatabaseURL maps a database URL to a database/sql driver name and
// DSN. Accepted forms:
//
//   - postgres://..., postgresql://... (an "+asyncpg" style suffix is dropped)
//   - sqlite:///path, sqlite+aiosqlite:///path, sqlite:path, file:path
//   - a bare file path; empty means DefaultDatabasePath
func ParseDatabaseURL(databaseURL string) (driver string, dsn string, err error) {
	u := strings.TrimSpace(databaseURL)
	if u == "" {
		u = DefaultDatabasePath
	}
	scheme, rest, hasScheme := strings.Cut(u, "://")
	if hasScheme {
		base, _, _ := strings.Cut(scheme, "+")
		switch base {
		case "postgres", "postgresql":
			return "pgx", base + "://" + rest, nil
		case "sqlite", "sqlite3":
			path := strings.TrimPrefix(rest, "/")
			if path == "" {
				return "", "", fmt.Errorf("database url %q has no path", databaseURL)
			}
			return "sqlite", path, nil
		default:
			return "", "", fmt.Errorf("unsupported database url scheme %q", scheme)
		}
	}
	for _, prefix := range []string{"sqlite:", "file:"} {
		u = strings.TrimPrefix(u, prefix)
	}
	return "sqlite", u, nil
}

// OpenStore opens (or creates) the database behind databaseURL and migrates
// the places table.
func OpenStore(ctx context.Context, databaseURL string) (*SQLStore, error) {
	driver, dsn, err := ParseDatabaseURL(databaseURL)
	if err != nil {
		return nil, err
	}

	var placeholder sq.PlaceholderFormat = sq.Dollar
	if driver == "sqlite" {
		// ensure parent directory exists to avoid SQLITE_CANTOPEN errors
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dsn)
		placeholder = sq.Question
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}

	s := &SQLStore{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(placeholder),
		driver:  driver,
		locks:   newKeyedMutex(),
		now:     time.Now,
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.InfoContext(ctx, "place store ready", "driver", driver)
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range []string{QryCreatePlacesTable, QryCreateChatIndex} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate places table: %w", err)
		}
	}
	return nil
}

// Driver returns the database/sql driver name in use.
func (s *SQLStore) Driver() string {
	return s.driver
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Upsert writes record under a per-source-reference lock, so two commits of
// the same source cannot interleave their read of created_at with the write.
func (s *SQLStore) Upsert(ctx context.Context, record *model.PlaceRecord) (*model.PlaceRecord, error) {
	if record == nil || record.SourceRef == "" {
		return nil, errors.New("record has no source reference")
	}
	unlock := s.locks.Lock(record.SourceRef)
	defer unlock()

	existing, err := s.Get(ctx, record.SourceRef)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	out := *record
	if out.ID == "" {
		out.ID = model.RecordID(out.SourceRef)
	}
	out.CreatedAt, out.UpdatedAt = nextTimestamps(existing, s.now().UTC().Truncate(time.Microsecond))

	values, err := recordValues(&out)
	if err != nil {
		return nil, err
	}
	updates := make([]string, 0, len(placeColumns))
	for _, col := range placeColumns {
		if col == "id" || col == "source_ref" || col == "created_at" {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
	}
	query, args, err := s.builder.Insert(placesTable).
		Columns(placeColumns...).
		Values(values...).
		Suffix("ON CONFLICT (source_ref) DO UPDATE SET " + strings.Join(updates, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to upsert %s: %w", record.SourceRef, err)
	}
	return &out, nil
}

func (s *SQLStore) Get(ctx context.Context, sourceRef string) (*model.PlaceRecord, error) {
	rows, err := s.query(ctx, s.selectPlaces().Where(sq.Eq{"source_ref": sourceRef}).Limit(1))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sourceRef)
	}
	return rows[0], nil
}

func (s *SQLStore) GetAll(ctx context.Context) ([]*model.PlaceRecord, error) {
	return s.query(ctx, s.selectPlaces().OrderBy("created_at DESC", "id DESC"))
}

// Search filters by chat (0 means every chat) and by a city substring.
func (s *SQLStore) Search(ctx context.Context, filter model.PlaceFilter) ([]*model.PlaceRecord, error) {
	q := s.selectPlaces().OrderBy("created_at DESC", "id DESC")
	if filter.ChatID != 0 {
		q = q.Where(sq.Eq{"chat_id": filter.ChatID})
	}
	if city := strings.TrimSpace(filter.City); city != "" {
		q = q.Where(sq.Like{"city": "%" + city + "%"})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	return s.query(ctx, q)
}

func (s *SQLStore) MarkSynced(ctx context.Context, sourceRef string, synced bool) error {
	res, err := s.builder.Update(placesTable).
		Set("sheet_synced", synced).
		Where(sq.Eq{"source_ref": sourceRef}).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark %s synced: %w", sourceRef, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, sourceRef)
	}
	return nil
}

func (s *SQLStore) ListUnsynced(ctx context.Context, limit int) ([]*model.PlaceRecord, error) {
	q := s.selectPlaces().Where(sq.Eq{"sheet_synced": false}).OrderBy("created_at ASC", "id ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return s.query(ctx, q)
}

func (s *SQLStore) selectPlaces() sq.SelectBuilder {
	return s.builder.Select(placeColumns...).From(placesTable)
}

func (s *SQLStore) query(ctx context.Context, q sq.SelectBuilder) ([]*model.PlaceRecord, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query places: %w", err)
	}
	defer rows.Close()

	out := make([]*model.PlaceRecord, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate places: %w", err)
	}
	return out, nil
}

// recordValues lists the column values of r in placeColumns order.
func recordValues(r *model.PlaceRecord) ([]interface{}, error) {
	types, err := encodeList(r.PlaceTypes)
	if err != nil {
		return nil, err
	}
	highlights, err := encodeList(r.Highlights)
	if err != nil {
		return nil, err
	}
	tags, err := encodeList(r.Tags)
	if err != nil {
		return nil, err
	}
	var reviews sql.NullInt64
	if r.ReviewCount != nil {
		reviews = sql.NullInt64{Int64: int64(*r.ReviewCount), Valid: true}
	}
	return []interface{}{
		r.ID, r.SourceRef, r.SourceURL, r.SourceAccount, r.ChatID, r.Name, r.NameEn, r.Address, r.City, r.Country,
		nullFloat(r.Lat), nullFloat(r.Lng), r.GooglePlaceID, r.GoogleMapsURL, nullFloat(r.Rating), reviews,
		r.PriceRange, types, highlights, tags, r.Recommendation, r.Confidence, r.Status, r.SheetSynced,
		r.Transcript, r.VisualDescription, r.RawResponse, r.CreatedAt.UnixMicro(), r.UpdatedAt.UnixMicro(),
	}, nil
}

func scanRecord(rows *sql.Rows) (*model.PlaceRecord, error) {
	var (
		r                         model.PlaceRecord
		lat, lng, rating          sql.NullFloat64
		reviews                   sql.NullInt64
		types, highlights, tags   string
		createdMicro, updateMicro int64
	)
	err := rows.Scan(
		&r.ID, &r.SourceRef, &r.SourceURL, &r.SourceAccount, &r.ChatID, &r.Name, &r.NameEn, &r.Address, &r.City,
		&r.Country, &lat, &lng, &r.GooglePlaceID, &r.GoogleMapsURL, &rating, &reviews, &r.PriceRange, &types,
		&highlights, &tags, &r.Recommendation, &r.Confidence, &r.Status, &r.SheetSynced, &r.Transcript,
		&r.VisualDescription, &r.RawResponse, &createdMicro, &updateMicro,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan place: %w", err)
	}
	r.Lat, r.Lng, r.Rating = floatPtr(lat), floatPtr(lng), floatPtr(rating)
	if reviews.Valid {
		n := int(reviews.Int64)
		r.ReviewCount = &n
	}
	r.PlaceTypes = decodeList(types)
	r.Highlights = decodeList(highlights)
	r.Tags = decodeList(tags)
	r.CreatedAt = time.UnixMicro(createdMicro).UTC()
	r.UpdatedAt = time.UnixMicro(updateMicro).UTC()
	return &r, nil
}

func encodeList(in []string) (string, error) {
	if in == nil {
		in = []string{}
	}
	b, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("failed to encode list: %w", err)
	}
	return string(b), nil
}

// decodeList tolerates malformed values, which read as an empty list.
func decodeList(in string) []string {
	out := make([]string, 0)
	if in == "" {
		return out
	}
	if err := json.Unmarshal([]byte(in), &out); err != nil {
		return make([]string, 0)
	}
	return out
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
