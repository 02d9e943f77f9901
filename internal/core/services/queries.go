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
// place touches. This file, `queries.go`, centralizes the schema and the
// statements that squirrel cannot express portably.
package services

const (
	// placesTable is the name of the table in every store.
	placesTable = "places"

	// QryCreatePlacesTable creates the SQL places table. The types are the
	// common subset of SQLite and PostgreSQL. Timestamps are Unix
	// microseconds in UTC and list fields are JSON arrays.
	QryCreatePlacesTable = `CREATE TABLE IF NOT EXISTS places (
	id                 TEXT NOT NULL,
	source_ref         TEXT NOT NULL PRIMARY KEY,
	source_url         TEXT NOT NULL DEFAULT '',
	source_account     TEXT NOT NULL DEFAULT '',
	chat_id            BIGINT NOT NULL DEFAULT 0,
	name               TEXT NOT NULL,
	name_en            TEXT NOT NULL DEFAULT '',
	address            TEXT NOT NULL DEFAULT '',
	city               TEXT NOT NULL DEFAULT '',
	country            TEXT NOT NULL DEFAULT '',
	lat                DOUBLE PRECISION,
	lng                DOUBLE PRECISION,
	google_place_id    TEXT NOT NULL DEFAULT '',
	google_maps_url    TEXT NOT NULL DEFAULT '',
	rating             DOUBLE PRECISION,
	review_count       BIGINT,
	price_range        TEXT NOT NULL DEFAULT '',
	place_types        TEXT NOT NULL DEFAULT '[]',
	highlights         TEXT NOT NULL DEFAULT '[]',
	tags               TEXT NOT NULL DEFAULT '[]',
	recommendation     TEXT NOT NULL DEFAULT '',
	confidence         TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL DEFAULT 'pending',
	sheet_synced       BOOLEAN NOT NULL DEFAULT FALSE,
	transcript         TEXT NOT NULL DEFAULT '',
	visual_description TEXT NOT NULL DEFAULT '',
	raw_response       TEXT NOT NULL DEFAULT '',
	created_at         BIGINT NOT NULL,
	updated_at         BIGINT NOT NULL
)`

	// QryCreateChatIndex speeds up the per-chat listing.
	QryCreateChatIndex = "CREATE INDEX IF NOT EXISTS idx_places_chat_created ON places (chat_id, created_at)"

	// QryMergePlace upserts one record into BigQuery.
	//
	// How it works:
	//   - `USING (SELECT @source_ref AS source_ref)`: a one-row source keyed by
	//     the source reference.
	//   - `WHEN MATCHED`: every column except id and created_at is overwritten,
	//     and updated_at moves forward by at least one microsecond.
	//   - `WHEN NOT MATCHED`: the row is inserted with created_at = updated_at.
	//
	// Placeholder `%s` is the fully qualified table name.
	QryMergePlace = "MERGE `%s` T USING (SELECT @source_ref AS source_ref) S ON T.source_ref = S.source_ref " +
		"WHEN MATCHED THEN UPDATE SET source_url = @source_url, source_account = @source_account, chat_id = @chat_id, " +
		"name = @name, name_en = @name_en, address = @address, city = @city, country = @country, lat = @lat, lng = @lng, " +
		"google_place_id = @google_place_id, google_maps_url = @google_maps_url, rating = @rating, review_count = @review_count, " +
		"price_range = @price_range, place_types = @place_types, highlights = @highlights, tags = @tags, " +
		"recommendation = @recommendation, confidence = @confidence, status = @status, sheet_synced = @sheet_synced, " +
		"transcript = @transcript, visual_description = @visual_description, raw_response = @raw_response, " +
		"updated_at = GREATEST(@now, TIMESTAMP_ADD(T.updated_at, INTERVAL 1 MICROSECOND)) " +
		"WHEN NOT MATCHED THEN INSERT (id, source_ref, source_url, source_account, chat_id, name, name_en, address, city, " +
		"country, lat, lng, google_place_id, google_maps_url, rating, review_count, price_range, place_types, highlights, " +
		"tags, recommendation, confidence, status, sheet_synced, transcript, visual_description, raw_response, created_at, " +
		"updated_at) VALUES (@id, @source_ref, @source_url, @source_account, @chat_id, @name, @name_en, @address, @city, " +
		"@country, @lat, @lng, @google_place_id, @google_maps_url, @rating, @review_count, @price_range, @place_types, " +
		"@highlights, @tags, @recommendation, @confidence, @status, @sheet_synced, @transcript, @visual_description, " +
		"@raw_response, @now, @now)"

	// QryFindPlaceBySourceRef looks up one record. `%s` is the table.
	QryFindPlaceBySourceRef = "SELECT * FROM `%s` WHERE source_ref = @source_ref"

	// QryListPlaces lists records newest first. `%s` is the table and the
	// second `%s` an optional WHERE clause.
	QryListPlaces = "SELECT * FROM `%s` %s ORDER BY created_at DESC, id DESC"

	// QryListUnsyncedPlaces lists records not yet mirrored, oldest first.
	QryListUnsyncedPlaces = "SELECT * FROM `%s` WHERE sheet_synced = FALSE ORDER BY created_at ASC, id ASC LIMIT @limit"

	// QryMarkSynced sets the mirror flag of one record.
	QryMarkSynced = "UPDATE `%s` SET sheet_synced = @synced WHERE source_ref = @source_ref"
)
