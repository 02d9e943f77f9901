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
// place touches. This file, `sheets.go`, defines the SheetsService, a
// best-effort mirror of the place store in a spreadsheet that can back a
// Google My Maps layer.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jaycherian/gcp-go-place-saver/internal/cloud"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/model"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// ErrNotConfigured means the spreadsheet credentials or id are missing.
var ErrNotConfigured = errors.New("spreadsheet sync is not configured")

// SheetHeaders is the header row, one column per mirrored field.
var SheetHeaders = []interface{}{
	"名稱", "地址", "城市", "國家", "地點類型", "亮點", "價位", "推薦原因", "Google Maps 連結", "IG 來源", "新增時間",
}

const (
	sheetTimeLayout = "2006-01-02 15:04"
	sourceColumn    = 9 // J, "IG 來源"
	userEntered     = "USER_ENTERED"
)

// SheetsService writes place records to a worksheet, newest first.
//
// Logic Flow:
//  1. The first call connects lazily with the service account credentials
//     and resolves the worksheet (by name, else the first one).
//  2. EnsureHeader writes the header row and freezes it when A1 is not the
//     first header.
//  3. AppendOrUpdate rewrites the row that mirrors the same source and name,
//     or inserts a new row right under the header.
type SheetsService struct {
	config  cloud.Sheets
	options []option.ClientOption

	mu          sync.Mutex
	service     *sheets.Service
	sheetID     int64
	title       string
	headerReady bool
}

// NewSheetsService creates a SheetsService. When opts are given they replace
// the default service account options.
func NewSheetsService(config cloud.Sheets, opts ...option.ClientOption) *SheetsService {
	return &SheetsService{config: config, options: opts}
}

// IsConfigured reports whether the credentials file exists and a spreadsheet
// id is set.
func (s *SheetsService) IsConfigured() bool {
	if s.config.SpreadsheetID == "" || s.config.CredentialsPath == "" {
		return false
	}
	_, err := os.Stat(s.config.CredentialsPath)
	return err == nil
}

func (s *SheetsService) connect(ctx context.Context) (*sheets.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.service != nil {
		return s.service, nil
	}
	if !s.IsConfigured() {
		return nil, ErrNotConfigured
	}

	opts := s.options
	if len(opts) == 0 {
		opts = []option.ClientOption{
			option.WithCredentialsFile(s.config.CredentialsPath),
			option.WithScopes(sheets.SpreadsheetsScope),
		}
	}
	service, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets client: %w", err)
	}

	spreadsheet, err := service.Spreadsheets.Get(s.config.SpreadsheetID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to open spreadsheet %s: %w", s.config.SpreadsheetID, err)
	}
	var found *sheets.SheetProperties
	for _, sh := range spreadsheet.Sheets {
		if sh.Properties == nil {
			continue
		}
		if found == nil || sh.Properties.Title == s.config.SheetName {
			found = sh.Properties
		}
		if sh.Properties.Title == s.config.SheetName {
			break
		}
	}
	if found == nil {
		return nil, fmt.Errorf("spreadsheet %s has no worksheet", s.config.SpreadsheetID)
	}

	s.service, s.sheetID, s.title = service, found.SheetId, found.Title
	slog.InfoContext(ctx, "connected to spreadsheet", "title", spreadsheet.Properties.Title, "sheet", s.title)
	return s.service, nil
}

func (s *SheetsService) a1(cells string) string {
	return fmt.Sprintf("'%s'!%s", strings.ReplaceAll(s.title, "'", "''"), cells)
}

// EnsureHeader writes the header row when A1 does not hold the first header.
func (s *SheetsService) EnsureHeader(ctx context.Context) error {
	service, err := s.connect(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	ready := s.headerReady
	s.mu.Unlock()
	if ready {
		return nil
	}
	current, err := service.Spreadsheets.Values.Get(s.config.SpreadsheetID, s.a1("A1:K1")).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	if len(current.Values) > 0 && len(current.Values[0]) > 0 && fmt.Sprint(current.Values[0][0]) == SheetHeaders[0] {
		s.markHeaderReady()
		return nil
	}

	slog.InfoContext(ctx, "initialising spreadsheet header", "sheet", s.title)
	header := &sheets.ValueRange{Values: [][]interface{}{SheetHeaders}}
	if _, err := service.Spreadsheets.Values.Update(s.config.SpreadsheetID, s.a1("A1:K1"), header).
		ValueInputOption(userEntered).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	freeze := &sheets.BatchUpdateSpreadsheetRequest{Requests: []*sheets.Request{{
		UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
			Properties: &sheets.SheetProperties{
				SheetId:        s.sheetID,
				GridProperties: &sheets.GridProperties{FrozenRowCount: 1},
			},
			Fields: "gridProperties.frozenRowCount",
		},
	}}}
	if _, err := service.Spreadsheets.BatchUpdate(s.config.SpreadsheetID, freeze).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}
	s.markHeaderReady()
	return nil
}

func (s *SheetsService) markHeaderReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headerReady = true
}

// AppendOrUpdate mirrors record into the worksheet.
//
// Inputs:
//   - ctx: The context for the request.
//   - record: The stored record. Its SourceURL and Name identify the row.
//
// Outputs:
//   - error: ErrNotConfigured, or the wrapped API error. Nothing is rolled
//     back on failure.
func (s *SheetsService) AppendOrUpdate(ctx context.Context, record *model.PlaceRecord) error {
	if err := s.EnsureHeader(ctx); err != nil {
		return err
	}
	service, err := s.connect(ctx)
	if err != nil {
		return err
	}
	row := &sheets.ValueRange{Values: [][]interface{}{SheetRow(record)}}

	existing, err := service.Spreadsheets.Values.Get(s.config.SpreadsheetID, s.a1("A2:K")).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to read rows: %w", err)
	}
	for i, values := range existing.Values {
		if len(values) <= sourceColumn || record.SourceURL == "" {
			continue
		}
		if fmt.Sprint(values[sourceColumn]) != record.SourceURL || fmt.Sprint(values[0]) != record.Name {
			continue
		}
		target := s.a1(fmt.Sprintf("A%d:K%d", i+2, i+2))
		if _, err := service.Spreadsheets.Values.Update(s.config.SpreadsheetID, target, row).
			ValueInputOption(userEntered).Context(ctx).Do(); err != nil {
			return fmt.Errorf("failed to update row %d: %w", i+2, err)
		}
		slog.InfoContext(ctx, "spreadsheet row updated", "source_ref", record.SourceRef, "row", i+2)
		return nil
	}

	insert := &sheets.BatchUpdateSpreadsheetRequest{Requests: []*sheets.Request{{
		InsertDimension: &sheets.InsertDimensionRequest{
			Range: &sheets.DimensionRange{
				SheetId:    s.sheetID,
				Dimension:  "ROWS",
				StartIndex: 1,
				EndIndex:   2,
			},
		},
	}}}
	if _, err := service.Spreadsheets.BatchUpdate(s.config.SpreadsheetID, insert).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to insert row: %w", err)
	}
	if _, err := service.Spreadsheets.Values.Update(s.config.SpreadsheetID, s.a1("A2:K2"), row).
		ValueInputOption(userEntered).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}
	slog.InfoContext(ctx, "spreadsheet row inserted", "source_ref", record.SourceRef)
	return nil
}

// SheetRow renders a record in header order.
func SheetRow(record *model.PlaceRecord) []interface{} {
	added := record.CreatedAt
	if added.IsZero() {
		added = time.Now()
	}
	return []interface{}{
		record.Name,
		record.Address,
		record.City,
		record.Country,
		strings.Join(record.PlaceTypes, ", "),
		strings.Join(record.Highlights, ", "),
		record.PriceRange,
		record.Recommendation,
		record.GoogleMapsURL,
		record.SourceURL,
		added.Local().Format(sheetTimeLayout),
	}
}
