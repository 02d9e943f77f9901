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

// Package commands: this file defines the four commit steps. Each one appends
// exactly one step result to the commit report, so a report always tells the
// caller what happened to every step, and a failing step only records its
// error without stopping the ones after it.
//
// Logic Flow:
//  1. verify-place: look the candidate up in the Places API. A failed lookup
//     leaves the verification empty and the commit carries on.
//  2. persist-place: upsert the record keyed by the source reference.
//  3. sync-sheet: mirror the stored record to the spreadsheet. Needs a
//     successful persist. A failure never rolls the record back.
//  4. save-to-maps: save the verified place to the Google Maps list when
//     the save session is enabled and logged in.
package commands

import (
	goctx "context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jaycherian/gcp-go-place-saver/internal/core/cor"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/model"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/services"
	"github.com/jaycherian/gcp-go-place-saver/internal/savesession"
)

// Messages attached to the step results.
const (
	MsgPlaceNotFound = "Google Maps 上找不到此地點"
	MsgNoRecord      = "尚未儲存，略過同步"
	MsgSheetsOff     = "未設定 Google Sheets"
	MsgNoPlaceID     = "沒有 Google 地點 ID，略過儲存"
	MsgPersisted     = "已儲存"
	MsgSheetSynced   = "已同步到 Google Sheets"
)

// PlaceLookup finds the best Places API match for a free text query.
type PlaceLookup interface {
	Search(ctx goctx.Context, query string) (*model.VerifiedPlace, error)
}

// SheetMirror mirrors records to a spreadsheet.
type SheetMirror interface {
	IsConfigured() bool
	AppendOrUpdate(ctx goctx.Context, record *model.PlaceRecord) error
}

// ListSaver saves places to a Google Maps list.
type ListSaver interface {
	IsEnabled() bool
	IsLoggedIn() bool
	SaveToList(ctx goctx.Context, placeID, listName string) model.SaveOutcome
}

type commitStep struct {
	cor.BaseCommand
}

func newCommitStep(name string) commitStep {
	return commitStep{BaseCommand: *cor.NewBaseCommandWithParams(name, ParamReport, ParamReport)}
}

func (c *commitStep) report(context cor.Context) *model.CommitReport {
	r, _ := context.Get(ParamReport).(*model.CommitReport)
	return r
}

func (c *commitStep) ok(context cor.Context, r *model.CommitReport, msg string) {
	r.AddStep(c.GetName(), model.StepOK, msg)
	c.Succeed(context)
}

func (c *commitStep) skip(context cor.Context, r *model.CommitReport, msg string) {
	r.AddStep(c.GetName(), model.StepSkipped, msg)
	c.Succeed(context)
}

func (c *commitStep) fail(context cor.Context, r *model.CommitReport, err error) {
	r.AddStep(c.GetName(), model.StepFailed, err.Error())
	c.Fail(context, err)
}

// PlaceVerifier is the verify-place command.
type PlaceVerifier struct {
	commitStep
	lookup PlaceLookup
}

func NewPlaceVerifier(lookup PlaceLookup) *PlaceVerifier {
	return &PlaceVerifier{commitStep: newCommitStep(StepVerify), lookup: lookup}
}

func (c *PlaceVerifier) Execute(context cor.Context) {
	r := c.report(context)
	query := r.Candidate.SearchQuery()
	v, err := c.lookup.Search(context.GetContext(), query)
	if err != nil {
		slog.WarnContext(context.GetContext(), "place lookup failed", "query", query, "error", err)
		c.fail(context, r, fmt.Errorf("地點查詢失敗: %w", err))
		return
	}
	r.Verified = v
	if v == nil || !v.Found {
		c.ok(context, r, MsgPlaceNotFound)
		return
	}
	c.ok(context, r, v.Name)
}

// PlacePersister is the persist-place command.
type PlacePersister struct {
	commitStep
	store services.PlaceStore
}

func NewPlacePersister(store services.PlaceStore) *PlacePersister {
	return &PlacePersister{commitStep: newCommitStep(StepPersist), store: store}
}

func (c *PlacePersister) Execute(context cor.Context) {
	r := c.report(context)
	ctx := context.GetContext()
	record := model.NewPlaceRecord(r.SourceRef, r.Candidate, r.Verified)
	if r.Verified == nil || !r.Verified.Found {
		existing, err := c.store.Get(ctx, r.SourceRef)
		switch {
		case err == nil:
			record.KeepVerification(existing)
		case !errors.Is(err, services.ErrNotFound):
			slog.WarnContext(ctx, "failed to load existing record", "source_ref", r.SourceRef, "error", err)
		}
	}
	stored, err := c.store.Upsert(ctx, record)
	if err != nil {
		c.fail(context, r, fmt.Errorf("儲存失敗: %w", err))
		return
	}
	r.Record = stored
	c.ok(context, r, MsgPersisted)
}

// SheetSyncer is the sync-sheet command.
type SheetSyncer struct {
	commitStep
	sheets SheetMirror
	store  services.PlaceStore
}

func NewSheetSyncer(sheets SheetMirror, store services.PlaceStore) *SheetSyncer {
	return &SheetSyncer{commitStep: newCommitStep(StepSyncSheet), sheets: sheets, store: store}
}

func (c *SheetSyncer) Execute(context cor.Context) {
	r := c.report(context)
	ctx := context.GetContext()
	switch {
	case r.Record == nil || !r.Succeeded(StepPersist):
		c.skip(context, r, MsgNoRecord)
		return
	case c.sheets == nil || !c.sheets.IsConfigured():
		c.skip(context, r, MsgSheetsOff)
		return
	}
	if err := c.sheets.AppendOrUpdate(ctx, r.Record); err != nil {
		c.fail(context, r, fmt.Errorf("Google Sheets 同步失敗: %w", err))
		return
	}
	if err := c.store.MarkSynced(ctx, r.SourceRef, true); err != nil {
		slog.WarnContext(ctx, "failed to mark record synced", "source_ref", r.SourceRef, "error", err)
	} else {
		r.Record.SheetSynced = true
	}
	c.ok(context, r, MsgSheetSynced)
}

// MapsSaver is the save-to-maps command. A disabled or logged out session is
// reported as an ok step carrying that outcome, since nothing failed.
type MapsSaver struct {
	commitStep
	saver ListSaver
}

func NewMapsSaver(saver ListSaver) *MapsSaver {
	return &MapsSaver{commitStep: newCommitStep(StepSaveToMaps), saver: saver}
}

func (c *MapsSaver) Execute(context cor.Context) {
	r := c.report(context)
	if r.Verified == nil || r.Verified.PlaceID == "" {
		c.skip(context, r, MsgNoPlaceID)
		return
	}

	var outcome model.SaveOutcome
	switch {
	case c.saver == nil || !c.saver.IsEnabled():
		outcome = model.SaveOutcome{Status: model.SaveDisabled, Message: savesession.MsgDisabled}
	case !c.saver.IsLoggedIn():
		outcome = model.SaveOutcome{Status: model.SaveNotLoggedIn, Message: savesession.MsgNotLoggedIn}
	default:
		outcome = c.saver.SaveToList(context.GetContext(), r.Verified.PlaceID, "")
	}
	r.Save = &outcome

	if outcome.Status == model.SaveFailed {
		c.fail(context, r, errors.New(outcome.Message))
		return
	}
	c.ok(context, r, outcome.Message)
}
