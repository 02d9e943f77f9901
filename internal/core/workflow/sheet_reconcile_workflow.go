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

package workflow

import (
	goctx "context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jaycherian/gcp-go-place-saver/internal/core/commands"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/cor"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/services"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultReconcileInterval = 5 * time.Minute
	DefaultReconcileBatch    = 50
)

// SheetReconcileWorkflow is a background job that retries the spreadsheet
// mirror for records whose sync failed at commit time. The store stays the
// source of truth; the sheet catches up.
type SheetReconcileWorkflow struct {
	cor.BaseCommand
	store  services.PlaceStore
	sheets commands.SheetMirror
	batch  int
}

func NewSheetReconcileWorkflow(store services.PlaceStore, sheets commands.SheetMirror, batch int) *SheetReconcileWorkflow {
	if batch <= 0 {
		batch = DefaultReconcileBatch
	}
	return &SheetReconcileWorkflow{
		BaseCommand: *cor.NewBaseCommand("sheet-reconcile"),
		store:       store,
		sheets:      sheets,
		batch:       batch,
	}
}

// IsExecutable needs a configured spreadsheet.
func (w *SheetReconcileWorkflow) IsExecutable(_ cor.Context) bool {
	return w.sheets != nil && w.sheets.IsConfigured()
}

// StartTimer runs the job every interval until ctx is done. Each run gets
// its own trace span.
func (w *SheetReconcileWorkflow) StartTimer(ctx goctx.Context, every time.Duration) {
	if every <= 0 {
		every = DefaultReconcileInterval
	}
	tracer := otel.Tracer("sheet-reconcile")
	ticker := time.NewTicker(every)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				traceCtx, span := tracer.Start(ctx, "sheet-reconcile")
				chainCtx := cor.NewBaseContextWith(traceCtx)
				if w.IsExecutable(chainCtx) {
					w.Execute(chainCtx)
				}
				if chainCtx.HasErrors() {
					span.SetStatus(codes.Error, "failed to reconcile sheet")
				} else {
					span.SetStatus(codes.Ok, "reconciled sheet")
				}
				chainCtx.Close()
				span.End()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Execute mirrors one batch of unsynced records. A record that fails again
// stays unsynced for the next run.
func (w *SheetReconcileWorkflow) Execute(context cor.Context) {
	ctx := context.GetContext()
	records, err := w.store.ListUnsynced(ctx, w.batch)
	if err != nil {
		w.Fail(context, fmt.Errorf("failed to list unsynced records: %w", err))
		return
	}
	synced, failed := 0, 0
	for _, r := range records {
		if err := w.sheets.AppendOrUpdate(ctx, r); err != nil {
			failed++
			slog.WarnContext(ctx, "sheet sync retry failed", "source_ref", r.SourceRef, "error", err)
			continue
		}
		if err := w.store.MarkSynced(ctx, r.SourceRef, true); err != nil {
			failed++
			slog.WarnContext(ctx, "failed to mark record synced", "source_ref", r.SourceRef, "error", err)
			continue
		}
		synced++
	}
	if len(records) > 0 {
		slog.InfoContext(ctx, "sheet reconciled", "synced", synced, "failed", failed)
	}
	context.Add(cor.CtxOut, synced)
	if failed > 0 {
		w.Fail(context, fmt.Errorf("%d of %d records failed to sync", failed, len(records)))
		return
	}
	w.Succeed(context)
}
