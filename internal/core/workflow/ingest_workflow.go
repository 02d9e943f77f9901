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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jaycherian/gcp-go-place-saver/internal/core/commands"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/cor"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/model"
	"golang.org/x/sync/errgroup"
)

// MaxConcurrentLookups bounds the Places API calls of one ingest.
const MaxConcurrentLookups = 4

type prefetchKey struct{}

type lookupResult struct {
	place *model.VerifiedPlace
	err   error
}

// PrefetchLookup answers from results fetched ahead of time for the current
// run, and falls through to the wrapped lookup for anything else.
type PrefetchLookup struct {
	next commands.PlaceLookup
}

func NewPrefetchLookup(next commands.PlaceLookup) *PrefetchLookup {
	return &PrefetchLookup{next: next}
}

func (p *PrefetchLookup) Search(ctx goctx.Context, query string) (*model.VerifiedPlace, error) {
	if cache, ok := ctx.Value(prefetchKey{}).(map[string]lookupResult); ok {
		if r, hit := cache[query]; hit {
			return r.place, r.err
		}
	}
	return p.next.Search(ctx, query)
}

// Prefetch looks every query up concurrently and returns a context that
// carries the results.
func (p *PrefetchLookup) Prefetch(ctx goctx.Context, queries []string) goctx.Context {
	var mu sync.Mutex
	cache := make(map[string]lookupResult, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxConcurrentLookups)
	for _, q := range queries {
		mu.Lock()
		_, seen := cache[q]
		cache[q] = lookupResult{}
		mu.Unlock()
		if seen {
			continue
		}
		g.Go(func() error {
			place, err := p.next.Search(gctx, q)
			mu.Lock()
			cache[q] = lookupResult{place: place, err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return goctx.WithValue(ctx, prefetchKey{}, cache)
}

// IngestWorkflow is the end-to-end flow for one content link: extraction,
// then one commit per candidate. Lookups run concurrently up front and the
// commits run one after another in candidate order.
type IngestWorkflow struct {
	cor.BaseCommand
	extraction *ExtractionWorkflow
	commit     *CommitWorkflow
	lookup     *PrefetchLookup
	resolver   LinkResolver
}

// LinkResolver turns message text into a content link.
type LinkResolver interface {
	Resolve(ctx goctx.Context, text string) (*model.ContentLink, error)
}

// NewIngestWorkflow wires the workflow. The commit workflow must have been
// built with lookup as its PlaceLookup for the prefetch to take effect.
func NewIngestWorkflow(extraction *ExtractionWorkflow, commit *CommitWorkflow, lookup *PrefetchLookup, resolver LinkResolver) *IngestWorkflow {
	return &IngestWorkflow{
		BaseCommand: *cor.NewBaseCommand("place-ingest-workflow"),
		extraction:  extraction,
		commit:      commit,
		lookup:      lookup,
		resolver:    resolver,
	}
}

// Ingest runs extraction and commits for link.
//
// Logic Flow:
//  1. Extract the candidates. An extraction error ends the run with the error
//     in the report.
//  2. Prefetch the Places lookups of all candidates concurrently.
//  3. Commit each candidate with its source reference, in order.
func (w *IngestWorkflow) Ingest(ctx goctx.Context, link *model.ContentLink) *model.IngestReport {
	report := &model.IngestReport{Link: link, Reports: make([]*model.CommitReport, 0), StartedAt: time.Now()}
	defer func() { report.Duration = time.Since(report.StartedAt) }()

	result, err := w.extraction.Extract(ctx, link)
	if err != nil {
		slog.ErrorContext(ctx, "extraction failed", "url", link.URL, "error", err)
		report.Errors = append(report.Errors, err.Error())
		return report
	}
	report.Extraction = result
	if !result.Found {
		slog.InfoContext(ctx, "no place found", "url", link.URL, "notes", result.Notes)
		return report
	}

	queries := make([]string, 0, len(result.Places))
	for _, c := range result.Places {
		queries = append(queries, c.SearchQuery())
	}
	cor.ReportProgress(ctx, commands.StepLookup)
	if w.lookup != nil {
		ctx = w.lookup.Prefetch(ctx, queries)
	}

	for i, candidate := range result.Places {
		report.Reports = append(report.Reports, w.commit.Commit(ctx, candidate, model.SourceRef(link, i)))
	}
	slog.InfoContext(ctx, "ingest finished", "url", link.URL, "places", len(report.Reports))
	return report
}

// Execute handles an ingest request message from CtxIn, as delivered by the
// Pub/Sub listener. Only a failed extraction is an error: the message is
// redelivered. Commit step failures are part of the outcome.
func (w *IngestWorkflow) Execute(context cor.Context) {
	raw, _ := context.Get(cor.CtxIn).(string)
	var req model.IngestRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		context.AddError(w.GetName(), fmt.Errorf("invalid ingest request: %w", err))
		return
	}
	if w.resolver == nil {
		context.AddError(w.GetName(), errors.New("no link resolver configured"))
		return
	}
	link, err := w.resolver.Resolve(context.GetContext(), req.URL)
	if err != nil {
		context.AddError(w.GetName(), err)
		return
	}
	link.ChatID = req.ChatID

	report := w.Ingest(context.GetContext(), link)
	context.Add(cor.CtxOut, report)
	if len(report.Errors) > 0 {
		w.Fail(context, errors.New(report.Errors[0]))
		return
	}
	w.Succeed(context)
}
