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

	"github.com/jaycherian/gcp-go-place-saver/internal/core/commands"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/cor"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/model"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/services"
)

// CommitWorkflow drives one candidate through verification, persistence,
// the spreadsheet mirror and the Google Maps save. The chain continues on
// failure: every step reports on its own and none of them aborts the others.
type CommitWorkflow struct {
	cor.BaseCommand
	chain *cor.BaseChain
}

// NewCommitWorkflow builds the commit chain. sheets and saver may be nil,
// which reports their steps as skipped or disabled.
func NewCommitWorkflow(
	lookup commands.PlaceLookup,
	store services.PlaceStore,
	sheets commands.SheetMirror,
	saver commands.ListSaver) *CommitWorkflow {

	chain := cor.NewBaseChain("place-commit")
	chain.ContinueOnFailure(true)
	chain.AddCommand(commands.NewPlaceVerifier(lookup))
	chain.AddCommand(commands.NewPlacePersister(store))
	chain.AddCommand(commands.NewSheetSyncer(sheets, store))
	chain.AddCommand(commands.NewMapsSaver(saver))

	return &CommitWorkflow{
		BaseCommand: *cor.NewBaseCommandWithParams("place-commit-workflow", commands.ParamReport, commands.ParamReport),
		chain:       chain,
	}
}

// Execute runs the four steps. A step that panicked or could not run has no
// result of its own; it is reported as failed with the recorded error.
func (w *CommitWorkflow) Execute(context cor.Context) {
	w.chain.Execute(context)

	report, ok := context.Get(commands.ParamReport).(*model.CommitReport)
	if !ok || report == nil {
		return
	}
	errs := context.GetErrors()
	for _, name := range w.chain.Commands() {
		if _, done := report.Step(name); done {
			continue
		}
		msg := "step did not run"
		if err, failed := errs[name]; failed {
			msg = err.Error()
		}
		report.AddStep(name, model.StepFailed, msg)
	}
}

// Commit runs the workflow for one candidate.
//
// Inputs:
//   - ctx: The context for the commit.
//   - candidate: The extracted place.
//   - sourceRef: The uniqueness key of the record, see model.SourceRef.
//
// Outputs:
//   - *model.CommitReport: one result per step, in order. Never nil.
func (w *CommitWorkflow) Commit(ctx goctx.Context, candidate *model.CandidatePlace, sourceRef string) *model.CommitReport {
	report := &model.CommitReport{SourceRef: sourceRef, Candidate: candidate, Steps: make([]model.StepResult, 0, 4)}
	if candidate == nil {
		for _, name := range w.chain.Commands() {
			report.AddStep(name, model.StepFailed, fmt.Sprintf("no candidate for %s", sourceRef))
		}
		return report
	}

	chCtx := cor.NewBaseContextWith(ctx)
	defer chCtx.Close()
	chCtx.Add(commands.ParamCandidate, candidate)
	chCtx.Add(commands.ParamReport, report)

	w.Execute(chCtx)
	return report
}
