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

// Package commands provides the concrete implementations of the Chain of
// Responsibility (COR) pattern's Command interface for the place saver.
//
// Commands fall in two groups:
//
//  1. Extraction: download-media, scrape-open-graph, extract-audio-frames,
//     stage-media, analyze-media, extract-places, parse-places and
//     cleanup-media turn a content link into candidate places.
//  2. Commit: verify-place, persist-place, sync-sheet and save-to-maps take
//     one candidate through the external systems. Each of them appends
//     exactly one step result to the commit report and never stops the
//     chain on its own.
//
// Commands exchange data through named context parameters rather than the
// CtxIn/CtxOut pipe, so commands can be reordered or skipped freely.
package commands

// Context parameter names shared by the commands and the workflows.
const (
	ParamLink        = "content-link"    // *model.ContentLink
	ParamBundle      = "media-bundle"    // *model.MediaBundle
	ParamRawResponse = "raw-response"    // string
	ParamExtraction  = "extraction"      // *model.ExtractionResult
	ParamCandidate   = "candidate-place" // *model.CandidatePlace
	ParamReport      = "commit-report"   // *model.CommitReport
)

// Step names. They double as command names, counter prefixes and report keys.
const (
	StepDownload    = "download-media"
	StepOpenGraph   = "scrape-open-graph"
	StepAudioFrames = "extract-audio-frames"
	StepStage       = "stage-media"
	StepAnalyze     = "analyze-media"
	StepExtract     = "extract-places"
	StepParse       = "parse-places"
	StepCleanup     = "cleanup-media"
	StepVerify      = "verify-place"
	StepPersist     = "persist-place"
	StepSyncSheet   = "sync-sheet"
	StepSaveToMaps  = "save-to-maps"
	StepLookup      = "lookup-places"
)
