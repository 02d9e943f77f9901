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

// Package workflow defines the high-level business logic orchestrations,
// combining commands into pipelines. This file implements the extraction
// workflow, which turns a content link into candidate places.
package workflow

import (
	goctx "context"
	"errors"
	"fmt"
	"sort"

	"github.com/go-resty/resty/v2"
	"github.com/jaycherian/gcp-go-place-saver/internal/cloud"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/commands"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/cor"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/model"
)

// ExtractionDeps are the collaborators of the extraction workflow. Nil
// values fall back to the real implementations where one exists; a nil model
// skips the matching analysis.
type ExtractionDeps struct {
	Config      *cloud.Config
	Frames      commands.FrameSettings
	Runner      commands.Runner
	HTTPClient  *resty.Client
	Stager      commands.Stager
	Transcriber cloud.ContentGenerator
	Vision      cloud.ContentGenerator
	Extractor   cloud.ContentGenerator
}

// ExtractionWorkflow orchestrates the extraction of places from one content
// link. It is a chain of eight commands:
//
//  1. download-media: yt-dlp into a per-run work directory.
//  2. scrape-open-graph: page meta tags when the download failed.
//  3. extract-audio-frames: ffmpeg audio and still frames for videos.
//  4. stage-media: GCS upload or inline bytes for the model.
//  5. analyze-media: concurrent transcription and vision.
//  6. extract-places: the extraction prompt.
//  7. parse-places: JSON repair and decoding.
//  8. cleanup-media: runs after the chain whatever happened, so staged
//     objects never outlive the run.
type ExtractionWorkflow struct {
	cor.BaseCommand
	chain   cor.Chain
	cleanup cor.Command
}

// Execute runs the chain and then the cleanup.
func (w *ExtractionWorkflow) Execute(context cor.Context) {
	w.chain.Execute(context)
	if w.cleanup.IsExecutable(context) {
		w.cleanup.Execute(context)
	}
}

// Extract runs the workflow for link.
//
// Inputs:
//   - ctx: The context for the run. Cancelling it stops the external tools.
//   - link: The content link.
//
// Outputs:
//   - *model.ExtractionResult: the candidates, or Found false with notes.
//   - error: the failures of the steps, when the chain could not finish.
func (w *ExtractionWorkflow) Extract(ctx goctx.Context, link *model.ContentLink) (*model.ExtractionResult, error) {
	chCtx := cor.NewBaseContextWith(ctx)
	defer chCtx.Close()
	chCtx.Add(commands.ParamLink, link)

	w.Execute(chCtx)

	if chCtx.HasErrors() {
		return nil, stepErrors(chCtx)
	}
	result, ok := chCtx.Get(commands.ParamExtraction).(*model.ExtractionResult)
	if !ok || result == nil {
		return nil, errors.New("extraction produced no result")
	}
	return result, nil
}

// Steps lists the command names in execution order.
func (w *ExtractionWorkflow) Steps() []string {
	return append(w.chain.(*cor.BaseChain).Commands(), w.cleanup.GetName())
}

// NewExtractionWorkflow builds the workflow and parses the prompt templates.
// A broken template panics, as the application cannot run without it.
func NewExtractionWorkflow(deps ExtractionDeps) *ExtractionWorkflow {
	config := deps.Config
	transcriptionPrompt := commands.ParsePrompt("transcription-template", config.PromptTemplates.Transcription, commands.DefaultTranscriptionPrompt)
	visionPrompt := commands.ParsePrompt("vision-template", config.PromptTemplates.Vision, commands.DefaultVisionPrompt)
	extractionPrompt := commands.ParsePrompt("extraction-template", config.PromptTemplates.Extraction, commands.DefaultExtractionPrompt)

	chain := cor.NewBaseChain("place-extraction")
	chain.AddCommand(commands.NewMediaDownloader(config, deps.Runner))
	chain.AddCommand(commands.NewOpenGraphScraper(config, deps.HTTPClient))
	chain.AddCommand(commands.NewAudioFrameExtractor(config, deps.Frames, deps.Runner))
	chain.AddCommand(commands.NewMediaStager(config, deps.Stager))
	chain.AddCommand(commands.NewMediaAnalyzer(deps.Transcriber, deps.Vision, transcriptionPrompt, visionPrompt))
	chain.AddCommand(commands.NewPlaceExtractor(deps.Extractor, extractionPrompt))
	chain.AddCommand(commands.NewPlaceParser())

	return &ExtractionWorkflow{
		BaseCommand: *cor.NewBaseCommandWithParams("place-extraction-workflow", commands.ParamLink, commands.ParamExtraction),
		chain:       chain,
		cleanup:     commands.NewMediaCleanup(deps.Stager),
	}
}

// NewExtractionDeps wires the workflow to the service clients: one model per
// analysis, and GCS staging when a bucket and a storage client exist.
func NewExtractionDeps(config *cloud.Config, clients *cloud.ServiceClients, frames commands.FrameSettings) ExtractionDeps {
	deps := ExtractionDeps{Config: config, Frames: frames}
	if clients == nil {
		return deps
	}
	if m, err := clients.Model(cloud.ModelTranscription); err == nil {
		deps.Transcriber = m
	}
	if m, err := clients.Model(cloud.ModelVision); err == nil {
		deps.Vision = m
	}
	if m, err := clients.Model(cloud.ModelExtraction); err == nil {
		deps.Extractor = m
	}
	if clients.StorageClient != nil && config.Storage.StagingBucket != "" {
		deps.Stager = &commands.GCSStager{Client: clients.StorageClient}
	}
	return deps
}

// stepErrors joins the context errors in a stable order.
func stepErrors(chCtx cor.Context) error {
	errs := chCtx.GetErrors()
	names := make([]string, 0, len(errs))
	for name := range errs {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]error, 0, len(names))
	for _, name := range names {
		out = append(out, fmt.Errorf("%s: %w", name, errs[name]))
	}
	return errors.Join(out...)
}
