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

// Package commands: this file defines the command that reads the staged media
// with the language model.
//
// Logic Flow:
//  1. Transcription (staged audio) and vision (staged frames or images) run
//     concurrently, each with its own rate limited model.
//  2. A half that fails or has no input leaves its text empty and logs a
//     warning. Extraction can still work from the caption alone, so the
//     command itself never fails.
package commands

import (
	"bytes"
	goctx "context"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/jaycherian/gcp-go-place-saver/internal/cloud"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/cor"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/model"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"
)

// MediaAnalyzer is the analyze-media command.
type MediaAnalyzer struct {
	cor.BaseCommand
	transcriber         cloud.ContentGenerator
	vision              cloud.ContentGenerator
	transcriptionPrompt *template.Template
	visionPrompt        *template.Template
	inputTokenCounter   metric.Int64Counter
	outputTokenCounter  metric.Int64Counter
	retryCounter        metric.Int64Counter
}

// NewMediaAnalyzer creates the analyze-media command. Either model may be
// nil, which skips that half.
//
// Inputs:
//   - transcriber: the model reading the audio track.
//   - vision: the model reading frames and images.
//   - transcriptionPrompt, visionPrompt: parsed prompt templates.
//
// Outputs:
//   - *MediaAnalyzer: the command, with its token and retry counters.
func NewMediaAnalyzer(
	transcriber cloud.ContentGenerator,
	vision cloud.ContentGenerator,
	transcriptionPrompt *template.Template,
	visionPrompt *template.Template) *MediaAnalyzer {

	out := &MediaAnalyzer{
		BaseCommand:         *cor.NewBaseCommandWithParams(StepAnalyze, ParamBundle, ParamBundle),
		transcriber:         transcriber,
		vision:              vision,
		transcriptionPrompt: transcriptionPrompt,
		visionPrompt:        visionPrompt,
	}
	out.inputTokenCounter, _ = out.GetMeter().Int64Counter(fmt.Sprintf("%s.gemini.token.input", out.GetName()))
	out.outputTokenCounter, _ = out.GetMeter().Int64Counter(fmt.Sprintf("%s.gemini.token.output", out.GetName()))
	out.retryCounter, _ = out.GetMeter().Int64Counter(fmt.Sprintf("%s.gemini.token.retry", out.GetName()))
	return out
}

func (c *MediaAnalyzer) Execute(context cor.Context) {
	bundle := context.Get(c.GetInputParam()).(*model.MediaBundle)
	ctx := context.GetContext()

	var transcript, visual string
	g, gctx := errgroup.WithContext(ctx)
	if bundle.StagedAudio != nil && c.transcriber != nil {
		g.Go(func() error {
			text, err := c.generate(gctx, c.transcriber, c.transcriptionPrompt, nil, []*model.StagedFile{bundle.StagedAudio})
			if err != nil {
				slog.WarnContext(ctx, "transcription failed", "url", bundle.Link.URL, "error", err)
				return nil
			}
			transcript = text
			return nil
		})
	}
	if len(bundle.StagedVisuals) > 0 && c.vision != nil {
		g.Go(func() error {
			params := map[string]interface{}{"IsVideo": len(bundle.Frames) > 0}
			text, err := c.generate(gctx, c.vision, c.visionPrompt, params, bundle.StagedVisuals)
			if err != nil {
				slog.WarnContext(ctx, "visual analysis failed", "url", bundle.Link.URL, "error", err)
				return nil
			}
			visual = text
			return nil
		})
	}
	_ = g.Wait()

	bundle.Transcript = transcript
	bundle.Visual = visual
	slog.InfoContext(ctx, "media analyzed", "transcript_chars", len(transcript), "visual_chars", len(visual))
	c.Succeed(context)
}

func (c *MediaAnalyzer) generate(
	ctx goctx.Context,
	gen cloud.ContentGenerator,
	prompt *template.Template,
	params map[string]interface{},
	files []*model.StagedFile) (string, error) {

	var buffer bytes.Buffer
	if err := prompt.Execute(&buffer, params); err != nil {
		return "", fmt.Errorf("failed to execute prompt template: %w", err)
	}
	parts := make([]*genai.Part, 0, len(files)+1)
	for _, f := range files {
		parts = append(parts, Part(f))
	}
	parts = append(parts, cloud.NewTextPart(buffer.String()))

	out, err := cloud.GenerateMultiModalResponse(ctx, c.inputTokenCounter, c.outputTokenCounter, c.retryCounter, gen, cloud.NewUserContent(parts...))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
