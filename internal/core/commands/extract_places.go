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

// Package commands: this file defines the command that asks the language
// model for the places mentioned in the collected text.
//
// Logic Flow:
//  1. Fill the extraction prompt with the caption, the transcript, the visual
//     description and the account, substituting a filler for blanks.
//  2. Embed an example result so the model answers in the expected shape.
//  3. Put the raw answer in the context for parse-places.
package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"text/template"

	"github.com/jaycherian/gcp-go-place-saver/internal/cloud"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/cor"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/model"
	"go.opentelemetry.io/otel/metric"
)

// PlaceExtractor is the extract-places command.
type PlaceExtractor struct {
	cor.BaseCommand
	generator          cloud.ContentGenerator
	template           *template.Template
	inputTokenCounter  metric.Int64Counter
	outputTokenCounter metric.Int64Counter
	retryCounter       metric.Int64Counter
}

// NewPlaceExtractor creates the extract-places command.
//
// Inputs:
//   - generator: the rate limited extraction model.
//   - template: the parsed extraction prompt.
//
// Outputs:
//   - *PlaceExtractor: the command, with its token and retry counters.
func NewPlaceExtractor(generator cloud.ContentGenerator, template *template.Template) *PlaceExtractor {
	out := &PlaceExtractor{
		BaseCommand: *cor.NewBaseCommandWithParams(StepExtract, ParamBundle, ParamRawResponse),
		generator:   generator,
		template:    template,
	}
	out.inputTokenCounter, _ = out.GetMeter().Int64Counter(fmt.Sprintf("%s.gemini.token.input", out.GetName()))
	out.outputTokenCounter, _ = out.GetMeter().Int64Counter(fmt.Sprintf("%s.gemini.token.output", out.GetName()))
	out.retryCounter, _ = out.GetMeter().Int64Counter(fmt.Sprintf("%s.gemini.token.retry", out.GetName()))
	return out
}

// GenerateParams builds the template data for a bundle.
func (c *PlaceExtractor) GenerateParams(bundle *model.MediaBundle) map[string]interface{} {
	example, _ := json.MarshalIndent(model.GetExampleExtraction(), "", "  ")
	caption := bundle.Caption
	if caption == "" {
		caption = bundle.Title
	}
	return map[string]interface{}{
		"Caption":           orFiller(caption, NoCaption),
		"Transcript":        orFiller(bundle.Transcript, NoTranscript),
		"VisualDescription": orFiller(bundle.Visual, NoVisual),
		"Account":           orFiller(bundle.Account, NoAccount),
		"ExampleJSON":       string(example),
	}
}

func (c *PlaceExtractor) Execute(context cor.Context) {
	bundle := context.Get(c.GetInputParam()).(*model.MediaBundle)
	if c.generator == nil {
		c.Fail(context, errors.New("extraction model is not configured"))
		return
	}

	var buffer bytes.Buffer
	if err := c.template.Execute(&buffer, c.GenerateParams(bundle)); err != nil {
		c.Fail(context, fmt.Errorf("failed to execute prompt template: %w", err))
		return
	}

	out, err := cloud.GenerateMultiModalResponse(
		context.GetContext(), c.inputTokenCounter, c.outputTokenCounter, c.retryCounter,
		c.generator, cloud.NewUserContent(cloud.NewTextPart(buffer.String())))
	if err != nil {
		c.Fail(context, fmt.Errorf("gemini request failed: %w", err))
		return
	}
	context.Add(c.GetOutputParam(), out)
	c.Succeed(context)
}

func orFiller(value, filler string) string {
	if value == "" {
		return filler
	}
	return value
}
