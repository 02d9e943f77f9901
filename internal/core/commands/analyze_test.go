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

package commands_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jaycherian/gcp-go-place-saver/internal/cloud"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/commands"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/cor"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/model"
	"github.com/stretchr/testify/assert"
	"google.golang.org/genai"
)

type scriptedModel struct {
	mu     sync.Mutex
	reply  string
	err    error
	prompt string
	parts  int
}

func (m *scriptedModel) GenerateContent(_ context.Context, content []*genai.Content) (*genai.GenerateContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parts = len(content[0].Parts)
	m.prompt = content[0].Parts[len(content[0].Parts)-1].Text
	if m.err != nil {
		return nil, m.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{{Text: m.reply}}}}},
	}, nil
}

func TestMediaAnalyzerHalvesAreIndependent(t *testing.T) {
	cloud.RetryInitialInterval = time.Millisecond
	transcriber := &scriptedModel{err: errors.New("quota exceeded")}
	vision := &scriptedModel{reply: "  招牌寫著「一蘭」  "}

	chCtx := cor.NewBaseContextWith(context.Background())
	defer chCtx.Close()
	bundle := stagedBundle(t)
	bundle.StagedAudio = &model.StagedFile{URI: "gs://staging/a.mp3", MIMEType: "audio/mpeg"}
	bundle.StagedVisuals = []*model.StagedFile{{Data: jpegBytes, MIMEType: "image/jpeg"}, {Data: jpegBytes, MIMEType: "image/jpeg"}}
	chCtx.Add(commands.ParamBundle, bundle)

	cmd := commands.NewMediaAnalyzer(transcriber, vision,
		commands.ParsePrompt("transcription", "", commands.DefaultTranscriptionPrompt),
		commands.ParsePrompt("vision", "", commands.DefaultVisionPrompt))
	cmd.Execute(chCtx)

	assert.False(t, chCtx.HasErrors())
	assert.Empty(t, bundle.Transcript)
	assert.Equal(t, "招牌寫著「一蘭」", bundle.Visual)
	assert.Equal(t, 3, vision.parts)
	assert.Contains(t, vision.prompt, "影片")
}

func TestPlaceExtractorFillsBlanks(t *testing.T) {
	gen := &scriptedModel{reply: `{"found": false, "places": []}`}
	chCtx := cor.NewBaseContextWith(context.Background())
	defer chCtx.Close()
	chCtx.Add(commands.ParamBundle, &model.MediaBundle{Caption: "東京 一蘭拉麵"})

	cmd := commands.NewPlaceExtractor(gen, commands.ParsePrompt("extraction", "", commands.DefaultExtractionPrompt))
	cmd.Execute(chCtx)

	assert.False(t, chCtx.HasErrors())
	assert.Equal(t, `{"found": false, "places": []}`, chCtx.Get(commands.ParamRawResponse))
	assert.Contains(t, gen.prompt, "東京 一蘭拉麵")
	assert.Contains(t, gen.prompt, commands.NoTranscript)
	assert.Contains(t, gen.prompt, commands.NoVisual)
	assert.Contains(t, gen.prompt, commands.NoAccount)
	assert.True(t, strings.Contains(gen.prompt, "阿宗麵線"), "example json is embedded")
}

func TestParsePromptOverride(t *testing.T) {
	tmpl := commands.ParsePrompt("x", "說明：{{.Caption}}", commands.DefaultExtractionPrompt)
	var sb strings.Builder
	assert.NoError(t, tmpl.Execute(&sb, map[string]interface{}{"Caption": "c"}))
	assert.Equal(t, "說明：c", sb.String())

	assert.Panics(t, func() { commands.ParsePrompt("bad", "{{.Caption", "") })
}
