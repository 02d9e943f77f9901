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

// Package commands: this file defines the command that makes local media
// readable by the language model.
//
// Logic Flow:
//  1. Pick the audio track and the visuals: the extracted frames of a video,
//     or the downloaded images of an image post.
//  2. With a staging bucket, upload every file under <prefix>/<run id>/ and
//     reference it by gs:// URI. The URIs are removed by cleanup-media.
//  3. Without a bucket, or when an upload fails, embed the bytes inline up to
//     MaxInlineBytes in total.
package commands

import (
	goctx "context"
	"log/slog"
	"os"

	"cloud.google.com/go/storage"
	"github.com/jaycherian/gcp-go-place-saver/internal/cloud"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/cor"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/model"
	"google.golang.org/genai"
)

// MaxInlineBytes caps the total size of inline media in one request.
const MaxInlineBytes = 20 << 20

// Stager puts media where the model can read it and takes it away again.
type Stager interface {
	Upload(ctx goctx.Context, localPath string, obj cloud.GCSObject) error
	Delete(ctx goctx.Context, obj cloud.GCSObject) error
}

// GCSStager stages media in Cloud Storage.
type GCSStager struct {
	Client *storage.Client
}

func (s *GCSStager) Upload(ctx goctx.Context, localPath string, obj cloud.GCSObject) error {
	return cloud.UploadFile(ctx, s.Client, localPath, obj)
}

func (s *GCSStager) Delete(ctx goctx.Context, obj cloud.GCSObject) error {
	return cloud.DeleteObject(ctx, s.Client, obj)
}

// MediaStager is the stage-media command.
type MediaStager struct {
	cor.BaseCommand
	bucket string
	prefix string
	stager Stager
}

// NewMediaStager creates the stage-media command. A nil stager or an empty
// bucket always embeds media inline.
func NewMediaStager(config *cloud.Config, stager Stager) *MediaStager {
	return &MediaStager{
		BaseCommand: *cor.NewBaseCommandWithParams(StepStage, ParamBundle, ParamBundle),
		bucket:      config.Storage.StagingBucket,
		prefix:      config.Storage.StagingPrefix,
		stager:      stager,
	}
}

func (c *MediaStager) Execute(context cor.Context) {
	bundle := context.Get(c.GetInputParam()).(*model.MediaBundle)
	ctx := context.GetContext()

	budget := int64(MaxInlineBytes)
	if bundle.Audio != nil {
		bundle.StagedAudio = c.stage(ctx, bundle.RunID, bundle.Audio, &budget)
	}
	visuals := bundle.Frames
	if len(visuals) == 0 {
		visuals = bundle.Images()
	}
	for _, f := range visuals {
		if staged := c.stage(ctx, bundle.RunID, f, &budget); staged != nil {
			bundle.StagedVisuals = append(bundle.StagedVisuals, staged)
		}
	}
	slog.InfoContext(ctx, "media staged",
		"audio", bundle.StagedAudio != nil, "visuals", len(bundle.StagedVisuals), "uris", len(bundle.StagedURIs()))
	c.Succeed(context)
}

func (c *MediaStager) stage(ctx goctx.Context, runID string, f *model.MediaFile, budget *int64) *model.StagedFile {
	if c.stager != nil && c.bucket != "" {
		obj := cloud.GCSObject{
			Bucket:   c.bucket,
			Name:     cloud.StagingObjectName(c.prefix, runID, f.Path),
			MIMEType: f.MIMEType,
		}
		err := c.stager.Upload(ctx, f.Path, obj)
		if err == nil {
			return &model.StagedFile{LocalPath: f.Path, URI: obj.URI(), MIMEType: f.MIMEType}
		}
		slog.WarnContext(ctx, "staging upload failed, embedding inline", "file", f.Path, "error", err)
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		slog.WarnContext(ctx, "failed to read media", "file", f.Path, "error", err)
		return nil
	}
	if int64(len(data)) > *budget {
		slog.WarnContext(ctx, "inline media budget exhausted, skipped", "file", f.Path, "size", len(data))
		return nil
	}
	*budget -= int64(len(data))
	return &model.StagedFile{LocalPath: f.Path, MIMEType: f.MIMEType, Data: data}
}

// Part converts a staged file to a prompt part.
func Part(f *model.StagedFile) *genai.Part {
	if f.URI != "" {
		return cloud.NewFileData(f.URI, f.MIMEType)
	}
	return cloud.NewInlineData(f.Data, f.MIMEType)
}
