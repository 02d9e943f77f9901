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

// Package commands: this file defines the command that removes staged media
// from Cloud Storage once the model has read it. Local files are removed by
// the context itself when the workflow closes it.
package commands

import (
	"log/slog"

	"github.com/jaycherian/gcp-go-place-saver/internal/cloud"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/cor"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/model"
)

// MediaCleanup is the cleanup-media command.
type MediaCleanup struct {
	cor.BaseCommand
	stager Stager
}

// NewMediaCleanup creates the cleanup-media command.
func NewMediaCleanup(stager Stager) *MediaCleanup {
	return &MediaCleanup{
		BaseCommand: *cor.NewBaseCommandWithParams(StepCleanup, ParamBundle, ParamBundle),
		stager:      stager,
	}
}

// IsExecutable requires staged URIs and a stager to delete them with.
func (c *MediaCleanup) IsExecutable(context cor.Context) bool {
	bundle, ok := context.Get(c.GetInputParam()).(*model.MediaBundle)
	return ok && bundle != nil && c.stager != nil && len(bundle.StagedURIs()) > 0
}

// Execute deletes every staged object. Deletion failures are only logged.
func (c *MediaCleanup) Execute(context cor.Context) {
	bundle := context.Get(c.GetInputParam()).(*model.MediaBundle)
	ctx := context.GetContext()
	for _, uri := range bundle.StagedURIs() {
		obj, err := cloud.ParseGCSURI(uri)
		if err == nil {
			err = c.stager.Delete(ctx, obj)
		}
		if err != nil {
			slog.WarnContext(ctx, "failed to delete staged media", "uri", uri, "error", err)
		}
	}
	c.Succeed(context)
}
