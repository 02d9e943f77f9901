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

// Package commands: this file defines the command that downloads the media
// behind a content link.
//
// Logic Flow:
//  1. Create a work directory for the run and register it for cleanup.
//  2. Run yt-dlp with --dump-json so the post metadata (caption, account,
//     duration) arrives on stdout while the files land in the work directory.
//  3. Classify every downloaded file with filetype (video, image or audio).
//  4. Leave the bundle in the context. A failed download is recorded on the
//     bundle instead of the context so the Open Graph fallback can still run.
package commands

import (
	"bufio"
	"bytes"
	goctx "context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"github.com/jaycherian/gcp-go-place-saver/internal/cloud"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/cor"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/model"
)

const (
	DefaultVideoFormat     = "best[ext=mp4]/best"
	DefaultDownloadTimeout = 120 * time.Second
)

// ytInfo is the subset of the yt-dlp info JSON the pipeline uses.
type ytInfo struct {
	Description string  `json:"description"`
	Title       string  `json:"title"`
	Uploader    string  `json:"uploader"`
	UploaderID  string  `json:"uploader_id"`
	Channel     string  `json:"channel"`
	Duration    float64 `json:"duration"`
}

// MediaDownloader is the download-media command.
type MediaDownloader struct {
	cor.BaseCommand
	config *cloud.Config
	runner Runner
}

// NewMediaDownloader creates the download-media command. A nil runner runs
// the real yt-dlp binary.
func NewMediaDownloader(config *cloud.Config, runner Runner) *MediaDownloader {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &MediaDownloader{
		BaseCommand: *cor.NewBaseCommandWithParams(StepDownload, ParamLink, ParamBundle),
		config:      config,
		runner:      runner,
	}
}

func (c *MediaDownloader) Execute(context cor.Context) {
	link, ok := context.Get(c.GetInputParam()).(*model.ContentLink)
	if !ok || link == nil {
		c.Fail(context, errors.New("no content link in context"))
		return
	}

	tempRoot := c.config.Storage.TempDir
	if tempRoot != "" {
		if err := os.MkdirAll(tempRoot, 0o755); err != nil {
			c.Fail(context, fmt.Errorf("failed to create temp dir %s: %w", tempRoot, err))
			return
		}
	}
	workDir, err := os.MkdirTemp(tempRoot, "place-")
	if err != nil {
		c.Fail(context, fmt.Errorf("failed to create work dir: %w", err))
		return
	}
	context.AddTempFile(workDir)

	bundle := &model.MediaBundle{Link: link, RunID: uuid.NewString(), WorkDir: workDir}
	context.Add(c.GetOutputParam(), bundle)

	if err := c.download(context.GetContext(), link, bundle); err != nil {
		slog.WarnContext(context.GetContext(), "media download failed", "url", link.URL, "error", err)
		bundle.DownloadError = err.Error()
	}
	c.Succeed(context)
}

func (c *MediaDownloader) download(ctx goctx.Context, link *model.ContentLink, bundle *model.MediaBundle) error {
	if link.Kind == model.ContentThreads {
		return errors.New("threads links are read from the page")
	}
	timeout := time.Duration(c.config.Downloader.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = DefaultDownloadTimeout
	}
	ctx, cancel := goctx.WithTimeout(ctx, timeout)
	defer cancel()

	format := c.config.Downloader.VideoFormat
	if format == "" {
		format = DefaultVideoFormat
	}
	binary := c.config.Downloader.YtDlpPath
	if binary == "" {
		binary = "yt-dlp"
	}
	args := []string{
		"--no-progress", "--no-warnings", "--no-simulate", "--dump-json",
		"-f", format,
		"-o", filepath.Join(bundle.WorkDir, "media_%(autonumber)03d.%(ext)s"),
	}
	if link.Kind == model.ContentReel {
		args = append(args, "--no-playlist")
	}
	args = append(args, link.URL)

	out, err := c.runner.Run(ctx, binary, args...)
	if err != nil {
		return err
	}
	applyInfo(out, bundle)

	files, err := ClassifyDir(bundle.WorkDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.New("yt-dlp produced no media files")
	}
	bundle.Files = files
	slog.InfoContext(ctx, "media downloaded", "url", link.URL, "files", len(files), "duration", bundle.DurationSecs)
	return nil
}

// applyInfo reads the JSON lines yt-dlp prints, one per downloaded entry.
func applyInfo(out []byte, bundle *model.MediaBundle) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var info ytInfo
		if err := json.Unmarshal(line, &info); err != nil {
			continue
		}
		if bundle.Caption == "" {
			bundle.Caption = strings.TrimSpace(info.Description)
		}
		if bundle.Title == "" {
			bundle.Title = strings.TrimSpace(info.Title)
		}
		if bundle.Account == "" {
			bundle.Account = firstNonEmpty(info.UploaderID, info.Channel, info.Uploader)
		}
		if info.Duration > bundle.DurationSecs {
			bundle.DurationSecs = info.Duration
		}
	}
}

// ClassifyDir sniffs every regular file in dir and returns the media ones in
// name order. Metadata side files (JSON, partial downloads) are ignored.
func ClassifyDir(dir string) ([]*model.MediaFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	out := make([]*model.MediaFile, 0)
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if f := ClassifyFile(filepath.Join(dir, e.Name())); f != nil {
			out = append(out, f)
		}
	}
	return out, nil
}

// ClassifyFile returns nil when path is not audio, video or an image.
func ClassifyFile(path string) *model.MediaFile {
	kind, err := filetype.MatchFile(path)
	if err != nil || kind == filetype.Unknown {
		return nil
	}
	f := &model.MediaFile{Path: path, MIMEType: kind.MIME.Value}
	switch kind.MIME.Type {
	case "video":
		f.Kind = model.MediaVideo
	case "image":
		f.Kind = model.MediaImage
	case "audio":
		f.Kind = model.MediaAudio
	default:
		return nil
	}
	return f
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
