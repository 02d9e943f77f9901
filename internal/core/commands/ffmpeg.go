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

// Package commands: this file defines the command that turns a downloaded
// video into what the language model reads best, an mp3 of the soundtrack and
// a handful of evenly spaced still frames.
//
// Logic Flow:
//  1. Probe the video duration with ffprobe, falling back to the duration
//     reported by the downloader and then to the configured default.
//  2. Extract the audio track as mp3.
//  3. Extract frames at the configured interval. In auto mode the interval is
//     chosen so the video yields between AutoFramesMin and AutoFramesMax frames.
//  4. Either half may fail on its own. The command fails only if both do.
package commands

import (
	goctx "context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jaycherian/gcp-go-place-saver/internal/cloud"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/cor"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/model"
)

const (
	DefaultFrameWidth    = 720
	DefaultAutoFramesMin = 8
	DefaultAutoFramesMax = 10
	DefaultVideoDuration = 30.0
	DefaultFrameInterval = 2.0
	AudioFileName        = "audio.mp3"
	FramePattern         = "frame_%03d.jpg"
)

// FrameSettings is the runtime frame sampling setting.
type FrameSettings interface {
	FrameInterval() float64
	AutoMode() bool
}

// FrameInterval returns the seconds between two sampled frames. With auto
// set the interval spreads between minFrames and maxFrames frames across the
// video, otherwise the fixed interval is used.
//
// Inputs:
//   - duration: the video duration in seconds.
//   - interval: the fixed interval, used when auto is false.
//   - auto: whether to derive the interval from the duration.
//   - minFrames, maxFrames: the frame count range for auto mode.
//
// Outputs:
//   - float64: a strictly positive interval in seconds.
func FrameInterval(duration, interval float64, auto bool, minFrames, maxFrames int) float64 {
	if !auto {
		if interval <= 0 {
			return DefaultFrameInterval
		}
		return interval
	}
	if minFrames <= 0 {
		minFrames = DefaultAutoFramesMin
	}
	if maxFrames < minFrames {
		maxFrames = minFrames
	}
	if duration <= 0 {
		duration = DefaultVideoDuration
	}
	target := float64(minFrames+maxFrames) / 2
	step := duration / target
	// Keep the frame count inside the range after flooring by fps.
	if duration/step > float64(maxFrames) {
		step = duration / float64(maxFrames)
	}
	if duration/step < float64(minFrames) {
		step = duration / float64(minFrames)
	}
	return math.Max(step, 0.5)
}

// AudioFrameExtractor is the extract-audio-frames command.
type AudioFrameExtractor struct {
	cor.BaseCommand
	config   *cloud.Config
	runner   Runner
	settings FrameSettings
}

// NewAudioFrameExtractor creates the extract-audio-frames command. A nil
// runner runs the real ffmpeg binaries.
func NewAudioFrameExtractor(config *cloud.Config, settings FrameSettings, runner Runner) *AudioFrameExtractor {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &AudioFrameExtractor{
		BaseCommand: *cor.NewBaseCommandWithParams(StepAudioFrames, ParamBundle, ParamBundle),
		config:      config,
		runner:      runner,
		settings:    settings,
	}
}

// IsExecutable requires at least one downloaded video.
func (c *AudioFrameExtractor) IsExecutable(context cor.Context) bool {
	bundle, ok := context.Get(c.GetInputParam()).(*model.MediaBundle)
	return ok && bundle != nil && len(bundle.Videos()) > 0
}

func (c *AudioFrameExtractor) Execute(context cor.Context) {
	bundle := context.Get(c.GetInputParam()).(*model.MediaBundle)
	ctx := context.GetContext()
	video := bundle.Videos()[0]

	if d, err := c.probe(ctx, video.Path); err == nil && d > 0 {
		bundle.DurationSecs = d
	} else if err != nil {
		slog.WarnContext(ctx, "ffprobe failed", "file", video.Path, "error", err)
	}
	if bundle.DurationSecs <= 0 {
		bundle.DurationSecs = c.config.Downloader.DefaultDuration
	}

	audioErr := c.extractAudio(ctx, video.Path, bundle)
	if audioErr != nil {
		slog.WarnContext(ctx, "audio extraction failed", "file", video.Path, "error", audioErr)
	}
	framesErr := c.extractFrames(ctx, video.Path, bundle)
	if framesErr != nil {
		slog.WarnContext(ctx, "frame extraction failed", "file", video.Path, "error", framesErr)
	}

	if audioErr != nil && framesErr != nil {
		c.Fail(context, errors.Join(audioErr, framesErr))
		return
	}
	c.Succeed(context)
}

func (c *AudioFrameExtractor) probe(ctx goctx.Context, path string) (float64, error) {
	out, err := c.runner.Run(ctx, c.binary(c.config.Downloader.FFprobePath, "ffprobe"),
		"-v", "error", "-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1", path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
}

func (c *AudioFrameExtractor) extractAudio(ctx goctx.Context, path string, bundle *model.MediaBundle) error {
	target := filepath.Join(bundle.WorkDir, AudioFileName)
	_, err := c.runner.Run(ctx, c.binary(c.config.Downloader.FFmpegPath, "ffmpeg"),
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", path, "-vn", "-acodec", "libmp3lame", "-q:a", "4", target)
	if err != nil {
		return fmt.Errorf("error running ffmpeg for audio: %w", err)
	}
	if fileSize(target) == 0 {
		return errors.New("video has no audio track")
	}
	bundle.Audio = &model.MediaFile{Path: target, Kind: model.MediaAudio, MIMEType: "audio/mpeg"}
	return nil
}

func (c *AudioFrameExtractor) extractFrames(ctx goctx.Context, path string, bundle *model.MediaBundle) error {
	d := c.config.Downloader
	interval, auto := DefaultFrameInterval, false
	if c.settings != nil {
		interval, auto = c.settings.FrameInterval(), c.settings.AutoMode()
	}
	minFrames, maxFrames := d.AutoFramesMin, d.AutoFramesMax
	if minFrames <= 0 {
		minFrames = DefaultAutoFramesMin
	}
	if maxFrames <= 0 {
		maxFrames = DefaultAutoFramesMax
	}
	step := FrameInterval(bundle.DurationSecs, interval, auto, minFrames, maxFrames)

	limit := d.MaxFrames
	if limit <= 0 {
		limit = DefaultMaxFrames
	}
	width := d.FrameWidth
	if width <= 0 {
		width = DefaultFrameWidth
	}

	_, err := c.runner.Run(ctx, c.binary(d.FFmpegPath, "ffmpeg"),
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", path,
		"-vf", fmt.Sprintf("fps=1/%s,scale=%d:-2", strconv.FormatFloat(step, 'f', 3, 64), width),
		"-frames:v", strconv.Itoa(limit),
		"-q:v", "3",
		filepath.Join(bundle.WorkDir, FramePattern))
	if err != nil {
		return fmt.Errorf("error running ffmpeg for frames: %w", err)
	}

	matches, _ := filepath.Glob(filepath.Join(bundle.WorkDir, "frame_*.jpg"))
	if len(matches) == 0 {
		return errors.New("ffmpeg produced no frames")
	}
	frames := make([]*model.MediaFile, 0, len(matches))
	for _, m := range matches {
		frames = append(frames, &model.MediaFile{Path: m, Kind: model.MediaImage, MIMEType: "image/jpeg"})
	}
	bundle.Frames = frames
	slog.InfoContext(ctx, "frames extracted", "count", len(frames), "interval", step, "auto", auto)
	return nil
}

func (c *AudioFrameExtractor) binary(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}
