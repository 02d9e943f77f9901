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
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jaycherian/gcp-go-place-saver/internal/cloud"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/commands"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/cor"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/model"
	"github.com/stretchr/testify/assert"
)

// jpegBytes is enough of a JPEG for content sniffing.
var jpegBytes = append([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}, make([]byte, 64)...)

func testConfig(t *testing.T) *cloud.Config {
	config := cloud.NewConfig()
	config.Storage.TempDir = t.TempDir()
	return config
}

func argAfter(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func TestMediaDownloaderClassifiesFiles(t *testing.T) {
	var gotArgs []string
	runner := commands.RunnerFunc(func(_ context.Context, name string, args ...string) ([]byte, error) {
		gotArgs = args
		dir := filepath.Dir(argAfter(args, "-o"))
		_ = os.WriteFile(filepath.Join(dir, "media_001.jpg"), jpegBytes, 0o644)
		_ = os.WriteFile(filepath.Join(dir, "media_001.info.json"), []byte("{}"), 0o644)
		return []byte(`{"description": "台北必吃 #拉麵", "uploader_id": "foodie", "duration": 0}` + "\n"), nil
	})

	chCtx := cor.NewBaseContextWith(context.Background())
	link := &model.ContentLink{URL: "https://www.instagram.com/p/abc123/", Kind: model.ContentPost, Shortcode: "abc123"}
	chCtx.Add(commands.ParamLink, link)

	cmd := commands.NewMediaDownloader(testConfig(t), runner)
	cmd.Execute(chCtx)

	bundle := chCtx.Get(commands.ParamBundle).(*model.MediaBundle)
	assert.False(t, chCtx.HasErrors())
	assert.Empty(t, bundle.DownloadError)
	assert.Len(t, bundle.Images(), 1)
	assert.Equal(t, "image/jpeg", bundle.Files[0].MIMEType)
	assert.Equal(t, "台北必吃 #拉麵", bundle.Caption)
	assert.Equal(t, "foodie", bundle.Account)
	assert.NotEmpty(t, bundle.RunID)
	assert.NotContains(t, gotArgs, "--no-playlist")
	assert.Equal(t, link.URL, gotArgs[len(gotArgs)-1])

	chCtx.Close()
	_, err := os.Stat(bundle.WorkDir)
	assert.True(t, os.IsNotExist(err))
}

func TestMediaDownloaderRecordsFailureOnBundle(t *testing.T) {
	runner := commands.RunnerFunc(func(context.Context, string, ...string) ([]byte, error) {
		return nil, errors.New("yt-dlp failed: login required")
	})
	chCtx := cor.NewBaseContextWith(context.Background())
	defer chCtx.Close()
	chCtx.Add(commands.ParamLink, &model.ContentLink{URL: "https://www.instagram.com/reel/x/", Kind: model.ContentReel})

	commands.NewMediaDownloader(testConfig(t), runner).Execute(chCtx)

	bundle := chCtx.Get(commands.ParamBundle).(*model.MediaBundle)
	assert.False(t, chCtx.HasErrors())
	assert.Contains(t, bundle.DownloadError, "login required")
	assert.Empty(t, bundle.Files)
}

func TestFrameInterval(t *testing.T) {
	assert.Equal(t, 2.0, commands.FrameInterval(60, 2, false, 8, 10))
	assert.Equal(t, commands.DefaultFrameInterval, commands.FrameInterval(60, 0, false, 8, 10))

	for _, duration := range []float64{5, 30, 45, 90, 600} {
		step := commands.FrameInterval(duration, 2, true, 8, 10)
		frames := duration / step
		assert.GreaterOrEqual(t, step, 0.5, "duration %v", duration)
		if duration >= 8*0.5 {
			assert.GreaterOrEqual(t, frames, 8.0-1e-9, "duration %v", duration)
			assert.LessOrEqual(t, frames, 10.0+1e-9, "duration %v", duration)
		}
	}
	assert.Equal(t, commands.FrameInterval(commands.DefaultVideoDuration, 2, true, 8, 10), commands.FrameInterval(0, 2, true, 8, 10))
}

type fixedFrames struct {
	interval float64
	auto     bool
}

func (f fixedFrames) FrameInterval() float64 { return f.interval }
func (f fixedFrames) AutoMode() bool         { return f.auto }

func videoBundle(t *testing.T) *model.MediaBundle {
	dir := t.TempDir()
	video := filepath.Join(dir, "media_001.mp4")
	_ = os.WriteFile(video, []byte("video"), 0o644)
	return &model.MediaBundle{
		Link:    &model.ContentLink{URL: "https://www.instagram.com/reel/x/", Kind: model.ContentReel},
		WorkDir: dir,
		Files:   []*model.MediaFile{{Path: video, Kind: model.MediaVideo, MIMEType: "video/mp4"}},
	}
}

func TestAudioFrameExtractorSurvivesMissingAudio(t *testing.T) {
	var vf string
	runner := commands.RunnerFunc(func(_ context.Context, name string, args ...string) ([]byte, error) {
		switch {
		case name == "ffprobe":
			return []byte("45.0\n"), nil
		case argAfter(args, "-vn") != "" || strings.Contains(strings.Join(args, " "), "libmp3lame"):
			return nil, errors.New("ffmpeg failed: no audio stream")
		default:
			vf = argAfter(args, "-vf")
			pattern := args[len(args)-1]
			for i := 1; i <= 3; i++ {
				_ = os.WriteFile(fmt.Sprintf(pattern, i), jpegBytes, 0o644)
			}
			return nil, nil
		}
	})

	chCtx := cor.NewBaseContextWith(context.Background())
	defer chCtx.Close()
	bundle := videoBundle(t)
	chCtx.Add(commands.ParamBundle, bundle)

	cmd := commands.NewAudioFrameExtractor(testConfig(t), fixedFrames{interval: 3}, runner)
	assert.True(t, cmd.IsExecutable(chCtx))
	cmd.Execute(chCtx)

	assert.False(t, chCtx.HasErrors())
	assert.Nil(t, bundle.Audio)
	assert.Len(t, bundle.Frames, 3)
	assert.Equal(t, 45.0, bundle.DurationSecs)
	assert.Equal(t, "fps=1/3.000,scale=720:-2", vf)
}

func TestAudioFrameExtractorFailsWhenBothHalvesFail(t *testing.T) {
	runner := commands.RunnerFunc(func(context.Context, string, ...string) ([]byte, error) {
		return nil, errors.New("boom")
	})
	chCtx := cor.NewBaseContextWith(context.Background())
	defer chCtx.Close()
	chCtx.Add(commands.ParamBundle, videoBundle(t))

	commands.NewAudioFrameExtractor(testConfig(t), nil, runner).Execute(chCtx)

	assert.Contains(t, chCtx.GetErrors(), commands.StepAudioFrames)
}

func TestAudioFrameExtractorSkipsImages(t *testing.T) {
	chCtx := cor.NewBaseContextWith(context.Background())
	defer chCtx.Close()
	chCtx.Add(commands.ParamBundle, &model.MediaBundle{Files: []*model.MediaFile{{Kind: model.MediaImage}}})

	assert.False(t, commands.NewAudioFrameExtractor(testConfig(t), nil, nil).IsExecutable(chCtx))
}

func TestOpenGraphScraperFallback(t *testing.T) {
	var userAgent string
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()
	mux.HandleFunc("/@foodie/post/C1", func(w http.ResponseWriter, r *http.Request) {
		userAgent = r.Header.Get("User-Agent")
		fmt.Fprintf(w, `<html><head>
			<meta property="og:title" content="Foodie on Threads">
			<meta property="og:description" content="東京 一蘭拉麵 #拉麵">
			<meta property="og:image" content="%[1]s/img.jpg">
			<meta property="og:image" content="%[1]s/img.jpg">
			</head></html>`, server.URL)
	})
	mux.HandleFunc("/img.jpg", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(jpegBytes)
	})

	config := testConfig(t)
	bundle := &model.MediaBundle{
		Link:    &model.ContentLink{URL: server.URL + "/@foodie/post/C1", Kind: model.ContentThreads, Shortcode: "C1"},
		WorkDir: t.TempDir(),
	}
	chCtx := cor.NewBaseContextWith(context.Background())
	defer chCtx.Close()
	chCtx.Add(commands.ParamBundle, bundle)

	cmd := commands.NewOpenGraphScraper(config, nil)
	assert.True(t, cmd.IsExecutable(chCtx))
	cmd.Execute(chCtx)

	assert.False(t, chCtx.HasErrors())
	assert.Equal(t, commands.DefaultScrapeUserAgent, userAgent)
	assert.Equal(t, "東京 一蘭拉麵 #拉麵", bundle.Caption)
	assert.Equal(t, "Foodie on Threads", bundle.Title)
	assert.Equal(t, "foodie", bundle.Account)
	assert.Len(t, bundle.ImageURLs, 1)
	assert.Len(t, bundle.Images(), 1)
}

func TestOpenGraphScraperFailsWithoutContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	chCtx := cor.NewBaseContextWith(context.Background())
	defer chCtx.Close()
	chCtx.Add(commands.ParamBundle, &model.MediaBundle{
		Link:          &model.ContentLink{URL: server.URL + "/p/x/", Kind: model.ContentPost},
		WorkDir:       t.TempDir(),
		DownloadError: "yt-dlp failed",
	})

	commands.NewOpenGraphScraper(testConfig(t), nil).Execute(chCtx)

	assert.Contains(t, chCtx.GetErrors(), commands.StepOpenGraph)
}

type memoryStager struct {
	mu      sync.Mutex
	objects map[string]bool
	fail    bool
}

func (s *memoryStager) Upload(_ context.Context, _ string, obj cloud.GCSObject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("bucket unavailable")
	}
	s.objects[obj.URI()] = true
	return nil
}

func (s *memoryStager) Delete(_ context.Context, obj cloud.GCSObject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, obj.URI())
	return nil
}

func stagedBundle(t *testing.T) *model.MediaBundle {
	dir := t.TempDir()
	audio := filepath.Join(dir, "audio.mp3")
	frame := filepath.Join(dir, "frame_001.jpg")
	_ = os.WriteFile(audio, []byte("mp3"), 0o644)
	_ = os.WriteFile(frame, jpegBytes, 0o644)
	return &model.MediaBundle{
		Link:    &model.ContentLink{URL: "https://www.instagram.com/reel/x/"},
		RunID:   "run-1",
		WorkDir: dir,
		Audio:   &model.MediaFile{Path: audio, Kind: model.MediaAudio, MIMEType: "audio/mpeg"},
		Frames:  []*model.MediaFile{{Path: frame, Kind: model.MediaImage, MIMEType: "image/jpeg"}},
	}
}

func TestMediaStagerUploadsAndCleanupDeletes(t *testing.T) {
	config := testConfig(t)
	config.Storage.StagingBucket = "staging"
	config.Storage.StagingPrefix = "media"
	stager := &memoryStager{objects: map[string]bool{}}

	chCtx := cor.NewBaseContextWith(context.Background())
	defer chCtx.Close()
	bundle := stagedBundle(t)
	chCtx.Add(commands.ParamBundle, bundle)

	commands.NewMediaStager(config, stager).Execute(chCtx)

	uris := bundle.StagedURIs()
	assert.Len(t, uris, 2)
	for _, uri := range uris {
		assert.True(t, strings.HasPrefix(uri, "gs://staging/media/run-1/"), uri)
		assert.True(t, stager.objects[uri])
	}

	cleanup := commands.NewMediaCleanup(stager)
	assert.True(t, cleanup.IsExecutable(chCtx))
	cleanup.Execute(chCtx)
	assert.Empty(t, stager.objects)
}

func TestMediaStagerFallsBackToInline(t *testing.T) {
	config := testConfig(t)
	config.Storage.StagingBucket = "staging"

	chCtx := cor.NewBaseContextWith(context.Background())
	defer chCtx.Close()
	bundle := stagedBundle(t)
	chCtx.Add(commands.ParamBundle, bundle)

	commands.NewMediaStager(config, &memoryStager{objects: map[string]bool{}, fail: true}).Execute(chCtx)

	assert.Empty(t, bundle.StagedURIs())
	assert.Equal(t, []byte("mp3"), bundle.StagedAudio.Data)
	assert.Len(t, bundle.StagedVisuals, 1)
	assert.Equal(t, jpegBytes, bundle.StagedVisuals[0].Data)
	assert.False(t, commands.NewMediaCleanup(nil).IsExecutable(chCtx))
}
