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

// Package commands: this file defines the Open Graph fallback. When yt-dlp
// cannot read a post (image posts, private CDN links, Threads) the page
// itself still carries og: tags for crawlers.
//
// Logic Flow:
//  1. Fetch the page with a crawler user agent, which makes Threads and
//     Instagram render their og: tags server side.
//  2. Parse og:description, og:title, og:image and og:video with goquery.
//  3. Download the referenced media into the work directory and classify it.
//  4. Fail only when nothing usable is left: a caption alone is enough.
package commands

import (
	goctx "context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/jaycherian/gcp-go-place-saver/internal/cloud"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/cor"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/model"
)

const (
	DefaultScrapeUserAgent = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
	DefaultMaxImageBytes   = 10 << 20
	DefaultMaxFrames       = 10
)

var threadsAccountPattern = regexp.MustCompile(`/@([\w.]+)/`)

// threadsPlaceholderMarkers identify the generic share image Threads serves
// for posts without pictures.
var threadsPlaceholderMarkers = []string{"static.cdninstagram.com", "threads-logo", "threads_icon"}

func isPlaceholderImage(u string) bool {
	for _, m := range threadsPlaceholderMarkers {
		if strings.Contains(u, m) {
			return true
		}
	}
	return false
}

// OpenGraph is what a page says about itself.
type OpenGraph struct {
	Title       string
	Description string
	Images      []string
	Video       string
}

// ParseOpenGraph reads the og: meta tags of an HTML document.
func ParseOpenGraph(doc *goquery.Document) *OpenGraph {
	og := &OpenGraph{}
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		prop, _ := s.Attr("property")
		if prop == "" {
			prop, _ = s.Attr("name")
		}
		content, _ := s.Attr("content")
		content = strings.TrimSpace(content)
		if content == "" {
			return
		}
		switch prop {
		case "og:title":
			og.Title = content
		case "og:description", "description":
			if og.Description == "" || prop == "og:description" {
				og.Description = content
			}
		case "og:image", "og:image:url":
			for _, seen := range og.Images {
				if seen == content {
					return
				}
			}
			og.Images = append(og.Images, content)
		case "og:video", "og:video:url", "og:video:secure_url":
			if og.Video == "" {
				og.Video = content
			}
		}
	})
	return og
}

// OpenGraphScraper is the scrape-open-graph command.
type OpenGraphScraper struct {
	cor.BaseCommand
	config *cloud.Config
	client *resty.Client
}

// NewOpenGraphScraper creates the scrape-open-graph command. A nil client
// gets a default resty client.
func NewOpenGraphScraper(config *cloud.Config, client *resty.Client) *OpenGraphScraper {
	if client == nil {
		client = resty.New().SetTimeout(30 * time.Second)
	}
	ua := config.Downloader.ScrapeUserAgent
	if ua == "" {
		ua = DefaultScrapeUserAgent
	}
	client.SetHeader("User-Agent", ua)
	return &OpenGraphScraper{
		BaseCommand: *cor.NewBaseCommandWithParams(StepOpenGraph, ParamBundle, ParamBundle),
		config:      config,
		client:      client,
	}
}

// IsExecutable runs the fallback for Threads links and failed downloads.
func (c *OpenGraphScraper) IsExecutable(context cor.Context) bool {
	bundle, ok := context.Get(c.GetInputParam()).(*model.MediaBundle)
	if !ok || bundle == nil || bundle.Link == nil {
		return false
	}
	return bundle.DownloadError != "" || bundle.Link.Kind == model.ContentThreads || len(bundle.Files) == 0
}

func (c *OpenGraphScraper) Execute(context cor.Context) {
	bundle := context.Get(c.GetInputParam()).(*model.MediaBundle)
	ctx := context.GetContext()

	if m := threadsAccountPattern.FindStringSubmatch(bundle.Link.URL); m != nil && bundle.Account == "" {
		bundle.Account = m[1]
	}

	og, err := c.fetch(ctx, bundle.Link.URL)
	if err != nil {
		slog.WarnContext(ctx, "open graph fetch failed", "url", bundle.Link.URL, "error", err)
	} else {
		if bundle.Caption == "" {
			bundle.Caption = og.Description
		}
		if bundle.Title == "" {
			bundle.Title = og.Title
		}
		for _, img := range og.Images {
			if bundle.Link.Kind == model.ContentThreads && isPlaceholderImage(img) {
				continue
			}
			bundle.ImageURLs = append(bundle.ImageURLs, img)
		}
		bundle.VideoURL = og.Video
		c.downloadMedia(ctx, bundle)
	}

	if !bundle.HasContent() {
		reason := bundle.DownloadError
		if err != nil {
			reason = err.Error()
		}
		c.Fail(context, fmt.Errorf("無法取得貼文內容: %s", reason))
		return
	}
	c.Succeed(context)
}

func (c *OpenGraphScraper) fetch(ctx goctx.Context, pageURL string) (*OpenGraph, error) {
	resp, err := c.client.R().SetContext(ctx).SetDoNotParseResponse(true).Get(pageURL)
	if err != nil {
		return nil, err
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.StatusCode() >= 400 {
		return nil, fmt.Errorf("page returned status %d", resp.StatusCode())
	}
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}
	return ParseOpenGraph(doc), nil
}

// downloadMedia fetches the og:video (preferred) or the og:images.
func (c *OpenGraphScraper) downloadMedia(ctx goctx.Context, bundle *model.MediaBundle) {
	maxImages := c.config.Downloader.MaxFrames
	if maxImages <= 0 {
		maxImages = DefaultMaxFrames
	}
	maxBytes := c.config.Downloader.MaxImageBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}

	urls := bundle.ImageURLs
	if bundle.VideoURL != "" {
		urls = []string{bundle.VideoURL}
	}
	for i, u := range urls {
		if i >= maxImages {
			break
		}
		target := filepath.Join(bundle.WorkDir, fmt.Sprintf("og_%03d", i))
		if err := c.save(ctx, u, target); err != nil {
			slog.WarnContext(ctx, "open graph media download failed", "url", u, "error", err)
			continue
		}
		f := ClassifyFile(target)
		if f == nil {
			continue
		}
		if f.Kind == model.MediaImage && fileSize(target) > maxBytes {
			slog.WarnContext(ctx, "open graph image too large, skipped", "url", u)
			continue
		}
		bundle.Files = append(bundle.Files, f)
	}
}

func (c *OpenGraphScraper) save(ctx goctx.Context, u, target string) error {
	resp, err := c.client.R().SetContext(ctx).SetOutput(target).Get(u)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return errors.New(resp.Status())
	}
	return nil
}
