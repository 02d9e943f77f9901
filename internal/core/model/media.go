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

package model

// MediaKind classifies a downloaded file.
type MediaKind string

const (
	MediaVideo MediaKind = "video"
	MediaImage MediaKind = "image"
	MediaAudio MediaKind = "audio"
)

// MediaFile is a local file produced by the downloader or by ffmpeg.
type MediaFile struct {
	Path     string
	Kind     MediaKind
	MIMEType string
}

// StagedFile is a piece of media the language model can read, either as a
// gs:// URI or as inline bytes when no staging bucket is configured.
type StagedFile struct {
	LocalPath string
	URI       string
	MIMEType  string
	Data      []byte
}

// MediaBundle accumulates everything known about a content item while the
// extraction workflow runs.
type MediaBundle struct {
	Link          *ContentLink
	RunID         string
	WorkDir       string
	DownloadError string
	Files         []*MediaFile
	Caption       string
	Title         string
	Account       string
	ImageURLs     []string
	VideoURL      string
	DurationSecs  float64
	Audio         *MediaFile
	Frames        []*MediaFile
	StagedAudio   *StagedFile
	StagedVisuals []*StagedFile
	Transcript    string
	Visual        string
}

// Videos returns the downloaded video files.
func (b *MediaBundle) Videos() []*MediaFile {
	return b.filter(MediaVideo)
}

// Images returns the downloaded image files.
func (b *MediaBundle) Images() []*MediaFile {
	return b.filter(MediaImage)
}

func (b *MediaBundle) filter(kind MediaKind) []*MediaFile {
	out := make([]*MediaFile, 0)
	for _, f := range b.Files {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

// StagedURIs returns the gs:// URIs of every staged file.
func (b *MediaBundle) StagedURIs() []string {
	out := make([]string, 0)
	all := append([]*StagedFile{b.StagedAudio}, b.StagedVisuals...)
	for _, f := range all {
		if f != nil && f.URI != "" {
			out = append(out, f.URI)
		}
	}
	return out
}

// HasContent reports whether there is anything to analyse at all.
func (b *MediaBundle) HasContent() bool {
	return len(b.Files) > 0 || b.Caption != "" || b.Title != ""
}
