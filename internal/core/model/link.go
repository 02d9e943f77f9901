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

import (
	"regexp"
	"strings"
)

var (
	instagramPattern = regexp.MustCompile(`https?://(?:www\.)?instagram\.com/(reel|reels|p|tv)/([A-Za-z0-9_-]+)`)
	threadsPattern   = regexp.MustCompile(`https?://(?:www\.)?threads\.(?:net|com)/(?:@[\w.]+/post|t)/([A-Za-z0-9_-]+)`)
	sharePattern     = regexp.MustCompile(`https?://(?:www\.)?instagram\.com/share/(?:reel/|p/)?([A-Za-z0-9_-]+)/?`)
)

// FindContentLink returns the first Instagram or Threads content link in
// text. Share links are returned as ShareLink so the caller can resolve them.
func FindContentLink(text string) (link *ContentLink, ok bool) {
	if m := instagramPattern.FindStringSubmatch(text); m != nil {
		kind := ContentReel
		if m[1] == "p" {
			kind = ContentPost
		}
		return &ContentLink{URL: m[0] + "/", Kind: kind, Shortcode: m[2]}, true
	}
	if m := threadsPattern.FindStringSubmatch(text); m != nil {
		return &ContentLink{URL: m[0], Kind: ContentThreads, Shortcode: m[1]}, true
	}
	return nil, false
}

// FindShareLink returns the first instagram.com/share/ link in text.
func FindShareLink(text string) (string, bool) {
	m := sharePattern.FindString(text)
	return m, m != ""
}

// IsContentMessage reports whether text carries a link the pipeline handles.
func IsContentMessage(text string) bool {
	if _, ok := FindContentLink(text); ok {
		return true
	}
	_, ok := FindShareLink(text)
	return ok
}

// NormalizeURL drops the query string and fragment of a content URL.
func NormalizeURL(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return u
}
