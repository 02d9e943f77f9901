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

package model_test

import (
	"testing"

	"github.com/jaycherian/gcp-go-place-saver/internal/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindContentLink(t *testing.T) {
	tests := []struct {
		text      string
		url       string
		kind      model.ContentKind
		shortcode string
	}{
		{"看這個 https://www.instagram.com/reel/ABC_12-3/?igsh=xyz", "https://www.instagram.com/reel/ABC_12-3/", model.ContentReel, "ABC_12-3"},
		{"https://instagram.com/reels/R1", "https://instagram.com/reels/R1/", model.ContentReel, "R1"},
		{"https://www.instagram.com/tv/T1/", "https://www.instagram.com/tv/T1/", model.ContentReel, "T1"},
		{"https://www.instagram.com/p/P1/", "https://www.instagram.com/p/P1/", model.ContentPost, "P1"},
		{"https://www.threads.net/@food.taipei/post/C9abc", "https://www.threads.net/@food.taipei/post/C9abc", model.ContentThreads, "C9abc"},
		{"https://threads.com/t/Z9", "https://threads.com/t/Z9", model.ContentThreads, "Z9"},
	}
	for _, tt := range tests {
		link, ok := model.FindContentLink(tt.text)
		require.True(t, ok, tt.text)
		assert.Equal(t, tt.url, link.URL)
		assert.Equal(t, tt.kind, link.Kind)
		assert.Equal(t, tt.shortcode, link.Shortcode)
	}

	_, ok := model.FindContentLink("https://www.youtube.com/watch?v=1")
	assert.False(t, ok)
}

func TestShareLinks(t *testing.T) {
	text := "https://www.instagram.com/share/reel/BAabc/"
	_, ok := model.FindContentLink(text)
	assert.False(t, ok)

	share, ok := model.FindShareLink("分享 " + text)
	assert.True(t, ok)
	assert.Equal(t, text, share)
	assert.True(t, model.IsContentMessage(text))
	assert.False(t, model.IsContentMessage("hello"))
}

func TestNormalizeURL(t *testing.T) {
	assert.Equal(t, "https://www.instagram.com/p/P1/", model.NormalizeURL("https://www.instagram.com/p/P1/?igsh=1#x"))
	assert.Equal(t, "https://a/b", model.NormalizeURL("https://a/b"))
}
