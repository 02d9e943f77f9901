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

package settings_test

import (
	"path/filepath"
	"testing"

	"github.com/jaycherian/gcp-go-place-saver/internal/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameModes(t *testing.T) {
	s := settings.Load(filepath.Join(t.TempDir(), "runtime_settings.json"), "想去")

	assert.Equal(t, "normal", s.CurrentMode())
	assert.False(t, s.AutoMode())

	require.NoError(t, s.SetFrameMode("fast"))
	assert.Equal(t, "fast", s.CurrentMode())
	assert.Equal(t, 3.0, s.FrameInterval())

	require.NoError(t, s.SetFrameMode("auto"))
	assert.Equal(t, "auto", s.CurrentMode())
	assert.True(t, s.AutoMode())

	require.NoError(t, s.SetFrameMode("2.5"))
	assert.Equal(t, "2.5秒", s.CurrentMode())
	assert.False(t, s.AutoMode())

	require.NoError(t, s.SetFrameMode("1"))
	assert.Equal(t, "detailed", s.CurrentMode())

	require.NoError(t, s.SetFrameMode("4"))
	assert.Equal(t, "4.0秒", s.CurrentMode())

	for _, bad := range []string{"0.4", "10.5", "turbo", ""} {
		assert.ErrorIs(t, s.SetFrameMode(bad), settings.ErrInvalidMode, bad)
	}
	assert.Equal(t, 4.0, s.FrameInterval())
}

func TestGoogleMapsList(t *testing.T) {
	s := settings.Load(filepath.Join(t.TempDir(), "runtime_settings.json"), "想去")
	assert.Equal(t, "想去", s.GoogleMapsList())

	assert.ErrorIs(t, s.SetGoogleMapsList("   "), settings.ErrInvalidListName)
	require.NoError(t, s.SetGoogleMapsList("  咖啡廳  "))
	assert.Equal(t, "咖啡廳", s.GoogleMapsList())
	assert.True(t, s.HasCustomList())

	require.NoError(t, s.ResetGoogleMapsList())
	assert.Equal(t, "想去", s.GoogleMapsList())
	assert.False(t, s.HasCustomList())
}

func TestSettingsPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "runtime_settings.json")
	s := settings.Load(path, "想去")
	require.NoError(t, s.SetFrameMode("detailed"))
	require.NoError(t, s.SetGoogleMapsList("東京"))

	reloaded := settings.Load(path, "想去")
	assert.Equal(t, "detailed", reloaded.CurrentMode())
	assert.Equal(t, "東京", reloaded.GoogleMapsList())
}
