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

// Package settings holds the runtime settings users change from the chat:
// the frame sampling mode and the Google Maps list places are saved to.
// Every change is written back to a small JSON file so it survives restarts.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// DefaultFrameInterval is the frame interval before anything is configured.
const DefaultFrameInterval = 2.0

// Frame interval bounds accepted for numeric modes, in seconds.
const (
	MinFrameInterval = 0.5
	MaxFrameInterval = 10.0
)

// ModeAuto samples a fixed number of frames spread over the whole video.
const ModeAuto = "auto"

// Presets maps the named frame modes to their interval in seconds.
var Presets = map[string]float64{
	"fast":     3.0,
	"normal":   2.0,
	"detailed": 1.0,
}

// presetOrder is the order presets are listed in.
var presetOrder = []string{"fast", "normal", "detailed"}

var (
	ErrInvalidMode     = errors.New("invalid frame mode")
	ErrInvalidListName = errors.New("list name must not be blank")
)

type fileState struct {
	FrameIntervalSeconds float64 `json:"frame_interval_seconds"`
	GoogleMapsList       *string `json:"google_maps_list"`
	UseAutoMode          bool    `json:"use_auto_mode"`
}

// Store is the persisted runtime settings. It is safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	path        string
	defaultList string
	state       fileState
}

// Load reads the settings at path. A missing or unreadable file yields the
// defaults; defaultList is the list used while none was chosen.
func Load(path, defaultList string) *Store {
	s := &Store{
		path:        path,
		defaultList: defaultList,
		state:       fileState{FrameIntervalSeconds: DefaultFrameInterval},
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to read runtime settings", "path", path, "error", err)
		}
		return s
	}
	var st fileState
	if err := json.Unmarshal(data, &st); err != nil {
		slog.Warn("failed to parse runtime settings", "path", path, "error", err)
		return s
	}
	if st.FrameIntervalSeconds <= 0 {
		st.FrameIntervalSeconds = DefaultFrameInterval
	}
	s.state = st
	return s
}

// FrameInterval returns the configured interval between sampled frames.
func (s *Store) FrameInterval() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.FrameIntervalSeconds
}

// AutoMode reports whether the frame count follows the video duration.
func (s *Store) AutoMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.UseAutoMode
}

// SetFrameMode accepts "auto", a preset name or a number of seconds between
// MinFrameInterval and MaxFrameInterval.
func (s *Store) SetFrameMode(mode string) error {
	mode = strings.TrimSpace(strings.ToLower(mode))

	s.mu.Lock()
	defer s.mu.Unlock()

	if mode == ModeAuto {
		s.state.UseAutoMode = true
		return s.save()
	}
	if v, ok := Presets[mode]; ok {
		s.state.UseAutoMode = false
		s.state.FrameIntervalSeconds = v
		return s.save()
	}
	v, err := strconv.ParseFloat(mode, 64)
	if err != nil || math.IsNaN(v) || v < MinFrameInterval || v > MaxFrameInterval {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	s.state.UseAutoMode = false
	s.state.FrameIntervalSeconds = v
	return s.save()
}

// CurrentMode names the active frame mode: "auto", a preset name, or the
// interval followed by 秒.
func (s *Store) CurrentMode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.UseAutoMode {
		return ModeAuto
	}
	for _, name := range presetOrder {
		if math.Abs(s.state.FrameIntervalSeconds-Presets[name]) < 0.01 {
			return name
		}
	}
	return FormatSeconds(s.state.FrameIntervalSeconds) + "秒"
}

// FormatSeconds renders a seconds value with at least one decimal.
func FormatSeconds(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatFloat(v, 'f', 1, 64)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// GoogleMapsList returns the chosen list, or the default list.
func (s *Store) GoogleMapsList() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.GoogleMapsList != nil {
		return *s.state.GoogleMapsList
	}
	return s.defaultList
}

// HasCustomList reports whether a list was chosen explicitly.
func (s *Store) HasCustomList() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.GoogleMapsList != nil
}

// SetGoogleMapsList stores the trimmed list name.
func (s *Store) SetGoogleMapsList(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidListName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.GoogleMapsList = &name
	return s.save()
}

// ResetGoogleMapsList goes back to the default list.
func (s *Store) ResetGoogleMapsList() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.GoogleMapsList = nil
	return s.save()
}

// save writes the state through a temp file and a rename. Callers hold the
// write lock.
func (s *Store) save() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode runtime settings: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".runtime_settings-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp settings file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write runtime settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write runtime settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace runtime settings: %w", err)
	}
	slog.Info("runtime settings saved", "path", s.path)
	return nil
}
