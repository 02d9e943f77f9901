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

// Package test provides helpers for the test suites: the test configuration,
// a throwaway place store and in-memory stand-ins for the external services
// a commit touches.
package test

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jaycherian/gcp-go-place-saver/internal/cloud"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/model"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/services"
)

// StateManager caches the test configuration across tests.
type StateManager struct {
	mu     sync.Mutex
	config *cloud.Config
}

var state = &StateManager{}

// ProjectRoot walks up from the working directory to the directory holding
// go.mod.
func ProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		log.Fatalf("failed to read working directory: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			log.Fatalf("go.mod not found above the working directory")
		}
		dir = parent
	}
}

// SetupOS points the configuration loader at configs/.env.test.toml.
func SetupOS() error {
	if err := os.Setenv(cloud.EnvConfigFilePrefix, filepath.Join(ProjectRoot(), "configs")); err != nil {
		return err
	}
	return os.Setenv(cloud.EnvConfigRuntime, "test")
}

// GetConfig loads the test configuration once and returns a copy, so tests
// may change their copy freely.
func GetConfig() *cloud.Config {
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.config == nil {
		if err := SetupOS(); err != nil {
			log.Fatalf("failed to setup environment for test: %v", err)
		}
		config := cloud.NewConfig()
		if err := cloud.LoadConfig(config); err != nil {
			log.Fatalf("failed to load test configuration: %v", err)
		}
		state.config = config
	}
	out := *state.config
	return &out
}

// OpenStore opens a SQLite place store in a temp directory, closed when the
// test ends.
func OpenStore(t *testing.T) *services.SQLStore {
	t.Helper()
	store, err := services.OpenStore(context.Background(), "sqlite:///"+filepath.Join(t.TempDir(), "places.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// ErrUnavailable is what the fakes fail with.
var ErrUnavailable = errors.New("service unavailable")

// FakeLookup answers Places queries from a map. Unknown queries are not found.
type FakeLookup struct {
	mu      sync.Mutex
	Places  map[string]*model.VerifiedPlace
	Fail    bool
	Queries []string
}

func (f *FakeLookup) Search(_ context.Context, query string) (*model.VerifiedPlace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Queries = append(f.Queries, query)
	if f.Fail {
		return &model.VerifiedPlace{Found: false, GoogleMapsURL: services.SearchURL(query)}, ErrUnavailable
	}
	if p, ok := f.Places[query]; ok {
		return p, nil
	}
	return &model.VerifiedPlace{Found: false, GoogleMapsURL: services.SearchURL(query)}, nil
}

// Calls returns how many lookups were made.
func (f *FakeLookup) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Queries)
}

// FakeSheets records mirrored records.
type FakeSheets struct {
	mu         sync.Mutex
	Configured bool
	Fail       bool
	Rows       map[string]*model.PlaceRecord
}

func NewFakeSheets() *FakeSheets {
	return &FakeSheets{Configured: true, Rows: make(map[string]*model.PlaceRecord)}
}

func (f *FakeSheets) IsConfigured() bool { return f.Configured }

func (f *FakeSheets) AppendOrUpdate(_ context.Context, record *model.PlaceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Fail {
		return ErrUnavailable
	}
	f.Rows[record.SourceRef] = record
	return nil
}

// SetFail switches failures on or off.
func (f *FakeSheets) SetFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Fail = fail
}

// FakeSaver is a save session whose state is set directly.
type FakeSaver struct {
	mu       sync.Mutex
	Enabled  bool
	LoggedIn bool
	Outcome  model.SaveOutcome
	Saved    []string
}

func (f *FakeSaver) IsEnabled() bool  { return f.Enabled }
func (f *FakeSaver) IsLoggedIn() bool { return f.LoggedIn }

func (f *FakeSaver) SaveToList(_ context.Context, placeID, listName string) model.SaveOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Saved = append(f.Saved, placeID)
	out := f.Outcome
	if out.Status == "" {
		out = model.SaveOutcome{Status: model.SaveSaved, Message: "已儲存到「想去」", ListName: "想去"}
	}
	return out
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }
