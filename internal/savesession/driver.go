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

package savesession

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout is returned by drivers when an element did not show up in time.
	ErrTimeout = errors.New("browser operation timed out")
	// ErrNotFound means none of the selectors of a locator list matched.
	ErrNotFound = errors.New("element not found")
)

// Size is a viewport size in CSS pixels.
type Size struct {
	Width  int
	Height int
}

// LaunchOptions configure a browser and its single context.
type LaunchOptions struct {
	Headless         bool
	Args             []string
	Viewport         Size
	Locale           string
	UserAgent        string
	InitScript       string
	StorageStatePath string
}

// Driver starts browsers.
type Driver interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}

// Browser is a running browser with one context.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	// SaveState writes the context storage state (cookies, local storage) to path.
	SaveState(path string) error
	Close() error
}

// Page is a browser tab.
type Page interface {
	Goto(ctx context.Context, url string) error
	URL() string
	// Find waits up to timeout for the first visible match of selector.
	Find(ctx context.Context, selector string, timeout time.Duration) (Element, error)
	// FindAll returns the current matches of selector without waiting.
	FindAll(ctx context.Context, selector string) ([]Element, error)
	Press(ctx context.Context, key string) error
	// Settle waits for d while the page keeps loading.
	Settle(ctx context.Context, d time.Duration) error
}

// Element is a DOM element handle.
type Element interface {
	Click(ctx context.Context) error
	Fill(ctx context.Context, value string) error
	Text(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (string, error)
	FindAll(ctx context.Context, selector string) ([]Element, error)
}
