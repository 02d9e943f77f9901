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

package savesession_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jaycherian/gcp-go-place-saver/internal/core/model"
	"github.com/jaycherian/gcp-go-place-saver/internal/savesession"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var locators = savesession.DefaultLocators()

type fakeElement struct {
	mu      sync.Mutex
	text    string
	checked string
	clicks  int
	filled  string
}

func (e *fakeElement) Click(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clicks++
	return nil
}

func (e *fakeElement) Fill(_ context.Context, v string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.filled = v
	return nil
}

func (e *fakeElement) Text(context.Context) (string, error) { return e.text, nil }

func (e *fakeElement) Attribute(_ context.Context, name string) (string, error) {
	if name == "aria-checked" {
		return e.checked, nil
	}
	return "", nil
}

func (e *fakeElement) FindAll(context.Context, string) ([]savesession.Element, error) { return nil, nil }

type fakePage struct {
	mu      sync.Mutex
	url     string
	visible map[string]*fakeElement
	all     map[string][]*fakeElement
	delay   time.Duration
	pressed []string
	crash   bool
}

func newPage() *fakePage {
	return &fakePage{visible: map[string]*fakeElement{}, all: map[string][]*fakeElement{}}
}

func (p *fakePage) Goto(_ context.Context, url string) error {
	time.Sleep(p.delay)
	if p.crash {
		panic("target closed")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	return nil
}

func (p *fakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *fakePage) Find(_ context.Context, selector string, _ time.Duration) (savesession.Element, error) {
	if el, ok := p.visible[selector]; ok {
		return el, nil
	}
	return nil, savesession.ErrTimeout
}

func (p *fakePage) FindAll(_ context.Context, selector string) ([]savesession.Element, error) {
	out := make([]savesession.Element, 0)
	for _, el := range p.all[selector] {
		out = append(out, el)
	}
	return out, nil
}

func (p *fakePage) Press(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pressed = append(p.pressed, key)
	return nil
}

func (p *fakePage) Settle(context.Context, time.Duration) error { return nil }

type fakeDriver struct {
	mu        sync.Mutex
	active    int
	maxActive int
	launches  []savesession.LaunchOptions
	page      func() *fakePage
	state     string
}

type fakeBrowser struct {
	d    *fakeDriver
	page *fakePage
}

func (d *fakeDriver) Launch(_ context.Context, opts savesession.LaunchOptions) (savesession.Browser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active++
	d.maxActive = max(d.maxActive, d.active)
	d.launches = append(d.launches, opts)
	return &fakeBrowser{d: d, page: d.page()}, nil
}

func (b *fakeBrowser) NewPage(context.Context) (savesession.Page, error) { return b.page, nil }

func (b *fakeBrowser) SaveState(path string) error {
	return os.WriteFile(path, []byte(b.d.state), 0o600)
}

func (b *fakeBrowser) Close() error {
	b.d.mu.Lock()
	defer b.d.mu.Unlock()
	b.d.active--
	return nil
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func testConfig(t *testing.T) savesession.Config {
	cfg := savesession.DefaultConfig()
	cfg.Enabled = true
	cfg.StateDir = t.TempDir()
	cfg.DelayMin, cfg.DelayMax = 0, 0
	cfg.SettleSeconds = 0
	return cfg
}

func newSession(t *testing.T, page func() *fakePage, loggedIn bool) (*savesession.Session, *fakeDriver) {
	d := &fakeDriver{page: page, state: `{"cookies":[]}`}
	s := savesession.New(testConfig(t), d, savesession.WithSleep(noSleep))
	if loggedIn {
		require.NoError(t, os.WriteFile(s.BlobPath(), []byte("old"), 0o600))
	}
	return s, d
}

// mapsPage shows a save button and the list menu with the given items.
func mapsPage(items ...*fakeElement) func() *fakePage {
	return func() *fakePage {
		p := newPage()
		p.visible[locators.SaveButtons[0]] = &fakeElement{}
		p.visible[locators.Menu[0]] = &fakeElement{}
		p.all[locators.MenuItems[0]] = items
		return p
	}
}

func TestSaveToListSaved(t *testing.T) {
	item := &fakeElement{text: "想去\n12 個地點", checked: "false"}
	s, d := newSession(t, mapsPage(item), true)

	out := s.SaveToList(context.Background(), "pid", "想去")
	assert.Equal(t, model.SaveSaved, out.Status)
	assert.Equal(t, "已儲存至「想去」", out.Message)
	assert.Equal(t, 1, item.clicks)
	require.Len(t, d.launches, 1)
	assert.True(t, d.launches[0].Headless)
	assert.Equal(t, s.BlobPath(), d.launches[0].StorageStatePath)
	assert.Equal(t, savesession.StateLoggedIn, s.State())
}

func TestSaveToListAlreadySaved(t *testing.T) {
	item := &fakeElement{text: "想去", checked: "true"}
	s, _ := newSession(t, mapsPage(item), true)

	out := s.SaveToList(context.Background(), "pid", "想去")
	assert.Equal(t, model.SaveAlreadySaved, out.Status)
	assert.Equal(t, "此地點已在「想去」清單中", out.Message)
	assert.Zero(t, item.clicks)
}

func TestSaveToListCreatesMissingList(t *testing.T) {
	input := &fakeElement{}
	create := &fakeElement{}
	page := func() *fakePage {
		p := mapsPage(&fakeElement{text: "最愛"})()
		p.all[locators.NewListButtons[0]] = []*fakeElement{{}}
		p.visible[locators.NameInputs[0]] = input
		p.all[locators.CreateButtons[0]] = []*fakeElement{create}
		return p
	}
	s, _ := newSession(t, page, true)

	out := s.SaveToList(context.Background(), "pid", "咖啡")
	assert.Equal(t, model.SaveSaved, out.Status)
	assert.Equal(t, "已建立清單「咖啡」並儲存", out.Message)
	assert.Equal(t, "咖啡", input.filled)
	assert.Equal(t, 1, create.clicks)
}

func TestSaveToListCannotCreate(t *testing.T) {
	s, _ := newSession(t, mapsPage(), true)
	out := s.SaveToList(context.Background(), "pid", "咖啡")
	assert.Equal(t, model.SaveFailed, out.Status)
	assert.Equal(t, "找不到清單「咖啡」且無法建立新清單", out.Message)
}

func TestSaveToListWithoutSaveButton(t *testing.T) {
	s, _ := newSession(t, newPage, true)
	out := s.SaveToList(context.Background(), "pid", "想去")
	assert.Equal(t, model.SaveFailed, out.Status)
	assert.Equal(t, "找不到儲存按鈕", out.Message)
}

func TestSaveToListLoginRejectedKeepsBlob(t *testing.T) {
	page := func() *fakePage {
		p := newPage()
		p.all[locators.SignInPrompts[0]] = []*fakeElement{{}}
		return p
	}
	s, _ := newSession(t, page, true)

	out := s.SaveToList(context.Background(), "pid", "想去")
	assert.Equal(t, model.SaveFailed, out.Status)
	assert.Contains(t, out.Message, "/setup_google")
	assert.True(t, s.IsLoggedIn())
	assert.Equal(t, savesession.StateLoginRejected, s.State())
}

func TestSaveToListMenuTimeout(t *testing.T) {
	page := func() *fakePage {
		p := newPage()
		p.visible[locators.SaveButtons[2]] = &fakeElement{}
		return p
	}
	s, _ := newSession(t, page, true)

	out := s.SaveToList(context.Background(), "pid", "想去")
	assert.Equal(t, model.SaveFailed, out.Status)
	assert.Equal(t, "操作超時", out.Message)
}

func TestSaveToListFastPaths(t *testing.T) {
	s, d := newSession(t, newPage, false)
	out := s.SaveToList(context.Background(), "pid", "")
	assert.Equal(t, model.SaveNotLoggedIn, out.Status)

	cfg := testConfig(t)
	cfg.Enabled = false
	disabled := savesession.New(cfg, d, savesession.WithSleep(noSleep))
	out = disabled.SaveToList(context.Background(), "pid", "")
	assert.Equal(t, model.SaveDisabled, out.Status)
	assert.Equal(t, savesession.StateDisabled, disabled.State())

	assert.Empty(t, d.launches)
}

type listSource string

func (l listSource) GoogleMapsList() string { return string(l) }

func TestSaveToListUsesRuntimeList(t *testing.T) {
	item := &fakeElement{text: "東京"}
	d := &fakeDriver{page: mapsPage(item)}
	s := savesession.New(testConfig(t), d, savesession.WithSleep(noSleep), savesession.WithListSource(listSource("東京")))
	require.NoError(t, os.WriteFile(s.BlobPath(), []byte("x"), 0o600))

	out := s.SaveToList(context.Background(), "pid", "")
	assert.Equal(t, model.SaveSaved, out.Status)
	assert.Equal(t, "東京", out.ListName)
}

func TestInteractiveLogin(t *testing.T) {
	page := func() *fakePage {
		p := newPage()
		p.visible[strings.Join(locators.LoginSignals, ", ")] = &fakeElement{}
		return p
	}
	s, d := newSession(t, page, false)
	d.state = "new-state"

	out := s.InteractiveLogin(context.Background())
	assert.Equal(t, model.SaveSaved, out.Status)
	data, err := os.ReadFile(s.BlobPath())
	require.NoError(t, err)
	assert.Equal(t, "new-state", string(data))
	assert.False(t, d.launches[0].Headless)
	assert.Contains(t, d.launches[0].Args, "--start-maximized")

	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(s.BlobPath()), ".login-*"))
	assert.Empty(t, leftovers)
}

func TestInteractiveLoginTimeoutKeepsOldBlob(t *testing.T) {
	s, _ := newSession(t, newPage, true)

	out := s.InteractiveLogin(context.Background())
	assert.Equal(t, model.SaveFailed, out.Status)
	assert.Equal(t, "登入超時，請在 5 分鐘內完成登入。", out.Message)
	data, err := os.ReadFile(s.BlobPath())
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
}

func TestClearSessionIsIdempotent(t *testing.T) {
	s, _ := newSession(t, newPage, true)
	assert.True(t, s.ClearSession())
	assert.False(t, s.ClearSession())
	assert.False(t, s.IsLoggedIn())
	assert.Equal(t, savesession.StateLoggedOut, s.State())
}

func TestAutomationIsExclusive(t *testing.T) {
	page := func() *fakePage {
		p := mapsPage(&fakeElement{text: "想去"})()
		p.visible[strings.Join(locators.LoginSignals, ", ")] = &fakeElement{}
		p.delay = 5 * time.Millisecond
		return p
	}
	s, d := newSession(t, page, true)
	other := savesession.New(testConfig(t), d, savesession.WithSleep(noSleep))
	require.NoError(t, os.WriteFile(other.BlobPath(), []byte("x"), 0o600))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.SaveToList(context.Background(), "pid", "想去")
		}()
		go func() {
			defer wg.Done()
			other.SaveToList(context.Background(), "pid", "想去")
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.InteractiveLogin(context.Background())
	}()
	wg.Wait()

	assert.Equal(t, 1, d.maxActive)
	assert.Len(t, d.launches, 17)
	assert.Zero(t, d.active)
}

func TestDriverPanicBecomesFailure(t *testing.T) {
	crashing := func() *fakePage {
		p := mapsPage(&fakeElement{text: "想去"})()
		p.crash = true
		return p
	}
	s, d := newSession(t, crashing, true)

	out := s.SaveToList(context.Background(), "pid", "想去")
	assert.Equal(t, model.SaveFailed, out.Status)
	assert.Equal(t, "儲存失敗：target closed", out.Message)

	lists, out := s.SavedLists(context.Background())
	assert.Nil(t, lists)
	assert.Equal(t, model.SaveFailed, out.Status)
	assert.Zero(t, d.active)
	assert.True(t, s.IsLoggedIn())

	d.page = mapsPage(&fakeElement{text: "想去", checked: "false"})
	out = s.SaveToList(context.Background(), "pid", "想去")
	assert.Equal(t, model.SaveSaved, out.Status)
}

func TestSavedLists(t *testing.T) {
	items := []*fakeElement{
		{text: "\ue8b5\n想去\n5 個地點"},
		{text: "New list"},
		{text: "最愛"},
		{text: "想去"},
		{text: strings.Repeat("長", 51)},
	}
	var page *fakePage
	s, _ := newSession(t, func() *fakePage {
		page = mapsPage(items...)()
		return page
	}, true)

	lists, out := s.SavedLists(context.Background())
	assert.Equal(t, model.SaveSaved, out.Status)
	assert.Equal(t, []string{"想去", "最愛"}, lists)
	assert.Equal(t, []string{"Escape"}, page.pressed)
}

func TestCleanListName(t *testing.T) {
	name, ok := savesession.CleanListName("  \ue838 旅行\t")
	assert.True(t, ok)
	assert.Equal(t, "旅行", name)

	for _, raw := range []string{"", "\ue838", "save to list", "建立新清單", strings.Repeat("a", 51)} {
		_, ok := savesession.CleanListName(raw)
		assert.False(t, ok, raw)
	}
}
