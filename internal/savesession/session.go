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

// Package savesession saves places to a Google Maps list by driving a real
// browser with the user's stored Google login.
//
// Logic Flow:
//  1. InteractiveLogin opens a visible browser, waits for the user to sign in
//     and stores the browser state (the blob) in the state directory.
//  2. SaveToList and SavedLists start a headless browser from the blob, open
//     the place's save menu and pick, or create, the target list.
//  3. Every browser session in the process holds one package-wide lock, from
//     launch to close, so at most one automation runs at a time.
//  4. Steps are separated by randomized delays.
//  5. Nothing here returns an error to the caller: every path resolves to a
//     model.SaveOutcome with a message that can be shown to the user.
package savesession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jaycherian/gcp-go-place-saver/internal/core/model"
)

// State is the externally visible state of the session.
type State string

const (
	StateDisabled       State = "disabled"
	StateLoggedOut      State = "logged-out"
	StateLoggingIn      State = "logging-in"
	StateLoggedIn       State = "logged-in"
	StateSaveInProgress State = "save-in-progress"
	StateLoginRejected  State = "login-rejected"
)

// User facing messages.
const (
	MsgDisabled       = "Google Maps 自動儲存功能未啟用"
	MsgNotLoggedIn    = "尚未登入 Google 帳戶，請先執行 /setup_google"
	msgLoginOK        = "Google 帳戶登入成功！已儲存登入狀態。"
	msgLoginTimeout   = "登入超時，請在 5 分鐘內完成登入。"
	msgNoSaveButton   = "找不到儲存按鈕"
	msgLoginRejected  = "Google 登入狀態可能已失效，請重新執行 /setup_google"
	msgTimeout        = "操作超時"
	msgNoMenu         = "無法打開儲存選單"
	msgNoLists        = "未找到任何清單，請確認已在 Google Maps 建立清單"
	msgListsNoButton  = "找不到儲存按鈕，可能未正確登入"
	mapsURLMarker     = "google.com/maps"
	escapeKey         = "Escape"
	checkedAttribute  = "aria-checked"
	menuTextMaxLength = 100
)

// automation serializes every browser session of the process, whichever
// Session value started it.
var automation sync.Mutex

// ListNameSource supplies the list chosen at runtime, if any.
type ListNameSource interface {
	GoogleMapsList() string
}

// Option customizes a Session.
type Option func(*Session)

// WithSleep replaces the function used for pacing and settling delays.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Session) { s.sleep = fn }
}

// WithListSource sets where the default list name comes from.
func WithListSource(src ListNameSource) Option {
	return func(s *Session) { s.lists = src }
}

// Session is the external save session. It is safe for concurrent use.
type Session struct {
	cfg    Config
	driver Driver
	lists  ListNameSource
	sleep  func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	activity State
	rejected bool
}

// New creates a session. A nil driver uses playwright.
func New(cfg Config, driver Driver, opts ...Option) *Session {
	if driver == nil {
		driver = PlaywrightDriver{}
	}
	s := &Session{
		cfg:    cfg.withDefaults(),
		driver: driver,
		sleep:  sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsEnabled reports whether saving to Google Maps is switched on.
func (s *Session) IsEnabled() bool {
	return s.cfg.Enabled
}

// BlobPath is where the browser state of the logged in user is stored.
func (s *Session) BlobPath() string {
	return filepath.Join(s.cfg.StateDir, s.cfg.BlobName)
}

// IsLoggedIn reports whether a stored login exists. Whether Google still
// accepts it is only known once a save runs.
func (s *Session) IsLoggedIn() bool {
	_, err := os.Stat(s.BlobPath())
	return err == nil
}

// State reports the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	activity, rejected := s.activity, s.rejected
	s.mu.Unlock()

	switch {
	case activity == StateLoggingIn:
		return StateLoggingIn
	case !s.IsEnabled():
		return StateDisabled
	case activity != "":
		return activity
	case !s.IsLoggedIn():
		return StateLoggedOut
	case rejected:
		return StateLoginRejected
	default:
		return StateLoggedIn
	}
}

func (s *Session) setActivity(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity = st
}

func (s *Session) setRejected(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected = v
}

// ClearSession deletes the stored login. It returns false when there was
// nothing to delete.
func (s *Session) ClearSession() bool {
	s.setRejected(false)
	err := os.Remove(s.BlobPath())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Error("failed to clear google session", "path", s.BlobPath(), "error", err)
		}
		return false
	}
	slog.Info("google session cleared", "path", s.BlobPath())
	return true
}

// InteractiveLogin opens a visible browser on Google Maps and waits for the
// user to sign in. The previous login is kept unless the new one succeeds.
func (s *Session) InteractiveLogin(ctx context.Context) (out model.SaveOutcome) {
	automation.Lock()
	defer automation.Unlock()
	defer recoverDriver(ctx, "登入失敗", &out)
	s.setActivity(StateLoggingIn)
	defer s.setActivity("")

	slog.InfoContext(ctx, "starting interactive google login")
	browser, page, err := s.open(ctx, false)
	if err != nil {
		return failed(fmt.Sprintf("登入失敗：%v", err))
	}
	defer closeBrowser(browser)

	if err := s.login(ctx, browser, page); err != nil {
		if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			slog.WarnContext(ctx, "google login timed out")
			return failed(msgLoginTimeout)
		}
		slog.ErrorContext(ctx, "google login failed", "error", err)
		return failed(fmt.Sprintf("登入失敗：%v", err))
	}
	s.setRejected(false)
	slog.InfoContext(ctx, "google login stored", "path", s.BlobPath())
	return model.SaveOutcome{Status: model.SaveSaved, Message: msgLoginOK}
}

func (s *Session) login(ctx context.Context, browser Browser, page Page) error {
	if err := page.Goto(ctx, s.cfg.MapsURL); err != nil {
		return err
	}
	timeout := seconds(s.cfg.LoginTimeout)
	if _, err := page.Find(ctx, strings.Join(s.cfg.Locators.LoginSignals, ", "), timeout); err != nil {
		return err
	}
	if !strings.Contains(page.URL(), mapsURLMarker) {
		if err := page.Goto(ctx, s.cfg.MapsURL); err != nil {
			return err
		}
		if err := page.Settle(ctx, 2*time.Second); err != nil {
			return err
		}
	}
	return s.writeBlob(browser)
}

// writeBlob saves the browser state next to the blob and renames it into place.
func (s *Session) writeBlob(browser Browser) error {
	if err := os.MkdirAll(s.cfg.StateDir, 0o700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tmp, err := os.CreateTemp(s.cfg.StateDir, ".login-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(tmpName)

	if err := browser.SaveState(tmpName); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.BlobPath()); err != nil {
		return fmt.Errorf("failed to store login state: %w", err)
	}
	return nil
}

// SaveToList saves placeID to listName. An empty listName uses the list
// chosen at runtime, then the configured default.
func (s *Session) SaveToList(ctx context.Context, placeID, listName string) (out model.SaveOutcome) {
	if !s.IsEnabled() {
		return model.SaveOutcome{Status: model.SaveDisabled, Message: MsgDisabled}
	}
	if !s.IsLoggedIn() {
		return model.SaveOutcome{Status: model.SaveNotLoggedIn, Message: MsgNotLoggedIn}
	}
	listName = s.resolveList(listName)

	automation.Lock()
	defer automation.Unlock()
	defer recoverDriver(ctx, "儲存失敗", &out)
	if !s.IsLoggedIn() {
		return model.SaveOutcome{Status: model.SaveNotLoggedIn, Message: MsgNotLoggedIn}
	}
	s.setActivity(StateSaveInProgress)
	defer s.setActivity("")

	log := slog.With("place_id", placeID, "list", listName)
	log.InfoContext(ctx, "saving place to google maps list")

	browser, page, err := s.open(ctx, true)
	if err != nil {
		log.ErrorContext(ctx, "failed to start browser", "error", err)
		return failed(fmt.Sprintf("儲存失敗：%v", err))
	}
	defer closeBrowser(browser)

	out, err = s.save(ctx, page, placeID, listName)
	if err != nil {
		log.WarnContext(ctx, "save to list failed", "error", err)
		if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return failed(msgTimeout)
		}
		return failed(fmt.Sprintf("儲存失敗：%v", err))
	}
	out.ListName = listName
	if out.Success() {
		s.setRejected(false)
	}
	log.InfoContext(ctx, "save to list finished", "status", out.Status)
	return out
}

func (s *Session) resolveList(listName string) string {
	if name := strings.TrimSpace(listName); name != "" {
		return name
	}
	if s.lists != nil {
		if name := strings.TrimSpace(s.lists.GoogleMapsList()); name != "" {
			return name
		}
	}
	return s.cfg.DefaultList
}

func (s *Session) save(ctx context.Context, page Page, placeID, listName string) (model.SaveOutcome, error) {
	if err := s.openSaveMenu(ctx, page, fmt.Sprintf(s.cfg.PlaceURL, placeID), 1); err != nil {
		if errors.Is(err, errNoSaveButton) {
			if s.signInVisible(ctx, page) {
				s.setRejected(true)
				return failed(msgLoginRejected), nil
			}
			return failed(msgNoSaveButton), nil
		}
		return model.SaveOutcome{}, err
	}
	return s.selectOrCreate(ctx, page, listName)
}

var (
	errNoSaveButton = errors.New("save button not found")
	errNoMenu       = errors.New("save menu did not open")
)

// openSaveMenu navigates to url, clicks the save button and waits for the
// list menu.
func (s *Session) openSaveMenu(ctx context.Context, page Page, url string, clickPace float64) error {
	if err := page.Goto(ctx, url); err != nil {
		return err
	}
	if err := s.pace(ctx, 1); err != nil {
		return err
	}
	if err := page.Settle(ctx, seconds(s.cfg.SettleSeconds)); err != nil {
		return err
	}
	button, err := s.first(ctx, page, s.cfg.Locators.SaveButtons)
	if errors.Is(err, ErrNotFound) {
		return errNoSaveButton
	}
	if err != nil {
		return err
	}
	if err := button.Click(ctx); err != nil {
		return err
	}
	if err := s.pace(ctx, clickPace); err != nil {
		return err
	}
	if _, err := s.first(ctx, page, s.cfg.Locators.Menu); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: %w", ErrTimeout, errNoMenu)
		}
		return err
	}
	return s.pace(ctx, 0.5)
}

func (s *Session) selectOrCreate(ctx context.Context, page Page, listName string) (model.SaveOutcome, error) {
	for _, selector := range s.cfg.Locators.MenuItems {
		items, err := page.FindAll(ctx, selector)
		if err != nil {
			return model.SaveOutcome{}, err
		}
		for _, item := range items {
			text, err := item.Text(ctx)
			if err != nil || len(text) >= menuTextMaxLength || firstLine(text) != listName {
				continue
			}
			checked, _ := item.Attribute(ctx, checkedAttribute)
			if checked == "true" {
				return model.SaveOutcome{
					Status:  model.SaveAlreadySaved,
					Message: fmt.Sprintf("此地點已在「%s」清單中", listName),
				}, nil
			}
			if err := item.Click(ctx); err != nil {
				return model.SaveOutcome{}, err
			}
			if err := s.pace(ctx, 1.5); err != nil {
				return model.SaveOutcome{}, err
			}
			return model.SaveOutcome{
				Status:  model.SaveSaved,
				Message: fmt.Sprintf("已儲存至「%s」", listName),
			}, nil
		}
	}

	slog.InfoContext(ctx, "list not found, creating it", "list", listName)
	return s.createList(ctx, page, listName)
}

func (s *Session) createList(ctx context.Context, page Page, listName string) (model.SaveOutcome, error) {
	notFound := failed(fmt.Sprintf("找不到清單「%s」且無法建立新清單", listName))

	button, err := s.firstNow(ctx, page, s.cfg.Locators.NewListButtons)
	if errors.Is(err, ErrNotFound) {
		return notFound, nil
	}
	if err != nil {
		return model.SaveOutcome{}, err
	}
	if err := button.Click(ctx); err != nil {
		return model.SaveOutcome{}, err
	}
	if err := s.pace(ctx, 1); err != nil {
		return model.SaveOutcome{}, err
	}

	input, err := s.first(ctx, page, s.cfg.Locators.NameInputs)
	if errors.Is(err, ErrNotFound) {
		return notFound, nil
	}
	if err != nil {
		return model.SaveOutcome{}, err
	}
	if err := input.Fill(ctx, listName); err != nil {
		return model.SaveOutcome{}, err
	}
	if err := s.pace(ctx, 0.5); err != nil {
		return model.SaveOutcome{}, err
	}

	create, err := s.firstNow(ctx, page, s.cfg.Locators.CreateButtons)
	if errors.Is(err, ErrNotFound) {
		return notFound, nil
	}
	if err != nil {
		return model.SaveOutcome{}, err
	}
	if err := create.Click(ctx); err != nil {
		return model.SaveOutcome{}, err
	}
	if err := s.pace(ctx, 1); err != nil {
		return model.SaveOutcome{}, err
	}
	return model.SaveOutcome{
		Status:  model.SaveSaved,
		Message: fmt.Sprintf("已建立清單「%s」並儲存", listName),
	}, nil
}

// SavedLists reads the names of the user's lists from the save menu of a
// well known place.
func (s *Session) SavedLists(ctx context.Context) (lists []string, out model.SaveOutcome) {
	if !s.IsEnabled() {
		return nil, model.SaveOutcome{Status: model.SaveDisabled, Message: MsgDisabled}
	}
	if !s.IsLoggedIn() {
		return nil, model.SaveOutcome{Status: model.SaveNotLoggedIn, Message: MsgNotLoggedIn}
	}

	automation.Lock()
	defer automation.Unlock()
	defer func() {
		if r := recover(); r != nil {
			lists = nil
			out = failed(fmt.Sprintf("獲取清單失敗：%v", r))
			slog.ErrorContext(ctx, "browser driver panicked", "panic", r)
		}
	}()
	s.setActivity(StateSaveInProgress)
	defer s.setActivity("")

	browser, page, err := s.open(ctx, true)
	if err != nil {
		return nil, failed(fmt.Sprintf("獲取清單失敗：%v", err))
	}
	defer closeBrowser(browser)

	url := fmt.Sprintf(s.cfg.PlaceURL, s.cfg.SamplePlaceID)
	if err := s.openSaveMenu(ctx, page, url, 0.5); err != nil {
		switch {
		case errors.Is(err, errNoSaveButton):
			return nil, failed(msgListsNoButton)
		case errors.Is(err, errNoMenu):
			return nil, failed(msgNoMenu)
		default:
			return nil, failed(fmt.Sprintf("獲取清單失敗：%v", err))
		}
	}

	names := s.readLists(ctx, page)
	_ = page.Press(ctx, escapeKey)

	if len(names) == 0 {
		return nil, failed(msgNoLists)
	}
	return names, model.SaveOutcome{Status: model.SaveSaved, Message: fmt.Sprintf("找到 %d 個清單", len(names))}
}

func (s *Session) readLists(ctx context.Context, page Page) []string {
	var names []string
	for _, selector := range s.cfg.Locators.MenuItems {
		items, err := page.FindAll(ctx, selector)
		if err != nil {
			continue
		}
		for _, item := range items {
			text, err := item.Text(ctx)
			if err != nil {
				continue
			}
			for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
				if name, ok := CleanListName(line); ok {
					names = append(names, name)
					break
				}
			}
		}
	}
	if len(names) == 0 {
		for _, selector := range s.cfg.Locators.ListOptions {
			items, err := page.FindAll(ctx, selector)
			if err != nil {
				continue
			}
			for _, item := range items {
				text, err := item.Text(ctx)
				if err != nil || text == "" || strings.Contains(text, "\n") {
					continue
				}
				if name, ok := CleanListName(text); ok {
					names = append(names, name)
				}
			}
		}
	}
	return dedupe(names)
}

// open launches a browser. Headless sessions load the stored login.
func (s *Session) open(ctx context.Context, headless bool) (Browser, Page, error) {
	opts := LaunchOptions{
		Headless:   headless,
		Args:       []string{"--disable-blink-features=AutomationControlled", "--no-sandbox"},
		Viewport:   Size{Width: 1280, Height: 800},
		Locale:     s.cfg.Locale,
		UserAgent:  s.cfg.UserAgent,
		InitScript: hideWebdriver,
	}
	if headless {
		opts.StorageStatePath = s.BlobPath()
	} else {
		opts.Args = append(opts.Args, "--start-maximized")
	}
	browser, err := s.driver.Launch(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	page, err := browser.NewPage(ctx)
	if err != nil {
		closeBrowser(browser)
		return nil, nil, err
	}
	return browser, page, nil
}

// first waits for each selector in turn and returns the first match.
func (s *Session) first(ctx context.Context, page Page, selectors []string) (Element, error) {
	timeout := seconds(s.cfg.LocatorTimeout)
	for _, selector := range selectors {
		el, err := page.Find(ctx, selector, timeout)
		if err == nil {
			return el, nil
		}
		if !errors.Is(err, ErrTimeout) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

// firstNow is first without waiting.
func (s *Session) firstNow(ctx context.Context, page Page, selectors []string) (Element, error) {
	for _, selector := range selectors {
		els, err := page.FindAll(ctx, selector)
		if err != nil {
			return nil, err
		}
		if len(els) > 0 {
			return els[0], nil
		}
	}
	return nil, ErrNotFound
}

func (s *Session) signInVisible(ctx context.Context, page Page) bool {
	_, err := s.firstNow(ctx, page, s.cfg.Locators.SignInPrompts)
	return err == nil
}

// pace sleeps a random duration between DelayMin and DelayMax seconds, both
// scaled by mult.
func (s *Session) pace(ctx context.Context, mult float64) error {
	lo, hi := s.cfg.DelayMin*mult, s.cfg.DelayMax*mult
	d := lo + rand.Float64()*(hi-lo)
	return s.sleep(ctx, seconds(d))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func failed(msg string) model.SaveOutcome {
	return model.SaveOutcome{Status: model.SaveFailed, Message: msg}
}

// recoverDriver turns a panic raised by the browser driver into a failed
// outcome. It must be deferred after the automation lock is taken.
func recoverDriver(ctx context.Context, prefix string, out *model.SaveOutcome) {
	if r := recover(); r != nil {
		slog.ErrorContext(ctx, "browser driver panicked", "panic", r)
		*out = failed(fmt.Sprintf("%s：%v", prefix, r))
	}
}

func closeBrowser(b Browser) {
	if err := b.Close(); err != nil {
		slog.Warn("failed to close browser", "error", err)
	}
}

func firstLine(text string) string {
	line, _, _ := strings.Cut(text, "\n")
	return strings.TrimSpace(line)
}
