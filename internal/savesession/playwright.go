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
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightDriver drives Chromium through playwright. The playwright driver
// and browsers must be installed (playwright install chromium).
type PlaywrightDriver struct{}

func (PlaywrightDriver) Launch(ctx context.Context, opts LaunchOptions) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     opts.Args,
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch chromium: %w", err)
	}

	ctxOpts := playwright.BrowserNewContextOptions{
		Viewport:  &playwright.Size{Width: opts.Viewport.Width, Height: opts.Viewport.Height},
		Locale:    playwright.String(opts.Locale),
		UserAgent: playwright.String(opts.UserAgent),
	}
	if opts.StorageStatePath != "" {
		ctxOpts.StorageStatePath = playwright.String(opts.StorageStatePath)
	}
	bctx, err := browser.NewContext(ctxOpts)
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	if opts.InitScript != "" {
		if err := bctx.AddInitScript(playwright.Script{Content: playwright.String(opts.InitScript)}); err != nil {
			_ = browser.Close()
			_ = pw.Stop()
			return nil, fmt.Errorf("failed to add init script: %w", err)
		}
	}
	return &pwBrowser{pw: pw, browser: browser, context: bctx}, nil
}

type pwBrowser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
}

func (b *pwBrowser) NewPage(_ context.Context) (Page, error) {
	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	return &pwPage{page: page}, nil
}

func (b *pwBrowser) SaveState(path string) error {
	if _, err := b.context.StorageState(path); err != nil {
		return fmt.Errorf("failed to save storage state: %w", err)
	}
	return nil
}

func (b *pwBrowser) Close() error {
	errs := []error{b.context.Close(), b.browser.Close(), b.pw.Stop()}
	return errors.Join(errs...)
}

type pwPage struct {
	page playwright.Page
}

func (p *pwPage) Goto(ctx context.Context, url string) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(milliseconds(ctx, 30*time.Second)),
	})
	return translate(err)
}

func (p *pwPage) URL() string {
	return p.page.URL()
}

func (p *pwPage) Find(ctx context.Context, selector string, timeout time.Duration) (Element, error) {
	loc := p.page.Locator(selector).First()
	err := loc.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(milliseconds(ctx, timeout)),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", selector, translate(err))
	}
	return &pwElement{loc: loc}, nil
}

func (p *pwPage) FindAll(_ context.Context, selector string) ([]Element, error) {
	return all(p.page.Locator(selector))
}

func (p *pwPage) Press(_ context.Context, key string) error {
	return translate(p.page.Keyboard().Press(key))
}

func (p *pwPage) Settle(ctx context.Context, d time.Duration) error {
	return sleep(ctx, d)
}

type pwElement struct {
	loc playwright.Locator
}

func (e *pwElement) Click(ctx context.Context) error {
	return translate(e.loc.Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(milliseconds(ctx, 5*time.Second)),
	}))
}

func (e *pwElement) Fill(ctx context.Context, value string) error {
	return translate(e.loc.Fill(value, playwright.LocatorFillOptions{
		Timeout: playwright.Float(milliseconds(ctx, 5*time.Second)),
	}))
}

func (e *pwElement) Text(ctx context.Context) (string, error) {
	text, err := e.loc.InnerText(playwright.LocatorInnerTextOptions{
		Timeout: playwright.Float(milliseconds(ctx, 2*time.Second)),
	})
	return text, translate(err)
}

func (e *pwElement) Attribute(ctx context.Context, name string) (string, error) {
	v, err := e.loc.GetAttribute(name, playwright.LocatorGetAttributeOptions{
		Timeout: playwright.Float(milliseconds(ctx, 2*time.Second)),
	})
	return v, translate(err)
}

func (e *pwElement) FindAll(_ context.Context, selector string) ([]Element, error) {
	return all(e.loc.Locator(selector))
}

func all(loc playwright.Locator) ([]Element, error) {
	matches, err := loc.All()
	if err != nil {
		return nil, translate(err)
	}
	out := make([]Element, 0, len(matches))
	for _, m := range matches {
		out = append(out, &pwElement{loc: m})
	}
	return out, nil
}

// milliseconds caps d by the context deadline.
func milliseconds(ctx context.Context, d time.Duration) float64 {
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < d {
			d = max(left, time.Millisecond)
		}
	}
	return float64(d.Milliseconds())
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
