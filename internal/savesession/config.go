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

// Locators are ordered selector lists. Where a single element is wanted the
// first selector that matches wins.
type Locators struct {
	LoginSignals   []string `toml:"login_signals"`
	SignInPrompts  []string `toml:"sign_in_prompts"`
	SaveButtons    []string `toml:"save_buttons"`
	Menu           []string `toml:"menu"`
	MenuItems      []string `toml:"menu_items"`
	ListOptions    []string `toml:"list_options"`
	NewListButtons []string `toml:"new_list_buttons"`
	NameInputs     []string `toml:"name_inputs"`
	CreateButtons  []string `toml:"create_buttons"`
}

// Config drives the save session. Environment variables override the values
// tagged with envconfig.
type Config struct {
	Enabled        bool     `toml:"enabled" envconfig:"GOOGLE_MAPS_SAVE_ENABLED"`
	StateDir       string   `toml:"state_dir" envconfig:"PLAYWRIGHT_STATE_PATH"`
	BlobName       string   `toml:"blob_name"`
	DefaultList    string   `toml:"default_list" envconfig:"GOOGLE_MAPS_DEFAULT_LIST"`
	DelayMin       float64  `toml:"delay_min" envconfig:"PLAYWRIGHT_DELAY_MIN"`
	DelayMax       float64  `toml:"delay_max" envconfig:"PLAYWRIGHT_DELAY_MAX"`
	LoginTimeout   float64  `toml:"login_timeout"`
	LocatorTimeout float64  `toml:"locator_timeout"`
	SettleSeconds  float64  `toml:"settle_seconds"`
	MapsURL        string   `toml:"maps_url"`
	PlaceURL       string   `toml:"place_url"`
	SamplePlaceID  string   `toml:"sample_place_id"`
	UserAgent      string   `toml:"user_agent"`
	Locale         string   `toml:"locale"`
	Locators       Locators `toml:"locators" ignored:"true"`
}

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	hideWebdriver    = "Object.defineProperty(navigator, 'webdriver', {get: () => undefined})"
)

// DefaultLocators returns the Google Maps selectors known to work in the
// zh-TW and English interfaces.
func DefaultLocators() Locators {
	return Locators{
		LoginSignals: []string{
			`button[aria-label*="Google 帳戶"]`,
			`button[aria-label*="Google Account"]`,
			`a[aria-label*="Google 帳戶"]`,
			`img.gb_A`,
			`img.gb_qa`,
		},
		SignInPrompts: []string{
			`a[href*="accounts.google.com/ServiceLogin"]`,
			`a[aria-label="登入"]`,
			`a[aria-label="Sign in"]`,
		},
		SaveButtons: []string{
			`button[aria-label*="儲存"]`,
			`button[aria-label*="Save"]`,
			`button[data-value="儲存"]`,
			`button[data-value="Save"]`,
			`[aria-label*="儲存到清單"]`,
			`[aria-label*="Save to list"]`,
		},
		Menu: []string{`[role="menu"]`},
		MenuItems: []string{
			`[role="menu"] [role="menuitemcheckbox"]`,
			`[role="menu"] [role="menuitemradio"]`,
			`[role="menu"] [role="option"]`,
		},
		ListOptions:    []string{`[role="menu"] *`},
		NewListButtons: []string{`text="新增清單"`, `text="New list"`},
		NameInputs:     []string{`input[aria-label*="名稱"]`, `input[aria-label*="Name"]`},
		CreateButtons: []string{
			`button:has-text("建立")`,
			`button:has-text("Create")`,
			`button:has-text("儲存")`,
			`button:has-text("Save")`,
		},
	}
}

// DefaultConfig returns a disabled session with the stock settings.
func DefaultConfig() Config {
	return Config{
		StateDir:       "./browser_state",
		BlobName:       "google_auth.json",
		DefaultList:    "想去",
		DelayMin:       2.0,
		DelayMax:       5.0,
		LoginTimeout:   300,
		LocatorTimeout: 5,
		SettleSeconds:  5,
		MapsURL:        "https://www.google.com/maps",
		PlaceURL:       "https://www.google.com/maps/place/?q=place_id:%s",
		SamplePlaceID:  "ChIJN1t_tDeuEmsRUsoyG83frY4",
		UserAgent:      defaultUserAgent,
		Locale:         "zh-TW",
		Locators:       DefaultLocators(),
	}
}

// withDefaults fills every unset field from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.StateDir == "" {
		c.StateDir = d.StateDir
	}
	if c.BlobName == "" {
		c.BlobName = d.BlobName
	}
	if c.DefaultList == "" {
		c.DefaultList = d.DefaultList
	}
	if c.DelayMax < c.DelayMin {
		c.DelayMax = c.DelayMin
	}
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = d.LoginTimeout
	}
	if c.LocatorTimeout <= 0 {
		c.LocatorTimeout = d.LocatorTimeout
	}
	if c.MapsURL == "" {
		c.MapsURL = d.MapsURL
	}
	if c.PlaceURL == "" {
		c.PlaceURL = d.PlaceURL
	}
	if c.SamplePlaceID == "" {
		c.SamplePlaceID = d.SamplePlaceID
	}
	if c.UserAgent == "" {
		c.UserAgent = d.UserAgent
	}
	if c.Locale == "" {
		c.Locale = d.Locale
	}
	l := &c.Locators
	fill := func(dst *[]string, src []string) {
		if len(*dst) == 0 {
			*dst = src
		}
	}
	fill(&l.LoginSignals, d.Locators.LoginSignals)
	fill(&l.SignInPrompts, d.Locators.SignInPrompts)
	fill(&l.SaveButtons, d.Locators.SaveButtons)
	fill(&l.Menu, d.Locators.Menu)
	fill(&l.MenuItems, d.Locators.MenuItems)
	fill(&l.ListOptions, d.Locators.ListOptions)
	fill(&l.NewListButtons, d.Locators.NewListButtons)
	fill(&l.NameInputs, d.Locators.NameInputs)
	fill(&l.CreateButtons, d.Locators.CreateButtons)
	return c
}
