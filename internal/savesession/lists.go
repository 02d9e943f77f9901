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
	"strings"
	"unicode/utf8"
)

const maxListNameLength = 50

// menuSkipWords are menu entries that are actions, not lists.
var menuSkipWords = []string{"新增清單", "新清單", "New list", "建立新清單", "儲存至清單中", "Save to list"}

// CleanListName strips icon glyphs and control characters from a menu line
// and reports whether what is left looks like a list name.
func CleanListName(raw string) (string, bool) {
	name := strings.TrimSpace(strings.Map(func(r rune) rune {
		switch {
		case r < 32:
			return -1
		case r >= 0xE000 && r <= 0xF8FF:
			return -1
		case r >= 0xF000 && r <= 0xFFFF:
			return -1
		}
		return r
	}, raw))
	if name == "" || utf8.RuneCountInString(name) > maxListNameLength {
		return "", false
	}
	for _, skip := range menuSkipWords {
		if strings.EqualFold(skip, name) {
			return "", false
		}
	}
	return name, true
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
