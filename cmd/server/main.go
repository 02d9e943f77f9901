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

// Package main is the place saver command line.
//
// Commands:
//   - serve: runs the Telegram bot (webhook or long polling), the HTTP API,
//     the optional Pub/Sub ingest listener and the sheet reconcile timer.
//   - login, logout, lists: manage the Google Maps save session from a terminal.
//   - commit: ingests one link and prints the report as JSON.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
