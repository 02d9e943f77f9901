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

// Package dedup drops duplicate deliveries of chat events.
//
// The chat platform may deliver the same message more than once (webhook
// retries, a poller restarted with an old offset). The Deduplicator admits
// each message id at most once for as long as the id stays in its window.
//
// Logic Flow:
//  1. Content rejections: messages from the bot itself, replies, edits and
//     blank messages are refused without being recorded.
//  2. Under one lock the id is checked and, when new, marked as seen.
//  3. When the window exceeds its capacity, only the numerically largest half
//     of the ids is kept. Platform ids grow over time, so the oldest go first.
package dedup

import (
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/jaycherian/gcp-go-place-saver/internal/core/model"
)

// DefaultCapacity is the window size used when New receives zero.
const DefaultCapacity = 1000

// Deduplicator admits inbound events at most once. It is safe for concurrent use.
type Deduplicator struct {
	mu       sync.Mutex
	seen     map[int64]struct{}
	capacity int
	botID    int64
}

// New creates a Deduplicator remembering up to capacity ids. botID is the
// platform id of this bot; events it authored are never admitted.
func New(capacity int, botID int64) *Deduplicator {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Deduplicator{
		seen:     make(map[int64]struct{}, capacity+1),
		capacity: capacity,
		botID:    botID,
	}
}

// SetBotID updates the id used to recognise the bot's own messages. It is
// known only after the first getMe call.
func (d *Deduplicator) SetBotID(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.botID = id
}

// Admit reports whether ev should be processed. It returns true exactly once
// per id while the id is remembered.
func (d *Deduplicator) Admit(ev model.InboundEvent) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case ev.FromSelf || (d.botID != 0 && ev.SenderID == d.botID):
		return false
	case ev.IsReply:
		return false
	case ev.IsEdit:
		return false
	case strings.TrimSpace(ev.Text) == "":
		return false
	}

	if _, dup := d.seen[ev.ID]; dup {
		slog.Debug("duplicate delivery dropped", "message_id", ev.ID, "chat_id", ev.ChatID)
		return false
	}
	d.seen[ev.ID] = struct{}{}
	if len(d.seen) > d.capacity {
		d.evict()
	}
	return true
}

// evict keeps the largest capacity/2 ids. Callers hold the lock.
func (d *Deduplicator) evict() {
	ids := make([]int64, 0, len(d.seen))
	for id := range d.seen {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	keep := ids[d.capacity/2:]
	d.seen = make(map[int64]struct{}, d.capacity+1)
	for _, id := range keep {
		d.seen[id] = struct{}{}
	}
}

// Len returns the number of remembered ids.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
