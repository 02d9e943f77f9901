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

package model

import "time"

// InboundEvent is a single message delivered by the chat platform. Identifiers
// are issued by the platform and increase monotonically within a chat, which is
// what the delivery deduplicator relies on when it evicts old entries.
type InboundEvent struct {
	ID         int64     // Platform message id.
	ChatID     int64     // Conversation the message belongs to.
	SenderID   int64     // Author of the message.
	SenderName string    // Display name of the author, when known.
	Text       string    // Message text, possibly containing a content link.
	IsEdit     bool      // The event is an edit of a previously sent message.
	IsReply    bool      // The message replies to another message.
	FromSelf   bool      // The message was sent by a bot (including this one).
	ReceivedAt time.Time // When the event reached this process.
}

// ContentKind classifies a content link.
type ContentKind string

const (
	ContentReel    ContentKind = "reel"
	ContentPost    ContentKind = "post"
	ContentThreads ContentKind = "threads"
)

// ContentLink is a recognised link to social content that can be ingested.
type ContentLink struct {
	URL       string      `json:"url"`
	Kind      ContentKind `json:"kind"`
	Shortcode string      `json:"shortcode"`
	ChatID    int64       `json:"chat_id,omitempty"`
}

// IngestRequest is the message payload accepted by the ingest subscription.
type IngestRequest struct {
	URL    string `json:"url"`
	ChatID int64  `json:"chat_id,omitempty"`
}
