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

package telegram

import (
	"strings"
	"time"

	"github.com/jaycherian/gcp-go-place-saver/internal/core/model"
)

// ToInboundEvent maps a message update to the event the deduplicator
// judges. Edited messages map with IsEdit set. Updates without a message
// (callbacks) report false.
func ToInboundEvent(u Update, botID int64) (model.InboundEvent, bool) {
	msg, isEdit := u.Message, false
	if msg == nil {
		msg, isEdit = u.EditedMessage, true
	}
	if msg == nil {
		return model.InboundEvent{}, false
	}
	ev := model.InboundEvent{
		ID:         msg.MessageID,
		ChatID:     msg.Chat.ID,
		Text:       msg.Text,
		IsEdit:     isEdit,
		IsReply:    msg.ReplyToMessage != nil,
		ReceivedAt: time.Now(),
	}
	if ev.Text == "" {
		ev.Text = msg.Caption
	}
	if msg.From != nil {
		ev.SenderID = msg.From.ID
		ev.SenderName = msg.From.FullName()
		ev.FromSelf = msg.From.IsBot || (botID != 0 && msg.From.ID == botID)
	}
	return ev, true
}

// ParseCommand splits "/name@bot arg1 arg2" into "name" and its arguments.
// Text that is not a command reports false.
func ParseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text)
	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}
