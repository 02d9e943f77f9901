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

package telegram_test

import (
	"testing"

	"github.com/jaycherian/gcp-go-place-saver/internal/telegram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToInboundEvent(t *testing.T) {
	u := telegram.Update{UpdateID: 1, Message: &telegram.Message{
		MessageID:      10,
		From:           &telegram.User{ID: 5, FirstName: "Mei", LastName: "Lin"},
		Chat:           telegram.Chat{ID: 42},
		Caption:        "https://www.instagram.com/reel/abc123/",
		ReplyToMessage: &telegram.Message{MessageID: 9},
	}}

	ev, ok := telegram.ToInboundEvent(u, 999)
	require.True(t, ok)
	assert.Equal(t, int64(10), ev.ID)
	assert.Equal(t, int64(42), ev.ChatID)
	assert.Equal(t, int64(5), ev.SenderID)
	assert.Equal(t, "Mei Lin", ev.SenderName)
	assert.Equal(t, "https://www.instagram.com/reel/abc123/", ev.Text)
	assert.True(t, ev.IsReply)
	assert.False(t, ev.IsEdit)
	assert.False(t, ev.FromSelf)
}

func TestToInboundEventEditsAndBots(t *testing.T) {
	edit := telegram.Update{EditedMessage: &telegram.Message{
		MessageID: 11, Chat: telegram.Chat{ID: 42}, Text: "fixed", From: &telegram.User{ID: 5},
	}}
	ev, ok := telegram.ToInboundEvent(edit, 999)
	require.True(t, ok)
	assert.True(t, ev.IsEdit)

	own := telegram.Update{Message: &telegram.Message{
		MessageID: 12, Chat: telegram.Chat{ID: 42}, Text: "x", From: &telegram.User{ID: 999},
	}}
	ev, ok = telegram.ToInboundEvent(own, 999)
	require.True(t, ok)
	assert.True(t, ev.FromSelf)

	other := telegram.Update{Message: &telegram.Message{
		MessageID: 13, Chat: telegram.Chat{ID: 42}, Text: "x", From: &telegram.User{ID: 7, IsBot: true},
	}}
	ev, _ = telegram.ToInboundEvent(other, 999)
	assert.True(t, ev.FromSelf)

	_, ok = telegram.ToInboundEvent(telegram.Update{CallbackQuery: &telegram.CallbackQuery{ID: "q"}}, 999)
	assert.False(t, ok)
}

func TestParseCommand(t *testing.T) {
	name, args, ok := telegram.ParseCommand("/List@PlaceBot Taipei  City")
	require.True(t, ok)
	assert.Equal(t, "list", name)
	assert.Equal(t, []string{"Taipei", "City"}, args)

	name, args, ok = telegram.ParseCommand(" /frames ")
	require.True(t, ok)
	assert.Equal(t, "frames", name)
	assert.Empty(t, args)

	_, _, ok = telegram.ParseCommand("https://www.instagram.com/reel/abc123/")
	assert.False(t, ok)
	_, _, ok = telegram.ParseCommand("/@bot")
	assert.False(t, ok)
}
