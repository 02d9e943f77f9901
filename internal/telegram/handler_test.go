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
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jaycherian/gcp-go-place-saver/internal/cloud"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/commands"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/cor"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/model"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/services"
	"github.com/jaycherian/gcp-go-place-saver/internal/dedup"
	"github.com/jaycherian/gcp-go-place-saver/internal/settings"
	"github.com/jaycherian/gcp-go-place-saver/internal/telegram"
	test "github.com/jaycherian/gcp-go-place-saver/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	allowedChat = int64(42)
	reelURL     = "https://www.instagram.com/reel/abc123/"
)

type fakeIngestor struct {
	mu     sync.Mutex
	links  []*model.ContentLink
	report *model.IngestReport
}

func (f *fakeIngestor) Ingest(ctx context.Context, link *model.ContentLink) *model.IngestReport {
	f.mu.Lock()
	f.links = append(f.links, link)
	f.mu.Unlock()
	cor.ReportProgress(ctx, commands.StepDownload)
	cor.ReportProgress(ctx, commands.StepLookup)
	return f.report
}

func (f *fakeIngestor) Links() []*model.ContentLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.ContentLink(nil), f.links...)
}

type fakeSession struct {
	enabled  bool
	loggedIn bool
	lists    []string
	cleared  bool
}

func (f *fakeSession) IsEnabled() bool  { return f.enabled }
func (f *fakeSession) IsLoggedIn() bool { return f.loggedIn }

func (f *fakeSession) InteractiveLogin(context.Context) model.SaveOutcome {
	f.loggedIn = true
	return model.SaveOutcome{Status: model.SaveSaved, Message: "登入成功"}
}

func (f *fakeSession) ClearSession() bool {
	had := f.loggedIn
	f.loggedIn, f.cleared = false, true
	return had
}

func (f *fakeSession) SavedLists(context.Context) ([]string, model.SaveOutcome) {
	if len(f.lists) == 0 {
		return nil, model.SaveOutcome{Status: model.SaveNotLoggedIn, Message: "尚未登入 Google 帳戶"}
	}
	return f.lists, model.SaveOutcome{Status: model.SaveSaved}
}

type handlerFixture struct {
	api      *fakeBotAPI
	ingest   *fakeIngestor
	session  *fakeSession
	settings *settings.Store
	store    *services.SQLStore
	handler  *telegram.Handler
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	f := &handlerFixture{
		api:      newFakeBotAPI(t),
		ingest:   &fakeIngestor{report: &model.IngestReport{}},
		session:  &fakeSession{enabled: true, lists: []string{"想去", "咖啡", "宵夜"}},
		settings: settings.Load(filepath.Join(t.TempDir(), "settings.json"), "想去"),
		store:    test.OpenStore(t),
	}
	f.handler = telegram.NewHandler(telegram.HandlerDeps{
		Client:       f.api.client(t),
		Dedup:        dedup.New(100, 0),
		AllowedChats: cloud.ChatIDList{allowedChat},
		Ingest:       f.ingest,
		Resolver:     services.NewLinkResolver(""),
		Session:      f.session,
		Settings:     f.settings,
		Places:       &services.ListingService{Store: f.store},
	})
	f.handler.SetBotID(999)
	return f
}

func message(id, chatID int64, text string) telegram.Update {
	return telegram.Update{UpdateID: id, Message: &telegram.Message{
		MessageID: id,
		From:      &telegram.User{ID: 5, FirstName: "Mei"},
		Chat:      telegram.Chat{ID: chatID},
		Text:      text,
	}}
}

func callback(data string, messageID int64) telegram.Update {
	return telegram.Update{CallbackQuery: &telegram.CallbackQuery{
		ID:      fmt.Sprintf("q%d", messageID),
		From:    telegram.User{ID: 5},
		Message: &telegram.Message{MessageID: messageID, Chat: telegram.Chat{ID: allowedChat}},
		Data:    data,
	}}
}

func foundReport() *model.IngestReport {
	return &model.IngestReport{
		Extraction: &model.ExtractionResult{Found: true},
		Reports:    []*model.CommitReport{singleReport()},
	}
}

func TestHandlerIngestsContentLink(t *testing.T) {
	f := newHandlerFixture(t)
	f.ingest.report = foundReport()

	f.handler.HandleUpdate(context.Background(), message(1, allowedChat, "看這間 "+reelURL))

	links := f.ingest.Links()
	require.Len(t, links, 1)
	assert.Equal(t, "abc123", links[0].Shortcode)
	assert.Equal(t, allowedChat, links[0].ChatID)

	texts := f.api.Texts()
	require.Len(t, texts, 4)
	assert.Equal(t, telegram.MsgProcessing, texts[0])
	assert.Equal(t, "🎬 正在下載內容...", texts[1])
	assert.Equal(t, "🗺️ 正在搜尋 Google Maps...", texts[2])
	assert.Contains(t, texts[3], "Blue Door Café")

	edits := f.api.Calls("editMessageText")
	final := edits[len(edits)-1].Params
	assert.Equal(t, "MarkdownV2", final["parse_mode"])
	assert.Equal(t, float64(101), final["message_id"])
}

func TestHandlerDropsDuplicateDelivery(t *testing.T) {
	f := newHandlerFixture(t)
	f.ingest.report = foundReport()

	f.handler.HandleUpdate(context.Background(), message(1, allowedChat, reelURL))
	f.handler.HandleUpdate(context.Background(), message(1, allowedChat, reelURL))

	assert.Len(t, f.ingest.Links(), 1)
	assert.Len(t, f.api.Calls("sendMessage"), 1)
}

func TestHandlerIgnoresEditsAndOwnMessages(t *testing.T) {
	f := newHandlerFixture(t)

	edit := message(2, allowedChat, reelURL)
	edit.EditedMessage, edit.Message = edit.Message, nil
	f.handler.HandleUpdate(context.Background(), edit)

	own := message(3, allowedChat, reelURL)
	own.Message.From = &telegram.User{ID: 999, IsBot: true}
	f.handler.HandleUpdate(context.Background(), own)

	assert.Empty(t, f.ingest.Links())
	assert.Empty(t, f.api.Calls(""))
}

func TestHandlerRejectsUnauthorizedChat(t *testing.T) {
	f := newHandlerFixture(t)

	f.handler.HandleUpdate(context.Background(), message(1, 7, reelURL))

	assert.Empty(t, f.ingest.Links())
	assert.Equal(t, []string{telegram.MsgUnauthorized}, f.api.Texts())
}

func TestHandlerRepliesToMessagesWithoutLink(t *testing.T) {
	f := newHandlerFixture(t)

	f.handler.HandleUpdate(context.Background(), message(1, allowedChat, "hello"))

	assert.Empty(t, f.ingest.Links())
	assert.Equal(t, []string{telegram.MsgInvalidLink}, f.api.Texts())
}

func TestHandlerReportsFailureAndNotFound(t *testing.T) {
	f := newHandlerFixture(t)

	f.ingest.report = &model.IngestReport{Errors: []string{"download: boom"}}
	f.handler.HandleUpdate(context.Background(), message(1, allowedChat, reelURL))
	texts := f.api.Texts()
	assert.Equal(t, "❌ 處理失敗：download: boom", texts[len(texts)-1])

	f.ingest.report = &model.IngestReport{Extraction: &model.ExtractionResult{Notes: "只有風景"}}
	f.handler.HandleUpdate(context.Background(), message(2, allowedChat, reelURL))
	texts = f.api.Texts()
	assert.Equal(t, telegram.RenderNotFound("只有風景"), texts[len(texts)-1])
}

func TestHandlerCommands(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	f.handler.HandleUpdate(ctx, message(1, allowedChat, "/start"))
	f.handler.HandleUpdate(ctx, message(2, allowedChat, "/help@PlaceBot"))
	texts := f.api.Texts()
	require.Len(t, texts, 2)
	assert.Equal(t, telegram.MsgWelcome, texts[0])
	assert.Equal(t, telegram.MsgHelp, texts[1])

	// Commands are not content: the same id may be reused without dedup.
	f.handler.HandleUpdate(ctx, message(1, allowedChat, "/start"))
	assert.Len(t, f.api.Texts(), 3)
}

func TestHandlerMyChatIDWorksForEveryone(t *testing.T) {
	f := newHandlerFixture(t)

	f.handler.HandleUpdate(context.Background(), message(1, 7, "/mychatid"))

	texts := f.api.Texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "`7`")
	assert.Contains(t, texts[0], "Mei")
}

func TestHandlerListPlaces(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	f.handler.HandleUpdate(ctx, message(1, allowedChat, "/list"))
	assert.Equal(t, "💭 尚未儲存任何地點", f.api.Texts()[0])

	rec := model.NewPlaceRecord("ig:abc123", &model.CandidatePlace{Name: "Blue Door Café", City: "Taipei", ChatID: allowedChat}, nil)
	_, err := f.store.Upsert(ctx, rec)
	require.NoError(t, err)

	f.handler.HandleUpdate(ctx, message(2, allowedChat, "/list Taipei"))
	texts := f.api.Texts()
	assert.Contains(t, texts[1], "*Blue Door Café*")
}

func TestHandlerFramesCommand(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	f.handler.HandleUpdate(ctx, message(1, allowedChat, "/frames"))
	sent := f.api.Calls("sendMessage")
	require.Len(t, sent, 1)
	assert.NotNil(t, sent[0].Params["reply_markup"])
	assert.Contains(t, sent[0].Params["text"], "`normal`")

	f.handler.HandleUpdate(ctx, message(2, allowedChat, "/frames fast"))
	assert.Equal(t, "fast", f.settings.CurrentMode())
	assert.Equal(t, "✅ 已切換至 fast 模式\n⏱️ 每 3.0 秒截取一幀", f.api.Texts()[1])

	f.handler.HandleUpdate(ctx, message(3, allowedChat, "/frames 99"))
	assert.Equal(t, "fast", f.settings.CurrentMode())
	assert.Contains(t, f.api.Texts()[2], "無效的模式")
}

func TestHandlerFramesCallback(t *testing.T) {
	f := newHandlerFixture(t)

	f.handler.HandleUpdate(context.Background(), callback("frames_auto", 50))

	assert.True(t, f.settings.AutoMode())
	assert.Len(t, f.api.Calls("answerCallbackQuery"), 1)
	edits := f.api.Calls("editMessageText")
	require.Len(t, edits, 1)
	assert.Equal(t, float64(50), edits[0].Params["message_id"])
	assert.Contains(t, edits[0].Params["text"], "已切換至 *auto* 模式")
}

func TestHandlerSaveListFlow(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	f.handler.HandleUpdate(ctx, message(1, allowedChat, "/savelist"))
	edits := f.api.Calls("editMessageText")
	require.Len(t, edits, 1)
	assert.Contains(t, edits[0].Params["text"], "請選擇要儲存地點的目標清單")
	assert.NotNil(t, edits[0].Params["reply_markup"])

	f.handler.HandleUpdate(ctx, callback("savelist_select_1", 101))
	assert.Equal(t, "咖啡", f.settings.GoogleMapsList())
	answers := f.api.Calls("answerCallbackQuery")
	require.Len(t, answers, 1)
	assert.Equal(t, "✅ 已選擇「咖啡」", answers[0].Params["text"])

	f.handler.HandleUpdate(ctx, callback("savelist_select_9", 101))
	assert.Equal(t, "咖啡", f.settings.GoogleMapsList())

	f.handler.HandleUpdate(ctx, message(2, allowedChat, "/savelist reset"))
	assert.Equal(t, "想去", f.settings.GoogleMapsList())

	f.handler.HandleUpdate(ctx, message(3, allowedChat, "/savelist 宵夜 清單"))
	assert.Equal(t, "宵夜 清單", f.settings.GoogleMapsList())
}

func TestHandlerSaveListWithoutLogin(t *testing.T) {
	f := newHandlerFixture(t)
	f.session.lists = nil

	f.handler.HandleUpdate(context.Background(), message(1, allowedChat, "/savelist"))

	edits := f.api.Calls("editMessageText")
	require.Len(t, edits, 1)
	assert.Contains(t, edits[0].Params["text"], "尚未登入 Google 帳戶")
}

func TestHandlerGoogleLoginAndLogout(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	f.handler.HandleUpdate(ctx, message(1, allowedChat, "/setup_google"))
	assert.True(t, f.session.loggedIn)
	texts := f.api.Texts()
	assert.Contains(t, texts[len(texts)-1], "登入成功")

	f.handler.HandleUpdate(ctx, message(2, allowedChat, "/logout_google"))
	assert.True(t, f.session.cleared)
	assert.Equal(t, "✅ 已清除 Google 登入狀態", f.api.Texts()[len(f.api.Texts())-1])

	f.session.enabled = false
	f.handler.HandleUpdate(ctx, message(3, allowedChat, "/setup_google"))
	assert.Contains(t, f.api.Texts()[len(f.api.Texts())-1], "未啟用")
}

func TestHandlerDispatchAndWait(t *testing.T) {
	f := newHandlerFixture(t)
	f.ingest.report = foundReport()

	for i := int64(1); i <= 3; i++ {
		f.handler.Dispatch(context.Background(), message(i, allowedChat, fmt.Sprintf("https://www.instagram.com/p/post%d/", i)))
	}
	f.handler.Wait()

	assert.Len(t, f.ingest.Links(), 3)
	assert.Len(t, f.api.Calls("sendMessage"), 3)
}

func TestHandlerSurvivesSendFailures(t *testing.T) {
	f := newHandlerFixture(t)
	f.api.script("sendMessage", `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`)
	f.ingest.report = foundReport()

	f.handler.HandleUpdate(context.Background(), message(1, allowedChat, reelURL))

	assert.Len(t, f.ingest.Links(), 1)
	assert.Empty(t, f.api.Calls("editMessageText"))
}
