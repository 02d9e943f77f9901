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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jaycherian/gcp-go-place-saver/internal/cloud"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/commands"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/cor"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/model"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/services"
	"github.com/jaycherian/gcp-go-place-saver/internal/dedup"
	"github.com/jaycherian/gcp-go-place-saver/internal/settings"
)

const (
	DefaultIngestTimeout = 5 * time.Minute
	listLimit            = 10

	callbackFrames          = "frames_"
	callbackSaveListRefresh = "savelist_refresh"
	callbackSaveListSelect  = "savelist_select_"
)

// Replies.
const (
	MsgUnauthorized = "⛔ 未授權的使用者"
	MsgProcessing   = "⏳ 正在處理..."
	MsgInvalidLink  = "❌ 請傳送有效的 Instagram 或 Threads 連結\n" +
		"支援格式：\n" +
		"• instagram.com/reel/xxx\n" +
		"• instagram.com/p/xxx\n" +
		"• threads.net/@user/post/xxx"
	MsgWelcome = "🗺️ 探索地圖 Bot\n\n" +
		"歡迎使用！傳送 Instagram Reels 或 Threads 連結給我，我會：\n\n" +
		"1. 分析影片內容\n" +
		"2. 擷取餐廳/景點/店家資訊\n" +
		"3. 提供 Google Maps 連結\n" +
		"4. 自動儲存至你的 Maps 清單 ✨\n\n" +
		"指令：\n" +
		"/start - 顯示說明\n" +
		"/list [城市] - 查看已儲存的地點\n" +
		"/frames - 切換分析幀數模式\n" +
		"/savelist - 切換 Google Maps 儲存清單\n" +
		"/setup_google - 設定 Google Maps 自動儲存\n" +
		"/logout_google - 清除 Google 登入狀態\n" +
		"/mychatid - 查詢你的 Chat ID\n" +
		"/help - 使用說明"
	MsgHelp = "✨ 使用說明\n\n" +
		"支援的連結格式：\n" +
		" https://instagram.com/reel/xxx\n" +
		" https://instagram.com/reels/xxx\n" +
		" https://instagram.com/p/xxx\n" +
		" https://www.threads.net/@user/post/xxx\n\n" +
		"處理流程：\n" +
		"1. 下載內容\n" +
		"2. 語音轉文字\n" +
		"3. 畫面分析\n" +
		"4. 擷取店家資訊\n" +
		"5. 搜尋 Google Maps\n\n" +
		"設定指令：\n" +
		"• /frames - 設定影片分析幀數\n" +
		"• /savelist - 設定 Google Maps 儲存清單\n\n" +
		"注意事項：\n" +
		" 處理時間約 1-3 分鐘\n" +
		" 結果準確度取決於影片內容清晰度"
)

var stageMessages = map[string]string{
	commands.StepDownload:    "🎬 正在下載內容...",
	commands.StepOpenGraph:   "🖼️ 正在嘗試其他方式...",
	commands.StepAudioFrames: "🎞️ 正在擷取語音與畫面...",
	commands.StepAnalyze:     "🎤👁️ 正在分析語音與畫面...",
	commands.StepExtract:     "🔍 正在擷取地點資訊...",
	commands.StepLookup:      "🗺️ 正在搜尋 Google Maps...",
}

// Ingestor runs the end-to-end flow for one content link.
type Ingestor interface {
	Ingest(ctx context.Context, link *model.ContentLink) *model.IngestReport
}

// LinkResolver finds the content link in a message.
type LinkResolver interface {
	Resolve(ctx context.Context, text string) (*model.ContentLink, error)
}

// SaveSession is the part of the Google Maps save session the chat drives.
type SaveSession interface {
	IsEnabled() bool
	IsLoggedIn() bool
	InteractiveLogin(ctx context.Context) model.SaveOutcome
	ClearSession() bool
	SavedLists(ctx context.Context) ([]string, model.SaveOutcome)
}

// PlaceLister answers /list.
type PlaceLister interface {
	Recent(ctx context.Context, chatID int64, city string, limit int) ([]*model.PlaceRecord, error)
}

// HandlerDeps are the collaborators of the Handler. Session and Places may
// be nil.
type HandlerDeps struct {
	Client        *Client
	Dedup         *dedup.Deduplicator
	AllowedChats  cloud.ChatIDList
	Ingest        Ingestor
	Resolver      LinkResolver
	Session       SaveSession
	Settings      *settings.Store
	Places        PlaceLister
	IngestTimeout time.Duration
}

// Handler turns updates into bot behaviour.
//
// Logic Flow:
//  1. Callback queries drive the inline keyboards of /frames and /savelist.
//  2. Commands are answered directly, after the authorization check.
//  3. Any other message is a content message: it must pass the
//     deduplicator and the authorization check, then the ingest runs with a
//     status message edited at every stage and finally replaced by the result.
type Handler struct {
	HandlerDeps
	botID atomic.Int64
	wg    sync.WaitGroup

	mu    sync.Mutex
	lists map[int64][]string
}

func NewHandler(deps HandlerDeps) *Handler {
	if deps.Dedup == nil {
		deps.Dedup = dedup.New(dedup.DefaultCapacity, 0)
	}
	if deps.IngestTimeout <= 0 {
		deps.IngestTimeout = DefaultIngestTimeout
	}
	return &Handler{HandlerDeps: deps, lists: make(map[int64][]string)}
}

// SetBotID records the bot's own user id, learned from getMe.
func (h *Handler) SetBotID(id int64) {
	h.botID.Store(id)
	h.Dedup.SetBotID(id)
}

// Dispatch handles u in its own goroutine. ctx must outlive the request
// that delivered the update.
func (h *Handler) Dispatch(ctx context.Context, u Update) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.HandleUpdate(ctx, u)
	}()
}

// Wait blocks until every dispatched update is handled.
func (h *Handler) Wait() {
	h.wg.Wait()
}

// HandleUpdate handles one update synchronously.
func (h *Handler) HandleUpdate(ctx context.Context, u Update) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "update handler panicked", "update_id", u.UpdateID, "panic", r)
		}
	}()

	if u.CallbackQuery != nil {
		h.handleCallback(ctx, u.CallbackQuery)
		return
	}
	ev, ok := ToInboundEvent(u, h.botID.Load())
	if !ok {
		return
	}
	if name, args, isCommand := ParseCommand(ev.Text); isCommand && !ev.IsEdit && !ev.FromSelf {
		h.handleCommand(ctx, u.Message, name, args)
		return
	}
	h.handleContent(ctx, ev)
}

func (h *Handler) authorized(chatID int64) bool {
	return h.AllowedChats.Allows(chatID)
}

func (h *Handler) reply(ctx context.Context, chatID int64, text string, opts *MessageOptions) *Message {
	m, err := h.Client.SendMessage(ctx, chatID, text, opts)
	if err != nil {
		slog.ErrorContext(ctx, "failed to send message", "chat_id", chatID, "error", err)
		return nil
	}
	return m
}

func (h *Handler) edit(ctx context.Context, m *Message, text string, opts *MessageOptions) {
	if m == nil {
		return
	}
	if err := h.Client.EditMessageText(ctx, m.Chat.ID, m.MessageID, text, opts); err != nil {
		slog.WarnContext(ctx, "failed to edit message", "chat_id", m.Chat.ID, "message_id", m.MessageID, "error", err)
	}
}

func markdown() *MessageOptions {
	return &MessageOptions{ParseMode: ParseModeMarkdownV2, DisableWebPagePreview: true}
}

// handleContent processes a message that may carry a content link.
func (h *Handler) handleContent(ctx context.Context, ev model.InboundEvent) {
	if !h.Dedup.Admit(ev) {
		slog.DebugContext(ctx, "event not admitted", "message_id", ev.ID, "chat_id", ev.ChatID)
		return
	}
	slog.InfoContext(ctx, "processing message", "message_id", ev.ID, "chat_id", ev.ChatID)
	if !h.authorized(ev.ChatID) {
		h.reply(ctx, ev.ChatID, MsgUnauthorized, nil)
		return
	}

	link, err := h.Resolver.Resolve(ctx, ev.Text)
	if err != nil {
		if !errors.Is(err, services.ErrNoContentLink) {
			slog.WarnContext(ctx, "failed to resolve link", "message_id", ev.ID, "error", err)
		}
		h.reply(ctx, ev.ChatID, MsgInvalidLink, nil)
		return
	}
	link.ChatID = ev.ChatID

	status := h.reply(ctx, ev.ChatID, MsgProcessing, nil)

	runCtx, cancel := context.WithTimeout(ctx, h.IngestTimeout)
	defer cancel()
	runCtx = cor.WithProgress(runCtx, func(step string) {
		if text, ok := stageMessages[step]; ok {
			h.edit(ctx, status, text, nil)
		}
	})

	report := h.Ingest.Ingest(runCtx, link)
	switch {
	case len(report.Errors) > 0:
		h.edit(ctx, status, RenderFailure(report.Errors[0]), nil)
	case report.Extraction == nil || !report.Extraction.Found || len(report.Reports) == 0:
		notes := ""
		if report.Extraction != nil {
			notes = report.Extraction.Notes
		}
		h.edit(ctx, status, RenderNotFound(notes), nil)
	default:
		h.edit(ctx, status, RenderReports(report.Reports), markdown())
	}
	slog.InfoContext(ctx, "message processed", "message_id", ev.ID, "chat_id", ev.ChatID,
		"places", len(report.Reports), "duration", report.Duration)
}

func (h *Handler) handleCommand(ctx context.Context, msg *Message, name string, args []string) {
	chatID := msg.Chat.ID
	if !h.authorized(chatID) && name != "mychatid" {
		h.reply(ctx, chatID, MsgUnauthorized, nil)
		return
	}
	switch name {
	case "start":
		h.reply(ctx, chatID, MsgWelcome, nil)
	case "help":
		h.reply(ctx, chatID, MsgHelp, nil)
	case "mychatid":
		h.reply(ctx, chatID, renderChatID(msg), &MessageOptions{ParseMode: ParseModeMarkdownV2})
	case "list":
		h.listPlaces(ctx, chatID, strings.Join(args, " "))
	case "frames":
		h.frames(ctx, chatID, args)
	case "savelist":
		h.saveList(ctx, chatID, strings.Join(args, " "))
	case "setup_google":
		h.setupGoogle(ctx, chatID)
	case "logout_google":
		h.logoutGoogle(ctx, chatID)
	default:
		slog.DebugContext(ctx, "unknown command", "command", name, "chat_id", chatID)
	}
}

func renderChatID(msg *Message) string {
	text := fmt.Sprintf("🆔 *你的 Chat ID：* `%d`\n", msg.Chat.ID)
	if msg.From != nil {
		text += "👤 *使用者：* " + EscapeMarkdown(msg.From.FullName()) + "\n"
		if msg.From.Username != "" {
			text += "📛 *Username：* @" + EscapeMarkdown(msg.From.Username) + "\n"
		}
	}
	return text + "\n" + EscapeMarkdown("請將 Chat ID 提供給 Bot 管理員以取得使用權限。")
}

func (h *Handler) listPlaces(ctx context.Context, chatID int64, city string) {
	if h.Places == nil {
		h.reply(ctx, chatID, RenderPlaceList(nil), markdown())
		return
	}
	records, err := h.Places.Recent(ctx, chatID, strings.TrimSpace(city), listLimit)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list places", "chat_id", chatID, "error", err)
		h.reply(ctx, chatID, "❌ 無法讀取地點清單", nil)
		return
	}
	h.reply(ctx, chatID, RenderPlaceList(records), markdown())
}

func (h *Handler) frames(ctx context.Context, chatID int64, args []string) {
	if len(args) == 0 {
		footer := "💡 點擊下方按鈕快速切換模式，或輸入 `/frames 1\\.5` 自訂間隔"
		h.reply(ctx, chatID, RenderFrames(h.Settings, footer),
			&MessageOptions{ParseMode: ParseModeMarkdownV2, ReplyMarkup: FramesKeyboard(h.Settings.CurrentMode())})
		return
	}
	if err := h.Settings.SetFrameMode(args[0]); err != nil {
		h.reply(ctx, chatID, "❌ 無效的模式\n\n可用選項：auto、fast、normal、detailed 或 0.5-10 之間的數字", nil)
		return
	}
	h.reply(ctx, chatID, frameSwitched(h.Settings), nil)
}

func frameSwitched(s *settings.Store) string {
	if s.AutoMode() {
		return fmt.Sprintf("✅ 已切換至 %s 模式\n📊 根據影片長度自動決定 8-10 幀", s.CurrentMode())
	}
	return fmt.Sprintf("✅ 已切換至 %s 模式\n⏱️ 每 %s 秒截取一幀", s.CurrentMode(), settings.FormatSeconds(s.FrameInterval()))
}

func (h *Handler) saveList(ctx context.Context, chatID int64, arg string) {
	arg = strings.TrimSpace(arg)
	switch {
	case strings.EqualFold(arg, "reset"):
		if err := h.Settings.ResetGoogleMapsList(); err != nil {
			slog.ErrorContext(ctx, "failed to reset list", "error", err)
		}
		h.reply(ctx, chatID, fmt.Sprintf("✅ 已恢復預設清單「%s」", h.Settings.GoogleMapsList()), nil)
		return
	case arg != "":
		if err := h.Settings.SetGoogleMapsList(arg); err != nil {
			h.reply(ctx, chatID, "❌ 清單名稱不可為空白", nil)
			return
		}
		h.reply(ctx, chatID, fmt.Sprintf("✅ 已切換至「%s」清單", h.Settings.GoogleMapsList()), nil)
		return
	}

	loading := h.reply(ctx, chatID, "⏳ 正在讀取 Google Maps 清單...", nil)
	text, kb := h.loadLists(ctx, chatID)
	h.edit(ctx, loading, text, &MessageOptions{ParseMode: ParseModeMarkdownV2, ReplyMarkup: kb})
}

// loadLists reads the Google Maps lists and renders the /savelist card.
func (h *Handler) loadLists(ctx context.Context, chatID int64) (string, *InlineKeyboardMarkup) {
	current := h.Settings.GoogleMapsList()
	var lists []string
	outcome := model.SaveOutcome{Status: model.SaveDisabled, Message: "Google Maps 自動儲存功能未啟用"}
	if h.Session != nil {
		lists, outcome = h.Session.SavedLists(ctx)
	}
	if len(lists) == 0 {
		msg := orDefault(outcome.Message, "無法讀取清單")
		body := "⚠️ " + EscapeMarkdown(msg) + "\n\n請確認：\n• 已執行 `/setup_google` 登入 Google 帳戶\n• Google Maps 中有建立至少一個清單"
		return RenderSaveList(current, body), SaveListKeyboard(nil, current)
	}
	h.mu.Lock()
	h.lists[chatID] = lists
	h.mu.Unlock()
	return RenderSaveList(current, "請選擇要儲存地點的目標清單："), SaveListKeyboard(lists, current)
}

func (h *Handler) setupGoogle(ctx context.Context, chatID int64) {
	switch {
	case h.Session == nil || !h.Session.IsEnabled():
		h.reply(ctx, chatID, "⚠️ Google Maps 自動儲存功能未啟用\n\n請設定 GOOGLE_MAPS_SAVE_ENABLED=true", nil)
		return
	case h.Session.IsLoggedIn():
		h.reply(ctx, chatID, "✅ 已登入 Google 帳戶\n\n如需重新登入，請先執行 /logout_google", nil)
		return
	}
	status := h.reply(ctx, chatID, "🔐 正在開啟瀏覽器...\n\n"+
		"請在彈出的瀏覽器視窗中登入 Google 帳戶。\n"+
		"登入成功後將自動儲存登入狀態。\n\n"+
		"⏱️ 請在 5 分鐘內完成登入。", nil)

	outcome := h.Session.InteractiveLogin(ctx)
	if outcome.Success() {
		h.edit(ctx, status, fmt.Sprintf("✅ %s\n\n現在處理的地點將自動儲存至「%s」清單。", outcome.Message, h.Settings.GoogleMapsList()), nil)
		return
	}
	h.edit(ctx, status, "❌ "+outcome.Message, nil)
}

func (h *Handler) logoutGoogle(ctx context.Context, chatID int64) {
	if h.Session != nil && h.Session.ClearSession() {
		h.reply(ctx, chatID, "✅ 已清除 Google 登入狀態", nil)
		return
	}
	h.reply(ctx, chatID, "ℹ️ 沒有已儲存的登入狀態", nil)
}

func (h *Handler) answer(ctx context.Context, q *CallbackQuery, text string) {
	if err := h.Client.AnswerCallbackQuery(ctx, q.ID, text); err != nil {
		slog.WarnContext(ctx, "failed to answer callback", "error", err)
	}
}

// handleCallback handles the inline keyboard buttons.
func (h *Handler) handleCallback(ctx context.Context, q *CallbackQuery) {
	if q.Message == nil {
		h.answer(ctx, q, "")
		return
	}
	chatID := q.Message.Chat.ID
	if !h.authorized(chatID) {
		h.answer(ctx, q, MsgUnauthorized)
		return
	}

	switch {
	case strings.HasPrefix(q.Data, callbackFrames):
		h.answer(ctx, q, "")
		mode := strings.TrimPrefix(q.Data, callbackFrames)
		if err := h.Settings.SetFrameMode(mode); err != nil {
			h.edit(ctx, q.Message, "❌ 切換失敗", nil)
			return
		}
		current := h.Settings.CurrentMode()
		footer := fmt.Sprintf("✅ 已切換至 *%s* 模式", EscapeMarkdown(current))
		h.edit(ctx, q.Message, RenderFrames(h.Settings, footer),
			&MessageOptions{ParseMode: ParseModeMarkdownV2, ReplyMarkup: FramesKeyboard(current)})

	case q.Data == callbackSaveListRefresh:
		h.answer(ctx, q, "正在重新讀取...")
		h.edit(ctx, q.Message, "⏳ 正在重新讀取 Google Maps 清單...", nil)
		text, kb := h.loadLists(ctx, chatID)
		h.edit(ctx, q.Message, text, &MessageOptions{ParseMode: ParseModeMarkdownV2, ReplyMarkup: kb})

	case strings.HasPrefix(q.Data, callbackSaveListSelect):
		index, err := strconv.Atoi(strings.TrimPrefix(q.Data, callbackSaveListSelect))
		h.mu.Lock()
		lists := h.lists[chatID]
		h.mu.Unlock()
		if err != nil || index < 0 || index >= len(lists) {
			h.answer(ctx, q, "❌ 無效的選擇，請重新讀取")
			return
		}
		selected := lists[index]
		if err := h.Settings.SetGoogleMapsList(selected); err != nil {
			h.answer(ctx, q, "❌ 發生錯誤，請重新讀取")
			return
		}
		h.answer(ctx, q, fmt.Sprintf("✅ 已選擇「%s」", selected))
		body := fmt.Sprintf("✅ 已切換至「%s」清單", EscapeMarkdown(selected))
		h.edit(ctx, q.Message, RenderSaveList(selected, body),
			&MessageOptions{ParseMode: ParseModeMarkdownV2, ReplyMarkup: SaveListKeyboard(lists, selected)})

	default:
		h.answer(ctx, q, "")
	}
}
