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
	"fmt"
	"strconv"
	"strings"

	"github.com/jaycherian/gcp-go-place-saver/internal/core/commands"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/model"
	"github.com/jaycherian/gcp-go-place-saver/internal/settings"
)

const markdownSpecials = "_*[]()~`>#+-=|{}.!\\"

// EscapeMarkdown escapes every MarkdownV2 special character in text.
func EscapeMarkdown(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if strings.ContainsRune(markdownSpecials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

var confidenceEmoji = map[string]string{
	"high":   "✅",
	"medium": "🟡",
	"low":    "🟠",
}

var stepLabels = map[string]string{
	commands.StepVerify:    "Google Maps 查詢",
	commands.StepPersist:   "資料庫儲存",
	commands.StepSyncSheet: "Google Sheets 同步",
}

func formatFloat(v float64) string {
	return EscapeMarkdown(strconv.FormatFloat(v, 'f', -1, 64))
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// RenderNotFound is the reply when the content mentions no place.
func RenderNotFound(notes string) string {
	return "❓ 無法辨識為餐廳/景點相關內容\n\n📝 備註：" + orDefault(notes, "無法從內容中擷取地點資訊")
}

// RenderFailure is the reply when the ingest could not finish.
func RenderFailure(reason string) string {
	runes := []rune(reason)
	if len(runes) > 100 {
		reason = string(runes[:100])
	}
	return "❌ 處理失敗：" + reason
}

// RenderReports renders the commit reports of one ingest as MarkdownV2. A
// single place gets the detailed card, several places the compact list.
func RenderReports(reports []*model.CommitReport) string {
	var lines []string
	if len(reports) == 1 {
		lines = renderSingle(reports[0])
	} else {
		lines = renderMany(reports)
	}
	for _, r := range reports {
		if r.Succeeded(commands.StepSyncSheet) {
			lines = append(lines, "📊 已同步到 Google Sheets")
			break
		}
	}
	return strings.Join(lines, "\n")
}

func renderSingle(r *model.CommitReport) []string {
	c := r.Candidate
	v := r.Verified
	if v == nil {
		v = &model.VerifiedPlace{}
	}
	confidence := orDefault(c.Confidence, "low")

	lines := []string{"✨ *擷取完成！*", ""}
	lines = append(lines, "🏪 *地點名稱：* "+EscapeMarkdown(orDefault(c.Name, "未知")))
	if c.NameEn != "" {
		lines = append(lines, "🆎 *英文名：* "+EscapeMarkdown(c.NameEn))
	}
	lines = append(lines, fmt.Sprintf("📍 *地區：* %s, %s", EscapeMarkdown(orDefault(c.City, "未知")), EscapeMarkdown(c.Country)))
	lines = append(lines, "🏷️ *類型：* "+EscapeMarkdown(orDefault(strings.Join(c.PlaceTypes, ", "), "未分類")))
	if len(c.Highlights) > 0 {
		lines = append(lines, "⭐ *亮點：* "+EscapeMarkdown(strings.Join(c.Highlights, ", ")))
	}
	if c.PriceRange != "" {
		lines = append(lines, "💰 *價位：* "+EscapeMarkdown(c.PriceRange))
	}
	if c.Recommendation != "" {
		lines = append(lines, "💬 *推薦原因：* "+EscapeMarkdown(c.Recommendation))
	}
	lines = append(lines, "", fmt.Sprintf("%s *辨識信心度：* %s", confidenceEmoji[confidence], EscapeMarkdown(confidence)), "")
	lines = append(lines, "🗺️ *Google Maps：*", EscapeMarkdown(v.GoogleMapsURL), "")
	if v.Rating != nil {
		reviews := 0
		if v.ReviewCount != nil {
			reviews = *v.ReviewCount
		}
		lines = append(lines, fmt.Sprintf("⭐ 評分：%s \\(%d 則評論\\)", formatFloat(*v.Rating), reviews))
	}
	if address := orDefault(v.Address, c.Address); address != "" {
		lines = append(lines, "🏠 地址："+EscapeMarkdown(address))
	}
	if r.Save != nil {
		switch r.Save.Status {
		case model.SaveSaved:
			lines = append(lines, fmt.Sprintf("💾 已儲存至「%s」", EscapeMarkdown(r.Save.ListName)))
		case model.SaveAlreadySaved:
			lines = append(lines, fmt.Sprintf("ℹ️ 已在「%s」清單中", EscapeMarkdown(r.Save.ListName)))
		case model.SaveFailed:
			lines = append(lines, "⚠️ 儲存失敗："+EscapeMarkdown(r.Save.Message))
		}
	}
	return append(lines, stepWarnings(r, "")...)
}

func renderMany(reports []*model.CommitReport) []string {
	lines := []string{fmt.Sprintf("✨ *擷取完成！找到 %d 個地點*", len(reports)), ""}
	for i, r := range reports {
		c := r.Candidate
		lines = append(lines, fmt.Sprintf("*%d\\. %s* %s", i+1, EscapeMarkdown(orDefault(c.Name, "未知")), confidenceEmoji[c.Confidence]))
		if c.City != "" {
			lines = append(lines, "   📍 "+EscapeMarkdown(c.City))
		}
		if len(c.PlaceTypes) > 0 {
			types := c.PlaceTypes
			if len(types) > 2 {
				types = types[:2]
			}
			lines = append(lines, "   🏷️ "+EscapeMarkdown(strings.Join(types, ", ")))
		}
		if r.Verified != nil {
			if r.Verified.Rating != nil {
				lines = append(lines, "   ⭐ "+formatFloat(*r.Verified.Rating))
			}
			if r.Verified.GoogleMapsURL != "" {
				lines = append(lines, "   🗺️ "+EscapeMarkdown(r.Verified.GoogleMapsURL))
			}
		}
		if r.Save != nil {
			switch r.Save.Status {
			case model.SaveSaved:
				lines = append(lines, "   💾 已儲存")
			case model.SaveAlreadySaved:
				lines = append(lines, "   ℹ️ 已在清單中")
			}
		}
		lines = append(lines, stepWarnings(r, "   ")...)
		lines = append(lines, "")
	}
	return lines
}

func stepWarnings(r *model.CommitReport, indent string) []string {
	var out []string
	for _, s := range r.Steps {
		label, ok := stepLabels[s.Name]
		if ok && s.Status == model.StepFailed {
			out = append(out, indent+"⚠️ "+EscapeMarkdown(label+"失敗"))
		}
	}
	return out
}

// RenderPlaceList renders the /list reply.
func RenderPlaceList(records []*model.PlaceRecord) string {
	if len(records) == 0 {
		return "💭 尚未儲存任何地點"
	}
	var b strings.Builder
	b.WriteString("📍 *最近儲存的地點：*\n\n")
	for i, p := range records {
		fmt.Fprintf(&b, "%d\\. *%s*", i+1, EscapeMarkdown(p.Name))
		if p.City != "" {
			fmt.Fprintf(&b, " \\(%s\\)", EscapeMarkdown(p.City))
		}
		if len(p.PlaceTypes) > 0 {
			b.WriteString("\n    " + EscapeMarkdown(strings.Join(p.PlaceTypes, ", ")))
		}
		if p.GoogleMapsURL != "" {
			fmt.Fprintf(&b, "\n    [Google Maps](%s)", escapeLinkURL(p.GoogleMapsURL))
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

// escapeLinkURL escapes the characters MarkdownV2 reserves inside (...).
func escapeLinkURL(u string) string {
	return strings.NewReplacer("\\", "\\\\", ")", "\\)").Replace(u)
}

// Frame mode keyboard and texts.

var frameButtons = [][]struct{ label, mode string }{
	{{"🤖 Auto", "auto"}, {"⚡ Fast", "fast"}},
	{{"📊 Normal", "normal"}, {"🔍 Detailed", "detailed"}},
}

// FramesKeyboard marks the active mode with a check.
func FramesKeyboard(current string) *InlineKeyboardMarkup {
	kb := &InlineKeyboardMarkup{}
	for _, row := range frameButtons {
		buttons := make([]InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			label := b.label
			if b.mode == current {
				label += " ✓"
			}
			buttons = append(buttons, InlineKeyboardButton{Text: label, CallbackData: callbackFrames + b.mode})
		}
		kb.InlineKeyboard = append(kb.InlineKeyboard, buttons)
	}
	return kb
}

// RenderFrames describes the frame settings.
func RenderFrames(s *settings.Store, footer string) string {
	desc := "根據影片長度自動決定 8\\-10 幀"
	if !s.AutoMode() {
		desc = fmt.Sprintf("每 `%s` 秒截取一幀", EscapeMarkdown(settings.FormatSeconds(s.FrameInterval())))
	}
	return fmt.Sprintf("⚙️ *影片分析幀數設定*\n\n📊 *目前模式：* `%s`\n⏱️ *說明：* %s\n\n%s",
		EscapeMarkdown(s.CurrentMode()), desc, footer)
}

// SaveListKeyboard lays the lists out two per row, marks the current one and
// ends with a refresh button.
func SaveListKeyboard(lists []string, current string) *InlineKeyboardMarkup {
	kb := &InlineKeyboardMarkup{}
	var row []InlineKeyboardButton
	for i, name := range lists {
		label := name
		if name == current {
			label = "✓ " + name
		}
		row = append(row, InlineKeyboardButton{Text: label, CallbackData: fmt.Sprintf("%s%d", callbackSaveListSelect, i)})
		if len(row) == 2 {
			kb.InlineKeyboard = append(kb.InlineKeyboard, row)
			row = nil
		}
	}
	if len(row) > 0 {
		kb.InlineKeyboard = append(kb.InlineKeyboard, row)
	}
	kb.InlineKeyboard = append(kb.InlineKeyboard, []InlineKeyboardButton{{Text: "🔄 重新讀取", CallbackData: callbackSaveListRefresh}})
	return kb
}

// RenderSaveList is the /savelist card.
func RenderSaveList(current, body string) string {
	return fmt.Sprintf("📋 *Google Maps 儲存清單設定*\n\n📍 *目前清單：* `%s`\n\n%s", EscapeMarkdown(current), body)
}
