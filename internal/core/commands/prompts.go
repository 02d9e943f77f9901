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

package commands

import (
	"log/slog"
	"strings"
	"text/template"
)

// Fillers used in the extraction prompt when an input is empty.
const (
	NoCaption    = "（無貼文說明）"
	NoTranscript = "（無語音內容）"
	NoVisual     = "（無畫面描述）"
	NoAccount    = "（未知）"
)

// DefaultTranscriptionPrompt asks for a verbatim transcript of the audio.
const DefaultTranscriptionPrompt = `請將這段音訊逐字轉寫成文字。
- 保留原本的語言，中文請使用繁體中文。
- 店名、地名、菜名請盡量寫出正確的字。
- 只輸出轉寫內容，不要加上說明。若沒有人聲，請回覆空字串。`

// DefaultVisionPrompt asks for a description of the frames or images.
const DefaultVisionPrompt = `以下是一支{{if .IsVideo}}影片依時間順序擷取的畫面{{else}}貼文的圖片{{end}}。
請用繁體中文描述畫面中與地點有關的資訊：
- 招牌、菜單、門牌、地址或任何可辨識的文字（請照抄）
- 店內或景點的環境、食物、商品
- 可以推測城市或國家的線索（語言、貨幣、街景）
只輸出描述，不要猜測畫面中沒有的資訊。`

// DefaultExtractionPrompt turns the collected text into places JSON.
const DefaultExtractionPrompt = `你是一個專業的地點資訊擷取助手。請從以下影片或貼文內容中擷取所有餐廳、景點或店家資訊。
所有回覆內容必須使用繁體中文。

【貼文說明文】
{{.Caption}}

【語音內容】
{{.Transcript}}

【畫面描述】
{{.VisualDescription}}

【IG 帳號】
{{.Account}}

注意：
1. 一篇內容可能介紹多個地點（例如合集、多店家介紹），請全部列出。
2. 貼文說明文通常含有店名、地址、營業時間，請優先參考。
3. hashtag（#）可能包含地點名稱或城市名。

請只回覆一個 JSON 物件，欄位如下：
found（true 或 false）、places（陣列）、notes（備註）。
每個地點包含 name、name_en、city、country、address、place_type（陣列）、highlights（陣列）、
price_range（$ 到 $$$$）、recommendation、tags（陣列）、confidence（high、medium 或 low）、
search_keywords（可直接在 Google Maps 搜尋到該地點的關鍵字陣列）。

範例：
{{.ExampleJSON}}

規則：
1. 無法確定是地點相關內容時，found 設為 false，places 為空陣列。
2. 儘量從招牌、標示擷取正確名稱，並依口音、貨幣、語言、環境推測城市與國家。
3. 台灣的地點 city 請填城市名（如：台北、台中）。
4. confidence：high 為明確看到或聽到名稱且有地點線索；medium 為名稱或地點其一不確定；low 為資訊不完整的推測。`

// ParsePrompt parses src as the named template, falling back to def when src
// is blank. A broken template is a programming error and panics.
func ParsePrompt(name, src, def string) *template.Template {
	if strings.TrimSpace(src) == "" {
		src = def
	}
	t, err := template.New(name).Parse(src)
	if err != nil {
		slog.Error("failed to parse prompt template", "name", name, "error", err)
		panic(err)
	}
	return t
}
