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

// Package cloud holds the configuration tree of the place saver and the
// clients for the Google Cloud services it talks to.
//
// Structs:
//   - Config: the root of the configuration, loaded from TOML then overlaid
//     with environment variables.
//   - ServiceClients: the shared container for GCS, Pub/Sub, GenAI and BigQuery.
//   - PubSubListener: runs a command for every message of a subscription.
//   - QuotaAwareGenerativeAIModel: a rate limited GenAI model.
package cloud

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jaycherian/gcp-go-place-saver/internal/savesession"
	"google.golang.org/genai"
)

// DefaultSafetySettings lets every content category through. Food and travel
// videos regularly trip the default thresholds (alcohol, knives, raw meat).
var DefaultSafetySettings = []*genai.SafetySetting{
	{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
}

// Model keys used by the extraction workflow.
const (
	ModelExtraction    = "extraction"
	ModelTranscription = "transcription"
	ModelVision        = "vision"
)

// ChatIDList is a list of chat ids. From the environment it is read as a
// comma separated list, where spaces and empty entries are ignored.
type ChatIDList []int64

// Decode implements envconfig.Decoder.
func (l *ChatIDList) Decode(value string) error {
	out := make(ChatIDList, 0)
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid chat id %q: %w", part, err)
		}
		out = append(out, id)
	}
	*l = out
	return nil
}

// Allows reports whether chatID may use the bot. An empty list allows all.
func (l ChatIDList) Allows(chatID int64) bool {
	if len(l) == 0 {
		return true
	}
	for _, id := range l {
		if id == chatID {
			return true
		}
	}
	return false
}

// PromptTemplates holds the text/template sources of the prompts.
type PromptTemplates struct {
	Extraction    string `toml:"extraction"`
	Transcription string `toml:"transcription"`
	Vision        string `toml:"vision"`
}

// VertexAiLLMModel configures one generative model.
type VertexAiLLMModel struct {
	Model              string  `toml:"model"`
	SystemInstructions string  `toml:"system_instructions"`
	Temperature        float32 `toml:"temperature"`
	TopP               float32 `toml:"top_p"`
	TopK               float32 `toml:"top_k"`
	MaxTokens          int32   `toml:"max_tokens"`
	OutputFormat       string  `toml:"output_format"`
	RateLimit          int     `toml:"rate_limit"`
}

// TopicSubscription configures a Pub/Sub subscription.
type TopicSubscription struct {
	Name             string `toml:"name"`
	DeadLetterTopic  string `toml:"dead_letter_topic"`
	TimeoutInSeconds int    `toml:"timeout_in_seconds"`
}

// Telegram configures the chat front-end.
type Telegram struct {
	BotToken        string     `toml:"bot_token" envconfig:"TELEGRAM_BOT_TOKEN"`
	AllowedChatIDs  ChatIDList `toml:"allowed_chat_ids" envconfig:"TELEGRAM_ALLOWED_CHAT_IDS"`
	WebhookURL      string     `toml:"webhook_url" envconfig:"WEBHOOK_URL"`
	APIBaseURL      string     `toml:"api_base_url"`
	PollTimeout     int        `toml:"poll_timeout_seconds"`
	RequestTimeout  int        `toml:"request_timeout_seconds"`
	IngestTimeout   int        `toml:"ingest_timeout_seconds"`
	DedupCapacity   int        `toml:"dedup_capacity"`
	MaxRetryElapsed int        `toml:"max_retry_elapsed_seconds"`
}

// Places configures the Places API (New) client.
type Places struct {
	APIKey            string  `toml:"api_key" envconfig:"GOOGLE_PLACES_API_KEY"`
	BaseURL           string  `toml:"base_url"`
	RegionCode        string  `toml:"region_code"`
	LanguageCode      string  `toml:"language_code"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
}

// Sheets configures the spreadsheet mirror.
type Sheets struct {
	CredentialsPath   string `toml:"credentials_path" envconfig:"GOOGLE_CREDENTIALS_PATH"`
	SpreadsheetID     string `toml:"spreadsheet_id" envconfig:"GOOGLE_SHEETS_ID"`
	SheetName         string `toml:"sheet_name"`
	ReconcileInterval int    `toml:"reconcile_interval_seconds"`
	ReconcileBatch    int    `toml:"reconcile_batch"`
}

// Store selects and configures the place store.
type Store struct {
	Driver      string `toml:"driver"`
	DatabaseURL string `toml:"database_url" envconfig:"DATABASE_URL"`
	Dataset     string `toml:"dataset"`
	Table       string `toml:"table"`
}

// Storage configures local and GCS media staging.
type Storage struct {
	TempDir       string `toml:"temp_dir" envconfig:"TEMP_VIDEO_DIR"`
	StagingBucket string `toml:"staging_bucket"`
	StagingPrefix string `toml:"staging_prefix"`
}

// Downloader configures the external media tools.
type Downloader struct {
	YtDlpPath        string  `toml:"yt_dlp_path"`
	FFmpegPath       string  `toml:"ffmpeg_path"`
	FFprobePath      string  `toml:"ffprobe_path"`
	TimeoutSeconds   int     `toml:"timeout_seconds"`
	VideoFormat      string  `toml:"video_format"`
	ScrapeUserAgent  string  `toml:"scrape_user_agent"`
	ResolveUserAgent string  `toml:"resolve_user_agent"`
	MaxFrames        int     `toml:"max_frames"`
	AutoFramesMin    int     `toml:"auto_frames_min"`
	AutoFramesMax    int     `toml:"auto_frames_max"`
	FrameWidth       int     `toml:"frame_width"`
	MaxImageBytes    int64   `toml:"max_image_bytes"`
	DefaultDuration  float64 `toml:"default_duration_seconds"`
}

// Config is the root of the configuration.
type Config struct {
	Application struct {
		Name             string `toml:"name"`
		Version          string `toml:"version"`
		GoogleProjectId  string `toml:"google_project_id"`
		GoogleLocation   string `toml:"location"`
		TelemetryEnabled bool   `toml:"telemetry_enabled"`
		Port             string `toml:"port" envconfig:"PORT"`
		LogFile          string `toml:"log_file"`
		SettingsPath     string `toml:"settings_path"`
		GeminiAPIKey     string `toml:"gemini_api_key" envconfig:"GEMINI_API_KEY"`
	} `toml:"application"`
	Telegram           Telegram                     `toml:"telegram"`
	Places             Places                       `toml:"places"`
	Sheets             Sheets                       `toml:"sheets"`
	Store              Store                        `toml:"store"`
	Storage            Storage                      `toml:"storage"`
	Downloader         Downloader                   `toml:"downloader"`
	SaveSession        savesession.Config           `toml:"save_session"`
	PromptTemplates    PromptTemplates              `toml:"prompt_templates" ignored:"true"`
	TopicSubscriptions map[string]TopicSubscription `toml:"topic_subscriptions" ignored:"true"`
	AgentModels        map[string]VertexAiLLMModel  `toml:"agent_models" ignored:"true"`
}

// NewConfig returns a Config with its maps allocated and the save session
// defaults in place.
func NewConfig() *Config {
	return &Config{
		SaveSession:        savesession.DefaultConfig(),
		TopicSubscriptions: make(map[string]TopicSubscription),
		AgentModels:        make(map[string]VertexAiLLMModel),
	}
}
