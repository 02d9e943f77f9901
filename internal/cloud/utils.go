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

package cloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cenkalti/backoff/v4"
	"github.com/kelseyhightower/envconfig"
	"go.opentelemetry.io/otel/metric"
	"google.golang.org/genai"
)

const (
	ConfigFileBaseName  = ".env"
	ConfigFileExtension = ".toml"
	ConfigSeparator     = "."
	EnvConfigFilePrefix = "GCP_CONFIG_PREFIX"
	EnvConfigRuntime    = "GCP_RUNTIME"
	MaxRetries          = 3
)

// RetryInitialInterval is the first wait between generation attempts.
var RetryInitialInterval = 2 * time.Second

func fileExists(in string) bool {
	_, err := os.Stat(in)
	return !errors.Is(err, os.ErrNotExist)
}

// LoadConfig fills baseConfig from, in order of precedence:
//
//  1. the environment variables named by envconfig tags;
//  2. <GCP_CONFIG_PREFIX>/.env.<GCP_RUNTIME>.toml (runtime defaults to "test");
//  3. <GCP_CONFIG_PREFIX>/.env.toml.
//
// Missing files are skipped. Environment variables that are not set leave the
// file values alone.
func LoadConfig(baseConfig interface{}) error {
	prefix := os.Getenv(EnvConfigFilePrefix)
	if len(prefix) > 0 && !strings.HasSuffix(prefix, string(os.PathSeparator)) {
		prefix = prefix + string(os.PathSeparator)
	}
	runtime := os.Getenv(EnvConfigRuntime)
	if runtime == "" {
		runtime = "test"
	}

	baseFile := prefix + ConfigFileBaseName + ConfigFileExtension
	envFile := prefix + ConfigFileBaseName + ConfigSeparator + runtime + ConfigFileExtension

	for _, file := range []string{baseFile, envFile} {
		if !fileExists(file) {
			slog.Debug("configuration file not found", "file", file)
			continue
		}
		if _, err := toml.DecodeFile(file, baseConfig); err != nil {
			return fmt.Errorf("failed to decode configuration file %s: %w", file, err)
		}
		slog.Debug("configuration file loaded", "file", file)
	}

	if err := envconfig.Process("", baseConfig); err != nil {
		return fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	return nil
}

// ContentGenerator is the part of a generative model the workflows use.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, content []*genai.Content) (*genai.GenerateContentResponse, error)
}

// GenerateMultiModalResponse sends content to model, retrying failed calls
// with exponential backoff up to MaxRetries times. Token usage and retries are
// recorded on the given counters, any of which may be nil.
func GenerateMultiModalResponse(
	ctx context.Context,
	inputTokenCounter metric.Int64Counter,
	outputTokenCounter metric.Int64Counter,
	retryCounter metric.Int64Counter,
	model ContentGenerator,
	content []*genai.Content) (string, error) {

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = RetryInitialInterval
	policy.MaxElapsedTime = 2 * time.Minute

	attempt := 0
	resp, err := backoff.RetryWithData(func() (*genai.GenerateContentResponse, error) {
		if attempt > 0 && retryCounter != nil {
			retryCounter.Add(ctx, 1)
		}
		attempt++
		return model.GenerateContent(ctx, content)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, MaxRetries), ctx))
	if err != nil {
		return "", fmt.Errorf("generation failed after %d attempts: %w", attempt, err)
	}

	if resp.UsageMetadata != nil {
		if inputTokenCounter != nil {
			inputTokenCounter.Add(ctx, int64(resp.UsageMetadata.PromptTokenCount))
		}
		if outputTokenCounter != nil {
			outputTokenCounter.Add(ctx, int64(resp.UsageMetadata.CandidatesTokenCount))
		}
	}

	var sb strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}

// NewTextPart wraps text as a prompt part.
func NewTextPart(in string) *genai.Part {
	return &genai.Part{Text: in}
}

// NewFileData references a gs:// object as a prompt part.
func NewFileData(uri string, mimeType string) *genai.Part {
	return &genai.Part{FileData: &genai.FileData{FileURI: uri, MIMEType: mimeType}}
}

// NewInlineData embeds bytes as a prompt part.
func NewInlineData(data []byte, mimeType string) *genai.Part {
	return &genai.Part{InlineData: &genai.Blob{Data: data, MIMEType: mimeType}}
}

// NewUserContent builds a single user turn from parts.
func NewUserContent(parts ...*genai.Part) []*genai.Content {
	return []*genai.Content{{Role: genai.RoleUser, Parts: parts}}
}
