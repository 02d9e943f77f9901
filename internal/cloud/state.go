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

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"google.golang.org/genai"
)

// ErrNoGenAIBackend means neither a project id nor a Gemini API key is set.
var ErrNoGenAIBackend = errors.New("no generative AI backend configured: set application.google_project_id or GEMINI_API_KEY")

// ServiceClients is the dependency container for the external services.
// Clients the configuration does not need are left nil.
//
// Logic Flow:
//  1. GenAI always: Vertex AI when a project id is set, else the Gemini API.
//  2. Storage when a staging bucket is set.
//  3. Pub/Sub when subscriptions are configured (a listener per subscription).
//  4. BigQuery when the store driver is "bigquery".
type ServiceClients struct {
	StorageClient   *storage.Client
	PubsubClient    *pubsub.Client
	GenAIClient     *genai.Client
	BiqQueryClient  *bigquery.Client
	PubSubListeners map[string]*PubSubListener
	AgentModels     map[string]*QuotaAwareGenerativeAIModel
}

// Close releases the clients that were created.
func (c *ServiceClients) Close() {
	if c.StorageClient != nil {
		_ = c.StorageClient.Close()
	}
	if c.PubsubClient != nil {
		_ = c.PubsubClient.Close()
	}
	if c.BiqQueryClient != nil {
		_ = c.BiqQueryClient.Close()
	}
}

// Model returns the configured model named key.
func (c *ServiceClients) Model(key string) (*QuotaAwareGenerativeAIModel, error) {
	m, ok := c.AgentModels[key]
	if !ok {
		return nil, fmt.Errorf("agent model %q is not configured", key)
	}
	return m, nil
}

// NewCloudServiceClients creates the clients config asks for.
func NewCloudServiceClients(ctx context.Context, config *Config) (cloud *ServiceClients, err error) {
	cloud = &ServiceClients{
		PubSubListeners: make(map[string]*PubSubListener),
		AgentModels:     make(map[string]*QuotaAwareGenerativeAIModel),
	}
	defer func() {
		if err != nil {
			cloud.Close()
			cloud = nil
		}
	}()

	projectID := config.Application.GoogleProjectId
	var genaiConfig *genai.ClientConfig
	switch {
	case projectID != "":
		genaiConfig = &genai.ClientConfig{
			Project:  projectID,
			Location: config.Application.GoogleLocation,
			Backend:  genai.BackendVertexAI,
		}
	case config.Application.GeminiAPIKey != "":
		genaiConfig = &genai.ClientConfig{
			APIKey:  config.Application.GeminiAPIKey,
			Backend: genai.BackendGeminiAPI,
		}
	default:
		return nil, ErrNoGenAIBackend
	}
	gc, err := genai.NewClient(ctx, genaiConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	cloud.GenAIClient = gc
	slog.Info("genai client created", "backend", genaiConfig.Backend, "project", projectID)

	for key, values := range config.AgentModels {
		cloud.AgentModels[key] = NewQuotaAwareModel(NewModelConfig(values), values.Model, gc.Models, values.RateLimit)
	}

	if config.Storage.StagingBucket != "" {
		if cloud.StorageClient, err = storage.NewClient(ctx); err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
	}

	if len(config.TopicSubscriptions) > 0 && projectID != "" {
		if cloud.PubsubClient, err = pubsub.NewClient(ctx, projectID); err != nil {
			return nil, fmt.Errorf("failed to create pubsub client: %w", err)
		}
		for key, values := range config.TopicSubscriptions {
			listener, err := NewPubSubListener(cloud.PubsubClient, values.Name, nil)
			if err != nil {
				return nil, err
			}
			cloud.PubSubListeners[key] = listener
		}
	}

	if config.Store.Driver == "bigquery" {
		if projectID == "" {
			return nil, errors.New("the bigquery store needs application.google_project_id")
		}
		if cloud.BiqQueryClient, err = bigquery.NewClient(ctx, projectID); err != nil {
			return nil, fmt.Errorf("failed to create bigquery client: %w", err)
		}
	}

	return cloud, nil
}
