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

// Package services contains the clients for the external systems a committed
// place touches. This file, `links.go`, turns user text into a content link,
// following instagram.com/share/ redirects to the canonical post URL.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jaycherian/gcp-go-place-saver/internal/core/model"
)

// DefaultResolveUserAgent is a desktop browser, which share links redirect
// to the full post page for.
const DefaultResolveUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var (
	ErrNoContentLink = errors.New("no supported content link")
	ErrUnresolvable  = errors.New("share link did not resolve to a post")
)

// LinkResolver finds content links in text.
type LinkResolver struct {
	client *resty.Client
}

// NewLinkResolver creates a resolver. An empty userAgent uses
// DefaultResolveUserAgent.
func NewLinkResolver(userAgent string) *LinkResolver {
	if userAgent == "" {
		userAgent = DefaultResolveUserAgent
	}
	client := resty.New().
		SetTimeout(15*time.Second).
		SetHeader("User-Agent", userAgent).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	return &LinkResolver{client: client}
}

// Resolve returns the content link in text, resolving share links.
func (r *LinkResolver) Resolve(ctx context.Context, text string) (*model.ContentLink, error) {
	if link, ok := model.FindContentLink(text); ok {
		return link, nil
	}
	share, ok := model.FindShareLink(text)
	if !ok {
		return nil, ErrNoContentLink
	}
	resp, err := r.client.R().SetContext(ctx).SetDoNotParseResponse(true).Get(share)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", share, err)
	}
	final := resp.RawResponse.Request.URL.String()
	_ = resp.RawBody().Close()
	if link, ok := model.FindContentLink(final); ok {
		return link, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnresolvable, model.NormalizeURL(final))
}
