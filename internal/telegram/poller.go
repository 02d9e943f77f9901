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
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// UpdateSource is the long-poll side of the Bot API.
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64) ([]Update, error)
}

// Dispatcher receives every polled update.
type Dispatcher interface {
	Dispatch(ctx context.Context, u Update)
}

// Poller pulls updates with getUpdates and hands them to a Dispatcher.
type Poller struct {
	source  UpdateSource
	handler Dispatcher
	offset  int64

	// MaxBackoff caps the wait between failed polls.
	MaxBackoff time.Duration
}

func NewPoller(source UpdateSource, handler Dispatcher) *Poller {
	return &Poller{source: source, handler: handler, MaxBackoff: 30 * time.Second}
}

// Offset is the next update id the poller will ask for.
func (p *Poller) Offset() int64 {
	return p.offset
}

// Run polls until ctx is cancelled.
//
// Logic Flow:
//  1. Ask for updates after the last seen update id.
//  2. Dispatch each update and advance the offset past it.
//  3. On failure wait with exponential backoff, reset on the next success.
func (p *Poller) Run(ctx context.Context) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = min(time.Second, p.MaxBackoff)
	exp.MaxInterval = p.MaxBackoff
	exp.MaxElapsedTime = 0
	retry := backoff.WithContext(exp, ctx)
	retry.Reset()

	slog.InfoContext(ctx, "polling for updates")
	for {
		if ctx.Err() != nil {
			return nil
		}
		updates, err := p.source.GetUpdates(ctx, p.offset)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			wait := retry.NextBackOff()
			if wait == backoff.Stop {
				return nil
			}
			slog.WarnContext(ctx, "failed to get updates", "error", err, "retry_in", wait)
			if sleepCtx(ctx, wait) != nil {
				return nil
			}
			continue
		}
		retry.Reset()
		for _, u := range updates {
			if u.UpdateID >= p.offset {
				p.offset = u.UpdateID + 1
			}
			p.handler.Dispatch(ctx, u)
		}
	}
}
