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

// Package telegram is the chat front-end: a Bot API client, the mapping of
// updates to inbound events, long polling and the command handler.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/jaycherian/gcp-go-place-saver/internal/cloud"
)

const (
	DefaultAPIBaseURL      = "https://api.telegram.org"
	DefaultPollTimeout     = 30
	DefaultRequestTimeout  = 40
	DefaultMaxRetryElapsed = 60
)

// ErrNoToken is returned when the client is built without a bot token.
var ErrNoToken = errors.New("telegram bot token is not configured")

// APIError is an error answered by the Bot API itself.
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s failed (%d): %s", e.Method, e.Code, e.Description)
}

// retryable reports whether the call may succeed when repeated.
func (e *APIError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

// Client calls the Bot API over resty. Sending calls are retried with
// exponential backoff on network errors, rate limits and server errors.
type Client struct {
	http            *resty.Client
	pollTimeout     int
	maxRetryElapsed time.Duration
}

// NewClient builds a client from the telegram section of the configuration.
func NewClient(config cloud.Telegram) (*Client, error) {
	if strings.TrimSpace(config.BotToken) == "" {
		return nil, ErrNoToken
	}
	base := config.APIBaseURL
	if base == "" {
		base = DefaultAPIBaseURL
	}
	pollTimeout := config.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}
	requestTimeout := config.RequestTimeout
	if requestTimeout <= pollTimeout {
		requestTimeout = pollTimeout + 10
	}
	maxElapsed := config.MaxRetryElapsed
	if maxElapsed <= 0 {
		maxElapsed = DefaultMaxRetryElapsed
	}

	c := resty.New().
		SetBaseURL(strings.TrimSuffix(base, "/")+"/bot"+config.BotToken).
		SetHeader("Content-Type", "application/json").
		SetTimeout(time.Duration(requestTimeout) * time.Second)

	return &Client{
		http:            c,
		pollTimeout:     pollTimeout,
		maxRetryElapsed: time.Duration(maxElapsed) * time.Second,
	}, nil
}

// callOnce performs one Bot API call and decodes its result into out.
func (c *Client) callOnce(ctx context.Context, method string, params interface{}, out interface{}) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(params).
		Post("/" + method)
	if err != nil {
		return fmt.Errorf("telegram %s request: %w", method, err)
	}
	var ar apiResponse
	if err := json.Unmarshal(resp.Body(), &ar); err != nil {
		return &APIError{Method: method, Code: resp.StatusCode(), Description: resp.String()}
	}
	if !ar.OK {
		apiErr := &APIError{Method: method, Code: ar.ErrorCode, Description: ar.Description}
		if apiErr.Code == 0 {
			apiErr.Code = resp.StatusCode()
		}
		if ar.Parameters != nil {
			apiErr.RetryAfter = ar.Parameters.RetryAfter
		}
		return apiErr
	}
	if out != nil && len(ar.Result) > 0 {
		if err := json.Unmarshal(ar.Result, out); err != nil {
			return fmt.Errorf("telegram %s result: %w", method, err)
		}
	}
	return nil
}

// call is callOnce with retries.
//
// Logic Flow:
//  1. Run the call. Success ends the loop.
//  2. API errors other than 429 and 5xx are permanent.
//  3. A 429 waits at least the retry_after the API asked for.
//  4. Everything else backs off exponentially until maxRetryElapsed.
func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 500 * time.Millisecond
	exp.MaxElapsedTime = c.maxRetryElapsed

	op := func() error {
		err := c.callOnce(ctx, method, params, out)
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			if !apiErr.retryable() {
				return backoff.Permanent(err)
			}
			if apiErr.RetryAfter > 0 {
				if serr := sleepCtx(ctx, time.Duration(apiErr.RetryAfter)*time.Second); serr != nil {
					return backoff.Permanent(err)
				}
			}
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(exp, ctx))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// GetMe returns the bot's own user.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var u User
	if err := c.call(ctx, "getMe", map[string]interface{}{}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUpdates long-polls for updates after offset. It is not retried; the
// poller owns the retry loop.
func (c *Client) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	params := map[string]interface{}{
		"offset":          offset,
		"timeout":         c.pollTimeout,
		"allowed_updates": []string{"message", "edited_message", "callback_query"},
	}
	updates := make([]Update, 0)
	if err := c.callOnce(ctx, "getUpdates", params, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

func messageParams(chatID int64, text string, opts *MessageOptions) map[string]interface{} {
	params := map[string]interface{}{"chat_id": chatID, "text": text}
	if opts == nil {
		return params
	}
	if opts.ParseMode != "" {
		params["parse_mode"] = opts.ParseMode
	}
	if opts.DisableWebPagePreview {
		params["link_preview_options"] = map[string]bool{"is_disabled": true}
	}
	if opts.ReplyMarkup != nil {
		params["reply_markup"] = opts.ReplyMarkup
	}
	return params
}

// SendMessage posts text to a chat.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, opts *MessageOptions) (*Message, error) {
	var m Message
	if err := c.call(ctx, "sendMessage", messageParams(chatID, text, opts), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// EditMessageText replaces the text of a message the bot sent. Editing to
// the same text is not an error.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string, opts *MessageOptions) error {
	params := messageParams(chatID, text, opts)
	params["message_id"] = messageID
	err := c.call(ctx, "editMessageText", params, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && strings.Contains(apiErr.Description, "message is not modified") {
		return nil
	}
	return err
}

// AnswerCallbackQuery acknowledges a button press, optionally with a toast.
func (c *Client) AnswerCallbackQuery(ctx context.Context, queryID, text string) error {
	params := map[string]interface{}{"callback_query_id": queryID}
	if text != "" {
		params["text"] = text
	}
	return c.call(ctx, "answerCallbackQuery", params, nil)
}

// SetWebhook registers url for update delivery.
func (c *Client) SetWebhook(ctx context.Context, url string) error {
	return c.call(ctx, "setWebhook", map[string]interface{}{"url": url}, nil)
}

// DeleteWebhook switches update delivery back to getUpdates.
func (c *Client) DeleteWebhook(ctx context.Context, dropPending bool) error {
	return c.call(ctx, "deleteWebhook", map[string]interface{}{"drop_pending_updates": dropPending}, nil)
}

// ConfigureDelivery clears the old webhook and its pending updates, then
// registers webhookURL + "/webhook" when one is given.
//
// Outputs:
//   - bool: true when updates must be polled.
//   - error: the Bot API error, if any.
func (c *Client) ConfigureDelivery(ctx context.Context, webhookURL string) (bool, error) {
	if err := c.DeleteWebhook(ctx, true); err != nil {
		return false, err
	}
	if webhookURL == "" {
		return true, nil
	}
	return false, c.SetWebhook(ctx, strings.TrimSuffix(webhookURL, "/")+"/webhook")
}
