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
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/jaycherian/gcp-go-place-saver/internal/cloud"
	"github.com/jaycherian/gcp-go-place-saver/internal/telegram"
	"github.com/stretchr/testify/require"
)

const testToken = "123:abc"

type apiCall struct {
	Method string
	Params map[string]interface{}
}

// fakeBotAPI is an in-memory Bot API. Replies can be scripted per method;
// anything unscripted succeeds.
type fakeBotAPI struct {
	mu      sync.Mutex
	calls   []apiCall
	scripts map[string][]string
	nextID  int64
	srv     *httptest.Server
}

func newFakeBotAPI(t *testing.T) *fakeBotAPI {
	t.Helper()
	f := &fakeBotAPI{scripts: make(map[string][]string), nextID: 100}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

// script queues raw JSON replies for method, consumed in order.
func (f *fakeBotAPI) script(method string, replies ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[method] = append(f.scripts[method], replies...)
}

func (f *fakeBotAPI) serve(w http.ResponseWriter, r *http.Request) {
	prefix := "/bot" + testToken + "/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.NotFound(w, r)
		return
	}
	method := strings.TrimPrefix(r.URL.Path, prefix)
	params := map[string]interface{}{}
	_ = json.NewDecoder(r.Body).Decode(&params)

	f.mu.Lock()
	f.calls = append(f.calls, apiCall{Method: method, Params: params})
	var reply string
	if queued := f.scripts[method]; len(queued) > 0 {
		reply, f.scripts[method] = queued[0], queued[1:]
	}
	if reply == "" {
		reply = f.defaultReply(method, params)
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if strings.Contains(reply, `"error_code":5`) {
		w.WriteHeader(http.StatusBadGateway)
	}
	_, _ = w.Write([]byte(reply))
}

func (f *fakeBotAPI) defaultReply(method string, params map[string]interface{}) string {
	switch method {
	case "sendMessage":
		f.nextID++
		return fmt.Sprintf(`{"ok":true,"result":{"message_id":%d,"chat":{"id":%v},"date":0,"text":%q}}`,
			f.nextID, params["chat_id"], params["text"])
	case "getMe":
		return `{"ok":true,"result":{"id":999,"is_bot":true,"first_name":"PlaceBot"}}`
	case "getUpdates":
		return `{"ok":true,"result":[]}`
	default:
		return `{"ok":true,"result":true}`
	}
}

// Calls returns the recorded calls to method, or every call when method is
// empty.
func (f *fakeBotAPI) Calls(method string) []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiCall
	for _, c := range f.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Texts returns the text of every sendMessage and editMessageText call.
func (f *fakeBotAPI) Texts() []string {
	var out []string
	for _, c := range f.Calls("") {
		if c.Method == "sendMessage" || c.Method == "editMessageText" {
			out = append(out, fmt.Sprint(c.Params["text"]))
		}
	}
	return out
}

func (f *fakeBotAPI) client(t *testing.T) *telegram.Client {
	t.Helper()
	c, err := telegram.NewClient(cloud.Telegram{
		BotToken:        testToken,
		APIBaseURL:      f.srv.URL,
		PollTimeout:     1,
		RequestTimeout:  5,
		MaxRetryElapsed: 3,
	})
	require.NoError(t, err)
	return c
}
