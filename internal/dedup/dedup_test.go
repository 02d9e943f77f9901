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

package dedup_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jaycherian/gcp-go-place-saver/internal/core/model"
	"github.com/jaycherian/gcp-go-place-saver/internal/dedup"
	"github.com/stretchr/testify/assert"
)

func event(id int64) model.InboundEvent {
	return model.InboundEvent{ID: id, ChatID: 1, SenderID: 7, Text: "https://www.instagram.com/reel/ABC/"}
}

func TestAdmitTwice(t *testing.T) {
	d := dedup.New(0, 99)
	assert.True(t, d.Admit(event(1)))
	assert.False(t, d.Admit(event(1)))
	assert.True(t, d.Admit(event(2)))
}

func TestConcurrentAdmitOfSameID(t *testing.T) {
	d := dedup.New(0, 99)
	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.Admit(event(42)) {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), admitted.Load())
}

func TestEvictionKeepsNewestHalf(t *testing.T) {
	d := dedup.New(1000, 99)
	for id := int64(1); id <= 1001; id++ {
		assert.True(t, d.Admit(event(id)))
	}
	assert.LessOrEqual(t, d.Len(), 501)

	for id := int64(501); id <= 1001; id++ {
		assert.False(t, d.Admit(event(id)), "id %d should still be remembered", id)
	}
	assert.True(t, d.Admit(event(1)))
}

func TestContentRejectionsAreNotRecorded(t *testing.T) {
	d := dedup.New(0, 99)

	self := event(10)
	self.FromSelf = true
	fromBotID := event(11)
	fromBotID.SenderID = 99
	reply := event(12)
	reply.IsReply = true
	edit := event(13)
	edit.IsEdit = true
	blank := event(14)
	blank.Text = "   \n\t"

	for _, ev := range []model.InboundEvent{self, fromBotID, reply, edit, blank} {
		assert.False(t, d.Admit(ev))
	}
	assert.Equal(t, 0, d.Len())

	// The same ids with acceptable content are admitted afterwards.
	assert.True(t, d.Admit(event(12)))
	assert.True(t, d.Admit(event(14)))
}

func TestSetBotID(t *testing.T) {
	d := dedup.New(0, 0)
	d.SetBotID(7)
	assert.False(t, d.Admit(event(1)))
}
