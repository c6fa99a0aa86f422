// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

type KafkaProducer interface {
	Produce(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error
}

// KafkaVoter publishes each vote as an event; a server-side consumer applies
// it. Messages are keyed by post so votes on one post stay ordered.
type KafkaVoter struct {
	producer       KafkaProducer
	topic          string
	defaultTimeout time.Duration
	now            func() time.Time
}

func NewKafkaVoter(p KafkaProducer, topic string) *KafkaVoter {
	return &KafkaVoter{producer: p, topic: topic, defaultTimeout: 10 * time.Second, now: time.Now}
}

type VoteMessage struct {
	PostID    int64  `json:"post_id"`
	UserID    int64  `json:"user_id"`
	Value     int    `json:"value"`
	RequestID string `json:"request_id"`
	TsUnixMs  int64  `json:"ts_unix_ms"`
}

func (k *KafkaVoter) Apply(ctx context.Context, e VoteEntry) error {
	if e.RequestID == "" {
		return errors.New("VoteEntry.RequestID must be set")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok && k.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.defaultTimeout)
		defer cancel()
	}
	b, err := json.Marshal(VoteMessage{
		PostID:    e.PostID,
		UserID:    e.UserID,
		Value:     e.Value,
		RequestID: e.RequestID,
		TsUnixMs:  k.now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal kafka message: %w", err)
	}
	headers := map[string]string{"content-type": "application/json", "request-id": e.RequestID}
	key := []byte(strconv.FormatInt(e.PostID, 10))
	if err := k.producer.Produce(ctx, k.topic, key, b, headers); err != nil {
		return fmt.Errorf("kafka produce post=%d request=%s: %w", e.PostID, e.RequestID, err)
	}
	return nil
}
