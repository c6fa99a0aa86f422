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
	"errors"
	"fmt"
	"io"
	"time"
)

// RedisEvaler is the slice of a Redis client the voter needs.
// GoRedisEvaler wraps github.com/redis/go-redis/v9.
type RedisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
}

// RedisVoter keeps the server-side vote state in Redis: a points field per
// post hash and one value key per (post, user).
type RedisVoter struct {
	client    RedisEvaler
	markerTTL time.Duration
}

func NewRedisVoter(client RedisEvaler, markerTTL time.Duration) *RedisVoter {
	if markerTTL <= 0 {
		markerTTL = 24 * time.Hour
	}
	return &RedisVoter{client: client, markerTTL: markerTTL}
}

// Close closes the client if it holds a connection.
func (v *RedisVoter) Close() error {
	if c, ok := v.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// The script applies the same transition table as the client: repeating a
// held vote is a no-op, switching moves points by 2. Returns the delta.
const redisVoteScript = `
local postKey = KEYS[1]
local voteKey = KEYS[2]
local markerKey = KEYS[3]
local value = tonumber(ARGV[1])
local ttlSeconds = tonumber(ARGV[2])
if redis.call('SETNX', markerKey, 1) == 0 then
  return 0
end
if ttlSeconds and ttlSeconds > 0 then
  redis.call('EXPIRE', markerKey, ttlSeconds)
end
local prior = tonumber(redis.call('GET', voteKey) or '0')
if prior == value then
  return 0
end
local delta = value
if prior ~= 0 then
  delta = 2 * value
end
redis.call('SET', voteKey, value)
redis.call('HINCRBY', postKey, 'points', delta)
return delta
`

func RedisPostKey(postID int64) string { return fmt.Sprintf("post:%d", postID) }
func RedisVoteKey(postID, userID int64) string {
	return fmt.Sprintf("updoot:%d:%d", postID, userID)
}
func RedisRequestMarkerKey(requestID string) string { return fmt.Sprintf("vote-req:%s", requestID) }

func (r *RedisVoter) Apply(ctx context.Context, e VoteEntry) error {
	if e.RequestID == "" {
		return errors.New("VoteEntry.RequestID must be set")
	}
	keys := []string{RedisPostKey(e.PostID), RedisVoteKey(e.PostID, e.UserID), RedisRequestMarkerKey(e.RequestID)}
	args := []interface{}{e.Value, int(r.markerTTL.Seconds())}
	if _, err := r.client.Eval(ctx, redisVoteScript, keys, args...); err != nil {
		return fmt.Errorf("redis eval post=%d request=%s: %w", e.PostID, e.RequestID, err)
	}
	return nil
}
