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

package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"votecache"
	"votecache/internal/reconciler/core"
	"votecache/internal/reconciler/remote"
)

func TestRedisVoteE2E(t *testing.T) {
	// Arrange: ensure Redis is reachable
	rc := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	defer rc.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping: Redis not reachable on 127.0.0.1:6379: %v", err)
	}

	const postID, userID = int64(990001), int64(77)
	_ = rc.Del(context.Background(), remote.RedisPostKey(postID), remote.RedisVoteKey(postID, userID)).Err()

	evaler := remote.NewGoRedisEvaler("127.0.0.1:6379")
	defer evaler.Close()
	voter := remote.NewIdemShim(remote.NewRedisVoter(evaler, time.Minute), userID)

	store := core.NewStore()
	store.Put(core.Post{ID: postID})
	rec, err := core.NewReconciler(store, voter, core.Options{})
	if err != nil {
		t.Fatalf("reconciler: %v", err)
	}

	// Act: up, up (no-op), down, up.
	for _, d := range []votecache.Direction{votecache.Up, votecache.Up, votecache.Down, votecache.Up} {
		if o, err := rec.CastVote(context.Background(), postID, d); err != nil {
			t.Fatalf("cast %s: %v %v", d, o, err)
		}
	}

	// Assert: server-side points match the cache.
	got, err := rc.HGet(context.Background(), remote.RedisPostKey(postID), "points").Int64()
	if err != nil {
		t.Fatalf("redis HGET points failed: %v", err)
	}
	cached, _ := store.Get(postID)
	if got != cached.Points || got != 1 {
		t.Fatalf("points mismatch: redis=%d cache=%d want=1", got, cached.Points)
	}
}
