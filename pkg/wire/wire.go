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

// Package wire converts between the cache fragment shape UI code exchanges
// ({points, voteStatus: 1 | -1 | null}) and the typed vote state.
package wire

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"votecache"
)

// KeyPrefix is the cache identity prefix of a post.
const KeyPrefix = "Post:"

// ErrInvalidVoteStatus is returned for a voteStatus other than 1, -1, 0 or null.
var ErrInvalidVoteStatus = errors.New("wire: invalid voteStatus")

// ErrInvalidKey is returned when a cache key is not of the form "Post:<id>".
var ErrInvalidKey = errors.New("wire: invalid cache key")

// Fragment is the cached view of a post.
type Fragment struct {
	ID         int64 `json:"id" yaml:"id"`
	Points     int64 `json:"points" yaml:"points"`
	VoteStatus *int  `json:"voteStatus" yaml:"voteStatus"`
	CreatorID  int64 `json:"creatorId,omitempty" yaml:"creatorId,omitempty"`
}

// CacheKey returns "Post:<id>".
func CacheKey(id int64) string { return KeyPrefix + strconv.FormatInt(id, 10) }

// ParseCacheKey is the inverse of CacheKey.
func ParseCacheKey(key string) (int64, error) {
	rest, ok := strings.CutPrefix(key, KeyPrefix)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return id, nil
}

// StatusFromWire maps 1 to Upvoted, -1 to Downvoted and null/0 to NoVote.
func StatusFromWire(v *int) (votecache.Status, error) {
	if v == nil {
		return votecache.NoVote, nil
	}
	switch *v {
	case 0:
		return votecache.NoVote, nil
	case 1:
		return votecache.Upvoted, nil
	case -1:
		return votecache.Downvoted, nil
	}
	return votecache.NoVote, fmt.Errorf("%w: %d", ErrInvalidVoteStatus, *v)
}

// StatusToWire encodes NoVote as null.
func StatusToWire(s votecache.Status) *int {
	if s == votecache.NoVote {
		return nil
	}
	v := int(s)
	return &v
}

// VoteValue returns the value carried by a remote vote request.
func VoteValue(d votecache.Direction) int { return d.Value() }
