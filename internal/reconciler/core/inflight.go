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

package core

import (
	"sync"

	"votecache"
)

// MarkerKey identifies one vote control of one post.
type MarkerKey struct {
	PostID    int64
	Direction votecache.Direction
}

// InFlight tracks which (post, direction) pairs have a remote call
// outstanding. UI code reads it to disable or spin the matching control.
//
// Overlapping casts on the same key are counted, so the marker reads true
// until the last of them settles.
type InFlight struct {
	mu     sync.Mutex
	counts map[MarkerKey]int
}

// NewInFlight returns an empty marker set.
func NewInFlight() *InFlight {
	return &InFlight{counts: make(map[MarkerKey]int)}
}

// Acquire sets the marker for k and returns its release func. Calling release
// more than once has no further effect, so it is safe to defer it and also
// call it early.
func (f *InFlight) Acquire(k MarkerKey) (release func()) {
	f.mu.Lock()
	f.counts[k]++
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if n := f.counts[k] - 1; n > 0 {
				f.counts[k] = n
			} else {
				delete(f.counts, k)
			}
		})
	}
}

// IsInFlight reports whether a call for (postID, d) is outstanding.
func (f *InFlight) IsInFlight(postID int64, d votecache.Direction) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[MarkerKey{PostID: postID, Direction: d}] > 0
}

// Len returns the number of keys currently marked.
func (f *InFlight) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.counts)
}
