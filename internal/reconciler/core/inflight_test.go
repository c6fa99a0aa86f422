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
	"testing"

	"votecache"
)

func TestInFlight_AcquireRelease(t *testing.T) {
	f := NewInFlight()
	k := MarkerKey{PostID: 1, Direction: votecache.Up}
	release := f.Acquire(k)
	if !f.IsInFlight(1, votecache.Up) {
		t.Fatalf("marker not set")
	}
	if f.IsInFlight(1, votecache.Down) || f.IsInFlight(2, votecache.Up) {
		t.Fatalf("marker leaked to another key")
	}
	release()
	release() // second call is a no-op
	if f.IsInFlight(1, votecache.Up) || f.Len() != 0 {
		t.Fatalf("marker not cleared")
	}
}

// TestInFlight_OverlappingAcquires keeps the marker until the last release.
func TestInFlight_OverlappingAcquires(t *testing.T) {
	f := NewInFlight()
	k := MarkerKey{PostID: 1, Direction: votecache.Down}
	r1 := f.Acquire(k)
	r2 := f.Acquire(k)
	r1()
	r1()
	if !f.IsInFlight(1, votecache.Down) {
		t.Fatalf("marker cleared while a call is still outstanding")
	}
	r2()
	if f.IsInFlight(1, votecache.Down) {
		t.Fatalf("marker not cleared after last release")
	}
}

func TestInFlight_Concurrent(t *testing.T) {
	f := NewInFlight()
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rel := f.Acquire(MarkerKey{PostID: int64(i % 4), Direction: votecache.Up})
			defer rel()
			_ = f.IsInFlight(int64(i%4), votecache.Up)
		}(i)
	}
	wg.Wait()
	if f.Len() != 0 {
		t.Fatalf("markers left behind: %d", f.Len())
	}
}
