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

// This file implements the background janitor that keeps the store bounded.
package core

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Janitor evicts posts that have not been read or written for evictionAge.
// Posts with an unsettled optimistic vote are never evicted.
type Janitor struct {
	store            *Store
	evictionAge      time.Duration
	evictionInterval time.Duration
	log              zerolog.Logger
	evicted          atomic.Int64
	stopChan         chan struct{}
	wg               sync.WaitGroup
	stopped          uint32
}

// NewJanitor creates a janitor. It does nothing until Start.
func NewJanitor(store *Store, evictionAge, evictionInterval time.Duration, log zerolog.Logger) *Janitor {
	return &Janitor{
		store:            store,
		evictionAge:      evictionAge,
		evictionInterval: evictionInterval,
		log:              log.With().Str("component", "janitor").Logger(),
		stopChan:         make(chan struct{}),
	}
}

// Start launches the eviction loop.
func (j *Janitor) Start() {
	j.log.Info().Dur("eviction_age", j.evictionAge).Dur("eviction_interval", j.evictionInterval).Msg("starting janitor")
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.evictionLoop()
	}()
}

// Stop stops the loop and waits for it. Safe to call more than once.
func (j *Janitor) Stop() {
	if !atomic.CompareAndSwapUint32(&j.stopped, 0, 1) {
		return
	}
	close(j.stopChan)
	j.wg.Wait()
	j.log.Info().Int64("evicted", j.evicted.Load()).Msg("janitor stopped")
}

// Evicted returns how many posts the janitor has dropped.
func (j *Janitor) Evicted() int64 { return j.evicted.Load() }

func (j *Janitor) evictionLoop() {
	ticker := time.NewTicker(j.evictionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			j.runEvictionCycle()
		case <-j.stopChan:
			return
		}
	}
}

// runEvictionCycle scans a snapshot and re-checks each candidate under the
// store lock before dropping it.
func (j *Janitor) runEvictionCycle() int {
	var candidates []int64
	j.store.ForEach(func(p Post, idle time.Duration, pending int) {
		if pending == 0 && idle >= j.evictionAge {
			candidates = append(candidates, p.ID)
		}
	})
	n := 0
	for _, id := range candidates {
		if j.store.evictIfIdle(id, j.evictionAge) {
			n++
		}
	}
	if n > 0 {
		j.evicted.Add(int64(n))
		j.log.Debug().Int("evicted", n).Msg("evicted idle posts")
	}
	return n
}
