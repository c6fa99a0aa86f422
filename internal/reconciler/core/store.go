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

// Package core provides the optimistic vote cache: the post store, in-flight
// markers, and the reconciler that applies votes locally before the remote
// call resolves.
// This file implements the typed post store shared by every reader of post state.
package core

import (
	"sync"
	"time"

	"votecache"
)

// Post is the cached state of a post as seen by the current viewer.
type Post struct {
	ID        int64
	Points    int64
	Status    votecache.Status
	CreatorID int64
}

// State returns the vote-relevant part of p.
func (p Post) State() votecache.State {
	return votecache.State{Points: p.Points, Status: p.Status}
}

// entry wraps a Post with the bookkeeping the merge policy needs.
//
// voteRev is bumped on every vote write. A fetch that began at an older
// revision lost the race to a vote and must not overwrite the vote fields.
//
// pending counts optimistic writes whose remote call has not settled yet.
// While it is non-zero the server may still answer with pre-vote state, so
// fetches keep the local vote fields, and the janitor leaves the entry alone.
type entry struct {
	post         Post
	voteRev      uint64
	pending      int
	lastAccessed time.Time
}

// ChangeKind tells subscribers which path wrote an entry.
type ChangeKind string

const (
	ChangePut    ChangeKind = "put"
	ChangeFetch  ChangeKind = "fetch"
	ChangeVote   ChangeKind = "vote"
	ChangeDelete ChangeKind = "delete"
)

// Change is published to subscribers after every write.
type Change struct {
	Kind ChangeKind
	Post Post
}

// FetchToken is handed out by BeginFetch and consumed by CompleteFetch.
type FetchToken struct {
	ID      int64
	voteRev uint64
}

// Store is the id -> post mapping. It is safe for concurrent use.
//
// Merge policy is last-write-wins per field: the vote path owns Points and
// Status, the fetch path owns everything else, and a fetch only wins the vote
// fields when no vote landed since it began and none is pending.
type Store struct {
	mu      sync.Mutex
	entries map[int64]*entry
	now     func() time.Time

	subMu  sync.RWMutex
	subs   map[int]chan Change
	nextID int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		entries: make(map[int64]*entry),
		subs:    make(map[int]chan Change),
		now:     time.Now,
	}
}

// Put inserts or overwrites p wholesale. It is the seeding path for the first
// fetch of a post.
func (s *Store) Put(p Post) {
	s.mu.Lock()
	e, ok := s.entries[p.ID]
	if !ok {
		e = &entry{}
		s.entries[p.ID] = e
	}
	e.post = p
	e.lastAccessed = s.now()
	s.publish(Change{Kind: ChangePut, Post: p})
	s.mu.Unlock()
}

// Get returns a snapshot of the post with the given id.
func (s *Store) Get(id int64) (Post, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return Post{}, false
	}
	e.lastAccessed = s.now()
	return e.post, true
}

// Len returns the number of cached posts.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Posts returns a snapshot of every cached post, in no particular order.
func (s *Store) Posts() []Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Post, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.post)
	}
	return out
}

// Update runs fn against the current state of post id while holding the store
// lock. If fn returns ok=true the returned state is written as a vote write:
// voteRev advances and the entry counts one more pending write until Settle.
// found is false when the post is not cached; fn is not called then.
//
// fn must not call back into the Store.
func (s *Store) Update(id int64, fn func(cur votecache.State) (votecache.State, bool)) (post Post, found, written bool) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return Post{}, false, false
	}
	e.lastAccessed = s.now()
	next, write := fn(e.post.State())
	if !write {
		post = e.post
		s.mu.Unlock()
		return post, true, false
	}
	e.post.Points = next.Points
	e.post.Status = next.Status
	e.voteRev++
	e.pending++
	post = e.post
	s.publish(Change{Kind: ChangeVote, Post: post})
	s.mu.Unlock()
	return post, true, true
}

// Settle records that one optimistic write for id has resolved remotely.
func (s *Store) Settle(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok && e.pending > 0 {
		e.pending--
	}
}

// Pending returns the number of unsettled optimistic writes for id.
func (s *Store) Pending(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		return e.pending
	}
	return 0
}

// BeginFetch must be called before a fetch of post id is issued.
func (s *Store) BeginFetch(id int64) FetchToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := FetchToken{ID: id}
	if e, ok := s.entries[id]; ok {
		t.voteRev = e.voteRev
	}
	return t
}

// CompleteFetch merges a fetched post into the store. It returns the post as
// stored after the merge.
func (s *Store) CompleteFetch(t FetchToken, fetched Post) Post {
	fetched.ID = t.ID
	s.mu.Lock()
	e, ok := s.entries[t.ID]
	switch {
	case !ok:
		e = &entry{post: fetched}
		s.entries[t.ID] = e
	case e.voteRev != t.voteRev || e.pending > 0:
		// A vote is newer than this fetch: keep local vote fields.
		e.post.CreatorID = fetched.CreatorID
	default:
		e.post = fetched
	}
	e.lastAccessed = s.now()
	merged := e.post
	s.publish(Change{Kind: ChangeFetch, Post: merged})
	s.mu.Unlock()
	return merged
}

// Merge is BeginFetch immediately followed by CompleteFetch, for fetch
// results that arrive without a recorded start.
func (s *Store) Merge(fetched Post) Post {
	return s.CompleteFetch(s.BeginFetch(fetched.ID), fetched)
}

// ForEach calls f for a snapshot of every entry together with its idle time
// and pending count. f runs without the store lock held.
func (s *Store) ForEach(f func(p Post, idle time.Duration, pending int)) {
	type snap struct {
		p       Post
		idle    time.Duration
		pending int
	}
	s.mu.Lock()
	now := s.now()
	snaps := make([]snap, 0, len(s.entries))
	for _, e := range s.entries {
		snaps = append(snaps, snap{e.post, now.Sub(e.lastAccessed), e.pending})
	}
	s.mu.Unlock()
	for _, sn := range snaps {
		f(sn.p, sn.idle, sn.pending)
	}
}

// Delete removes id from the store.
func (s *Store) Delete(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		delete(s.entries, id)
		s.publish(Change{Kind: ChangeDelete, Post: e.post})
	}
}

// evictIfIdle deletes id only if it has been idle for at least age and has
// no pending vote. Checking and deleting under one lock keeps a vote that
// lands between scan and delete from being lost.
func (s *Store) evictIfIdle(id int64, age time.Duration) bool {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok || e.pending > 0 || s.now().Sub(e.lastAccessed) < age {
		s.mu.Unlock()
		return false
	}
	delete(s.entries, id)
	s.publish(Change{Kind: ChangeDelete, Post: e.post})
	s.mu.Unlock()
	return true
}

// Subscribe returns a channel receiving every change, in write order, and a
// cancel func. Sends never block writers: a subscriber that falls more than buffer
// changes behind misses changes.
func (s *Store) Subscribe(buffer int) (<-chan Change, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Change, buffer)
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// publish is called with s.mu held so subscribers observe writes in order.
func (s *Store) publish(c Change) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- c:
		default:
		}
	}
}
