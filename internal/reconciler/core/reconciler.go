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
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"votecache"
	"votecache/pkg/wire"
)

// Outcome is the result of a cast.
type Outcome int

const (
	// Applied: the optimistic write landed and the remote call succeeded.
	Applied Outcome = iota
	// Unchanged: the viewer already holds this vote (or the direction was
	// invalid). Nothing was written and nothing was sent.
	Unchanged
	// UnknownPost: the post is not cached.
	UnknownPost
	// RemoteFailed: the optimistic write landed but the remote call failed.
	RemoteFailed
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Unchanged:
		return "unchanged"
	case UnknownPost:
		return "unknown_post"
	case RemoteFailed:
		return "remote_failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// CastEvent describes a settled cast.
type CastEvent struct {
	PostID    int64
	Direction votecache.Direction
	Outcome   Outcome
	// Post is the cached post right after the cast's own write (or the
	// current post when nothing was written).
	Post Post
	// Remote is true when a remote call was issued.
	Remote  bool
	Latency time.Duration
	Err     error
	At      time.Time
}

// Observer receives cast lifecycle events. CastStarted is called once the
// optimistic write has landed and the remote call is about to be issued;
// CastSettled is called for every cast, including Unchanged and UnknownPost.
// Observers run on the casting goroutine and must not block.
type Observer interface {
	CastStarted(postID int64, d votecache.Direction)
	CastSettled(ev CastEvent)
}

// Failure is the last remote failure recorded for a post.
type Failure struct {
	PostID    int64
	Direction votecache.Direction
	Err       string
	At        time.Time
}

// Options configures a Reconciler.
type Options struct {
	// Logger defaults to a no-op logger.
	Logger *zerolog.Logger
	// Observers are notified of every cast.
	Observers []Observer
	// FailureCapacity bounds RecentFailures. Default 128.
	FailureCapacity int
	// RemoteTimeout bounds a remote call whose context has no deadline.
	// Default 10s; negative disables.
	RemoteTimeout time.Duration
}

// Reconciler applies vote casts to the store optimistically and then issues
// the remote call. It is the only writer of vote-driven changes.
//
// Remote calls for one post are issued one at a time, in the order their
// optimistic writes landed.
type Reconciler struct {
	store     *Store
	voter     Voter
	inflight  *InFlight
	observers []Observer
	failures  *lru.Cache[int64, Failure]
	timeout   time.Duration
	log       zerolog.Logger
	now       func() time.Time

	// tails holds, per post, the turn channel of the last cast queued for
	// the remote. Guarded by tailMu; taken inside the store lock.
	tailMu sync.Mutex
	tails  map[int64]chan struct{}
}

// NewReconciler wires a reconciler over store and voter.
func NewReconciler(store *Store, voter Voter, opts Options) (*Reconciler, error) {
	if opts.FailureCapacity <= 0 {
		opts.FailureCapacity = 128
	}
	if opts.RemoteTimeout == 0 {
		opts.RemoteTimeout = 10 * time.Second
	}
	failures, err := lru.New[int64, Failure](opts.FailureCapacity)
	if err != nil {
		return nil, fmt.Errorf("failure cache: %w", err)
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &Reconciler{
		store:     store,
		voter:     voter,
		inflight:  NewInFlight(),
		observers: opts.Observers,
		failures:  failures,
		timeout:   opts.RemoteTimeout,
		log:       log.With().Str("component", "reconciler").Logger(),
		now:       time.Now,
		tails:     make(map[int64]chan struct{}),
	}, nil
}

// Store returns the store the reconciler writes to.
func (r *Reconciler) Store() *Store { return r.store }

// Cast is the handle of one cast. Post and the in-flight marker are already
// in their optimistic state when Begin returns.
type Cast struct {
	PostID    int64
	Direction votecache.Direction
	Post      Post

	done    chan struct{}
	turn    chan struct{} // closed once this cast and every earlier one on the post left the remote
	outcome Outcome
	err     error
}

// Done is closed once the cast has settled and its marker is cleared.
func (c *Cast) Done() <-chan struct{} { return c.done }

// Wait blocks until the cast settles and returns its outcome.
func (c *Cast) Wait() (Outcome, error) {
	<-c.done
	return c.outcome, c.err
}

// CastVote casts d on postID and waits for the remote call to settle.
//
// UnknownPost returns an error wrapping ErrUnknownPost. RemoteFailed returns
// a *RemoteError; the cache keeps the optimistic value and the caller should
// surface the failure so the viewer can retry.
func (r *Reconciler) CastVote(ctx context.Context, postID int64, d votecache.Direction) (Outcome, error) {
	return r.Begin(ctx, postID, d).Wait()
}

// Begin performs the synchronous part of a cast: read the current entry,
// compute the transition, set the in-flight marker and write the optimistic
// state. The remote call then runs in the background. The returned Cast is
// already settled for Unchanged and UnknownPost.
func (r *Reconciler) Begin(ctx context.Context, postID int64, d votecache.Direction) *Cast {
	c := &Cast{PostID: postID, Direction: d, done: make(chan struct{})}
	if ctx == nil {
		ctx = context.Background()
	}
	if !d.Valid() {
		r.finish(c, CastEvent{Outcome: Unchanged, Err: fmt.Errorf("%w: %d", ErrInvalidDirection, d)})
		return c
	}

	key := MarkerKey{PostID: postID, Direction: d}
	var (
		release func()
		prev    <-chan struct{}
	)
	post, found, written := r.store.Update(postID, func(cur votecache.State) (votecache.State, bool) {
		next, changed := votecache.Next(cur, d)
		if !changed {
			return cur, false
		}
		// Marker first, then the write, both before anyone can read the entry.
		release = r.inflight.Acquire(key)
		c.turn = make(chan struct{})
		prev = r.enqueue(postID, c.turn)
		return next, true
	})
	c.Post = post

	switch {
	case !found:
		r.finish(c, CastEvent{Outcome: UnknownPost, Err: fmt.Errorf("%w: %d", ErrUnknownPost, postID)})
		return c
	case !written:
		r.finish(c, CastEvent{Outcome: Unchanged})
		return c
	}

	for _, o := range r.observers {
		o.CastStarted(postID, d)
	}
	r.log.Debug().Int64("post_id", postID).Str("direction", d.String()).
		Int64("points", post.Points).Msg("optimistic vote written")

	go r.dispatch(ctx, c, prev, release)
	return c
}

// enqueue makes turn the tail of postID's remote queue and returns the
// previous tail, or nil when the queue was empty.
func (r *Reconciler) enqueue(postID int64, turn chan struct{}) <-chan struct{} {
	r.tailMu.Lock()
	defer r.tailMu.Unlock()
	prev, ok := r.tails[postID]
	r.tails[postID] = turn
	if !ok {
		return nil
	}
	return prev
}

// dequeue passes postID's turn on and drops the queue once c was its last
// cast. A cast that gave up waiting still hands over only after its
// predecessor has.
func (r *Reconciler) dequeue(c *Cast, prev <-chan struct{}) {
	pass := func() {
		r.tailMu.Lock()
		if r.tails[c.PostID] == c.turn {
			delete(r.tails, c.PostID)
		}
		r.tailMu.Unlock()
		close(c.turn)
	}
	if prev == nil {
		pass()
		return
	}
	select {
	case <-prev:
		pass()
	default:
		go func() {
			<-prev
			pass()
		}()
	}
}

// dispatch waits for the previous cast on the same post, issues the remote
// call and settles c. The marker is released on every exit path, including
// a panicking voter.
func (r *Reconciler) dispatch(ctx context.Context, c *Cast, prev <-chan struct{}, release func()) {
	var start time.Time
	ev := CastEvent{Remote: true}
	func() {
		defer release()
		defer r.store.Settle(c.PostID)
		defer func() {
			if p := recover(); p != nil {
				ev.Err = fmt.Errorf("voter panic: %v", p)
			}
		}()
		if prev != nil {
			select {
			case <-prev:
			case <-ctx.Done():
				start = r.now()
				ev.Err = ctx.Err()
				return
			}
		}
		start = r.now()
		if _, ok := ctx.Deadline(); !ok && r.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}
		ev.Err = r.voter.CastVote(ctx, VoteRequest{PostID: c.PostID, Value: wire.VoteValue(c.Direction)})
	}()
	ev.Latency = r.now().Sub(start)
	r.dequeue(c, prev)

	if ev.Err != nil {
		ev.Outcome = RemoteFailed
		ev.Err = &RemoteError{PostID: c.PostID, Direction: c.Direction, Err: ev.Err}
		r.failures.Add(c.PostID, Failure{PostID: c.PostID, Direction: c.Direction, Err: ev.Err.Error(), At: r.now()})
		r.log.Warn().Int64("post_id", c.PostID).Str("direction", c.Direction.String()).
			Err(ev.Err).Msg("remote vote failed; optimistic state kept")
	} else {
		ev.Outcome = Applied
		r.failures.Remove(c.PostID)
	}
	r.finish(c, ev)
}

func (r *Reconciler) finish(c *Cast, ev CastEvent) {
	ev.PostID = c.PostID
	ev.Direction = c.Direction
	ev.Post = c.Post
	ev.At = r.now()
	c.outcome = ev.Outcome
	c.err = ev.Err

	recordOutcome(ev.Outcome)
	for _, o := range r.observers {
		o.CastSettled(ev)
	}
	close(c.done)
}

// IsInFlight reports whether a remote call for (postID, d) is outstanding.
func (r *Reconciler) IsInFlight(postID int64, d votecache.Direction) bool {
	return r.inflight.IsInFlight(postID, d)
}

// RecentFailures returns the last failure of each post that has not since
// had a successful vote, oldest first.
func (r *Reconciler) RecentFailures() []Failure {
	keys := r.failures.Keys()
	out := make([]Failure, 0, len(keys))
	for _, k := range keys {
		if v, ok := r.failures.Peek(k); ok {
			out = append(out, v)
		}
	}
	return out
}
