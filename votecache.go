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

// Package votecache holds the vote state machine used by the optimistic
// vote cache. It is pure: given the viewer's cached state of a post and a
// requested vote direction it computes the next state, without touching any
// cache or network.
package votecache

import (
	"errors"
	"fmt"
	"strings"
)

// Status is the current viewer's relationship to a post. It is viewer-scoped,
// not global. The numeric values match the wire encoding (1, -1, 0/null).
type Status int8

const (
	NoVote    Status = 0
	Upvoted   Status = 1
	Downvoted Status = -1
)

func (s Status) String() string {
	switch s {
	case NoVote:
		return "none"
	case Upvoted:
		return "upvoted"
	case Downvoted:
		return "downvoted"
	default:
		return fmt.Sprintf("Status(%d)", int8(s))
	}
}

// Valid reports whether s is one of the three known statuses.
func (s Status) Valid() bool {
	return s == NoVote || s == Upvoted || s == Downvoted
}

// Direction is a requested vote action.
type Direction int8

const (
	Up   Direction = 1
	Down Direction = -1
)

// ErrInvalidDirection is returned for anything that is not Up or Down.
var ErrInvalidDirection = errors.New("votecache: invalid vote direction")

// Valid reports whether d is Up or Down.
func (d Direction) Valid() bool { return d == Up || d == Down }

// Value returns the remote request value: +1 for Up, -1 for Down.
func (d Direction) Value() int { return int(d) }

// Status returns the status a viewer holds after a successful vote in d.
func (d Direction) Status() Status { return Status(d) }

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return fmt.Sprintf("Direction(%d)", int8(d))
	}
}

// ParseDirection accepts "up"/"down" (case-insensitive) and "1"/"-1".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up", "1", "+1":
		return Up, nil
	case "down", "-1":
		return Down, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidDirection, s)
}

// State is the locally visible vote state of a post.
type State struct {
	Points int64
	Status Status
}

// Next computes the state after casting d against current.
//
//	current    | Up             | Down
//	NoVote     | Upvoted, +1    | Downvoted, -1
//	Upvoted    | no-op          | Downvoted, -2
//	Downvoted  | Upvoted, +2    | no-op
//
// The second result is false for a no-op (re-casting the held direction) and
// for an invalid direction; current is returned unchanged in both cases.
// Switching direction is one delta of magnitude 2 so it lands as a single
// cache write.
func Next(current State, d Direction) (State, bool) {
	delta := Delta(current.Status, d)
	if delta == 0 {
		return current, false
	}
	return State{Points: current.Points + delta, Status: d.Status()}, true
}

// Delta returns the point change of casting d while holding s, or 0 when the
// cast is a no-op.
func Delta(s Status, d Direction) int64 {
	if !d.Valid() || s == d.Status() {
		return 0
	}
	if s == NoVote {
		return int64(d.Value())
	}
	// Remove the old contribution and add the new one.
	return 2 * int64(d.Value())
}
