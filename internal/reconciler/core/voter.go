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
	"sort"
	"strings"
	"sync"
	"time"
)

// VoteRequest is what the remote vote-cast operation receives.
// Value is +1 for an upvote and -1 for a downvote.
type VoteRequest struct {
	PostID int64
	Value  int
}

// Voter is the remote vote-cast collaborator. It may fail for network, auth
// or server reasons; no structured recovery payload is expected.
type Voter interface {
	CastVote(ctx context.Context, req VoteRequest) error
}

// VoterFunc adapts a plain function to Voter.
type VoterFunc func(ctx context.Context, req VoteRequest) error

func (f VoterFunc) CastVote(ctx context.Context, req VoteRequest) error { return f(ctx, req) }

// MockVoter accepts every vote, prints it, and keeps totals for an
// end-of-process summary.
type MockVoter struct {
	mu        sync.Mutex
	requests  int64
	upvotes   int64
	downvotes int64
	perPost   map[int64]int64
	quiet     bool
}

// NewMockVoter returns a MockVoter that prints each request.
func NewMockVoter() *MockVoter {
	return &MockVoter{perPost: make(map[int64]int64)}
}

// NewQuietMockVoter returns a MockVoter that only tallies.
func NewQuietMockVoter() *MockVoter {
	m := NewMockVoter()
	m.quiet = true
	return m
}

func (m *MockVoter) CastVote(ctx context.Context, req VoteRequest) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if !m.quiet {
		fmt.Printf("[%s] vote POST: %-8d VALUE: %+d\n", time.Now().Format(time.RFC3339), req.PostID, req.Value)
	}
	m.mu.Lock()
	m.requests++
	if req.Value > 0 {
		m.upvotes++
	} else {
		m.downvotes++
	}
	m.perPost[req.PostID]++
	m.mu.Unlock()
	return nil
}

// Requests returns how many votes were accepted.
func (m *MockVoter) Requests() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

// PrintFinalMetrics prints a single summary of remote requests against the
// local cast totals. Safe to call after all casts have settled.
func (m *MockVoter) PrintFinalMetrics() {
	m.mu.Lock()
	requests, ups, downs, posts := m.requests, m.upvotes, m.downvotes, len(m.perPost)
	m.mu.Unlock()

	totals := Totals()
	th := getConfigSnapshot()
	keys := make([]string, 0, len(th))
	for k := range th {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Share of casts that never reached the network.
	var savedStr string
	if totals.Casts > 0 {
		saved := 1.0 - float64(requests)/float64(totals.Casts)
		if saved < 0 {
			saved = 0
		}
		savedStr = fmt.Sprintf("%.1f%%", saved*100)
	} else {
		savedStr = "n/a"
	}

	yellow := "\x1b[33m"
	reset := "\x1b[0m"
	sep := strings.Repeat("-", 60)
	fmt.Printf("%s[%s] Final vote metrics\n", yellow, time.Now().Format(time.RFC3339))
	fmt.Println(sep)
	fmt.Printf("%-20s %12s\n", "Metric", "Value")
	fmt.Println(sep)
	fmt.Printf("%-20s %12d\n", "Casts", totals.Casts)
	fmt.Printf("%-20s %12d\n", "Applied", totals.Applied)
	fmt.Printf("%-20s %12d\n", "Unchanged", totals.Unchanged)
	fmt.Printf("%-20s %12d\n", "Unknown post", totals.UnknownPost)
	fmt.Printf("%-20s %12d\n", "Remote failed", totals.RemoteFailed)
	fmt.Printf("%-20s %12d\n", "Remote requests", requests)
	fmt.Printf("%-20s %12d\n", "Upvotes", ups)
	fmt.Printf("%-20s %12d\n", "Downvotes", downs)
	fmt.Printf("%-20s %12d\n", "Posts voted", posts)
	fmt.Printf("%-20s %12s\n", "Calls avoided", savedStr)
	fmt.Println(sep)

	if len(keys) > 0 {
		fmt.Printf("Configuration\n")
		fmt.Println(sep)
		fmt.Printf("%-30s %24s\n", "Name", "Value")
		fmt.Println(sep)
		for _, k := range keys {
			fmt.Printf("%-30s %24s\n", k, th[k])
		}
		fmt.Println(sep)
	}
	if totals.RemoteFailed > 0 {
		fmt.Println("Remote failures are not rolled back: affected posts keep their optimistic score until refetched.")
	}
	fmt.Print(reset)
}
