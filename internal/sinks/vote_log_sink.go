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

package sinks

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"

	"votecache"
	"votecache/internal/reconciler/core"
)

// VoteRecord is one settled cast as written to the vote log.
type VoteRecord struct {
	PostID    int64  `json:"post_id"`
	Direction string `json:"direction"`
	Outcome   string `json:"outcome"`
	Points    int64  `json:"points"`
	Status    int    `json:"vote_status"`
	Remote    bool   `json:"remote"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
	TsUnixMs  int64  `json:"ts_unix_ms"`
}

// VoteLogSink appends settled casts to a JSONL log. It implements
// core.Observer; failed remote calls end up here with their error.
type VoteLogSink struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	path string

	lastFlush time.Time
}

func NewVoteLogSink(path string) (*VoteLogSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &VoteLogSink{f: f, w: bufio.NewWriterSize(f, 64<<10), path: path, lastFlush: time.Now()}, nil
}

func (s *VoteLogSink) CastStarted(int64, votecache.Direction) {}

func (s *VoteLogSink) CastSettled(ev core.CastEvent) {
	rec := VoteRecord{
		PostID:    ev.PostID,
		Direction: ev.Direction.String(),
		Outcome:   ev.Outcome.String(),
		Points:    ev.Post.Points,
		Status:    int(ev.Post.Status),
		Remote:    ev.Remote,
		TsUnixMs:  ev.At.UnixMilli(),
	}
	if ev.Remote {
		rec.LatencyMs = ev.Latency.Milliseconds()
	}
	if ev.Err != nil {
		rec.Error = ev.Err.Error()
	}
	s.Append(rec)
}

func (s *VoteLogSink) Append(rec VoteRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = json.NewEncoder(s.w).Encode(&rec)
	// Failures are flushed right away so they survive a crash.
	if rec.Error != "" || time.Since(s.lastFlush) > 100*time.Millisecond {
		_ = s.w.Flush()
		s.lastFlush = time.Now()
	}
}

func (s *VoteLogSink) Path() string { return s.path }

func (s *VoteLogSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFlush = time.Now()
	return s.w.Flush()
}

func (s *VoteLogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.w.Flush()
	return s.f.Close()
}

// ReadAll reads a vote log back. Lines that do not decode are skipped.
func ReadAll(path string) ([]VoteRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []VoteRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		var r VoteRecord
		if err := json.Unmarshal(scanner.Bytes(), &r); err == nil {
			out = append(out, r)
		}
	}
	return out, scanner.Err()
}
