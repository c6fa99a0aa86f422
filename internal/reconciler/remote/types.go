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

// Package remote holds the server-facing vote backends. Each backend applies a
// vote idempotently, keyed by a request ID the shim assigns.
package remote

import "context"

// VoteEntry is one vote as sent to a backend.
type VoteEntry struct {
	PostID    int64
	UserID    int64
	Value     int
	RequestID string
}

// IdempotentVoter applies a vote at most once per RequestID.
type IdempotentVoter interface {
	Apply(ctx context.Context, e VoteEntry) error
}
