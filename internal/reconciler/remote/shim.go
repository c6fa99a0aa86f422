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

package remote

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"

	"votecache/internal/reconciler/core"
)

// errInvalidValue is returned for a request value other than +1 or -1.
var errInvalidValue = errors.New("vote value must be 1 or -1")

// IdemShim adapts an IdempotentVoter to core.Voter. It stamps every request
// with a fresh request ID and the viewer's user ID.
type IdemShim struct {
	impl   IdempotentVoter
	userID int64
	newID  func() string
}

func NewIdemShim(impl IdempotentVoter, userID int64) *IdemShim {
	return &IdemShim{impl: impl, userID: userID, newID: uuid.NewString}
}

func (s *IdemShim) CastVote(ctx context.Context, req core.VoteRequest) error {
	if req.Value != 1 && req.Value != -1 {
		return errInvalidValue
	}
	return s.impl.Apply(ctx, VoteEntry{
		PostID:    req.PostID,
		UserID:    s.userID,
		Value:     req.Value,
		RequestID: s.newID(),
	})
}

// Close releases the wrapped adapter's client when it owns one.
func (s *IdemShim) Close() error {
	if c, ok := s.impl.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
