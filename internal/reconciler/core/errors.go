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
	"errors"
	"fmt"

	"votecache"
)

var (
	// ErrUnknownPost means the post is not in the cache. Nothing was mutated.
	ErrUnknownPost = errors.New("unknown post")
	// ErrRemoteFailed matches every *RemoteError.
	ErrRemoteFailed = errors.New("remote vote failed")
	// ErrInvalidDirection is re-exported for callers of this package.
	ErrInvalidDirection = votecache.ErrInvalidDirection
)

// RemoteError reports a remote vote failure after the optimistic write had
// already landed. The cache is not rolled back.
type RemoteError struct {
	PostID    int64
	Direction votecache.Direction
	Err       error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote vote failed post=%d direction=%s: %v", e.PostID, e.Direction, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

func (e *RemoteError) Is(target error) bool { return target == ErrRemoteFailed }
