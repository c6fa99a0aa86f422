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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// voteMutation is the GraphQL mutation the board's API server exposes.
const voteMutation = `mutation Vote($postId: Int!, $value: Int!) {
  vote(postId: $postId, value: $value)
}`

// HTTPVoter sends votes to a GraphQL endpoint. Session cookies or tokens go
// in Headers; their validity is the endpoint's concern.
type HTTPVoter struct {
	endpoint string
	client   *http.Client
	headers  map[string]string
}

func NewHTTPVoter(endpoint string, timeout time.Duration, headers map[string]string) *HTTPVoter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPVoter{endpoint: endpoint, client: &http.Client{Timeout: timeout}, headers: headers}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLResponse struct {
	Data *struct {
		Vote *bool `json:"vote"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// ErrVoteRejected is returned when the server answers vote=false.
var ErrVoteRejected = errors.New("vote rejected by server")

func (h *HTTPVoter) Apply(ctx context.Context, e VoteEntry) error {
	body, err := json.Marshal(graphQLRequest{
		Query:     voteMutation,
		Variables: map[string]any{"postId": e.PostID, "value": e.Value},
	})
	if err != nil {
		return fmt.Errorf("marshal vote mutation: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build vote request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.RequestID != "" {
		req.Header.Set("Idempotency-Key", e.RequestID)
	}
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("vote post=%d: %w", e.PostID, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read vote response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("vote post=%d: http %d: %s", e.PostID, resp.StatusCode, truncate(strings.TrimSpace(string(raw)), 256))
	}

	var out graphQLResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode vote response: %w", err)
	}
	if len(out.Errors) > 0 {
		msgs := make([]string, len(out.Errors))
		for i, ge := range out.Errors {
			msgs[i] = ge.Message
		}
		return fmt.Errorf("vote post=%d: graphql: %s", e.PostID, strings.Join(msgs, "; "))
	}
	if out.Data == nil || out.Data.Vote == nil || !*out.Data.Vote {
		return fmt.Errorf("vote post=%d: %w", e.PostID, ErrVoteRejected)
	}
	return nil
}
