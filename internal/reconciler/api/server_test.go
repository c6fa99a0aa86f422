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

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"votecache"
	"votecache/internal/reconciler/core"
	"votecache/internal/reconciler/telemetry"
	"votecache/pkg/wire"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testVoter struct {
	calls atomic.Int64
	err   error
	gate  chan struct{}
}

func (v *testVoter) CastVote(ctx context.Context, req core.VoteRequest) error {
	v.calls.Add(1)
	if v.gate != nil {
		select {
		case <-v.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return v.err
}

func newTestServer(t *testing.T, voter core.Voter, opts Options) (*Server, *core.Store, http.Handler) {
	t.Helper()
	store := core.NewStore()
	rec, err := core.NewReconciler(store, voter, core.Options{})
	if err != nil {
		t.Fatalf("NewReconciler: %v", err)
	}
	s := NewServer(rec, opts)
	return s, store, s.Routes()
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func postField(t *testing.T, resp map[string]any, field string) any {
	t.Helper()
	p, ok := resp["post"].(map[string]any)
	if !ok {
		t.Fatalf("response has no post: %v", resp)
	}
	return p[field]
}

func TestVote_Transitions(t *testing.T) {
	voter := &testVoter{}
	_, store, h := newTestServer(t, voter, Options{})
	store.Put(core.Post{ID: 7, Points: 10})

	steps := []struct {
		dir     string
		outcome string
		points  float64
		status  any
	}{
		{"up", "applied", 11, float64(1)},
		{"up", "unchanged", 11, float64(1)},
		{"down", "applied", 9, float64(-1)},
		{"down", "unchanged", 9, float64(-1)},
		{"up", "applied", 11, float64(1)},
	}
	for i, st := range steps {
		rec, resp := do(t, h, http.MethodPost, "/api/posts/7/vote", `{"direction":"`+st.dir+`"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("step %d: status %d body %s", i, rec.Code, rec.Body)
		}
		if resp["outcome"] != st.outcome || postField(t, resp, "points") != st.points || postField(t, resp, "voteStatus") != st.status {
			t.Fatalf("step %d: unexpected response %v", i, resp)
		}
	}
	if got := voter.calls.Load(); got != 3 {
		t.Fatalf("expected 3 remote calls, got %d", got)
	}
}

func TestVote_ErrorMapping(t *testing.T) {
	_, store, h := newTestServer(t, &testVoter{}, Options{})
	store.Put(core.Post{ID: 1})

	testCases := []struct {
		path string
		body string
		code int
	}{
		{"/api/posts/404/vote", `{"direction":"up"}`, http.StatusNotFound},
		{"/api/posts/1/vote", `{"direction":"sideways"}`, http.StatusBadRequest},
		{"/api/posts/abc/vote", `{"direction":"up"}`, http.StatusBadRequest},
		{"/api/posts/1/vote", `not json`, http.StatusBadRequest},
	}
	for _, tc := range testCases {
		rec, _ := do(t, h, http.MethodPost, tc.path, tc.body)
		if rec.Code != tc.code {
			t.Fatalf("%s %s: got %d want %d", tc.path, tc.body, rec.Code, tc.code)
		}
	}
}

func TestVote_RemoteFailureKeepsOptimisticState(t *testing.T) {
	_, store, h := newTestServer(t, &testVoter{err: errors.New("server unreachable")}, Options{})
	store.Put(core.Post{ID: 3, Points: 5})

	rec, resp := do(t, h, http.MethodPost, "/api/posts/3/vote", `{"direction":"down"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status %d, want 502", rec.Code)
	}
	if resp["outcome"] != "remote_failed" || !strings.Contains(resp["error"].(string), "server unreachable") {
		t.Fatalf("unexpected response %v", resp)
	}
	if p, _ := store.Get(3); p.Points != 4 || p.Status != votecache.Downvoted {
		t.Fatalf("optimistic write rolled back: %+v", p)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/failures", nil))
	var fs []failureView
	if err := json.Unmarshal(rec.Body.Bytes(), &fs); err != nil || len(fs) != 1 {
		t.Fatalf("failures: %s %v", rec.Body, err)
	}
	if fs[0].PostID != 3 || fs[0].Direction != "down" {
		t.Fatalf("unexpected failure %+v", fs[0])
	}
}

func TestVote_AsyncAndInFlight(t *testing.T) {
	voter := &testVoter{gate: make(chan struct{})}
	_, store, h := newTestServer(t, voter, Options{})
	store.Put(core.Post{ID: 9, Points: 0})

	rec, resp := do(t, h, http.MethodPost, "/api/posts/9/vote?async=1", `{"direction":"up"}`)
	if rec.Code != http.StatusAccepted || resp["pending"] != true || postField(t, resp, "points") != float64(1) {
		t.Fatalf("async vote: %d %v", rec.Code, resp)
	}
	_, inflight := do(t, h, http.MethodGet, "/api/posts/9/inflight", "")
	if inflight["up"] != true || inflight["down"] != false {
		t.Fatalf("expected up in flight, got %v", inflight)
	}

	close(voter.gate)
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, inflight = do(t, h, http.MethodGet, "/api/posts/9/inflight", "")
		if inflight["up"] == false {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("marker never cleared")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPosts_PutGetList(t *testing.T) {
	_, _, h := newTestServer(t, &testVoter{}, Options{})

	puts := []struct{ path, body string }{
		{"/api/posts/2", `{"points":3,"voteStatus":null,"creatorId":5}`},
		{"/api/posts/1", `{"points":8,"voteStatus":1}`},
	}
	for _, p := range puts {
		if rec, _ := do(t, h, http.MethodPut, p.path, p.body); rec.Code != http.StatusOK {
			t.Fatalf("put %s: %d %s", p.path, rec.Code, rec.Body)
		}
	}
	rec, got := do(t, h, http.MethodGet, "/api/posts/2", "")
	if rec.Code != http.StatusOK || got["points"] != float64(3) || got["voteStatus"] != nil || got["creatorId"] != float64(5) {
		t.Fatalf("get: %d %v", rec.Code, got)
	}
	if rec, _ := do(t, h, http.MethodGet, "/api/posts/77", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec, _ := do(t, h, http.MethodPut, "/api/posts/3", `{"points":1,"voteStatus":5}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad voteStatus, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/posts", nil))
	var list []wire.Fragment
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != 1 || list[1].ID != 2 {
		t.Fatalf("list not sorted by id: %+v", list)
	}
}

func TestPosts_CacheKeyIDs(t *testing.T) {
	voter := &testVoter{}
	_, store, h := newTestServer(t, voter, Options{})
	store.Put(core.Post{ID: 4, Points: 2})

	rec, got := do(t, h, http.MethodGet, "/api/posts/Post:4", "")
	if rec.Code != http.StatusOK || got["id"] != float64(4) {
		t.Fatalf("get by key: %d %v", rec.Code, got)
	}
	rec, resp := do(t, h, http.MethodPost, "/api/posts/Post:4/vote", `{"direction":"down"}`)
	if rec.Code != http.StatusOK || postField(t, resp, "points") != float64(1) {
		t.Fatalf("vote by key: %d %v", rec.Code, resp)
	}
	for _, bad := range []string{"Post:", "Post:x", "post:4", "x4"} {
		if rec, _ := do(t, h, http.MethodGet, "/api/posts/"+bad, ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("%q: expected 400, got %d", bad, rec.Code)
		}
	}
}

func TestPutPost_KeepsPendingVote(t *testing.T) {
	voter := &testVoter{gate: make(chan struct{})}
	defer close(voter.gate)
	_, store, h := newTestServer(t, voter, Options{})
	store.Put(core.Post{ID: 4, Points: 10})

	if rec, _ := do(t, h, http.MethodPost, "/api/posts/4/vote?async=1", `{"direction":"up"}`); rec.Code != http.StatusAccepted {
		t.Fatalf("async vote: %d", rec.Code)
	}
	_, got := do(t, h, http.MethodPut, "/api/posts/4", `{"points":10,"voteStatus":null,"creatorId":2}`)
	if got["points"] != float64(11) || got["voteStatus"] != float64(1) || got["creatorId"] != float64(2) {
		t.Fatalf("stale fetch overwrote vote fields: %v", got)
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	m, err := telemetry.New(prometheus.NewRegistry(), nil)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	_, _, h := newTestServer(t, &testVoter{}, Options{Metrics: m.Handler()})
	if rec, resp := do(t, h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK || resp["status"] != "ok" {
		t.Fatalf("healthz: %d %v", rec.Code, resp)
	}
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "votecache_inflight") {
		t.Fatalf("metrics: %d %s", rec.Code, rec.Body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected a request id header")
	}
}

func TestStream_PushesChanges(t *testing.T) {
	_, store, h := newTestServer(t, &testVoter{}, Options{StreamBuffer: 8})
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The server subscribes right after the handshake; keep writing until a
	// change comes through.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(10 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				store.Put(core.Post{ID: 12, Points: 4})
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg changeMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Kind != "put" || msg.Key != "Post:12" || msg.Post.ID != 12 || msg.Post.Points != 4 {
		t.Fatalf("unexpected change %+v", msg)
	}
}

func TestStream_RejectsForeignOrigin(t *testing.T) {
	_, _, h := newTestServer(t, &testVoter{}, Options{AllowedOrigins: []string{"http://localhost:5173"}})
	srv := httptest.NewServer(h)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/stream"

	hdr := http.Header{"Origin": []string{"http://evil.example"}}
	if _, _, err := websocket.DefaultDialer.Dial(url, hdr); err == nil {
		t.Fatalf("expected handshake to fail for a foreign origin")
	}
	hdr = http.Header{"Origin": []string{"http://localhost:5173"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, hdr)
	if err != nil {
		t.Fatalf("allowed origin: %v", err)
	}
	conn.Close()
}

func TestStream_SameOriginAnyScheme(t *testing.T) {
	_, _, h := newTestServer(t, &testVoter{}, Options{AllowedOrigins: []string{"http://localhost:5173"}})
	srv := httptest.NewServer(h)
	defer srv.Close()
	host := strings.TrimPrefix(srv.URL, "http://")
	url := "ws://" + host + "/api/stream"

	for _, origin := range []string{"http://" + host, "https://" + host} {
		conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{origin}})
		if err != nil {
			t.Fatalf("origin %s: %v", origin, err)
		}
		conn.Close()
	}
	for _, origin := range []string{"https://other." + host, "ftp://" + host, "null"} {
		if _, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{origin}}); err == nil {
			t.Fatalf("origin %s should be rejected", origin)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	_, _, h := newTestServer(t, &testVoter{}, Options{AllowedOrigins: []string{"http://localhost:5173"}})
	req := httptest.NewRequest(http.MethodOptions, "/api/posts/1/vote", bytes.NewReader(nil))
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Fatalf("missing CORS header: %v", rec.Header())
	}
}
