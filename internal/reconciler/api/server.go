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

// Package api exposes the vote cache to UI collaborators over HTTP: post
// reads, fetch-path writes, vote casts and a WebSocket change stream.
package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"votecache"
	"votecache/internal/reconciler/core"
	"votecache/pkg/wire"
)

// Options configures a Server.
type Options struct {
	// Metrics, when set, is served at /metrics.
	Metrics http.Handler
	Logger  *zerolog.Logger
	// StreamBuffer is each stream subscriber's change buffer.
	StreamBuffer int
	// AllowedOrigins lists WebSocket/CORS origins. Empty allows same-origin
	// and non-browser clients only.
	AllowedOrigins []string
}

// Server handles the HTTP surface of the vote cache.
type Server struct {
	rec     *core.Reconciler
	store   *core.Store
	metrics http.Handler
	log     zerolog.Logger
	buffer  int
	origins map[string]bool

	upgrader websocket.Upgrader
}

func NewServer(rec *core.Reconciler, opts Options) *Server {
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	s := &Server{
		rec:     rec,
		store:   rec.Store(),
		metrics: opts.Metrics,
		log:     log.With().Str("component", "api").Logger(),
		buffer:  opts.StreamBuffer,
		origins: make(map[string]bool, len(opts.AllowedOrigins)),
	}
	for _, o := range opts.AllowedOrigins {
		s.origins[o] = true
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || sameOrigin(origin, r.Host) || s.origins[origin]
		},
	}
	return s
}

func (s *Server) Routes() http.Handler {
	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger(), s.corsMiddleware())
	engine.GET("/healthz", s.handleHealthz)
	engine.GET("/api/posts", s.handleListPosts)
	engine.GET("/api/posts/:id", s.handleGetPost)
	engine.PUT("/api/posts/:id", s.handlePutPost)
	engine.POST("/api/posts/:id/vote", s.handleVote)
	engine.GET("/api/posts/:id/inflight", s.handleInFlight)
	engine.GET("/api/failures", s.handleFailures)
	engine.GET("/api/stream", s.handleStream)
	if s.metrics != nil {
		engine.GET("/metrics", gin.WrapH(s.metrics))
	}
	return engine
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "posts": s.store.Len()})
}

func (s *Server) handleListPosts(c *gin.Context) {
	posts := s.store.Posts()
	sort.Slice(posts, func(i, j int) bool { return posts[i].ID < posts[j].ID })
	out := make([]wire.Fragment, len(posts))
	for i, p := range posts {
		out[i] = toFragment(p)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetPost(c *gin.Context) {
	id, ok := postID(c)
	if !ok {
		return
	}
	p, found := s.store.Get(id)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "post not cached"})
		return
	}
	c.JSON(http.StatusOK, toFragment(p))
}

// handlePutPost is the fetch path: a query result for the post arrives and
// is merged field by field.
func (s *Server) handlePutPost(c *gin.Context) {
	id, ok := postID(c)
	if !ok {
		return
	}
	var f wire.Fragment
	if err := c.ShouldBindJSON(&f); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	f.ID = id
	p, err := fromFragment(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toFragment(s.store.Merge(p)))
}

type voteRequest struct {
	Direction string `json:"direction"`
}

type voteResponse struct {
	Outcome string        `json:"outcome"`
	Post    wire.Fragment `json:"post"`
	Pending bool          `json:"pending,omitempty"`
	Error   string        `json:"error,omitempty"`
}

func (s *Server) handleVote(c *gin.Context) {
	id, ok := postID(c)
	if !ok {
		return
	}
	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	d, err := votecache.ParseDirection(req.Direction)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// The remote call outlives the request if the client goes away.
	ctx := context.WithoutCancel(c.Request.Context())
	cast := s.rec.Begin(ctx, id, d)

	if async(c) {
		select {
		case <-cast.Done():
		default:
			c.JSON(http.StatusAccepted, voteResponse{Outcome: "pending", Post: toFragment(cast.Post), Pending: true})
			return
		}
	}

	outcome, err := cast.Wait()
	resp := voteResponse{Outcome: outcome.String(), Post: toFragment(cast.Post)}
	if cur, found := s.store.Get(id); found {
		resp.Post = toFragment(cur)
	}
	if err != nil {
		resp.Error = err.Error()
	}
	c.JSON(outcomeStatus(outcome, err), resp)
}

func outcomeStatus(o core.Outcome, err error) int {
	switch o {
	case core.UnknownPost:
		return http.StatusNotFound
	case core.RemoteFailed:
		return http.StatusBadGateway
	}
	if errors.Is(err, core.ErrInvalidDirection) {
		return http.StatusBadRequest
	}
	return http.StatusOK
}

func (s *Server) handleInFlight(c *gin.Context) {
	id, ok := postID(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"up":   s.rec.IsInFlight(id, votecache.Up),
		"down": s.rec.IsInFlight(id, votecache.Down),
	})
}

type failureView struct {
	PostID    int64     `json:"postId"`
	Direction string    `json:"direction"`
	Error     string    `json:"error"`
	At        time.Time `json:"at"`
}

func (s *Server) handleFailures(c *gin.Context) {
	fs := s.rec.RecentFailures()
	out := make([]failureView, len(fs))
	for i, f := range fs {
		out[i] = failureView{PostID: f.PostID, Direction: f.Direction.String(), Error: f.Err, At: f.At}
	}
	c.JSON(http.StatusOK, out)
}

type changeMessage struct {
	Kind string        `json:"kind"`
	Key  string        `json:"key"`
	Post wire.Fragment `json:"post"`
}

const (
	streamWriteWait  = 5 * time.Second
	streamPingPeriod = 30 * time.Second
)

// handleStream pushes every store change to the client until either side
// closes. Messages from the client are ignored.
func (s *Server) handleStream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("stream upgrade failed")
		return
	}
	defer conn.Close()

	changes, cancel := s.store.Subscribe(s.buffer)
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()
	for {
		select {
		case ch, ok := <-changes:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(changeMessage{Kind: string(ch.Kind), Key: wire.CacheKey(ch.Post.ID), Post: toFragment(ch.Post)}); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		rid := c.GetHeader("X-Request-ID")
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Header("X-Request-ID", rid)
		c.Next()
		s.log.Debug().
			Str("request_id", rid).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if s.origins[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// sameOrigin reports whether origin names host, whatever the scheme.
func sameOrigin(origin, host string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host == host
}

// postID accepts a bare id ("7") or a cache key ("Post:7").
func postID(c *gin.Context) (int64, bool) {
	raw := c.Param("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		id, err = wire.ParseCacheKey(raw)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid post id"})
		return 0, false
	}
	return id, true
}

func async(c *gin.Context) bool {
	v := c.Query("async")
	return v == "1" || v == "true"
}

func toFragment(p core.Post) wire.Fragment {
	return wire.Fragment{ID: p.ID, Points: p.Points, VoteStatus: wire.StatusToWire(p.Status), CreatorID: p.CreatorID}
}

func fromFragment(f wire.Fragment) (core.Post, error) {
	st, err := wire.StatusFromWire(f.VoteStatus)
	if err != nil {
		return core.Post{}, err
	}
	return core.Post{ID: f.ID, Points: f.Points, Status: st, CreatorID: f.CreatorID}, nil
}
