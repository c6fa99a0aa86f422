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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"votecache/pkg/wire"
)

func seedFragment(id int64) wire.Fragment {
	return wire.Fragment{ID: id, Points: 1, VoteStatus: wire.StatusToWire(0)}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" || cfg.Remote.Adapter != "mock" || cfg.Remote.Timeout != 10*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9999"
cache:
  eviction_age: 30m
  eviction_interval: 1m
remote:
  adapter: http
  url: http://localhost:4000/graphql
  timeout: 2s
  headers:
    Cookie: qid=abc
vote_log: /tmp/votes.jsonl
seed:
  - id: 7
    points: 10
    voteStatus: 1
  - id: 8
    points: 3
    voteStatus: null
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9999" || cfg.Cache.EvictionAge != 30*time.Minute || cfg.Remote.Timeout != 2*time.Second {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Fatalf("defaults should survive a partial file, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Remote.Headers["Cookie"] != "qid=abc" {
		t.Fatalf("headers: %v", cfg.Remote.Headers)
	}
	if len(cfg.Seed) != 2 || cfg.Seed[0].VoteStatus == nil || *cfg.Seed[0].VoteStatus != 1 || cfg.Seed[1].VoteStatus != nil {
		t.Fatalf("seed: %+v", cfg.Seed)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("VOTECACHE_REMOTE_URL", "http://env/graphql")
	t.Setenv("VOTECACHE_REDIS_ADDR", "redis:6379")
	t.Setenv("VOTECACHE_USER_ID", "42")
	path := writeConfig(t, "remote:\n  adapter: http\n  url: http://file/graphql\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Remote.URL != "http://env/graphql" || cfg.Remote.RedisAddr != "redis:6379" || cfg.Remote.UserID != 42 {
		t.Fatalf("env not applied: %+v", cfg.Remote)
	}

	t.Setenv("VOTECACHE_USER_ID", "not-a-number")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for bad VOTECACHE_USER_ID")
	}
}

func TestValidate(t *testing.T) {
	bad := 2
	testCases := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"http without url", func(c *Config) { c.Remote.Adapter = "http" }, "remote.url"},
		{"postgres without dsn", func(c *Config) { c.Remote.Adapter = "postgres" }, "postgres_dsn"},
		{"unknown adapter", func(c *Config) { c.Remote.Adapter = "carrier-pigeon" }, "unknown remote adapter"},
		{"negative timeout", func(c *Config) { c.Remote.Timeout = -time.Second }, "negative"},
		{"eviction without interval", func(c *Config) { c.Cache.EvictionInterval = 0 }, "eviction_interval"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging format"},
		{"duplicate seed", func(c *Config) {
			c.Seed = append(c.Seed, c.Seed[0], c.Seed[0])
		}, "duplicate"},
		{"bad seed status", func(c *Config) { c.Seed[0].VoteStatus = &bad }, "seed post 1"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			c.Seed = nil
			c.Seed = append(c.Seed, seedFragment(1))
			tc.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
