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

// Package config loads the vote-api configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"votecache/pkg/wire"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Cache   CacheConfig   `yaml:"cache"`
	Remote  RemoteConfig  `yaml:"remote"`
	Logging LoggingConfig `yaml:"logging"`
	// VoteLog is the JSONL path for settled casts. Empty disables it.
	VoteLog string `yaml:"vote_log"`
	// Seed posts are loaded into the cache at startup, as if fetched.
	Seed []wire.Fragment `yaml:"seed"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Metrics         bool          `yaml:"metrics"`
}

type CacheConfig struct {
	EvictionAge      time.Duration `yaml:"eviction_age"`
	EvictionInterval time.Duration `yaml:"eviction_interval"`
	StreamBuffer     int           `yaml:"stream_buffer"`
}

type RemoteConfig struct {
	// Adapter is one of mock, http, redis, kafka, postgres.
	Adapter         string            `yaml:"adapter"`
	URL             string            `yaml:"url"`
	Timeout         time.Duration     `yaml:"timeout"`
	Headers         map[string]string `yaml:"headers"`
	UserID          int64             `yaml:"user_id"`
	RedisAddr       string            `yaml:"redis_addr"`
	RedisMarkerTTL  time.Duration     `yaml:"redis_marker_ttl"`
	KafkaTopic      string            `yaml:"kafka_topic"`
	PostgresDriver  string            `yaml:"postgres_driver"`
	PostgresDSN     string            `yaml:"postgres_dsn"`
	FailureCapacity int               `yaml:"failure_capacity"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

// Default returns the settings used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080", ShutdownTimeout: 5 * time.Second, Metrics: true},
		Cache: CacheConfig{
			EvictionAge:      time.Hour,
			EvictionInterval: 10 * time.Minute,
			StreamBuffer:     64,
		},
		Remote: RemoteConfig{
			Adapter:         "mock",
			Timeout:         10 * time.Second,
			KafkaTopic:      "post-votes",
			PostgresDriver:  "postgres",
			FailureCapacity: 128,
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// Load reads path over the defaults, applies env overrides and validates.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("VOTECACHE_REMOTE_URL"); v != "" {
		c.Remote.URL = v
	}
	if v := os.Getenv("VOTECACHE_REDIS_ADDR"); v != "" {
		c.Remote.RedisAddr = v
	}
	if v := os.Getenv("VOTECACHE_USER_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("VOTECACHE_USER_ID: %w", err)
		}
		c.Remote.UserID = id
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Remote.Adapter {
	case "", "mock", "redis", "kafka":
	case "http":
		if c.Remote.URL == "" {
			return fmt.Errorf("remote.url is required for the http adapter (set VOTECACHE_REMOTE_URL or config)")
		}
	case "postgres":
		if c.Remote.PostgresDSN == "" {
			return fmt.Errorf("remote.postgres_dsn is required for the postgres adapter")
		}
	default:
		return fmt.Errorf("unknown remote adapter %q", c.Remote.Adapter)
	}
	if c.Remote.Timeout < 0 || c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.Cache.EvictionAge > 0 && c.Cache.EvictionInterval <= 0 {
		return fmt.Errorf("cache.eviction_interval must be positive when eviction_age is set")
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("unknown logging format %q", c.Logging.Format)
	}
	seen := make(map[int64]bool, len(c.Seed))
	for _, f := range c.Seed {
		if seen[f.ID] {
			return fmt.Errorf("seed: duplicate post id %d", f.ID)
		}
		seen[f.ID] = true
		if _, err := wire.StatusFromWire(f.VoteStatus); err != nil {
			return fmt.Errorf("seed post %d: %w", f.ID, err)
		}
	}
	return nil
}
