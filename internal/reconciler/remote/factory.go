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
	"database/sql"
	"errors"
	"fmt"
	"time"

	"votecache/internal/reconciler/core"
)

// Options selects and configures a backend in BuildVoter.
type Options struct {
	// UserID is the viewer on whose behalf votes are cast.
	UserID int64

	RedisAddr      string
	RedisMarkerTTL time.Duration

	KafkaTopic string

	HTTPEndpoint string
	HTTPTimeout  time.Duration
	HTTPHeaders  map[string]string

	DB *sql.DB
}

// BuildVoter returns the core.Voter for adapter.
func BuildVoter(adapter string, opts Options) (core.Voter, error) {
	switch adapter {
	case "", "mock":
		return core.NewMockVoter(), nil
	case "http":
		if opts.HTTPEndpoint == "" {
			return nil, errors.New("http adapter requires an endpoint")
		}
		return NewIdemShim(NewHTTPVoter(opts.HTTPEndpoint, opts.HTTPTimeout, opts.HTTPHeaders), opts.UserID), nil
	case "redis":
		var evaler RedisEvaler
		if opts.RedisAddr != "" {
			evaler = NewGoRedisEvaler(opts.RedisAddr)
		} else {
			// Dependency-free demo.
			evaler = LoggingRedisEvaler{}
		}
		return NewIdemShim(NewRedisVoter(evaler, opts.RedisMarkerTTL), opts.UserID), nil
	case "kafka":
		topic := opts.KafkaTopic
		if topic == "" {
			topic = "post-votes"
		}
		return NewIdemShim(NewKafkaVoter(LoggingKafkaProducer{}, topic), opts.UserID), nil
	case "postgres":
		if opts.DB == nil {
			return nil, errors.New("postgres adapter requires a *sql.DB with the updoot schema")
		}
		return NewIdemShim(NewPostgresVoter(opts.DB), opts.UserID), nil
	default:
		return nil, fmt.Errorf("unknown remote adapter: %s", adapter)
	}
}
