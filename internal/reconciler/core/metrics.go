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
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Process-wide cast totals, printed by MockVoter.PrintFinalMetrics.
var (
	castsTotal        atomic.Int64
	appliedTotal      atomic.Int64
	unchangedTotal    atomic.Int64
	unknownPostTotal  atomic.Int64
	remoteFailedTotal atomic.Int64

	// config holds human-readable settings captured at startup.
	configMu sync.RWMutex
	config   = make(map[string]string)
)

// CastTotals is a snapshot of the process-wide totals.
type CastTotals struct {
	Casts        int64
	Applied      int64
	Unchanged    int64
	UnknownPost  int64
	RemoteFailed int64
}

func recordOutcome(o Outcome) {
	castsTotal.Add(1)
	switch o {
	case Applied:
		appliedTotal.Add(1)
	case Unchanged:
		unchangedTotal.Add(1)
	case UnknownPost:
		unknownPostTotal.Add(1)
	case RemoteFailed:
		remoteFailedTotal.Add(1)
	}
}

// Totals returns the current process-wide totals.
func Totals() CastTotals {
	return CastTotals{
		Casts:        castsTotal.Load(),
		Applied:      appliedTotal.Load(),
		Unchanged:    unchangedTotal.Load(),
		UnknownPost:  unknownPostTotal.Load(),
		RemoteFailed: remoteFailedTotal.Load(),
	}
}

func SetConfig(name string, value string) {
	configMu.Lock()
	config[name] = value
	configMu.Unlock()
}

func SetConfigInt64(name string, v int64)           { SetConfig(name, fmt.Sprintf("%d", v)) }
func SetConfigDuration(name string, d time.Duration) { SetConfig(name, d.String()) }
func SetConfigBool(name string, b bool)             { SetConfig(name, fmt.Sprintf("%t", b)) }

func getConfigSnapshot() map[string]string {
	configMu.RLock()
	defer configMu.RUnlock()
	out := make(map[string]string, len(config))
	for k, v := range config {
		out[k] = v
	}
	return out
}

func resetTotals() {
	castsTotal.Store(0)
	appliedTotal.Store(0)
	unchangedTotal.Store(0)
	unknownPostTotal.Store(0)
	remoteFailedTotal.Store(0)
}

func resetConfigForTests() {
	configMu.Lock()
	defer configMu.Unlock()
	for k := range config {
		delete(config, k)
	}
}
