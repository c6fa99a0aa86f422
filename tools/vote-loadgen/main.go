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

// Command vote-loadgen drives a running vote-api with concurrent casts.
//
// It seeds -posts posts through the fetch path, then sends -n votes split
// across -c workers. In "toggle" mode every worker flips between up and down
// on the same post, which is the worst case for overlapping in-flight calls;
// in "spread" mode votes are distributed round-robin across posts.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type modeType string

const (
	modeToggle modeType = "toggle"
	modeSpread modeType = "spread"
)

func main() {
	var (
		base    = flag.String("base", "http://127.0.0.1:8080", "Base URL including scheme and host")
		modeS   = flag.String("mode", string(modeToggle), "Mode: toggle|spread")
		posts   = flag.Int("posts", 10, "Number of posts to seed and vote on")
		points  = flag.Int64("points", 100, "Initial points of each seeded post")
		N       = flag.Int("n", 5000, "Total votes to send")
		conc    = flag.Int("c", 8, "Number of concurrent workers")
		async   = flag.Bool("async", false, "Send votes with ?async=1")
		timeout = flag.Duration("timeout", 30*time.Second, "Overall timeout for the run")
	)
	flag.Parse()

	m := modeType(strings.ToLower(*modeS))
	if m != modeToggle && m != modeSpread {
		fmt.Fprintf(os.Stderr, "unknown -mode=%s (want toggle|spread)\n", *modeS)
		os.Exit(2)
	}
	if *N <= 0 || *conc <= 0 || *posts <= 0 {
		fmt.Fprintln(os.Stderr, "-n, -c and -posts must be > 0")
		os.Exit(2)
	}

	baseURL := strings.TrimRight(*base, "/")
	client := &http.Client{
		Transport: &http.Transport{MaxIdleConns: 256, MaxIdleConnsPerHost: 256, IdleConnTimeout: 30 * time.Second},
		Timeout:   10 * time.Second,
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	for id := 1; id <= *posts; id++ {
		body := fmt.Sprintf(`{"points":%d,"voteStatus":null}`, *points)
		code, err := send(ctx, client, http.MethodPut, fmt.Sprintf("%s/api/posts/%d", baseURL, id), body)
		if err != nil || code != http.StatusOK {
			fmt.Fprintf(os.Stderr, "seed post %d: status=%d err=%v\n", id, code, err)
			os.Exit(1)
		}
	}

	suffix := ""
	if *async {
		suffix = "?async=1"
	}
	var (
		mu     sync.Mutex
		codes  = make(map[int]int)
		errors atomic.Int64
	)
	worker := func(id, count int) {
		local := make(map[int]int)
		for i := 0; i < count; i++ {
			if ctx.Err() != nil {
				break
			}
			post := 1 + id%*posts
			if m == modeSpread {
				post = 1 + (i+id)%*posts
			}
			dir := "up"
			if (i+id)%2 == 1 {
				dir = "down"
			}
			code, err := send(ctx, client, http.MethodPost,
				fmt.Sprintf("%s/api/posts/%d/vote%s", baseURL, post, suffix), `{"direction":"`+dir+`"}`)
			if err != nil {
				errors.Add(1)
				time.Sleep(200 * time.Microsecond)
				continue
			}
			local[code]++
		}
		mu.Lock()
		for c, n := range local {
			codes[c] += n
		}
		mu.Unlock()
	}

	start := time.Now()
	per := *N / *conc
	rem := *N - per**conc
	var wg sync.WaitGroup
	wg.Add(*conc)
	for w := 0; w < *conc; w++ {
		count := per
		if w == *conc-1 {
			count += rem
		}
		go func(id, n int) {
			defer wg.Done()
			worker(id, n)
		}(w, count)
	}
	wg.Wait()
	elapsed := time.Since(start)
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}

	keys := make([]int, 0, len(codes))
	for c := range codes {
		keys = append(keys, c)
	}
	sort.Ints(keys)
	parts := make([]string, 0, len(keys))
	for _, c := range keys {
		parts = append(parts, fmt.Sprintf("%d=%d", c, codes[c]))
	}
	fmt.Printf("VoteLoadGen: mode=%s posts=%d N=%d c=%d go=%d Duration=%s Throughput=%.0f votes/s Status[%s] Errors=%d\n",
		m, *posts, *N, *conc, runtime.GOMAXPROCS(0), elapsed.Truncate(time.Millisecond),
		float64(*N)/elapsed.Seconds(), strings.Join(parts, " "), errors.Load())
}

func send(ctx context.Context, client *http.Client, method, url, body string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewBufferString(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	// Drain so the connection is reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}
