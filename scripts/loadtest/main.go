// Loadtest is a concurrent HTTP load testing tool for the gateway. It fires
// requests through a gateway route, tracks latency percentiles and status
// code distribution, and reports how many requests were rejected by an open
// circuit breaker versus failed upstream.
//
// Usage:
//
//	go run ./scripts/loadtest -url http://localhost:8080/api/portfolio/holdings -concurrency 10 -requests 1000
//	go run ./scripts/loadtest -url http://localhost:8080/api/macro/global -concurrency 50 -requests 5000 -out summary.json
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type errorEnvelope struct {
	Error struct {
		Code string `json:"code"`
	} `json:"error"`
}

func main() {
	var (
		url         = flag.String("url", "http://localhost:8080/api/portfolio/holdings", "Target URL")
		concurrency = flag.Int("concurrency", 10, "Number of concurrent workers")
		requests    = flag.Int("requests", 100, "Total number of requests to send")
		method      = flag.String("method", "GET", "HTTP method")
		body        = flag.String("body", "", "Request body")
		timeoutSec  = flag.Int("timeout", 10, "Per-request timeout in seconds")
	)

	outJSON := flag.String("out", "", "Write JSON summary to this file (optional)")
	verbose := flag.Bool("v", false, "Verbose per-request logging to stdout")
	flag.Parse()

	client := &http.Client{Timeout: time.Duration(*timeoutSec) * time.Second}

	jobs := make(chan int)
	var wg sync.WaitGroup

	var total, success, failure int32

	var allLatencies []time.Duration
	var latMu sync.Mutex

	statusCodes := make(map[int]int32)
	errorCodes := make(map[string]int32)
	var statusMu sync.Mutex

	testStart := time.Now()

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				atomic.AddInt32(&total, 1)
				start := time.Now()

				var reqBody io.Reader
				if *body != "" {
					reqBody = bytes.NewBufferString(*body)
				}

				req, err := http.NewRequest(*method, *url, reqBody)
				if err != nil {
					atomic.AddInt32(&failure, 1)
					continue
				}
				if *body != "" {
					req.Header.Set("Content-Type", "application/json")
				}

				resp, err := client.Do(req)
				dur := time.Since(start)

				latMu.Lock()
				allLatencies = append(allLatencies, dur)
				latMu.Unlock()

				if err != nil {
					atomic.AddInt32(&failure, 1)
					if *verbose {
						fmt.Printf("request %d: error %v\n", idx, err)
					}
					continue
				}

				payload, _ := io.ReadAll(resp.Body)
				resp.Body.Close()

				statusMu.Lock()
				statusCodes[resp.StatusCode]++
				if resp.StatusCode >= 400 {
					var env errorEnvelope
					if json.Unmarshal(payload, &env) == nil && env.Error.Code != "" {
						errorCodes[env.Error.Code]++
					}
				}
				statusMu.Unlock()

				if resp.StatusCode >= 200 && resp.StatusCode < 300 {
					atomic.AddInt32(&success, 1)
				} else {
					atomic.AddInt32(&failure, 1)
				}

				if *verbose {
					fmt.Printf("request %d: %d in %s\n", idx, resp.StatusCode, dur)
				}
			}
		}()
	}

	for i := 0; i < *requests; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	elapsed := time.Since(testStart)

	sort.Slice(allLatencies, func(i, j int) bool { return allLatencies[i] < allLatencies[j] })

	summary := map[string]any{
		"url":              *url,
		"total":            total,
		"success":          success,
		"failure":          failure,
		"duration":         elapsed.String(),
		"requests_per_sec": float64(total) / elapsed.Seconds(),
		"p50":              pct(allLatencies, 0.50).String(),
		"p90":              pct(allLatencies, 0.90).String(),
		"p95":              pct(allLatencies, 0.95).String(),
		"p99":              pct(allLatencies, 0.99).String(),
		"status_codes":     statusCodes,
		"error_codes":      errorCodes,
	}

	fmt.Printf("\n=== results ===\n")
	fmt.Printf("total: %d  success: %d  failure: %d  (%.1f req/s)\n",
		total, success, failure, float64(total)/elapsed.Seconds())
	fmt.Printf("latency p50=%s p90=%s p95=%s p99=%s\n",
		pct(allLatencies, 0.50), pct(allLatencies, 0.90),
		pct(allLatencies, 0.95), pct(allLatencies, 0.99))
	for code, count := range statusCodes {
		fmt.Printf("  HTTP %d: %d\n", code, count)
	}
	for code, count := range errorCodes {
		fmt.Printf("  %s: %d\n", code, count)
	}

	if *outJSON != "" {
		data, _ := json.MarshalIndent(summary, "", "  ")
		if err := os.WriteFile(*outJSON, data, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write summary: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("summary written to %s\n", *outJSON)
	}
}

func pct(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
