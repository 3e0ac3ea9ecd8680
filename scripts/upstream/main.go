// Upstream is a stub backend service used for gateway testing. It serves
// /health plus a couple of sample API endpoints, and can be made flaky or
// slow to exercise the gateway's retry and circuit breaker paths.
//
// Usage:
//
//	go run ./scripts/upstream -port 3001 -name portfolio
//	go run ./scripts/upstream -port 3002 -name market-data -failrate 60
//	go run ./scripts/upstream -port 8000 -name ml -latency 2s
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"
)

func main() {
	var (
		port     = flag.Int("port", 3001, "Listen port")
		name     = flag.String("name", "portfolio", "Service name reported in responses")
		failrate = flag.Int("failrate", 0, "Percentage of API requests answered with 500")
		latency  = flag.Duration("latency", 0, "Artificial delay added to every API response")
		downFor  = flag.Duration("down-for", 0, "Report unhealthy for this long after startup")
	)
	flag.Parse()

	started := time.Now()
	var hits int64

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if *downFor > 0 && time.Since(started) < *downFor {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "starting"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "service": *name})
	})

	apiHandler := func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&hits, 1)
		log.Printf("[%s] %s %s (request %d)", *name, r.Method, r.URL.Path, n)

		if *latency > 0 {
			time.Sleep(*latency)
		}

		if *failrate > 0 && rand.Intn(100) < *failrate {
			http.Error(w, "simulated upstream failure", http.StatusInternalServerError)
			return
		}

		json.NewEncoder(w).Encode(map[string]any{
			"service":   *name,
			"path":      r.URL.Path,
			"method":    r.Method,
			"request":   n,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}

	mux.HandleFunc("/api/", apiHandler)
	mux.HandleFunc("/predict", apiHandler)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("stub %s service listening on %s (failrate=%d%% latency=%s)",
		*name, addr, *failrate, *latency)
	log.Fatal(http.ListenAndServe(addr, mux))
}
