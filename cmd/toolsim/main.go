// Package main provides a simulated menu tool backend for exercising the
// relay. It serves price and allergen lookups with configurable latency,
// failure rate, and an optional request rate cap, so breaker trips,
// fallbacks, and throttling can be reproduced locally.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var priceCents = map[string]int{
	"STEAK": 399,
	"FISH":  349,
	"PASTA": 149,
}

var allergens = map[string][]string{
	"PASTA": {"gluten", "egg"},
	"BREAD": {"gluten"},
	"CURRY": {"peanut", "dairy"},
	"STEAK": {},
}

func main() {
	port := flag.Int("port", 7001, "port to listen on")
	name := flag.String("name", "toolsim", "service name reported in responses")
	failRate := flag.Float64("fail-rate", 0, "probability (0..1) a tool call returns 500")
	baseLatency := flag.Int("base-latency-ms", 30, "minimum latency added to tool calls")
	jitter := flag.Int("jitter-ms", 20, "random extra latency added to tool calls")
	throttleRPS := flag.Float64("throttle-rps", 0, "cap on tool calls per second, 0 for unlimited")
	flag.Parse()

	if p := os.Getenv("PORT"); p != "" {
		fmt.Sscanf(p, "%d", port)
	}
	if n := os.Getenv("SERVICE_NAME"); n != "" {
		*name = n
	}

	var limiter *rate.Limiter
	if *throttleRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(*throttleRPS), int(*throttleRPS)+1)
	}

	// misbehave applies the configured latency and failure roll. Returns
	// false after writing an error response; the caller should stop.
	misbehave := func(w http.ResponseWriter) bool {
		if limiter != nil && !limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
				"service": *name,
				"error":   "throttled",
			})
			return false
		}
		delay := *baseLatency
		if *jitter > 0 {
			delay += rand.Intn(*jitter)
		}
		time.Sleep(time.Duration(delay) * time.Millisecond)
		if *failRate > 0 && rand.Float64() < *failRate {
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"service": *name,
				"error":   "simulated failure",
			})
			return false
		}
		return true
	}

	// /price/{sku} returns the sku's price in cents.
	http.HandleFunc("/price/", func(w http.ResponseWriter, r *http.Request) {
		if !misbehave(w) {
			return
		}
		sku := strings.ToUpper(strings.TrimPrefix(r.URL.Path, "/price/"))
		cents, ok := priceCents[sku]
		if !ok {
			cents = 250
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"sku":         sku,
			"price_cents": cents,
			"currency":    "USD",
			"source":      *name,
		})
	})

	// /allergens/{recipe} returns the recipe's allergen list.
	http.HandleFunc("/allergens/", func(w http.ResponseWriter, r *http.Request) {
		if !misbehave(w) {
			return
		}
		recipe := strings.ToUpper(strings.TrimPrefix(r.URL.Path, "/allergens/"))
		list, ok := allergens[recipe]
		if !ok {
			list = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"recipe":     recipe,
			"allergens":  list,
			"confidence": 0.97,
			"source":     *name,
		})
	})

	// /__status/{code} returns an arbitrary HTTP status code, bypassing the
	// latency and failure simulation. Useful for deterministic tests.
	// Example: GET /__status/503 → 503 Service Unavailable
	http.HandleFunc("/__status/", func(w http.ResponseWriter, r *http.Request) {
		codeStr := strings.TrimPrefix(r.URL.Path, "/__status/")
		code, err := strconv.Atoi(codeStr)
		if err != nil || code < 100 || code > 599 {
			code = 500
		}
		writeJSON(w, code, map[string]interface{}{
			"service":        *name,
			"requested_code": code,
			"message":        http.StatusText(code),
		})
	})

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"service":   *name,
			"method":    r.Method,
			"path":      r.URL.Path,
			"query":     r.URL.RawQuery,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("%s listening on %s (fail-rate=%.2f base-latency=%dms jitter=%dms throttle-rps=%.1f)",
		*name, addr, *failRate, *baseLatency, *jitter, *throttleRPS)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func writeJSON(w http.ResponseWriter, code int, v map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
