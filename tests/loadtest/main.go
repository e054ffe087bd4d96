package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	json "github.com/goccy/go-json"
	"go.uber.org/atomic"
)

var (
	baseURL      = flag.String("url", "http://127.0.0.1:18090", "inboxd base url")
	numWorkers   = flag.Int("workers", 50, "concurrent workers")
	testDuration = flag.Duration("duration", 10*time.Second, "duration of each phase")
)

var httpClient = &http.Client{
	Timeout: 5 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        200,
		MaxIdleConnsPerHost: 200,
		IdleConnTimeout:     30 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   2 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	},
}

type result struct {
	endpoint string
	status   int
	latency  time.Duration
	err      bool
}

type stats struct {
	count     int64
	errors    int64
	latencies []time.Duration
}

type feedEntry struct {
	Ref        string `json:"ref"`
	IsActivity bool   `json:"isActivity"`
}

type feedResponse struct {
	Entries []feedEntry `json:"entries"`
}

func main() {
	flag.Parse()

	fmt.Println("=== inboxd Load Test ===")
	fmt.Printf("Workers: %d | Duration per phase: %s | Target: %s\n\n", *numWorkers, *testDuration, *baseURL)

	fmt.Print("Waiting for server... ")
	for i := 0; i < 30; i++ {
		resp, err := httpClient.Get(*baseURL + "/health")
		if err == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			break
		}
		if i == 29 {
			fmt.Println("FAILED: server not responding")
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	fmt.Println("OK")

	refs, err := loadRefs()
	if err != nil {
		fmt.Printf("FAILED: reading feed: %s\n", err)
		return
	}
	fmt.Printf("Feed holds %d notification refs\n", len(refs))

	fmt.Println("\n--- Phase 1: Read-only (GET /feed, GET /unread) ---")
	runPhase(*testDuration, func(rng *rand.Rand) result {
		if rng.Float64() < 0.6 {
			return doGet("/feed")
		}
		return doGet("/unread")
	})

	if len(refs) == 0 {
		fmt.Println("\nNo notifications to act on, skipping write phases")
		return
	}

	// seen marks are idempotent and never touch the remote store
	fmt.Println("\n--- Phase 2: Mixed load (80% GET, 20% POST /seen) ---")
	runPhase(*testDuration, func(rng *rand.Rand) result {
		r := rng.Float64()
		switch {
		case r < 0.20:
			return doPost("/seen", map[string]interface{}{"refs": pick(rng, refs, 3)})
		case r < 0.70:
			return doGet("/feed")
		default:
			return doGet("/unread")
		}
	})

	fmt.Println("\n--- Phase 3: Read-state writes (70% GET, 30% POST /read) ---")
	runPhase(*testDuration, func(rng *rand.Rand) result {
		r := rng.Float64()
		switch {
		case r < 0.30:
			return doPost("/read", map[string]string{"ref": refs[rng.Intn(len(refs))]})
		case r < 0.32:
			return doPost("/refresh", nil)
		case r < 0.70:
			return doGet("/feed")
		default:
			return doGet("/unread")
		}
	})
}

func loadRefs() ([]string, error) {
	resp, err := httpClient.Get(*baseURL + "/feed")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var feed feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, err
	}
	refs := make([]string, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		if !e.IsActivity {
			refs = append(refs, e.Ref)
		}
	}
	return refs, nil
}

func pick(rng *rand.Rand, refs []string, limit int) []string {
	n := rng.Intn(limit) + 1
	out := make([]string, n)
	for i := range out {
		out[i] = refs[rng.Intn(len(refs))]
	}
	return out
}

func runPhase(duration time.Duration, workFn func(rng *rand.Rand) result) {
	results := make(chan result, 10000)
	var wg sync.WaitGroup
	totalOps := atomic.NewInt64(0)
	stop := make(chan struct{})

	for i := 0; i < *numWorkers; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for {
				select {
				case <-stop:
					return
				default:
					results <- workFn(rng)
					totalOps.Inc()
				}
			}
		}(rand.Int63() + int64(i))
	}

	allResults := make(map[string]*stats)
	done := make(chan struct{})
	go func() {
		for r := range results {
			s, ok := allResults[r.endpoint]
			if !ok {
				s = &stats{}
				allResults[r.endpoint] = s
			}
			s.count++
			if r.err {
				s.errors++
			}
			s.latencies = append(s.latencies, r.latency)
		}
		close(done)
	}()

	time.Sleep(duration)
	close(stop)
	wg.Wait()
	close(results)
	<-done

	printResults(allResults, totalOps.Load(), duration)
}

func printResults(allResults map[string]*stats, totalOps int64, duration time.Duration) {
	var totalErrors int64

	endpoints := make([]string, 0, len(allResults))
	for ep := range allResults {
		endpoints = append(endpoints, ep)
	}
	sort.Strings(endpoints)

	fmt.Printf("\n  %-18s %10s %6s %10s %10s %10s %10s\n",
		"Endpoint", "Reqs", "Errs", "Avg", "P50", "P95", "P99")
	fmt.Println("  " + strings.Repeat("-", 80))

	for _, ep := range endpoints {
		s := allResults[ep]
		totalErrors += s.errors

		sort.Slice(s.latencies, func(i, j int) bool {
			return s.latencies[i] < s.latencies[j]
		})

		fmt.Printf("  %-18s %10s %6d %10s %10s %10s %10s\n",
			ep, humanize.Comma(s.count), s.errors,
			fmtDur(avgDuration(s.latencies)),
			fmtDur(percentile(s.latencies, 0.50)),
			fmtDur(percentile(s.latencies, 0.95)),
			fmtDur(percentile(s.latencies, 0.99)))
	}

	rps := float64(totalOps) / duration.Seconds()
	errRate := 0.0
	if totalOps > 0 {
		errRate = float64(totalErrors) / float64(totalOps) * 100
	}
	fmt.Println("  " + strings.Repeat("-", 80))
	fmt.Printf("  Total: %s reqs | Errors: %d (%.1f%%) | RPS: %s\n",
		humanize.Comma(totalOps), totalErrors, errRate, humanize.Comma(int64(rps)))
}

func doGet(path string) result {
	endpoint := "GET " + path
	start := time.Now()
	resp, err := httpClient.Get(*baseURL + path)
	lat := time.Since(start)
	if err != nil {
		return result{endpoint, 0, lat, true}
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return result{endpoint, resp.StatusCode, lat, resp.StatusCode != http.StatusOK}
}

func doPost(path string, body interface{}) result {
	endpoint := "POST " + path
	var reader io.Reader = http.NoBody
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	start := time.Now()
	resp, err := httpClient.Post(*baseURL+path, "application/json", reader)
	lat := time.Since(start)
	if err != nil {
		return result{endpoint, 0, lat, true}
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return result{endpoint, resp.StatusCode, lat, resp.StatusCode != http.StatusOK}
}

func avgDuration(d []time.Duration) time.Duration {
	if len(d) == 0 {
		return 0
	}
	var sum time.Duration
	for _, v := range d {
		sum += v
	}
	return sum / time.Duration(len(d))
}

func percentile(d []time.Duration, p float64) time.Duration {
	if len(d) == 0 {
		return 0
	}
	idx := int(float64(len(d)) * p)
	if idx >= len(d) {
		idx = len(d) - 1
	}
	return d[idx]
}

func fmtDur(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dus", d.Microseconds())
	}
	return fmt.Sprintf("%.1fms", float64(d.Microseconds())/1000.0)
}
