package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const (
	baseURL         = "http://127.0.0.1:18090"
	numWorkers      = 50
	testDuration    = 10 * time.Second
	numParticipants = 2000
)

var (
	languages = []string{"ru", "en", "uk"}
	genders   = []string{"m", "f", ""}
	vibes     = []string{"", "chill", "flirt", "talk"}
	interests = []string{"music", "chess", "travel", "movies", "games", "books"}
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

func main() {
	fmt.Println("=== FreshAnon Load Test ===")
	fmt.Printf("Workers: %d | Duration: %s | Participants: %d\n\n", numWorkers, testDuration, numParticipants)

	// Wait for server
	fmt.Print("Waiting for server... ")
	for i := 0; i < 30; i++ {
		resp, err := httpClient.Get(baseURL + "/health")
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

	// Phase 1: enqueue, pair, end
	fmt.Println("\n--- Phase 1: Direct pairing (enqueue + pair + end) ---")
	runPhase(testDuration, func(rng *rand.Rand) result {
		r := rng.Float64()
		id := participant(rng)
		switch {
		case r < 0.40:
			return doEnqueue(rng, id)
		case r < 0.85:
			return doPair(id)
		case r < 0.95:
			return doEnd(id)
		default:
			return doCancel(id)
		}
	})

	// Phase 2: scheduler-driven searches
	fmt.Println("\n--- Phase 2: Searches (start + status + end) ---")
	runPhase(testDuration, func(rng *rand.Rand) result {
		r := rng.Float64()
		id := participant(rng)
		switch {
		case r < 0.30:
			return doSearch(rng, id)
		case r < 0.80:
			return doStatus(id)
		case r < 0.95:
			return doEnd(id)
		default:
			return doGet("GET /stats", baseURL+"/stats")
		}
	})

	checkConsistency()
}

func runPhase(duration time.Duration, workFn func(rng *rand.Rand) result) {
	results := make(chan result, 10000)
	var wg sync.WaitGroup
	var totalOps atomic.Int64
	stop := make(chan struct{})

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for {
				select {
				case <-stop:
					return
				default:
					r := workFn(rng)
					totalOps.Add(1)
					results <- r
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

	printResults(allResults, duration)
}

func printResults(allResults map[string]*stats, duration time.Duration) {
	var totalOps int64
	var totalErrors int64

	endpoints := make([]string, 0, len(allResults))
	for ep := range allResults {
		endpoints = append(endpoints, ep)
	}
	sort.Strings(endpoints)

	fmt.Printf("\n  %-22s %8s %6s %10s %10s %10s %10s\n",
		"Endpoint", "Reqs", "Errs", "Avg", "P50", "P95", "P99")
	fmt.Println("  " + repeat("-", 88))

	for _, ep := range endpoints {
		s := allResults[ep]
		totalOps += s.count
		totalErrors += s.errors

		sort.Slice(s.latencies, func(i, j int) bool {
			return s.latencies[i] < s.latencies[j]
		})

		avg := avgDuration(s.latencies)
		p50 := percentile(s.latencies, 0.50)
		p95 := percentile(s.latencies, 0.95)
		p99 := percentile(s.latencies, 0.99)

		fmt.Printf("  %-22s %8d %6d %10s %10s %10s %10s\n",
			ep, s.count, s.errors, fmtDur(avg), fmtDur(p50), fmtDur(p95), fmtDur(p99))
	}

	rps := float64(totalOps) / duration.Seconds()
	fmt.Println("  " + repeat("-", 88))
	fmt.Printf("  Total: %d reqs | Errors: %d (%.1f%%) | RPS: %.0f\n",
		totalOps, totalErrors, float64(totalErrors)/float64(totalOps)*100, rps)
}

func participant(rng *rand.Rand) string {
	return fmt.Sprintf("lt_%d", rng.Intn(numParticipants))
}

func randomSnapshot(rng *rand.Rand) map[string]interface{} {
	n := rng.Intn(3)
	picked := make([]string, n)
	for i := range picked {
		picked[i] = interests[rng.Intn(len(interests))]
	}
	return map[string]interface{}{
		"language":       languages[rng.Intn(len(languages))],
		"age":            18 + rng.Intn(20),
		"gender":         genders[rng.Intn(len(genders))],
		"desired_gender": "any",
		"age_window":     2 + rng.Intn(4),
		"vibe":           vibes[rng.Intn(len(vibes))],
		"interests":      picked,
	}
}

func postJSON(endpoint, path string, body interface{}, ok func(int) bool) result {
	data, _ := json.Marshal(body)
	start := time.Now()
	resp, err := httpClient.Post(baseURL+path, "application/json", bytes.NewReader(data))
	lat := time.Since(start)
	if err != nil {
		return result{endpoint, 0, lat, true}
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return result{endpoint, resp.StatusCode, lat, !ok(resp.StatusCode)}
}

func doGet(endpoint, url string) result {
	start := time.Now()
	resp, err := httpClient.Get(url)
	lat := time.Since(start)
	if err != nil {
		return result{endpoint, 0, lat, true}
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return result{endpoint, resp.StatusCode, lat, resp.StatusCode >= 500}
}

// 409 (already in a session) and 404 (not waiting) are expected outcomes under churn.
func expected(codes ...int) func(int) bool {
	return func(code int) bool {
		for _, c := range codes {
			if c == code {
				return true
			}
		}
		return false
	}
}

func doEnqueue(rng *rand.Rand, id string) result {
	body := map[string]interface{}{"participant_id": id, "snapshot": randomSnapshot(rng)}
	return postJSON("POST /queue", "/queue", body, expected(204, 409))
}

func doPair(id string) result {
	return postJSON("POST /pair", "/pair", map[string]string{"participant_id": id}, expected(200, 404))
}

func doEnd(id string) result {
	return postJSON("POST /session/end", "/session/end", map[string]string{"participant_id": id}, expected(200))
}

func doCancel(id string) result {
	return postJSON("POST /queue/cancel", "/queue/cancel", map[string]string{"participant_id": id}, expected(204))
}

func doSearch(rng *rand.Rand, id string) result {
	body := map[string]interface{}{"participant_id": id, "snapshot": randomSnapshot(rng)}
	return postJSON("POST /search", "/search", body, expected(202, 409))
}

func doStatus(id string) result {
	return doGet("GET /search/status", baseURL+"/search/status?p="+id)
}

// checkConsistency verifies that nobody holds two sessions: every partner link must be mutual.
func checkConsistency() {
	fmt.Println("\n--- Consistency check ---")
	partners := make(map[string]string)
	for i := 0; i < numParticipants; i++ {
		id := fmt.Sprintf("lt_%d", i)
		resp, err := httpClient.Get(baseURL + "/partner?p=" + id)
		if err != nil {
			fmt.Printf("  %s: %s\n", id, err)
			continue
		}
		var body struct {
			PartnerID *string `json:"partner_id"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if body.PartnerID != nil {
			partners[id] = *body.PartnerID
		}
	}

	broken := 0
	for id, partner := range partners {
		if partners[partner] != id {
			broken++
			fmt.Printf("  asymmetric pair: %s -> %s -> %s\n", id, partner, partners[partner])
		}
	}
	fmt.Printf("  %d participants in sessions, %d broken links\n", len(partners), broken)
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
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	return fmt.Sprintf("%.1fms", float64(d.Microseconds())/1000.0)
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
