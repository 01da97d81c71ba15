package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Load tool for the webhook endpoint: fires synthetic sale deliveries and
// reports latency percentiles. Each delivery uses a unique customer email
// so the "paid" scenario exercises the full provisioning path.

type benchResult struct {
	Timestamp          string         `json:"timestamp"`
	BaseURL            string         `json:"base_url"`
	Scenario           string         `json:"scenario"`
	Deliveries         int            `json:"deliveries"`
	Concurrency        int            `json:"concurrency"`
	SuccessfulRequests int            `json:"successful_requests"`
	ErrorRequests      int            `json:"error_requests"`
	DurationSeconds    float64        `json:"duration_seconds"`
	AvgLatencyMs       float64        `json:"avg_latency_ms"`
	MinLatencyMs       float64        `json:"min_latency_ms"`
	MaxLatencyMs       float64        `json:"max_latency_ms"`
	P50LatencyMs       float64        `json:"p50_latency_ms"`
	P90LatencyMs       float64        `json:"p90_latency_ms"`
	P95LatencyMs       float64        `json:"p95_latency_ms"`
	P99LatencyMs       float64        `json:"p99_latency_ms"`
	ThroughputRPS      float64        `json:"throughput_rps"`
	StatusCounts       map[string]int `json:"status_counts"`
	FirstError         string         `json:"first_error"`
}

type metrics struct {
	mu           sync.Mutex
	success      int
	errors       int
	total        time.Duration
	minLatency   time.Duration
	maxLatency   time.Duration
	latenciesMs  []float64
	statusCounts map[string]int
	firstError   string
}

func newMetrics() *metrics {
	return &metrics{statusCounts: make(map[string]int)}
}

func (m *metrics) record(latency time.Duration, status int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status != 0 {
		m.statusCounts[strconv.Itoa(status)]++
	}
	if err != nil {
		m.errors++
		if m.firstError == "" {
			m.firstError = err.Error()
		}
		return
	}
	m.success++
	m.total += latency
	if m.minLatency == 0 || latency < m.minLatency {
		m.minLatency = latency
	}
	if latency > m.maxLatency {
		m.maxLatency = latency
	}
	m.latenciesMs = append(m.latenciesMs, float64(latency.Milliseconds()))
}

func main() {
	baseURL := flag.String("base-url", getenv("WEBHOOK_BASE_URL", "http://localhost:8080"), "webhook-service base URL")
	scenario := flag.String("scenario", "paid", "scenario to run: paid|refunded|mixed")
	total := flag.Int("total", 1000, "total number of deliveries")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	product := flag.String("product", "Curso Teste", "product display name to reference")
	timeout := flag.Duration("timeout", 10*time.Second, "per-request timeout")
	output := flag.String("output", "", "optional output path for JSON result")
	flag.Parse()

	if *total <= 0 || *concurrency <= 0 {
		fmt.Fprintln(os.Stderr, "total and concurrency must be > 0")
		os.Exit(1)
	}
	if *scenario != "paid" && *scenario != "refunded" && *scenario != "mixed" {
		fmt.Fprintf(os.Stderr, "unknown scenario: %s\n", *scenario)
		os.Exit(1)
	}

	endpoint := strings.TrimRight(*baseURL, "/") + "/greenn-webhook/v1/process"
	tasks := make(chan int)
	var wg sync.WaitGroup
	m := newMetrics()
	client := &http.Client{}

	start := time.Now()
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range tasks {
				status := saleStatus(*scenario, n)
				latency, code, err := deliver(client, endpoint, status, *product, *timeout)
				m.record(latency, code, err)
			}
		}()
	}

	for i := 0; i < *total; i++ {
		tasks <- i
	}
	close(tasks)
	wg.Wait()

	duration := time.Since(start)
	avg, min, max := 0.0, 0.0, 0.0
	if m.success > 0 {
		avg = float64(m.total.Milliseconds()) / float64(m.success)
		min = float64(m.minLatency.Milliseconds())
		max = float64(m.maxLatency.Milliseconds())
	}
	p50, p90, p95, p99 := calcPercentiles(m.latenciesMs)

	result := benchResult{
		Timestamp:          time.Now().UTC().Format(time.RFC3339),
		BaseURL:            *baseURL,
		Scenario:           *scenario,
		Deliveries:         *total,
		Concurrency:        *concurrency,
		SuccessfulRequests: m.success,
		ErrorRequests:      m.errors,
		DurationSeconds:    duration.Seconds(),
		AvgLatencyMs:       avg,
		MinLatencyMs:       min,
		MaxLatencyMs:       max,
		P50LatencyMs:       p50,
		P90LatencyMs:       p90,
		P95LatencyMs:       p95,
		P99LatencyMs:       p99,
		ThroughputRPS:      float64(*total) / duration.Seconds(),
		StatusCounts:       m.statusCounts,
		FirstError:         m.firstError,
	}

	data, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(data))
	if *output != "" {
		if err := os.WriteFile(*output, data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write output: %v\n", err)
			os.Exit(1)
		}
	}
}

func saleStatus(scenario string, n int) string {
	if scenario == "mixed" {
		if n%2 == 0 {
			return "paid"
		}
		return "refunded"
	}
	return scenario
}

func deliver(client *http.Client, endpoint, status, product string, timeout time.Duration) (time.Duration, int, error) {
	id := uuid.NewString()
	payload := map[string]any{
		"seller":  map[string]any{"id": "bench-" + id},
		"client":  map[string]any{"email": "bench-" + id + "@example.com", "name": "Bench Runner"},
		"product": map[string]any{"name": product},
		"sale":    map[string]any{"status": status},
	}
	data, _ := json.Marshal(payload)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	begin := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(begin)
	if err != nil {
		return latency, 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return latency, resp.StatusCode, fmt.Errorf("status %d", resp.StatusCode)
	}
	return latency, resp.StatusCode, nil
}

func calcPercentiles(values []float64) (float64, float64, float64, float64) {
	if len(values) == 0 {
		return 0, 0, 0, 0
	}
	sort.Float64s(values)
	return percentile(values, 0.50), percentile(values, 0.90), percentile(values, 0.95), percentile(values, 0.99)
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
