package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

type LoadTestConfig struct {
	TargetURL       string
	ConcurrentUsers int
	Duration        time.Duration
	RequestsPerSec  int
	NoiseRatio      float64
}

type DeviceInfo struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
}

type Detection struct {
	ClassName string  `json:"className,omitempty"`
	Score     float64 `json:"score,omitempty"`
}

type DetectionSession struct {
	SessionID  string      `json:"detectionId,omitempty"`
	Timestamp  int64       `json:"timestamp,omitempty"`
	Detections []Detection `json:"detections,omitempty"`
}

type EventEnvelope struct {
	Device    DeviceInfo       `json:"device"`
	EventID   string           `json:"eventId,omitempty"`
	EventTime int64            `json:"eventTime,omitempty"`
	Payload   DetectionSession `json:"payload"`
}

type TestResults struct {
	TotalRequests   int64
	SuccessRequests int64
	FailedRequests  int64
	TotalLatency    time.Duration
	MinLatency      time.Duration
	MaxLatency      time.Duration
	Errors          []string
	mu              sync.RWMutex
}

func (tr *TestResults) AddResult(success bool, latency time.Duration, err error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	tr.TotalRequests++
	tr.TotalLatency += latency

	if tr.MinLatency == 0 || latency < tr.MinLatency {
		tr.MinLatency = latency
	}
	if latency > tr.MaxLatency {
		tr.MaxLatency = latency
	}

	if success {
		tr.SuccessRequests++
	} else {
		tr.FailedRequests++
		if err != nil {
			tr.Errors = append(tr.Errors, err.Error())
		}
	}
}

func (tr *TestResults) GetStats() (float64, float64, time.Duration) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	if tr.TotalRequests == 0 {
		return 0, 0, 0
	}

	successRate := float64(tr.SuccessRequests) / float64(tr.TotalRequests) * 100
	avgLatency := tr.TotalLatency / time.Duration(tr.TotalRequests)

	return successRate, float64(tr.TotalRequests), avgLatency
}

var (
	deviceIDs = []string{
		"cam_front_door", "cam_driveway", "cam_backyard", "cam_garage",
		"cam_side_gate", "cam_porch", "cam_living_room", "cam_hallway",
	}
	classNames = []string{
		"person", "vehicle", "animal", "package", "face",
		"motion", "dog", "cat", "bicycle",
	}
)

// generateEvent builds one device event. A configurable share of events
// is frame noise (no session id); retained sessions carry 1-5
// detections with deliberate class duplicates so the server's dedup
// path gets exercised.
func generateEvent(noiseRatio float64) EventEnvelope {
	deviceID := deviceIDs[rand.Intn(len(deviceIDs))]
	now := time.Now()

	envelope := EventEnvelope{
		Device: DeviceInfo{
			ID:   deviceID,
			Name: deviceID,
			Type: "Camera",
		},
		EventID:   fmt.Sprintf("evt_%d", rand.Int63()),
		EventTime: now.UnixMilli(),
	}

	detectionCount := rand.Intn(5) + 1
	detections := make([]Detection, detectionCount)
	for i := range detections {
		detections[i] = Detection{
			ClassName: classNames[rand.Intn(len(classNames))],
			Score:     rand.Float64(),
		}
	}

	envelope.Payload = DetectionSession{
		Timestamp:  now.UnixMilli(),
		Detections: detections,
	}
	if rand.Float64() >= noiseRatio {
		envelope.Payload.SessionID = fmt.Sprintf("session_%d", rand.Int63())
	}

	return envelope
}

func sendRequest(client *http.Client, url string, event EventEnvelope) (bool, time.Duration, error) {
	jsonData, err := json.Marshal(event)
	if err != nil {
		return false, 0, err
	}

	start := time.Now()

	req, err := http.NewRequest("POST", url+"/api/v1/events", bytes.NewBuffer(jsonData))
	if err != nil {
		return false, time.Since(start), err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return false, time.Since(start), err
	}
	defer resp.Body.Close()

	latency := time.Since(start)
	success := resp.StatusCode >= 200 && resp.StatusCode < 300

	if !success {
		return false, latency, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	return true, latency, nil
}

func worker(ctx context.Context, workerID int, config LoadTestConfig, results *TestResults, wg *sync.WaitGroup) {
	defer wg.Done()

	client := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ticker := time.NewTicker(time.Second / time.Duration(config.RequestsPerSec))
	defer ticker.Stop()

	log.Printf("Worker %d started", workerID)

	for {
		select {
		case <-ctx.Done():
			log.Printf("Worker %d stopped", workerID)
			return
		case <-ticker.C:
			event := generateEvent(config.NoiseRatio)
			success, latency, err := sendRequest(client, config.TargetURL, event)
			results.AddResult(success, latency, err)
		}
	}
}

func printProgress(ctx context.Context, results *TestResults, duration time.Duration) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			elapsed := time.Since(start)
			remaining := duration - elapsed

			successRate, totalReqs, avgLatency := results.GetStats()

			fmt.Printf("\n=== Progress Update ===\n")
			fmt.Printf("Elapsed: %v, Remaining: %v\n", elapsed.Round(time.Second), remaining.Round(time.Second))
			fmt.Printf("Total Requests: %.0f\n", totalReqs)
			fmt.Printf("Success Rate: %.2f%%\n", successRate)
			fmt.Printf("Average Latency: %v\n", avgLatency.Round(time.Millisecond))
			fmt.Printf("Requests/sec: %.2f\n", totalReqs/elapsed.Seconds())

			if remaining <= 0 {
				return
			}
		}
	}
}

func testAggregateEndpoint(client *http.Client, baseURL string) error {
	fmt.Println("\n=== Testing Aggregate Endpoint ===")

	query := map[string]interface{}{
		"start_time":  time.Now().Add(-1 * time.Hour).Format(time.RFC3339),
		"end_time":    time.Now().Format(time.RFC3339),
		"granularity": "minute",
	}

	jsonData, _ := json.Marshal(query)

	start := time.Now()
	resp, err := client.Post(baseURL+"/api/v1/aggregates", "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("aggregate request failed: %w", err)
	}
	defer resp.Body.Close()

	latency := time.Since(start)

	if resp.StatusCode != 200 {
		return fmt.Errorf("aggregate endpoint returned HTTP %d", resp.StatusCode)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode aggregate response: %w", err)
	}

	fmt.Printf("Aggregate query completed in %v\n", latency.Round(time.Millisecond))
	fmt.Printf("Results count: %v\n", result["count"])

	return nil
}

func main() {
	config := LoadTestConfig{
		TargetURL:       getEnv("TARGET_URL", "http://localhost:8080"),
		ConcurrentUsers: getEnvInt("CONCURRENT_USERS", 10),
		Duration:        getEnvDuration("DURATION", "60s"),
		RequestsPerSec:  getEnvInt("REQUESTS_PER_SEC", 5),
		NoiseRatio:      getEnvFloat("NOISE_RATIO", 0.6),
	}

	fmt.Printf("=== Load Test Configuration ===\n")
	fmt.Printf("Target URL: %s\n", config.TargetURL)
	fmt.Printf("Concurrent Users: %d\n", config.ConcurrentUsers)
	fmt.Printf("Duration: %v\n", config.Duration)
	fmt.Printf("Requests per second per user: %d\n", config.RequestsPerSec)
	fmt.Printf("Frame-noise ratio: %.2f\n", config.NoiseRatio)
	fmt.Printf("Total expected requests per second: %d\n", config.ConcurrentUsers*config.RequestsPerSec)

	// Wait for service to be ready
	fmt.Println("\nWaiting for service to be ready...")
	client := &http.Client{Timeout: 5 * time.Second}

	for i := 0; i < 30; i++ {
		resp, err := client.Get(config.TargetURL + "/health")
		if err == nil && resp.StatusCode == 200 {
			resp.Body.Close()
			fmt.Println("Service is ready!")
			break
		}
		if resp != nil {
			resp.Body.Close()
		}

		fmt.Printf("Waiting for service... (%d/30)\n", i+1)
		time.Sleep(2 * time.Second)
	}

	// Initialize results tracking
	results := &TestResults{}

	// Create context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), config.Duration)
	defer cancel()

	// Start progress reporting
	go printProgress(ctx, results, config.Duration)

	// Start workers
	var wg sync.WaitGroup
	fmt.Printf("\nStarting %d concurrent users...\n", config.ConcurrentUsers)

	for i := 0; i < config.ConcurrentUsers; i++ {
		wg.Add(1)
		go worker(ctx, i+1, config, results, &wg)
	}

	// Wait for test completion
	wg.Wait()

	// Final results
	fmt.Printf("\n=== Final Results ===\n")
	successRate, totalReqs, avgLatency := results.GetStats()

	fmt.Printf("Total Requests: %.0f\n", totalReqs)
	fmt.Printf("Successful Requests: %d\n", results.SuccessRequests)
	fmt.Printf("Failed Requests: %d\n", results.FailedRequests)
	fmt.Printf("Success Rate: %.2f%%\n", successRate)
	fmt.Printf("Average Latency: %v\n", avgLatency.Round(time.Millisecond))
	fmt.Printf("Min Latency: %v\n", results.MinLatency.Round(time.Millisecond))
	fmt.Printf("Max Latency: %v\n", results.MaxLatency.Round(time.Millisecond))
	fmt.Printf("Throughput: %.2f requests/second\n", totalReqs/config.Duration.Seconds())

	if len(results.Errors) > 0 {
		fmt.Printf("\n=== Errors (showing first 10) ===\n")
		for i, err := range results.Errors {
			if i >= 10 {
				fmt.Printf("... and %d more errors\n", len(results.Errors)-10)
				break
			}
			fmt.Printf("- %s\n", err)
		}
	}

	// Test aggregate endpoint
	if err := testAggregateEndpoint(&http.Client{Timeout: 30 * time.Second}, config.TargetURL); err != nil {
		fmt.Printf("Aggregate endpoint test failed: %v\n", err)
	}

	fmt.Println("\nLoad test completed!")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue string) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	if parsed, err := time.ParseDuration(defaultValue); err == nil {
		return parsed
	}
	return time.Minute
}
