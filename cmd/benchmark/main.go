package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds the benchmark settings
var (
	targetURL     string
	concurrency   int
	duration      time.Duration
	workload      string
	customers     int
	mineInterval  time.Duration
	fraudFraction float64
)

// Metrics
var (
	totalRequests uint64
	submitted201  uint64
	rejected422   uint64
	blocksMined   uint64
	emptyMines409 uint64
	timeouts504   uint64
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent submitters")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.IntVar(&customers, "customers", 1000, "Size of the customer population")
	flag.DurationVar(&mineInterval, "mine-every", time.Second, "Interval between mining requests (0 disables mining)")
	flag.Float64Var(&fraudFraction, "fraud", 0.1, "Fraction of transactions carrying a fraud indicator")
}

func main() {
	flag.Parse()
	logrus.Infof("Starting Benchmark: %s | Workers: %d | Duration: %s | Mine every: %s", workload, concurrency, duration, mineInterval)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, rand.New(rand.NewSource(int64(i)+1)))
	}

	done := make(chan struct{})
	minerDone := make(chan struct{})
	go func() {
		defer close(minerDone)
		miner(done)
	}()

	wg.Wait()
	close(done)
	<-minerDone
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time, r *rand.Rand) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		payload := map[string]interface{}{
			"customer_id":         generateCustomer(r),
			"transaction_type":    "PURCHASE",
			"amount":              float64(r.Intn(200000)) / 100,
			"merchant_id":         fmt.Sprintf("MERCHANT-%03d", r.Intn(50)),
			"location":            "Bench City",
			"device_fingerprint":  "bench-client",
			"verification_method": "STANDARD",
		}
		if r.Float64() < fraudFraction {
			payload["fraud_indicators"] = []string{"velocity"}
		}
		body, _ := json.Marshal(payload)

		resp, err := client.Post(targetURL+"/api/v1/transactions", "application/json", bytes.NewBuffer(body))
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case http.StatusCreated:
			atomic.AddUint64(&submitted201, 1)
		case http.StatusUnprocessableEntity:
			atomic.AddUint64(&rejected422, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

// miner requests a block every mineInterval until done closes.
func miner(done <-chan struct{}) {
	if mineInterval <= 0 {
		return
	}
	client := &http.Client{Timeout: time.Minute}
	ticker := time.NewTicker(mineInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		resp, err := client.Post(targetURL+"/api/v1/blocks", "application/json", bytes.NewBufferString(`{"miner_id":"benchmark"}`))
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}
		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case http.StatusCreated:
			atomic.AddUint64(&blocksMined, 1)
		case http.StatusConflict:
			atomic.AddUint64(&emptyMines409, 1)
		case http.StatusGatewayTimeout:
			atomic.AddUint64(&timeouts504, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func generateCustomer(r *rand.Rand) string {
	if workload == "hotspot" {
		// Hotspot: 90% of traffic goes to two customers
		if r.Float32() < 0.90 {
			return fmt.Sprintf("CUST-%06d", r.Intn(2)+1)
		}
	}
	return fmt.Sprintf("CUST-%06d", r.Intn(customers)+1)
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s201 := atomic.LoadUint64(&submitted201)
	r422 := atomic.LoadUint64(&rejected422)
	mined := atomic.LoadUint64(&blocksMined)
	e409 := atomic.LoadUint64(&emptyMines409)
	t504 := atomic.LoadUint64(&timeouts504)
	fErr := atomic.LoadUint64(&failOther)

	var tps float64
	if d > 0 {
		tps = float64(s201) / d.Seconds()
	}

	results := map[string]interface{}{
		"workload":           workload,
		"duration_sec":       d.Seconds(),
		"total_requests":     total,
		"submit_tps":         tps,
		"submitted":          s201,
		"rejected":           r422,
		"blocks_mined":       mined,
		"empty_mine_retries": e409,
		"mining_timeouts":    t504,
		"errors":             fErr,
	}

	// Print JSON for the python plotter to consume
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		logrus.WithError(err).Error("Unable to print results")
	}

	// Also save to file
	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		logrus.WithError(err).Errorf("Unable to create %s", filename)
		return
	}
	defer file.Close()
	if err := json.NewEncoder(file).Encode(results); err != nil {
		logrus.WithError(err).Errorf("Unable to write %s", filename)
	}
}
