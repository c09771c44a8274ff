package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/Diffblue-benchmarks/hydra/pkg/client"
)

func main() {
	httpAddr := flag.String("http", "http://localhost:8080", "HTTP API base URL")
	tcpAddr := flag.String("tcp", "localhost:9090", "TCP server address")
	nReq := flag.Int("n", 5000, "Number of requests per run")
	flag.Parse()

	fmt.Printf("Hydra Protocol Benchmark (N=%d)\n", *nReq)
	fmt.Printf("  HTTP=%s  TCP=%s\n", *httpAddr, *tcpAddr)
	fmt.Println("---------------------------------------------------")

	fmt.Println(">> Starting HTTP Benchmark (JSON over HTTP 1.1)...")
	httpDuration := runHTTPBenchmark(*httpAddr, *nReq)
	fmt.Printf("   HTTP Time: %v | QPS: %.0f\n\n", httpDuration, float64(*nReq)/httpDuration.Seconds())

	fmt.Println(">> Starting TCP Benchmark (Binary Protocol)...")
	tcpDuration := runTCPBenchmark(*tcpAddr, *nReq)
	fmt.Printf("   TCP  Time: %v | QPS: %.0f\n", tcpDuration, float64(*nReq)/tcpDuration.Seconds())

	fmt.Println("---------------------------------------------------")
	speedup := httpDuration.Seconds() / tcpDuration.Seconds()
	fmt.Printf("Conclusion: TCP is %.2fx faster than HTTP\n", speedup)
}

func runHTTPBenchmark(httpAddr string, n int) time.Duration {
	start := time.Now()
	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 100,
		},
	}

	for i := 0; i < n; i++ {
		body, _ := json.Marshal(map[string]string{
			"key":   fmt.Sprintf("bench-http-%08d", i),
			"value": "benchmark-payload",
		})
		resp, err := httpClient.Post(httpAddr+"/api/put", "application/json", bytes.NewReader(body))
		if err != nil {
			log.Fatalf("HTTP put: %v", err)
		}
		resp.Body.Close()
	}
	return time.Since(start)
}

func runTCPBenchmark(tcpAddr string, n int) time.Duration {
	cli, err := client.Dial(tcpAddr)
	if err != nil {
		log.Fatalf("TCP dial: %v", err)
	}
	defer cli.Close()

	start := time.Now()
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("bench-tcp-%08d", i)
		if err := cli.Put([]byte(key), []byte("benchmark-payload")); err != nil {
			log.Fatalf("TCP put: %v", err)
		}
	}
	return time.Since(start)
}
