// Command devengine starts a development scanning engine that plays a
// scripted pipeline over the real engine protocol.
// Usage: go run ./cmd/devengine [port]
// Default port: 8081
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/Vicaadrn/web-scanner-project/internal/devengine"
	"github.com/Vicaadrn/web-scanner-project/internal/logging"
)

func main() {
	cfg := devengine.DefaultConfig()

	if len(os.Args) > 1 {
		port, err := strconv.Atoi(os.Args[1])
		if err != nil || port < 1 || port > 65535 {
			log.Fatalf("Invalid port: %s", os.Args[1])
		}
		cfg.Addr = fmt.Sprintf(":%d", port)
	}
	if os.Getenv("DEVENGINE_SYNC") == "1" {
		cfg.Synchronous = true
	}
	if os.Getenv("DEVENGINE_FAIL_JOBS") == "1" {
		cfg.FailJobs = true
	}
	if os.Getenv("DEVENGINE_CRAWL") == "1" {
		cfg.Crawl = true
	}

	fmt.Println("===========================================")
	fmt.Println("   Development Scanning Engine")
	fmt.Println("===========================================")
	fmt.Println()
	fmt.Println("Endpoints:")
	fmt.Println("  POST /api/scans          submit a scan")
	fmt.Println("  GET  /api/status?id=     job snapshot")
	fmt.Println("  POST /api/scans/stop?id= cancel a job")
	fmt.Println("  GET  /ws?id=             event stream")
	fmt.Println()

	engine := devengine.New(cfg, logging.NewStdoutLogger("devengine"))
	defer engine.Close()
	if err := engine.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
