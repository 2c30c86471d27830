package devengine

import "time"

// Config holds configuration for the development engine.
type Config struct {
	// Addr is the listen address used by Start.
	Addr string

	// StepInterval is the delay between scripted pipeline steps.
	StepInterval time.Duration

	// Discoveries is how many endpoints the scripted discovery phase reports.
	Discoveries int

	// Synchronous makes POST /api/scans return the finished result inline,
	// double-encoded in an "output" field.
	Synchronous bool

	// FailSubmissions makes POST /api/scans answer 503.
	FailSubmissions bool

	// DropStreams closes every websocket right after the upgrade so callers
	// must rely on polling.
	DropStreams bool

	// FailJobs ends every job in the error state after discovery.
	FailJobs bool

	// BareCompletion sends scan_complete without the result and publishes
	// the result on the status snapshot one step later.
	BareCompletion bool

	// Crawl makes discovery fetch the target and follow same-host links
	// instead of reporting scripted paths.
	Crawl bool

	// CrawlDepth is how many links deep the crawler follows from the target.
	CrawlDepth int

	// CrawlTimeout bounds each page fetch.
	CrawlTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8081",
		StepInterval: 500 * time.Millisecond,
		Discoveries:  5,
		CrawlDepth:   2,
		CrawlTimeout: 10 * time.Second,
	}
}
