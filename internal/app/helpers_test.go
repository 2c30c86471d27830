package app

import "github.com/Vicaadrn/web-scanner-project/internal/engine"

func engineRequest(target string) engine.ScanRequest {
	return engine.ScanRequest{URL: target, ScanType: "quick", Wordlist: "common.txt"}
}
