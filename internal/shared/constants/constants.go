package constants

import "time"

const (
	// ProbeTimeout bounds each outbound HEAD/GET issued by the probe engine.
	ProbeTimeout = 20 * time.Second
	// DNSTimeout bounds the validator's resolution check.
	DNSTimeout = 5 * time.Second

	// RateWindow is the sliding admission window per caller.
	RateWindow = 60 * time.Second
	// RateCap is the number of scan submissions admitted per window.
	RateCap = 20

	// MaxConcurrentScans is the system-wide ceiling on active scans.
	MaxConcurrentScans = 5

	// MaxRequestBody caps JSON request bodies accepted by the API.
	MaxRequestBody = 1 << 20
)
