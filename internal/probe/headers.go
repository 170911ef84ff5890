package probe

import "github.com/sentinelsec/sentinel/internal/scan"

// headerCheck describes one response header whose absence produces a
// finding.
type headerCheck struct {
	Header         string
	Title          string
	Severity       scan.Severity
	Category       string
	Recommendation string
}

// headerChecks lists the security headers inspected on the GET response.
var headerChecks = []headerCheck{
	{
		Header:         "Strict-Transport-Security",
		Title:          "Missing Strict-Transport-Security header",
		Severity:       scan.SeverityMedium,
		Category:       "transport",
		Recommendation: "Add 'Strict-Transport-Security: max-age=31536000; includeSubDomains' so browsers refuse to downgrade to plain HTTP",
	},
	{
		Header:         "X-Content-Type-Options",
		Title:          "Missing X-Content-Type-Options header",
		Severity:       scan.SeverityMedium,
		Category:       "headers",
		Recommendation: "Add 'X-Content-Type-Options: nosniff' to stop browsers from MIME-sniffing responses",
	},
	{
		Header:         "Content-Security-Policy",
		Title:          "Missing Content-Security-Policy header",
		Severity:       scan.SeverityMedium,
		Category:       "headers",
		Recommendation: "Implement a strict Content-Security-Policy appropriate for your application",
	},
}
