package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/sentinelsec/sentinel/internal/scan"
	"github.com/sentinelsec/sentinel/internal/shared/constants"
	"github.com/sentinelsec/sentinel/internal/target"
)

// Prober produces findings and a summary for a validated target.
type Prober interface {
	Probe(ctx context.Context, t *target.Target) (scan.Summary, []scan.Finding, error)
}

// Engine issues bounded HEAD/GET probes against a validated target and
// derives findings from what it observes. A failed request is recorded as
// a finding, never an indefinite hang: every outbound call is capped by
// Timeout.
type Engine struct {
	// Timeout bounds each outbound request, including body read.
	Timeout time.Duration

	// Pace, when set, throttles outbound requests across all concurrent
	// probes.
	Pace *rate.Limiter

	// Client overrides the HTTP client; nil builds one from Timeout.
	Client *http.Client
}

// NewEngine creates an Engine with the default per-request timeout and a
// global outbound pace of rps requests per second (0 disables pacing).
func NewEngine(rps int) *Engine {
	e := &Engine{Timeout: constants.ProbeTimeout}
	if rps > 0 {
		e.Pace = rate.NewLimiter(rate.Limit(rps), rps)
	}
	return e
}

func (e *Engine) httpClient() *http.Client {
	if e.Client != nil {
		return e.Client
	}
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = constants.ProbeTimeout
	}
	return &http.Client{Timeout: timeout}
}

// Probe runs the HEAD and GET checks against t. Probe failures degrade
// into findings; the returned error is reserved for internal faults.
func (e *Engine) Probe(ctx context.Context, t *target.Target) (scan.Summary, []scan.Finding, error) {
	client := e.httpClient()
	findings := make([]scan.Finding, 0, 4)
	unreachable := false

	// HEAD first: cheap reachability and redirect-chain check. A failure
	// here does not abort the probe.
	resp, err := e.request(ctx, client, http.MethodHead, t.String())
	if err != nil {
		findings = append(findings, unreachableFinding(t, err))
		unreachable = true
	} else {
		finalURL := resp.Request.URL
		drain(resp)
		if finalURL.Scheme != "https" {
			findings = append(findings, scan.Finding{
				ID:             uuid.New().String(),
				Title:          "No HTTPS enforced",
				Severity:       scan.SeverityHigh,
				Category:       "transport",
				Evidence:       fmt.Sprintf("request to %s ended at %s without TLS", t.Raw, finalURL),
				Recommendation: "Serve the site over HTTPS and redirect all HTTP traffic to it",
			})
		}
	}

	resp, err = e.request(ctx, client, http.MethodGet, t.String())
	if err != nil {
		if !unreachable {
			findings = append(findings, unreachableFinding(t, err))
		}
	} else {
		for _, hc := range headerChecks {
			if resp.Header.Get(hc.Header) != "" {
				continue
			}
			findings = append(findings, scan.Finding{
				ID:             uuid.New().String(),
				Title:          hc.Title,
				Severity:       hc.Severity,
				Category:       hc.Category,
				Evidence:       fmt.Sprintf("response from %s carries no %s header", t.Hostname, hc.Header),
				Recommendation: hc.Recommendation,
			})
		}
		drain(resp)
	}

	return scan.Summarize(findings), findings, nil
}

func (e *Engine) request(ctx context.Context, client *http.Client, method, url string) (*http.Response, error) {
	if e.Pace != nil {
		if err := e.Pace.Wait(ctx); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	return client.Do(req)
}

func unreachableFinding(t *target.Target, err error) scan.Finding {
	return scan.Finding{
		ID:             uuid.New().String(),
		Title:          "Target unreachable",
		Severity:       scan.SeverityHigh,
		Category:       "network",
		Evidence:       fmt.Sprintf("probe of %s failed: %v", t.Raw, err),
		Recommendation: "Verify the site is online and reachable from the public internet",
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
