package scan

// Severity buckets findings by impact.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// severityWeights are the score deductions per finding of each severity.
var severityWeights = map[Severity]int{
	SeverityCritical: 25,
	SeverityHigh:     15,
	SeverityMedium:   8,
	SeverityLow:      3,
}

// Finding is one discrete, evidenced security observation belonging to a
// completed scan.
type Finding struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Severity       Severity `json:"severity"`
	Category       string   `json:"category"`
	Evidence       string   `json:"evidence"`
	Recommendation string   `json:"recommendation"`
}

// Summary aggregates a finding set into a score, risk label and
// per-severity counts.
type Summary struct {
	Score     int    `json:"score"`
	Risk      string `json:"risk"`
	Critical  int    `json:"critical"`
	High      int    `json:"high"`
	Medium    int    `json:"medium"`
	Low       int    `json:"low"`
	Narrative string `json:"narrative,omitempty"`
}

// Result is the immutable aggregate attached to a completed scan.
type Result struct {
	ScanID   string    `json:"scan_id"`
	Summary  Summary   `json:"summary"`
	Findings []Finding `json:"findings"`
}

// Summarize computes the deterministic score and risk label for a finding
// set: score = max(0, 100 - 25c - 15h - 8m - 3l).
func Summarize(findings []Finding) Summary {
	var sum Summary
	deduction := 0
	for _, f := range findings {
		deduction += severityWeights[f.Severity]
		switch f.Severity {
		case SeverityCritical:
			sum.Critical++
		case SeverityHigh:
			sum.High++
		case SeverityMedium:
			sum.Medium++
		case SeverityLow:
			sum.Low++
		}
	}
	sum.Score = 100 - deduction
	if sum.Score < 0 {
		sum.Score = 0
	}
	sum.Risk = riskLabel(sum.Score)
	return sum
}

func riskLabel(score int) string {
	switch {
	case score >= 85:
		return "low"
	case score >= 60:
		return "medium"
	default:
		return "high"
	}
}
