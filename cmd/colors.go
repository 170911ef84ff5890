package cmd

import (
	"github.com/fatih/color"

	"github.com/sentinelsec/sentinel/internal/scan"
)

var (
	colorSuccess = color.New(color.FgGreen).SprintFunc()
	colorInfo    = color.New(color.FgCyan).SprintFunc()
	colorWarn    = color.New(color.FgYellow).SprintFunc()
	colorError   = color.New(color.FgRed).SprintFunc()
)

func formatSeverity(sev scan.Severity) string {
	switch sev {
	case scan.SeverityCritical, scan.SeverityHigh:
		return colorError(string(sev))
	case scan.SeverityMedium:
		return colorWarn(string(sev))
	default:
		return string(sev)
	}
}

func formatRisk(risk string) string {
	switch risk {
	case "low":
		return colorSuccess(risk)
	case "medium":
		return colorWarn(risk)
	default:
		return colorError(risk)
	}
}
