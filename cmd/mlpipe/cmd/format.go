package cmd

import (
	"fmt"
	"io"
	"time"

	"mlpipe/internal/pipeline"
	"mlpipe/pkg/api"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func statusIcon(status api.RunStatus) string {
	switch status {
	case api.RunStatusFinished:
		return colorGreen + "✓" + colorReset
	case api.RunStatusFailed:
		return colorRed + "✗" + colorReset
	case api.RunStatusKilled:
		return colorRed + "■" + colorReset
	case api.RunStatusRunning:
		return colorYellow + "⏳" + colorReset
	case api.RunStatusScheduled:
		return colorCyan + "◯" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status api.RunStatus) string {
	icon := statusIcon(status)
	switch status {
	case api.RunStatusFinished:
		return icon + " " + colorGreen + string(status) + colorReset
	case api.RunStatusFailed, api.RunStatusKilled:
		return icon + " " + colorRed + string(status) + colorReset
	case api.RunStatusRunning:
		return icon + " " + colorYellow + string(status) + colorReset
	case api.RunStatusScheduled:
		return icon + " " + colorCyan + string(status) + colorReset
	default:
		return string(status)
	}
}

func formatTimeWithRelative(t *time.Time) string {
	if t == nil {
		return "-"
	}
	relative := relativeTime(*t)
	return fmt.Sprintf("%s %s(%s ago)%s", t.Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relative, colorReset)
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh", int(duration.Hours()))
	}
	days := int(duration.Hours() / 24)
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

// printSteps summarizes a pipeline run. Steps after the completed ones are
// shown as failed (the first) and skipped (the rest).
func printSteps(w io.Writer, p pipeline.Pipeline, results []pipeline.StepResult) {
	fmt.Fprintf(w, "%sPipeline %s%s\n", colorBold, p.Name, colorReset)
	fmt.Fprintln(w, "──────────────────────────────")

	for i, step := range p.Steps {
		switch {
		case i < len(results):
			r := results[i]
			fmt.Fprintf(w, "%s %-20s %s %s(%s)%s\n", statusIcon(api.RunStatusFinished), step.EntryPoint,
				r.RunID, colorCyan, formatDuration(r.Duration), colorReset)
			fmt.Fprintf(w, "  %sartifacts:%s %s\n", colorDim, colorReset, r.ArtifactRoot)
		case i == len(results):
			fmt.Fprintf(w, "%s %-20s %sfailed%s\n", statusIcon(api.RunStatusFailed), step.EntryPoint, colorRed, colorReset)
		default:
			fmt.Fprintf(w, "%s %-20s %sskipped%s\n", statusIcon(""), step.EntryPoint, colorDim, colorReset)
		}
	}
}
