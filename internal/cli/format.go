package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/fpang/fc-registrar/internal/registration"
)

// FormatDurationShort formats a duration in a short format (M:SS or H:MM:SS).
func FormatDurationShort(d time.Duration) string {
	totalSeconds := int(d.Seconds())
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

var stepMarks = map[registration.StepStatus]string{
	registration.StepCompleted: "ok",
	registration.StepFailed:    "FAIL",
	registration.StepSkipped:   "skip",
}

// PrintResult writes a per-step summary of a run.
func PrintResult(w io.Writer, res *registration.Result) {
	fmt.Fprintf(w, "%s  %s  %s  (%s)\n", res.RunID, res.Place, res.State, FormatDurationShort(res.Duration))
	for _, s := range res.Steps {
		fmt.Fprintf(w, "  %-4s %-26s %s\n", stepMarks[s.Status], s.Name, FormatDurationShort(s.Duration))
	}
	if res.Err != nil {
		fmt.Fprintf(w, "  error: %v\n", res.Err)
	}
	for _, m := range res.PageMessages {
		fmt.Fprintf(w, "  page: %s\n", m)
	}
	for _, a := range res.Artifacts {
		fmt.Fprintf(w, "  artifact: %s\n", a)
	}
}
