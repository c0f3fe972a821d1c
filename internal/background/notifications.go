package background

import (
	"fmt"
	"strings"
	"time"
)

// renderAllCompleteBody renders the "every sibling resolved" notification.
// siblings must include every non-Pending/non-Running task for the parent.
func renderAllCompleteBody(siblings []BackgroundTask) string {
	var b strings.Builder
	b.WriteString("<system-reminder>\n")
	b.WriteString("[ALL BACKGROUND TASKS COMPLETE]\n\n")
	b.WriteString("**Completed:**\n")
	for _, t := range siblings {
		if !t.Status.Terminal() {
			continue
		}
		fmt.Fprintf(&b, "- `%s`: %s\n", t.ID, t.Description)
	}
	b.WriteString("\nUse `background_output(task_id=\"<id>\")` to retrieve each result.\n")
	b.WriteString("</system-reminder>")
	return b.String()
}

// renderSingleTaskBody renders the "this task resolved, others still
// pending" reminder.
func renderSingleTaskBody(t BackgroundTask, pendingCount int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<system-reminder>\n[BACKGROUND TASK %s]\n", strings.ToUpper(string(t.Status)))
	fmt.Fprintf(&b, "**ID:** `%s`\n", t.ID)
	fmt.Fprintf(&b, "**Description:** %s\n", t.Description)
	if t.Category != "" {
		fmt.Fprintf(&b, "**Agent:** %s (%s)\n", t.Agent, t.Category)
	} else {
		fmt.Fprintf(&b, "**Agent:** %s\n", t.Agent)
	}
	fmt.Fprintf(&b, "**Duration:** %s\n", formatDuration(t.CompletedAt.Sub(t.StartedAt)))
	if t.Error != "" {
		fmt.Fprintf(&b, "**Error:** %s\n", t.Error)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "**%d task(s) still in progress.** You WILL be notified when ALL complete.\n", pendingCount)
	b.WriteString("</system-reminder>")
	return b.String()
}

// formatDuration renders an elapsed duration as "Hh Mm Ss", "Mm Ss", or
// "Ss", dropping leading zero units.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
