package catalog

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dyluth/reelforge/pkg/blackboard"
)

// FormatTable writes artifacts as a fixed-width table and returns how many
// rows it wrote.
func FormatTable(w io.Writer, artifacts []blackboard.Artifact, scope string, now time.Time) int {
	if len(artifacts) == 0 {
		fmt.Fprintf(w, "No artifacts found for %s\n", scope)
		return 0
	}

	fmt.Fprintf(w, "Artifacts for %s:\n\n", scope)
	fmt.Fprintf(w, "%-10s %-6s %-10s %-5s %-8s %s\n",
		"ID", "TYPE", "STATUS", "HITS", "AGE", "PARAMS")
	fmt.Fprintf(w, "%-10s %-6s %-10s %-5s %-8s %s\n",
		"----------", "------", "----------", "-----", "--------", "----------------------------------------")

	for _, a := range artifacts {
		fmt.Fprintf(w, "%-10s %-6s %-10s %-5d %-8s %s\n",
			formatID(a.ArtifactID),
			a.Type,
			a.Status,
			a.AccessCount,
			formatAge(a.CreatedAt, now),
			formatParams(a.GenerationParams),
		)
	}

	noun := "artifact"
	if len(artifacts) != 1 {
		noun = "artifacts"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(artifacts), noun)
	return len(artifacts)
}

// FormatJSONL writes one compact JSON object per artifact.
func FormatJSONL(w io.Writer, artifacts []blackboard.Artifact) error {
	for _, a := range artifacts {
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("failed to marshal artifact to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatSingleJSON writes one artifact as indented JSON.
func FormatSingleJSON(w io.Writer, a *blackboard.Artifact) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal artifact to JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

// formatID truncates IDs to their first 8 characters.
func formatID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatParams renders the prompt when there is one, otherwise the sorted
// parameter names, truncated to 40 characters.
func formatParams(params map[string]any) string {
	if len(params) == 0 {
		return "-"
	}
	var s string
	if prompt, ok := params["prompt"].(string); ok && strings.TrimSpace(prompt) != "" {
		s = firstLine(prompt)
	} else {
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		s = strings.Join(keys, ",")
	}
	if len(s) > 40 {
		return s[:37] + "..."
	}
	return s
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// formatAge renders the time since t as "2m ago", "1h ago" and so on.
func formatAge(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	diff := now.Sub(t)
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}
